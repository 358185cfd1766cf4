// Package signaling talks to the engagement signaling service: a websocket
// per engagement for live events and visitor commands, and HTTP for the
// request/response calls.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/ports"
)

const DefaultAPIBaseURL = "https://api.engagekit.io/v1"

var (
	ErrNotConfigured = errors.New("signaling service is not configured")
	ErrNoEngagement  = errors.New("no engagement to resume")
)

// Config controls the signaling endpoints and transports.
type Config struct {
	APIBaseURL string
	Streams    StreamFactory
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     logging.Logger
}

// StatusError is a non-2xx response from the HTTP API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("signaling api returned %d: %s", e.StatusCode, e.Message)
}

// Provider implements ports.SignalingService.
type Provider struct {
	cfg Config
	log logging.Logger

	mu      sync.Mutex
	creds   ports.SignalingConfig
	current *session
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Provider{cfg: cfg, log: logging.With(log, "component", "signaling")}
}

func (p *Provider) Configure(_ context.Context, cfg ports.SignalingConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return errors.New("ENGAGE_API_KEY is not configured")
	}
	if strings.TrimSpace(cfg.SiteID) == "" {
		return errors.New("ENGAGE_SITE_ID is not configured")
	}
	p.mu.Lock()
	p.creds = cfg
	p.mu.Unlock()
	return nil
}

func (p *Provider) StartEngagement(ctx context.Context, kind domain.EngagementKind, queueIDs []string) (ports.EventStream, error) {
	creds, err := p.credentials()
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("site", creds.SiteID)
	query.Set("kind", string(kind))
	if len(queueIDs) > 0 {
		query.Set("queues", strings.Join(queueIDs, ","))
	}
	return p.open(ctx, creds, "/engagements/socket", query)
}

type currentEngagement struct {
	Kind     domain.EngagementKind `json:"kind"`
	Operator domain.Operator       `json:"operator"`
}

func (p *Provider) Resume(ctx context.Context) (ports.ResumedEngagement, error) {
	creds, err := p.credentials()
	if err != nil {
		return ports.ResumedEngagement{}, err
	}

	var current currentEngagement
	path := "/engagements/current?site=" + url.QueryEscape(creds.SiteID)
	if err := p.do(ctx, http.MethodGet, path, nil, &current); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return ports.ResumedEngagement{}, ErrNoEngagement
		}
		return ports.ResumedEngagement{}, err
	}
	if current.Kind == "" {
		return ports.ResumedEngagement{}, ErrNoEngagement
	}

	query := url.Values{}
	query.Set("site", creds.SiteID)
	query.Set("resume", "true")
	stream, err := p.open(ctx, creds, "/engagements/socket", query)
	if err != nil {
		return ports.ResumedEngagement{}, err
	}
	return ports.ResumedEngagement{Kind: current.Kind, Operator: current.Operator, Stream: stream}, nil
}

func (p *Provider) ListenForRequests(ctx context.Context) (ports.EventStream, error) {
	creds, err := p.credentials()
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("site", creds.SiteID)
	return p.open(ctx, creds, "/requests/socket", query)
}

func (p *Provider) AnswerMediaUpgrade(offer domain.MediaUpgradeOffer, accepted bool) error {
	return p.command(command{Type: "upgrade_answer", OfferID: offer.ID, Accepted: answer(accepted)})
}

func (p *Provider) AnswerEngagementRequest(request domain.EngagementRequest, accepted bool) error {
	return p.command(command{Type: "request_answer", RequestID: request.ID, Accepted: answer(accepted)})
}

// EndEngagement tells the service the visitor left. The stream itself is
// closed by whoever holds it.
func (p *Provider) EndEngagement(_ context.Context) error {
	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.send(command{Type: "end"})
}

func (p *Provider) SendMessage(_ context.Context, text string) (domain.Message, error) {
	msg := domain.Message{
		ID:     uuid.NewString(),
		Sender: domain.SenderVisitor,
		Text:   text,
		SentAt: time.Now().UTC(),
	}
	if err := p.command(command{Type: "message", MessageID: msg.ID, Text: text}); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

type secureMessageRequest struct {
	QueueIDs []string `json:"queueIds"`
	Text     string   `json:"text"`
}

func (p *Provider) SendSecureMessage(ctx context.Context, queueIDs []string, text string) (domain.Message, error) {
	var msg domain.Message
	if err := p.do(ctx, http.MethodPost, "/secure-messages", secureMessageRequest{QueueIDs: queueIDs, Text: text}, &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.Sender == "" {
		msg.Sender = domain.SenderVisitor
	}
	return msg, nil
}

func (p *Provider) RequestVisitorCode(ctx context.Context) (domain.VisitorCode, error) {
	var code domain.VisitorCode
	if err := p.do(ctx, http.MethodPost, "/visitor-codes", nil, &code); err != nil {
		return domain.VisitorCode{}, err
	}
	return code, nil
}

func (p *Provider) FetchSiteConfiguration(ctx context.Context, siteID string) (domain.SiteConfiguration, error) {
	var cfg domain.SiteConfiguration
	if err := p.do(ctx, http.MethodGet, "/sites/"+url.PathEscape(siteID)+"/configuration", nil, &cfg); err != nil {
		return domain.SiteConfiguration{}, err
	}
	return cfg, nil
}

// Close drops the current session, if any.
func (p *Provider) Close() error {
	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (p *Provider) credentials() (ports.SignalingConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds.APIKey == "" {
		return ports.SignalingConfig{}, ErrNotConfigured
	}
	return p.creds, nil
}

func (p *Provider) open(ctx context.Context, creds ports.SignalingConfig, path string, query url.Values) (*session, error) {
	wsURL, err := buildSocketURL(p.cfg.APIBaseURL, path, query)
	if err != nil {
		return nil, err
	}
	s := openSession(p.cfg.Dialer, wsURL, authHeaders(creds), p.cfg.Streams, p.log)
	context.AfterFunc(ctx, func() { _ = s.Close() })

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	p.log.Debug("signaling session opened", "path", path)
	return s, nil
}

func (p *Provider) command(cmd command) error {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.send(cmd)
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	creds, err := p.credentials()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.APIBaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = authHeaders(creds)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(message))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func authHeaders(creds ports.SignalingConfig) http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+creds.APIKey)
	headers.Set("X-Site-ID", creds.SiteID)
	if creds.Environment != "" {
		headers.Set("X-Environment", creds.Environment)
	}
	return headers
}

func buildSocketURL(base string, path string, query url.Values) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultAPIBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	socketURL, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid signaling API base URL: %w", err)
	}
	socketURL.RawQuery = query.Encode()
	return socketURL.String(), nil
}
