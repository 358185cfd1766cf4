package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"engagekit/internal/domain"
	"engagekit/internal/logging"
)

const writeWait = 10 * time.Second

var ErrNotConnected = errors.New("signaling session is not connected")

// session is one websocket to the signaling service. It is handed out before
// the dial completes so callers on the core's queue never block on the
// network; a failed dial surfaces as a closed stream with an error.
type session struct {
	streams StreamFactory
	log     logging.Logger

	events chan domain.SignalEvent
	ready  chan struct{}
	quit   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func openSession(dialer *websocket.Dialer, url string, headers http.Header, streams StreamFactory, log logging.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		streams: streams,
		log:     log,
		events:  make(chan domain.SignalEvent, 64),
		ready:   make(chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(ctx, dialer, url, headers)
	return s
}

func (s *session) run(ctx context.Context, dialer *websocket.Dialer, url string, headers http.Header) {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		select {
		case <-s.quit:
		default:
			s.setErr(fmt.Errorf("failed to connect to signaling websocket: %w", err))
		}
		return
	}

	s.connMu.Lock()
	select {
	case <-s.quit:
		s.connMu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.conn = conn
	s.connMu.Unlock()
	close(s.ready)

	s.readLoop(conn)
	_ = conn.Close()
}

func (s *session) Events() <-chan domain.SignalEvent {
	return s.events
}

func (s *session) Err() error {
	return s.waitErr()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		close(s.quit)
		conn := s.conn
		s.connMu.Unlock()

		s.cancel()
		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		}
	})
	<-s.done
	return s.waitErr()
}

// send writes one command, waiting for the dial if it is still in flight.
func (s *session) send(cmd command) error {
	select {
	case <-s.ready:
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return ErrNotConnected
	case <-time.After(writeWait):
		return ErrNotConnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd.Type, err)
	}
	return nil
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.quit:
			default:
				s.setErr(fmt.Errorf("failed to read signaling event: %w", err))
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Warn("dropping malformed signaling event", "error", err)
			continue
		}
		if ev.Type == "error" {
			message := ev.Error
			if message == "" {
				message = "signaling service returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		event, ok := ev.signalEvent(s.streams)
		if !ok {
			s.log.Debug("ignoring signaling event", "type", ev.Type)
			continue
		}
		if !s.emit(event) {
			return
		}
	}
}

// emit blocks until the reader takes the event or the session closes.
func (s *session) emit(event domain.SignalEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.quit:
		return false
	}
}
