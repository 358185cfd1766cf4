package ports

import (
	"context"

	"engagekit/internal/domain"
)

// SignalingConfig identifies the site the client talks to.
type SignalingConfig struct {
	SiteID      string
	APIKey      string
	Environment string
}

// EventStream is a live engagement event feed from the signaling service.
// Events are delivered in order; the channel is closed when the stream ends.
type EventStream interface {
	Events() <-chan domain.SignalEvent
	// Err returns why the channel closed, nil for an orderly close.
	Err() error
	Close() error
}

// ResumedEngagement describes an engagement that was already in progress.
type ResumedEngagement struct {
	Kind     domain.EngagementKind
	Operator domain.Operator
	Stream   EventStream
}

// SignalingService is the external engagement SDK as the core sees it.
type SignalingService interface {
	Configure(ctx context.Context, cfg SignalingConfig) error
	StartEngagement(ctx context.Context, kind domain.EngagementKind, queueIDs []string) (EventStream, error)
	Resume(ctx context.Context) (ResumedEngagement, error)
	// ListenForRequests opens a stream that delivers operator-initiated
	// engagement requests while no engagement exists.
	ListenForRequests(ctx context.Context) (EventStream, error)
	// AnswerMediaUpgrade returns immediately; the round trip happens outside
	// the caller's critical section.
	AnswerMediaUpgrade(offer domain.MediaUpgradeOffer, accepted bool) error
	AnswerEngagementRequest(request domain.EngagementRequest, accepted bool) error
	EndEngagement(ctx context.Context) error
	SendMessage(ctx context.Context, text string) (domain.Message, error)
	SendSecureMessage(ctx context.Context, queueIDs []string, text string) (domain.Message, error)
	RequestVisitorCode(ctx context.Context) (domain.VisitorCode, error)
	SiteConfigurationFetcher
}

// SiteConfigurationFetcher loads site flags.
type SiteConfigurationFetcher interface {
	FetchSiteConfiguration(ctx context.Context, siteID string) (domain.SiteConfiguration, error)
}

// EventSink is the ordered event stream exposed to the host application.
type EventSink interface {
	EngagementStarted()
	EngagementChanged(kind domain.EngagementKind)
	Minimized()
	Maximized()
	EngagementEnded()
}

// Presenter is the host-provided presentation surface. Rendering is out of
// the core's hands; it only decides what is shown.
type Presenter interface {
	// Present builds the surface. An error means the surface could not be
	// produced and nothing was shown.
	Present(id string, surface domain.Surface) error
	Foreground(id string)
	Dismiss(id string)
	Render(id string, action any)
	ShowAlert(alert domain.Alert)
	ShowNotice(notice domain.Notice)
	DismissNotice(id string)
	SetOverlay(state domain.OverlayState)
	OpenSettings()
}
