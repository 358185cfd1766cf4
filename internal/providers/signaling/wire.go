package signaling

import (
	"errors"
	"fmt"

	"engagekit/internal/domain"
)

// StreamFactory builds media streams for streams the service announces.
type StreamFactory interface {
	Audio(id string, remote bool) (domain.AudioStream, error)
	Video(id string, remote bool) (domain.VideoStream, error)
}

type wireEvent struct {
	Type     string                    `json:"type"`
	TicketID string                    `json:"ticketId,omitempty"`
	Operator *domain.Operator          `json:"operator,omitempty"`
	Offer    *domain.MediaUpgradeOffer `json:"offer,omitempty"`
	Request  *domain.EngagementRequest `json:"request,omitempty"`
	Stream   *wireStream               `json:"stream,omitempty"`
	Media    domain.MediaType          `json:"media,omitempty"`
	Code     string                    `json:"code,omitempty"`
	Error    string                    `json:"error,omitempty"`
	OnHold   bool                      `json:"onHold,omitempty"`
	State    domain.ScreenSharing      `json:"state,omitempty"`
	Message  *domain.Message           `json:"message,omitempty"`
	Reason   domain.EndReason          `json:"reason,omitempty"`
}

type wireStream struct {
	ID     string           `json:"id"`
	Media  domain.MediaType `json:"media"`
	Remote bool             `json:"remote"`
}

// command is a visitor-side message written to the session.
type command struct {
	Type      string `json:"type"`
	OfferID   string `json:"offerId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Accepted  *bool  `json:"accepted,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (w wireEvent) signalEvent(streams StreamFactory) (domain.SignalEvent, bool) {
	switch w.Type {
	case "queue_ticket":
		return domain.QueueTicketIssued{TicketID: w.TicketID}, true
	case "operator_connected":
		if w.Operator == nil {
			return nil, false
		}
		return domain.OperatorConnected{Operator: *w.Operator}, true
	case "transfer_started":
		return domain.TransferStarted{}, true
	case "upgrade_offer":
		if w.Offer == nil {
			return nil, false
		}
		return domain.UpgradeRequested{Offer: *w.Offer}, true
	case "engagement_request":
		if w.Request == nil {
			return nil, false
		}
		return domain.EngagementRequestReceived{Request: *w.Request}, true
	case "stream_added":
		if w.Stream == nil {
			return nil, false
		}
		return streamEvent(*w.Stream, streams), true
	case "stream_failed":
		return domain.StreamFailed{Media: w.Media, Err: mediaError(w.Code, w.Error)}, true
	case "hold":
		return domain.HoldChanged{OnHold: w.OnHold}, true
	case "screen_share":
		return domain.ScreenShareUpdated{State: w.State}, true
	case "message":
		if w.Message == nil {
			return nil, false
		}
		return domain.MessageArrived{Message: *w.Message}, true
	case "engagement_closed":
		return domain.EngagementClosed{Reason: w.Reason}, true
	default:
		return nil, false
	}
}

func streamEvent(ws wireStream, streams StreamFactory) domain.SignalEvent {
	if streams == nil {
		return domain.StreamFailed{Media: ws.Media, Err: errors.New("no media support configured")}
	}
	if ws.Media == domain.MediaTypeVideo {
		stream, err := streams.Video(ws.ID, ws.Remote)
		if err != nil {
			return domain.StreamFailed{Media: ws.Media, Err: err}
		}
		return domain.VideoStreamReady{Stream: stream}
	}
	stream, err := streams.Audio(ws.ID, ws.Remote)
	if err != nil {
		return domain.StreamFailed{Media: domain.MediaTypeAudio, Err: err}
	}
	return domain.AudioStreamReady{Stream: stream}
}

func mediaError(code, message string) error {
	switch code {
	case "permission_denied":
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, message)
	case "device_unavailable":
		return fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, message)
	}
	if message == "" {
		message = "media failed"
	}
	return errors.New(message)
}

func answer(accepted bool) *bool { return &accepted }
