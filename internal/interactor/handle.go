package interactor

import (
	"engagekit/internal/domain"
)

// Handle applies one signaling event. Events are applied in the order they
// are handed in; the state change an event implies is stored before any
// derived interactor event is published.
func (i *Interactor) Handle(event domain.SignalEvent) {
	switch e := event.(type) {
	case domain.QueueTicketIssued:
		i.log.Debug("queue ticket issued", "ticket", e.TicketID)

	case domain.OperatorConnected:
		i.operatorConnected(e.Operator)

	case domain.TransferStarted:
		if err := i.setState(domain.Transferring{}); err == nil {
			i.events.Publish(domain.EngagementTransferring{})
		}

	case domain.UpgradeRequested:
		i.offerUpgrade(e.Offer)

	case domain.EngagementRequestReceived:
		i.offerEngagement(e.Request)

	case domain.AudioStreamReady:
		if i.dropStale("audio", e.Stream) {
			return
		}
		i.events.Publish(domain.AudioStreamAdded{Stream: e.Stream})

	case domain.VideoStreamReady:
		if i.dropStale("video", e.Stream) {
			return
		}
		i.events.Publish(domain.VideoStreamAdded{Stream: e.Stream})

	case domain.StreamFailed:
		classified := domain.Classify(e.Err, domain.ErrorKindMedia)
		i.log.Warn("stream failed", "media", e.Media, "code", classified.Code)
		if e.Media == domain.MediaTypeVideo {
			i.events.Publish(domain.VideoStreamError{Err: classified})
		} else {
			i.events.Publish(domain.AudioStreamError{Err: classified})
		}

	case domain.HoldChanged:
		if !domain.IsLive(i.State()) {
			return
		}
		i.events.Publish(domain.VisitorHoldChanged{OnHold: e.OnHold})

	case domain.ScreenShareUpdated:
		i.events.Publish(domain.ScreenSharingChanged{State: e.State})

	case domain.MessageArrived:
		i.events.Publish(domain.MessageReceived{Message: e.Message})

	case domain.EngagementClosed:
		i.closed(e.Reason)

	case domain.ConnectionLost:
		i.fail(e.Err)

	default:
		i.log.Warn("ignoring unknown signaling event", "event", event)
	}
}

func (i *Interactor) operatorConnected(op domain.Operator) {
	// A refreshed operator profile while engaged is a payload update, not a
	// lifecycle transition.
	if i.State().Phase() == domain.PhaseEngaged {
		i.state.Set(domain.Engaged{Operator: op})
		return
	}
	_ = i.setState(domain.Engaged{Operator: op})
}

func (i *Interactor) dropStale(media string, stream domain.Stream) bool {
	if domain.IsLive(i.State()) {
		return false
	}
	id := ""
	if stream != nil {
		id = stream.ID()
	}
	i.log.Warn("dropping stream outside a live engagement", "media", media, "stream", id, "engagement_state", i.State().Phase().String())
	return true
}

func (i *Interactor) closed(reason domain.EndReason) {
	i.cancelNegotiations()
	i.detach()
	switch i.State().Phase() {
	case domain.PhaseNone, domain.PhaseEnded:
		return
	}
	if reason == "" {
		reason = domain.EndReasonOperatorEnded
	}
	_ = i.setState(domain.Ended{Reason: reason})
}

// fail ends the engagement after a transport failure so the state is never
// left ambiguous.
func (i *Interactor) fail(err error) {
	classified := domain.Classify(err, domain.ErrorKindSession)
	if classified == nil {
		classified = domain.NewError(domain.ErrorKindSession, domain.ErrorCodeDisconnected, nil)
	}
	i.log.Error("engagement connection lost", "error", classified)
	i.cancelNegotiations()
	i.detach()

	switch i.State().Phase() {
	case domain.PhaseNone, domain.PhaseEnded:
		i.events.Publish(domain.SessionFailed{Err: classified})
		return
	}
	_ = i.setState(domain.Ended{Reason: domain.EndReasonFailure})
	i.events.Publish(domain.SessionFailed{Err: classified})
}
