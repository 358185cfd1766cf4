package interactor

import (
	"sync/atomic"

	"github.com/google/uuid"

	"engagekit/internal/clock"
	"engagekit/internal/domain"
)

// negotiation tracks one unanswered operator offer. Whichever of answer and
// timeout settles it first wins; the other is ignored.
type negotiation struct {
	settled atomic.Bool
	timer   clock.Timer
	expire  func()
}

func (n *negotiation) settle() bool {
	if !n.settled.CompareAndSwap(false, true) {
		return false
	}
	if n.timer != nil {
		n.timer.Cancel()
	}
	return true
}

func (i *Interactor) offerUpgrade(offer domain.MediaUpgradeOffer) {
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	if !domain.IsLive(i.State()) {
		i.log.Warn("declining upgrade offer outside a live engagement", "offer_id", offer.ID)
		if err := i.svc.AnswerMediaUpgrade(offer, false); err != nil {
			i.log.Warn("declining upgrade offer failed", "offer_id", offer.ID, "error", err)
		}
		return
	}

	n := &negotiation{}
	n.expire = func() {
		i.log.Info("upgrade offer expired", "offer_id", offer.ID)
		if err := i.svc.AnswerMediaUpgrade(offer, false); err != nil {
			i.log.Warn("declining expired upgrade offer failed", "offer_id", offer.ID, "error", err)
		}
		i.events.Publish(domain.UpgradeOfferExpired{Offer: offer})
	}
	i.track(offer.ID, n)

	answer := func(accepted bool) {
		if !n.settle() {
			return
		}
		i.untrack(offer.ID, n)
		i.log.Info("upgrade offer answered", "offer_id", offer.ID, "accepted", accepted)
		if err := i.svc.AnswerMediaUpgrade(offer, accepted); err != nil {
			classified := domain.Classify(err, domain.ErrorKindNegotiation)
			i.log.Warn("answering upgrade offer failed", "offer_id", offer.ID, "error", err)
			i.events.Publish(domain.UpgradeAnswerFailed{Offer: offer, Accepted: accepted, Err: classified})
		}
	}

	i.events.Publish(domain.UpgradeOffered{Offer: offer, Answer: answer})
}

func (i *Interactor) offerEngagement(request domain.EngagementRequest) {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if i.State().Phase() != domain.PhaseNone {
		i.log.Warn("declining engagement request while engaged", "request_id", request.ID)
		if err := i.svc.AnswerEngagementRequest(request, false); err != nil {
			i.log.Warn("declining engagement request failed", "request_id", request.ID, "error", err)
		}
		return
	}

	n := &negotiation{}
	n.expire = func() {
		i.log.Info("engagement request expired", "request_id", request.ID)
		if err := i.svc.AnswerEngagementRequest(request, false); err != nil {
			i.log.Warn("declining expired engagement request failed", "request_id", request.ID, "error", err)
		}
		i.events.Publish(domain.EngagementRequestExpired{Request: request})
	}
	i.track(request.ID, n)

	answer := func(accepted bool) {
		if !n.settle() {
			return
		}
		i.untrack(request.ID, n)
		if err := i.svc.AnswerEngagementRequest(request, accepted); err != nil {
			classified := domain.Classify(err, domain.ErrorKindSession)
			i.log.Warn("answering engagement request failed", "request_id", request.ID, "error", err)
			i.events.Publish(domain.SessionFailed{Err: classified})
			return
		}
		if accepted {
			_ = i.setState(domain.Enqueueing{Kind: request.Kind()})
		}
	}

	i.events.Publish(domain.EngagementRequested{Request: request, Answer: answer})
}

// track registers n under id. An offer re-sent under a pending id replaces
// the earlier negotiation, which is settled silently.
func (i *Interactor) track(id string, n *negotiation) {
	if prev, ok := i.negotiations[id]; ok {
		prev.settle()
		i.log.Debug("replacing pending negotiation", "offer_id", id)
	}
	i.negotiations[id] = n
	n.timer = i.sched.AfterFunc(i.offerTimeout, func() {
		if !n.settle() {
			return
		}
		i.untrack(id, n)
		n.expire()
	})
}

func (i *Interactor) untrack(id string, n *negotiation) {
	if i.negotiations[id] == n {
		delete(i.negotiations, id)
	}
}

// cancelNegotiations abandons every pending offer without answering it; the
// engagement they belonged to is going away.
func (i *Interactor) cancelNegotiations() {
	for id, n := range i.negotiations {
		n.settle()
		delete(i.negotiations, id)
	}
}

// PendingNegotiations returns the number of unanswered offers and requests.
func (i *Interactor) PendingNegotiations() int {
	return len(i.negotiations)
}
