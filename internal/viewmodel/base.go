package viewmodel

import (
	"time"

	"github.com/google/uuid"

	"engagekit/internal/clock"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/observable"
)

// DefaultConnectingTimeout is how long a call may stay connecting before the
// visitor is told it is taking longer than usual.
const DefaultConnectingTimeout = 30 * time.Second

// Source is the read side of the interactor.
type Source interface {
	States() observable.Reader[domain.EngagementState]
	Subscribe(fn func(domain.InteractorEvent)) *observable.Subscription
}

// Config is shared by every view-model.
type Config struct {
	ConnectingTimeout time.Duration
	Logger            logging.Logger
}

// Deps are the collaborators every view-model needs.
type Deps struct {
	Source    Source
	Queue     dispatch.Queue
	Scheduler clock.Scheduler
	// Delegate receives events for the owning coordinator. It is called on
	// the serialized queue.
	Delegate func(DelegateEvent)
}

// engagementBase carries what the view-models have in common: the action
// feed, the delegate, the pending upgrade offer and teardown.
type engagementBase struct {
	deps    Deps
	log     logging.Logger
	actions observable.Feed[Action]
	subs    observable.Bag
	closed  bool

	pending  *domain.UpgradeOffered
	// answered is the id of the offer this view-model last answered.
	answered string
}

func newBase(deps Deps, log logging.Logger, component string) engagementBase {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if deps.Delegate == nil {
		deps.Delegate = func(DelegateEvent) {}
	}
	if deps.Queue == nil {
		deps.Queue = dispatch.Inline{}
	}
	return engagementBase{
		deps: deps,
		log:  logging.With(log, "component", component),
	}
}

// Actions registers fn for emitted actions.
func (b *engagementBase) Actions(fn func(Action)) *observable.Subscription {
	return b.actions.Subscribe(fn)
}

func (b *engagementBase) emit(a Action) {
	if b.closed {
		return
	}
	b.actions.Publish(a)
}

func (b *engagementBase) delegate(e DelegateEvent) {
	if b.closed {
		return
	}
	b.deps.Delegate(e)
}

func (b *engagementBase) notice(kind domain.NoticeKind, text string) {
	b.emit(ShowNotice{Notice: domain.Notice{ID: uuid.NewString(), Kind: kind, Text: text}})
}

func (b *engagementBase) operatorName() string {
	if b.deps.Source == nil {
		return ""
	}
	op, _ := domain.OperatorOf(b.deps.Source.States().Get())
	return op.Name
}

// PresentOffer hands the view-model an upgrade offer it now owns.
func (b *engagementBase) PresentOffer(offer domain.UpgradeOffered) {
	if b.closed {
		offer.Answer(false)
		return
	}
	b.pending = &offer
	b.log.Info("presenting upgrade offer", "offer_id", offer.Offer.ID)
	b.emit(OfferShown{Offer: offer.Offer})
}

// HasPendingOffer reports whether an offer awaits the visitor's answer.
func (b *engagementBase) HasPendingOffer() bool {
	return b.pending != nil
}

func (b *engagementBase) takeOffer() (domain.UpgradeOffered, bool) {
	if b.pending == nil {
		return domain.UpgradeOffered{}, false
	}
	offer := *b.pending
	b.pending = nil
	b.answered = offer.Offer.ID
	return offer, true
}

// answeredOffer reports whether id is the offer this view-model answered.
func (b *engagementBase) answeredOffer(id string) bool {
	return b.answered != "" && b.answered == id
}

// offerSettled handles the interactor's outcome events for the pending
// offer. It reports whether event was one of them.
func (b *engagementBase) offerSettled(event domain.InteractorEvent) bool {
	switch e := event.(type) {
	case domain.UpgradeOfferExpired:
		if b.pending == nil || b.pending.Offer.ID != e.Offer.ID {
			return true
		}
		b.pending = nil
		b.emit(OfferDismissed{OfferID: e.Offer.ID})
		b.notice(domain.NoticeUpgradeExpired, "The upgrade request expired.")
		return true
	case domain.UpgradeAnswerFailed:
		if !b.answeredOffer(e.Offer.ID) {
			return true
		}
		b.answered = ""
		b.notice(domain.NoticeUpgradeFailed, "Your answer could not be delivered.")
		return true
	}
	return false
}

// declineOffer answers the pending offer with no and shows a notice.
func (b *engagementBase) declineOffer() {
	offer, ok := b.takeOffer()
	if !ok {
		return
	}
	offer.Answer(false)
	b.notice(domain.NoticeUpgradeDeclined, "You declined the upgrade.")
}

// Close stops all delivery synchronously. Later state changes are ignored.
func (b *engagementBase) Close() {
	if b.closed {
		return
	}
	b.subs.CancelAll()
	if offer, ok := b.takeOffer(); ok {
		offer.Answer(false)
	}
	b.closed = true
}
