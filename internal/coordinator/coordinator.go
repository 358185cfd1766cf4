// Package coordinator owns the tree of engagement surfaces. The root,
// Engagement, owns every child coordinator and the bubble overlay; children
// report upward through a Sender and never hold their parent.
package coordinator

import (
	"context"

	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

// Coordinator owns one navigable surface.
type Coordinator interface {
	ID() string
	Surface() domain.Surface
	// Start produces the surface. An error means nothing was shown and the
	// coordinator holds no resources.
	Start(ctx context.Context) error
	// Handle forwards visitor input to the surface's view-model.
	Handle(ctx context.Context, ev viewmodel.Event)
	// End releases everything the coordinator owns before returning.
	End()
}

// Sender carries a child's events to its parent. from is the child's ID.
type Sender interface {
	Send(from string, ev Event)
}

// Event is reported by a child coordinator to its parent.
type Event interface {
	coordinatorEvent()
}

type MinimizeRequested struct{}

type BackRequested struct{}

type EndRequested struct{}

// UpgradeRequested asks the parent to build a call for an accepted offer and
// answer it once the call exists.
type UpgradeRequested struct {
	Offer  domain.MediaUpgradeOffer
	Answer domain.AnswerFunc
}

type MediaFailed struct{ Err *domain.EngagementError }

type NoticeRequested struct{ Notice domain.Notice }

// Failed reports that a surface could not be built. Decline, when set,
// releases whatever the failure left pending.
type Failed struct {
	Err     *domain.EngagementError
	Message string
	Decline func()
}

// KindChanged reports that the engagement now runs as kind, after a media
// upgrade was applied or reverted.
type KindChanged struct{ Kind domain.EngagementKind }

// ObservationAnswered reports the visitor's decision on an operator request.
type ObservationAnswered struct {
	Request  domain.EngagementRequest
	Accepted bool
}

func (MinimizeRequested) coordinatorEvent()   {}
func (BackRequested) coordinatorEvent()       {}
func (EndRequested) coordinatorEvent()        {}
func (UpgradeRequested) coordinatorEvent()    {}
func (MediaFailed) coordinatorEvent()         {}
func (NoticeRequested) coordinatorEvent()     {}
func (Failed) coordinatorEvent()              {}
func (KindChanged) coordinatorEvent()         {}
func (ObservationAnswered) coordinatorEvent() {}

// translate maps a view-model delegate event to the coordinator event the
// parent understands.
func translate(ev viewmodel.DelegateEvent) (Event, bool) {
	switch e := ev.(type) {
	case viewmodel.MinimizeRequested:
		return MinimizeRequested{}, true
	case viewmodel.BackRequested:
		return BackRequested{}, true
	case viewmodel.HangUpRequested:
		return EndRequested{}, true
	case viewmodel.UpgradeAccepted:
		return UpgradeRequested{Offer: e.Offer, Answer: e.Answer}, true
	case viewmodel.MediaFailed:
		return MediaFailed{Err: e.Err}, true
	default:
		return nil, false
	}
}
