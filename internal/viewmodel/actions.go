// Package viewmodel translates engagement and call state into ordered actions
// for the presentation layer, and visitor input into intents on the call,
// the interactor or the owning coordinator.
package viewmodel

import (
	"engagekit/internal/domain"
)

// Action is one rendering instruction, emitted in order.
type Action interface {
	action()
}

type Queue struct{}

type Connecting struct{ OperatorName string }

type Connected struct{ OperatorName string }

type OperatorChanged struct{ OperatorName string }

type Transferring struct{}

type Ended struct{}

type CallKindChanged struct{ Kind domain.CallKind }

// AudioChanged describes the audio controls. Available is false until a
// local stream exists.
type AudioChanged struct {
	Available    bool
	Muted        bool
	RemoteActive bool
}

type VideoChanged struct {
	Available     bool
	Disabled      bool
	RemoteVisible bool
}

type SpeakerChanged struct{ On bool }

type DurationChanged struct{ Seconds int }

type HoldChanged struct{ OnHold bool }

type ScreenSharingChanged struct{ Active bool }

// OfferShown asks the visitor to accept or decline an upgrade; the answer
// comes back as an AnswerOffer event.
type OfferShown struct{ Offer domain.MediaUpgradeOffer }

type OfferDismissed struct{ OfferID string }

type ShowNotice struct{ Notice domain.Notice }

type MessageAppended struct{ Message domain.Message }

type MessageFailed struct {
	Text string
	Err  *domain.EngagementError
}

type VisitorCodeShown struct{ Code domain.VisitorCode }

type VisitorCodeFailed struct{ Err *domain.EngagementError }

func (Queue) action()                {}
func (Connecting) action()           {}
func (Connected) action()            {}
func (OperatorChanged) action()      {}
func (Transferring) action()         {}
func (Ended) action()                {}
func (CallKindChanged) action()      {}
func (AudioChanged) action()         {}
func (VideoChanged) action()         {}
func (SpeakerChanged) action()       {}
func (DurationChanged) action()      {}
func (HoldChanged) action()          {}
func (ScreenSharingChanged) action() {}
func (OfferShown) action()           {}
func (OfferDismissed) action()       {}
func (ShowNotice) action()           {}
func (MessageAppended) action()      {}
func (MessageFailed) action()        {}
func (VisitorCodeShown) action()     {}
func (VisitorCodeFailed) action()    {}

// Event is visitor input forwarded by the presentation layer.
type Event interface {
	event()
}

type ToggleMute struct{}

type ToggleVideo struct{}

type ToggleSpeaker struct{}

type AnswerOffer struct{ Accepted bool }

type Minimize struct{}

type Back struct{}

type HangUp struct{}

type SendMessage struct{ Text string }

type RefreshVisitorCode struct{}

func (ToggleMute) event()         {}
func (ToggleVideo) event()        {}
func (ToggleSpeaker) event()      {}
func (AnswerOffer) event()        {}
func (Minimize) event()           {}
func (Back) event()               {}
func (HangUp) event()             {}
func (SendMessage) event()        {}
func (RefreshVisitorCode) event() {}

// DelegateEvent is reported to the owning coordinator.
type DelegateEvent interface {
	delegateEvent()
}

type MinimizeRequested struct{}

type BackRequested struct{}

type HangUpRequested struct{}

// UpgradeAccepted asks the owner to build the call for offer and then call
// Answer(true). Answer is the exactly-once continuation from the interactor.
type UpgradeAccepted struct {
	Offer  domain.MediaUpgradeOffer
	Answer domain.AnswerFunc
}

// MediaFailed reports a media or device error the visitor may fix in system
// settings.
type MediaFailed struct{ Err *domain.EngagementError }

func (MinimizeRequested) delegateEvent() {}
func (BackRequested) delegateEvent()     {}
func (HangUpRequested) delegateEvent()   {}
func (UpgradeAccepted) delegateEvent()   {}
func (MediaFailed) delegateEvent()       {}

// ObservationStarted tells the visitor an operator is observing. The
// indicator is only drawn when the site enables it.
type ObservationStarted struct {
	OperatorName     string
	IndicatorVisible bool
}

func (ObservationStarted) action() {}
