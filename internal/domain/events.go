package domain

import "time"

// MessageSender identifies who wrote a chat message.
type MessageSender string

const (
	SenderVisitor  MessageSender = "visitor"
	SenderOperator MessageSender = "operator"
	SenderSystem   MessageSender = "system"
)

// Message is one chat or secure-messaging entry.
type Message struct {
	ID     string        `json:"id"`
	Sender MessageSender `json:"sender"`
	Text   string        `json:"text"`
	SentAt time.Time     `json:"sentAt"`
}

// SignalEvent is one event delivered by the external signaling service.
type SignalEvent interface {
	signalEvent()
}

type QueueTicketIssued struct{ TicketID string }

type OperatorConnected struct{ Operator Operator }

type TransferStarted struct{}

type UpgradeRequested struct{ Offer MediaUpgradeOffer }

type EngagementRequestReceived struct{ Request EngagementRequest }

type AudioStreamReady struct{ Stream AudioStream }

type VideoStreamReady struct{ Stream VideoStream }

type StreamFailed struct {
	Media MediaType
	Err   error
}

type HoldChanged struct{ OnHold bool }

type ScreenShareUpdated struct{ State ScreenSharing }

type MessageArrived struct{ Message Message }

type EngagementClosed struct{ Reason EndReason }

type ConnectionLost struct{ Err error }

func (QueueTicketIssued) signalEvent()         {}
func (OperatorConnected) signalEvent()         {}
func (TransferStarted) signalEvent()           {}
func (UpgradeRequested) signalEvent()          {}
func (EngagementRequestReceived) signalEvent() {}
func (AudioStreamReady) signalEvent()          {}
func (VideoStreamReady) signalEvent()          {}
func (StreamFailed) signalEvent()              {}
func (HoldChanged) signalEvent()               {}
func (ScreenShareUpdated) signalEvent()        {}
func (MessageArrived) signalEvent()            {}
func (EngagementClosed) signalEvent()          {}
func (ConnectionLost) signalEvent()            {}

// InteractorEvent is a discrete event republished by the interactor after it
// has applied any state change the signal implied.
type InteractorEvent interface {
	interactorEvent()
}

type AudioStreamAdded struct{ Stream AudioStream }

type VideoStreamAdded struct{ Stream VideoStream }

type AudioStreamError struct{ Err *EngagementError }

type VideoStreamError struct{ Err *EngagementError }

type UpgradeOffered struct {
	Offer  MediaUpgradeOffer
	Answer AnswerFunc
}

type UpgradeOfferExpired struct{ Offer MediaUpgradeOffer }

// UpgradeAnswerFailed reports that the decision could not be delivered. The
// offer is treated as declined.
type UpgradeAnswerFailed struct {
	Offer    MediaUpgradeOffer
	Accepted bool
	Err      *EngagementError
}

type EngagementRequested struct {
	Request EngagementRequest
	Answer  AnswerFunc
}

type EngagementRequestExpired struct{ Request EngagementRequest }

type EngagementTransferring struct{}

type VisitorHoldChanged struct{ OnHold bool }

type ScreenSharingChanged struct{ State ScreenSharing }

type MessageReceived struct{ Message Message }

type SessionFailed struct{ Err *EngagementError }

func (AudioStreamAdded) interactorEvent()         {}
func (VideoStreamAdded) interactorEvent()         {}
func (AudioStreamError) interactorEvent()         {}
func (VideoStreamError) interactorEvent()         {}
func (UpgradeOffered) interactorEvent()           {}
func (UpgradeOfferExpired) interactorEvent()      {}
func (UpgradeAnswerFailed) interactorEvent()      {}
func (EngagementRequested) interactorEvent()      {}
func (EngagementRequestExpired) interactorEvent() {}
func (EngagementTransferring) interactorEvent()   {}
func (VisitorHoldChanged) interactorEvent()       {}
func (ScreenSharingChanged) interactorEvent()     {}
func (MessageReceived) interactorEvent()          {}
func (SessionFailed) interactorEvent()            {}
