package domain

import "fmt"

// EngagementKind is what the visitor asked for when starting an engagement.
type EngagementKind string

const (
	EngagementKindChat      EngagementKind = "chat"
	EngagementKindAudioCall EngagementKind = "audio_call"
	EngagementKindVideoCall EngagementKind = "video_call"
	EngagementKindMessaging EngagementKind = "secure_messaging"

	// EngagementKindObservation is an operator-initiated call-visualizer
	// engagement; visitors cannot start one themselves.
	EngagementKindObservation EngagementKind = "observation"
)

// IsCall reports whether the kind produces a Call.
func (k EngagementKind) IsCall() bool {
	return k == EngagementKindAudioCall || k == EngagementKindVideoCall
}

// Startable reports whether a visitor may start an engagement of kind k.
func (k EngagementKind) Startable() bool {
	switch k {
	case EngagementKindChat, EngagementKindAudioCall, EngagementKindVideoCall, EngagementKindMessaging:
		return true
	default:
		return false
	}
}

// Queued reports whether starting kind k enqueues the visitor for a live
// operator. Secure messaging is asynchronous and never queues.
func (k EngagementKind) Queued() bool {
	return k.Startable() && k != EngagementKindMessaging
}

// Operator identifies the person on the other side of an engagement.
type Operator struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// EndReason records why an engagement reached the ended state.
type EndReason string

const (
	EndReasonVisitorEnded  EndReason = "visitor_ended"
	EndReasonOperatorEnded EndReason = "operator_ended"
	EndReasonQueueDeclined EndReason = "queue_declined"
	EndReasonFailure       EndReason = "failure"
	EndReasonCleared       EndReason = "cleared"
)

// Phase is the tag of an EngagementState.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseEnqueueing
	PhaseEngaged
	PhaseTransferring
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseEnqueueing:
		return "enqueueing"
	case PhaseEngaged:
		return "engaged"
	case PhaseTransferring:
		return "transferring"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// EngagementState is the closed set none | enqueueing(kind) | engaged(operator)
// | transferring | ended. Only the interactor package constructs values that
// reach subscribers.
type EngagementState interface {
	Phase() Phase
	engagementState()
}

type None struct{}

type Enqueueing struct {
	Kind EngagementKind
}

type Engaged struct {
	Operator Operator
}

type Transferring struct{}

type Ended struct {
	Reason EndReason
}

func (None) Phase() Phase         { return PhaseNone }
func (Enqueueing) Phase() Phase   { return PhaseEnqueueing }
func (Engaged) Phase() Phase      { return PhaseEngaged }
func (Transferring) Phase() Phase { return PhaseTransferring }
func (Ended) Phase() Phase        { return PhaseEnded }

func (None) engagementState()         {}
func (Enqueueing) engagementState()   {}
func (Engaged) engagementState()      {}
func (Transferring) engagementState() {}
func (Ended) engagementState()        {}

// IsLive reports whether media streams attached to the engagement are valid.
func IsLive(s EngagementState) bool {
	if s == nil {
		return false
	}
	p := s.Phase()
	return p == PhaseEngaged || p == PhaseTransferring
}

// OperatorOf returns the operator of an engaged state.
func OperatorOf(s EngagementState) (Operator, bool) {
	engaged, ok := s.(Engaged)
	if !ok {
		return Operator{}, false
	}
	return engaged.Operator, true
}

var allowedTransitions = map[Phase][]Phase{
	PhaseNone:         {PhaseEnqueueing},
	PhaseEnqueueing:   {PhaseEngaged, PhaseEnded},
	PhaseEngaged:      {PhaseTransferring, PhaseEnded},
	PhaseTransferring: {PhaseEngaged, PhaseEnded},
	PhaseEnded:        {PhaseNone},
}

// CanTransition reports whether from -> to is in the lifecycle table.
// Resuming an engagement already in progress (none -> engaged) is not part of
// the table; the interactor validates that path separately.
func CanTransition(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
