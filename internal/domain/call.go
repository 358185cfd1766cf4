package domain

// MediaType is the kind of media a stream or offer carries.
type MediaType string

const (
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
)

// Direction of a video call.
type Direction string

const (
	DirectionOneWay Direction = "one_way"
	DirectionTwoWay Direction = "two_way"
)

// CallKind is audio | video(direction).
type CallKind interface {
	Media() MediaType
	callKind()
}

type AudioCall struct{}

type VideoCall struct {
	Direction Direction
}

func (AudioCall) Media() MediaType { return MediaTypeAudio }
func (VideoCall) Media() MediaType { return MediaTypeVideo }

func (AudioCall) callKind() {}
func (VideoCall) callKind() {}

// CallKindFor maps a call engagement kind to its initial CallKind.
func CallKindFor(kind EngagementKind) (CallKind, bool) {
	switch kind {
	case EngagementKindAudioCall:
		return AudioCall{}, true
	case EngagementKindVideoCall:
		return VideoCall{Direction: DirectionTwoWay}, true
	default:
		return nil, false
	}
}

// EngagementKindOf is the inverse of CallKindFor.
func EngagementKindOf(kind CallKind) EngagementKind {
	if kind != nil && kind.Media() == MediaTypeVideo {
		return EngagementKindVideoCall
	}
	return EngagementKindAudioCall
}

// CallState is the per-call lifecycle.
type CallState string

const (
	CallStateNone       CallState = "none"
	CallStateConnecting CallState = "connecting"
	CallStateStarted    CallState = "started"
	CallStateEnded      CallState = "ended"
)

// ScreenSharing reports whether the visitor's screen is being shared.
type ScreenSharing string

const (
	ScreenSharingNone   ScreenSharing = "none"
	ScreenSharingActive ScreenSharing = "active"
)

// MediaUpgradeOffer is an operator request to add or change media.
type MediaUpgradeOffer struct {
	ID        string    `json:"id"`
	Type      MediaType `json:"type"`
	Direction Direction `json:"direction,omitempty"`
}

// Kind returns the CallKind the call has after the offer is accepted.
func (o MediaUpgradeOffer) Kind() CallKind {
	if o.Type == MediaTypeVideo {
		dir := o.Direction
		if dir == "" {
			dir = DirectionTwoWay
		}
		return VideoCall{Direction: dir}
	}
	return AudioCall{}
}

// EngagementRequest is an operator-initiated engagement (visitor code or
// call-visualizer observation) awaiting the visitor's consent.
type EngagementRequest struct {
	ID       string      `json:"id"`
	Operator Operator    `json:"operator"`
	Media    []MediaType `json:"media,omitempty"`
}

// Kind returns the engagement kind accepting the request starts.
func (r EngagementRequest) Kind() EngagementKind {
	kind := EngagementKindObservation
	for _, m := range r.Media {
		switch m {
		case MediaTypeVideo:
			return EngagementKindVideoCall
		case MediaTypeAudio:
			kind = EngagementKindAudioCall
		}
	}
	return kind
}

// AnswerFunc delivers the visitor's decision. It acts at most once; later
// calls are ignored.
type AnswerFunc func(accepted bool)
