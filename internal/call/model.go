// Package call owns the media state of one audio or video call.
package call

import (
	"time"

	"github.com/google/uuid"

	"engagekit/internal/clock"
	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/observable"
)

// Source is the read side of the interactor a call derives its state from.
type Source interface {
	States() observable.Reader[domain.EngagementState]
	Subscribe(fn func(domain.InteractorEvent)) *observable.Subscription
}

type Option func(*Model)

func WithLogger(l logging.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

// Model is the single writer of a call's observables. Readers get
// observable.Reader handles; every mutation goes through a Model method.
// Methods must run on the core's serialized queue.
type Model struct {
	id    string
	sched clock.Scheduler
	log   logging.Logger

	kind          *observable.Value[domain.CallKind]
	state         *observable.Value[domain.CallState]
	audio         *observable.Value[domain.AudioMedia]
	video         *observable.Value[domain.VideoMedia]
	duration      *observable.Value[int]
	onHold        *observable.Value[bool]
	screenSharing *observable.Value[domain.ScreenSharing]
	speaker       *observable.Value[bool]

	// Visitor intent, kept apart from hold so releasing a hold never
	// overrides a choice the visitor made.
	muted         bool
	videoDisabled bool

	previous        *snapshot
	transferPending bool
	ticker          clock.Timer
	subs            observable.Bag
}

type snapshot struct {
	kind  domain.CallKind
	state domain.CallState
}

// New returns a call of the given kind in the none state.
func New(kind domain.CallKind, sched clock.Scheduler, opts ...Option) *Model {
	if kind == nil {
		kind = domain.AudioCall{}
	}
	m := &Model{
		id:            uuid.NewString(),
		sched:         sched,
		log:           logging.NoOpLogger{},
		kind:          observable.NewValue(kind),
		state:         observable.NewValue(domain.CallStateNone),
		audio:         observable.NewValue(domain.AudioMedia{}),
		video:         observable.NewValue(domain.VideoMedia{}),
		duration:      observable.NewValue(0),
		onHold:        observable.NewValue(false),
		screenSharing: observable.NewValue(domain.ScreenSharingNone),
		speaker:       observable.NewValue(kind.Media() == domain.MediaTypeVideo),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.With(m.log, "component", "call", "call_id", m.id)
	return m
}

func (m *Model) ID() string { return m.id }

func (m *Model) Kind() observable.Reader[domain.CallKind]               { return m.kind }
func (m *Model) State() observable.Reader[domain.CallState]             { return m.state }
func (m *Model) Audio() observable.Reader[domain.AudioMedia]            { return m.audio }
func (m *Model) Video() observable.Reader[domain.VideoMedia]            { return m.video }
func (m *Model) Duration() observable.Reader[int]                       { return m.duration }
func (m *Model) VisitorOnHold() observable.Reader[bool]                 { return m.onHold }
func (m *Model) ScreenSharing() observable.Reader[domain.ScreenSharing] { return m.screenSharing }
func (m *Model) Speaker() observable.Reader[bool]                       { return m.speaker }

// IsMuted reports the visitor's own mute choice, independent of hold.
func (m *Model) IsMuted() bool { return m.muted }

// IsVideoDisabled reports the visitor's own video choice, independent of hold.
func (m *Model) IsVideoDisabled() bool { return m.videoDisabled }

// TransferPending reports whether the call is waiting to continue with a new
// operator.
func (m *Model) TransferPending() bool { return m.transferPending }

// Bind derives the call's state from src until End. Subscriptions are made
// before the caller's, so readers of the call see it updated first.
func (m *Model) Bind(src Source) {
	m.subs.Add(
		src.States().Subscribe(m.engagementChanged),
		src.Subscribe(m.handle),
	)
	m.engagementChanged(src.States().Get())
}

func (m *Model) engagementChanged(s domain.EngagementState) {
	switch s.Phase() {
	case domain.PhaseEngaged:
		if m.transferPending {
			m.transferPending = false
			m.setState(domain.CallStateConnecting)
			return
		}
		if m.state.Get() == domain.CallStateNone {
			m.setState(domain.CallStateConnecting)
		}
	case domain.PhaseEnded:
		m.End()
	}
}

func (m *Model) handle(event domain.InteractorEvent) {
	switch e := event.(type) {
	case domain.AudioStreamAdded:
		m.UpdateAudioStream(e.Stream)
	case domain.VideoStreamAdded:
		m.UpdateVideoStream(e.Stream)
	case domain.VisitorHoldChanged:
		m.SetVisitorOnHold(e.OnHold)
	case domain.ScreenSharingChanged:
		m.screenSharing.Set(e.State)
	case domain.EngagementTransferring:
		m.Transfer()
	}
}

// UpdateAudioStream replaces the side of the audio pair the stream belongs to.
func (m *Model) UpdateAudioStream(stream domain.AudioStream) {
	if stream == nil || m.ended() {
		return
	}
	remote := stream.IsRemote()
	if !remote {
		applyAudio(stream, m.muted || m.onHold.Get())
	}
	m.audio.Set(m.audio.Get().With(stream, remote))
	if remote {
		m.remoteStreamArrived()
	}
}

// UpdateVideoStream replaces the side of the video pair the stream belongs to.
func (m *Model) UpdateVideoStream(stream domain.VideoStream) {
	if stream == nil || m.ended() {
		return
	}
	remote := stream.IsRemote()
	if !remote {
		applyVideo(stream, m.videoDisabled || m.onHold.Get())
	}
	m.video.Set(m.video.Get().With(stream, remote))
	if remote {
		m.remoteStreamArrived()
	}
}

func (m *Model) remoteStreamArrived() {
	if m.state.Get() != domain.CallStateConnecting {
		return
	}
	m.previous = nil
	m.setState(domain.CallStateStarted)
	if m.ticker == nil {
		m.ticker = m.sched.Every(time.Second, func() {
			m.duration.Set(m.duration.Get() + 1)
		})
	}
}

// ToggleMute flips the visitor's mute choice. Without a local audio stream it
// does nothing.
func (m *Model) ToggleMute() {
	media := m.audio.Get()
	if !media.HasLocal() {
		return
	}
	m.muted = !m.muted
	applyAudio(media.Local, m.muted || m.onHold.Get())
	m.audio.Set(media)
}

// ToggleVideo flips the visitor's video choice. Without a local video stream
// it does nothing.
func (m *Model) ToggleVideo() {
	media := m.video.Get()
	if !media.HasLocal() {
		return
	}
	m.videoDisabled = !m.videoDisabled
	applyVideo(media.Local, m.videoDisabled || m.onHold.Get())
	m.video.Set(media)
}

// ToggleSpeaker routes operator audio between speaker and earpiece. Without
// a remote audio stream it does nothing.
func (m *Model) ToggleSpeaker() {
	if !m.audio.Get().HasRemote() {
		return
	}
	m.speaker.Set(!m.speaker.Get())
}

// SetVisitorOnHold pauses local media while held. A local stream is live
// only when the visitor wants it on and the visitor is not on hold.
func (m *Model) SetVisitorOnHold(onHold bool) {
	if m.onHold.Get() == onHold {
		return
	}
	if audio := m.audio.Get(); audio.HasLocal() {
		applyAudio(audio.Local, m.muted || onHold)
	}
	if video := m.video.Get(); video.HasLocal() {
		applyVideo(video.Local, m.videoDisabled || onHold)
	}
	m.onHold.Set(onHold)
	m.log.Info("visitor hold changed", "on_hold", onHold)
}

// Upgrade applies an accepted media upgrade offer. The call re-enters
// connecting until the upgraded media arrives.
func (m *Model) Upgrade(offer domain.MediaUpgradeOffer) {
	if m.ended() {
		return
	}
	m.previous = &snapshot{kind: m.kind.Get(), state: m.state.Get()}
	m.kind.Set(offer.Kind())
	if offer.Type == domain.MediaTypeVideo && !m.speaker.Get() {
		m.speaker.Set(true)
	}
	m.setState(domain.CallStateConnecting)
	m.log.Info("call upgraded", "offer_id", offer.ID, "media", offer.Type)
}

// RevertUpgrade restores the kind and state from before the last Upgrade when
// the acceptance could not be delivered. It reports whether anything was
// restored.
func (m *Model) RevertUpgrade() bool {
	if m.previous == nil || m.ended() {
		return false
	}
	prev := m.previous
	m.previous = nil
	m.kind.Set(prev.kind)
	m.setState(prev.state)
	m.log.Warn("call upgrade reverted", "state", prev.state)
	return true
}

// Transfer marks the call to continue with the next operator. The previous
// operator's streams are dropped; the engagement state is left alone.
func (m *Model) Transfer() {
	if m.ended() {
		return
	}
	m.transferPending = true
	m.audio.Set(domain.AudioMedia{Local: m.audio.Get().Local})
	m.video.Set(domain.VideoMedia{Local: m.video.Get().Local})
}

// End stops the call. It is terminal and idempotent.
func (m *Model) End() {
	if m.ended() {
		return
	}
	m.subs.CancelAll()
	if m.ticker != nil {
		m.ticker.Cancel()
	}
	m.previous = nil
	m.transferPending = false
	m.audio.Set(domain.AudioMedia{})
	m.video.Set(domain.VideoMedia{})
	m.screenSharing.Set(domain.ScreenSharingNone)
	m.setState(domain.CallStateEnded)
}

func (m *Model) ended() bool {
	return m.state.Get() == domain.CallStateEnded
}

func (m *Model) setState(next domain.CallState) {
	if m.state.Get() == next {
		return
	}
	m.state.Set(next)
	m.log.Debug("call state changed", "state", next)
}

func applyAudio(stream domain.AudioStream, silenced bool) {
	if stream.IsMuted() == silenced {
		return
	}
	if silenced {
		stream.Mute()
	} else {
		stream.Unmute()
	}
}

func applyVideo(stream domain.VideoStream, paused bool) {
	if stream.IsPaused() == paused {
		return
	}
	if paused {
		stream.Pause()
	} else {
		stream.Resume()
	}
}
