package viewmodel

import (
	"context"

	"engagekit/internal/call"
	"engagekit/internal/clock"
	"engagekit/internal/domain"
)

// CallViewModel renders one call. It reads the interactor and the call model
// and never writes either directly; visitor input becomes call intents or
// delegate events.
type CallViewModel struct {
	engagementBase

	call              *call.Model
	connectingTimeout clock.Timer
	timeout           func() clock.Timer
}

func NewCallViewModel(deps Deps, c *call.Model, cfg Config) *CallViewModel {
	vm := &CallViewModel{
		engagementBase: newBase(deps, cfg.Logger, "call_view_model"),
		call:           c,
	}
	timeout := cfg.ConnectingTimeout
	if timeout <= 0 {
		timeout = DefaultConnectingTimeout
	}
	vm.timeout = func() clock.Timer {
		return deps.Scheduler.AfterFunc(timeout, vm.connectingTooLong)
	}
	return vm
}

// Call returns the model the view-model renders.
func (vm *CallViewModel) Call() *call.Model { return vm.call }

// Start subscribes and emits the current state. Callers subscribe to Actions
// first.
func (vm *CallViewModel) Start() {
	src := vm.deps.Source
	vm.subs.Add(
		src.States().Subscribe(vm.engagementChanged),
		src.Subscribe(vm.handle),
		vm.call.State().Subscribe(vm.callStateChanged),
		vm.call.Kind().Subscribe(func(k domain.CallKind) { vm.emit(CallKindChanged{Kind: k}) }),
		vm.call.Audio().Subscribe(func(domain.AudioMedia) { vm.emitAudio() }),
		vm.call.Video().Subscribe(func(domain.VideoMedia) { vm.emitVideo() }),
		vm.call.Speaker().Subscribe(func(on bool) { vm.emit(SpeakerChanged{On: on}) }),
		vm.call.Duration().Subscribe(func(s int) { vm.emit(DurationChanged{Seconds: s}) }),
		vm.call.VisitorOnHold().Subscribe(vm.holdChanged),
		vm.call.ScreenSharing().Subscribe(func(s domain.ScreenSharing) {
			vm.emit(ScreenSharingChanged{Active: s == domain.ScreenSharingActive})
		}),
	)

	vm.emit(CallKindChanged{Kind: vm.call.Kind().Get()})
	if src.States().Get().Phase() == domain.PhaseEnqueueing {
		vm.emit(Queue{})
	}
	vm.callStateChanged(vm.call.State().Get())
}

// Handle applies visitor input.
func (vm *CallViewModel) Handle(_ context.Context, ev Event) {
	if vm.closed {
		return
	}
	switch e := ev.(type) {
	case ToggleMute:
		vm.call.ToggleMute()
	case ToggleVideo:
		vm.call.ToggleVideo()
	case ToggleSpeaker:
		vm.call.ToggleSpeaker()
	case AnswerOffer:
		vm.answerOffer(e.Accepted)
	case Minimize:
		vm.delegate(MinimizeRequested{})
	case Back:
		vm.delegate(BackRequested{})
	case HangUp:
		vm.delegate(HangUpRequested{})
	default:
		vm.log.Warn("unsupported call event", "event", ev)
	}
}

// answerOffer applies an accepted upgrade to the call before the operator is
// told yes, so media arriving right after acceptance finds the new kind.
func (vm *CallViewModel) answerOffer(accepted bool) {
	if !accepted {
		vm.declineOffer()
		return
	}
	offer, ok := vm.takeOffer()
	if !ok {
		return
	}
	vm.call.Upgrade(offer.Offer)
	offer.Answer(true)
}

func (vm *CallViewModel) engagementChanged(s domain.EngagementState) {
	switch st := s.(type) {
	case domain.Enqueueing:
		vm.emit(Queue{})
	case domain.Engaged:
		vm.emit(OperatorChanged{OperatorName: st.Operator.Name})
	case domain.Transferring:
		vm.emit(Transferring{})
	}
}

func (vm *CallViewModel) handle(event domain.InteractorEvent) {
	if failed, ok := event.(domain.UpgradeAnswerFailed); ok && failed.Accepted && vm.answeredOffer(failed.Offer.ID) {
		vm.call.RevertUpgrade()
	}
	if vm.offerSettled(event) {
		return
	}
	switch e := event.(type) {
	case domain.AudioStreamError:
		vm.delegate(MediaFailed{Err: e.Err})
	case domain.VideoStreamError:
		vm.delegate(MediaFailed{Err: e.Err})
	}
}

func (vm *CallViewModel) callStateChanged(s domain.CallState) {
	switch s {
	case domain.CallStateConnecting:
		vm.stopCountdown()
		vm.connectingTimeout = vm.timeout()
		vm.emit(Connecting{OperatorName: vm.operatorName()})
	case domain.CallStateStarted:
		vm.stopCountdown()
		vm.emit(Connected{OperatorName: vm.operatorName()})
	case domain.CallStateEnded:
		vm.stopCountdown()
		vm.emit(Ended{})
	}
}

func (vm *CallViewModel) holdChanged(onHold bool) {
	vm.emit(HoldChanged{OnHold: onHold})
	if onHold {
		vm.notice(domain.NoticeOperatorOnHold, "You are on hold. Your microphone and camera are paused.")
	}
}

func (vm *CallViewModel) connectingTooLong() {
	vm.connectingTimeout = nil
	if vm.call.State().Get() != domain.CallStateConnecting {
		return
	}
	vm.notice(domain.NoticeConnectingSlow, "Connecting is taking longer than usual.")
}

func (vm *CallViewModel) stopCountdown() {
	if vm.connectingTimeout != nil {
		vm.connectingTimeout.Cancel()
		vm.connectingTimeout = nil
	}
}

func (vm *CallViewModel) emitAudio() {
	media := vm.call.Audio().Get()
	remoteActive := media.HasRemote() && !media.Remote.IsMuted()
	vm.emit(AudioChanged{Available: media.HasLocal(), Muted: vm.call.IsMuted(), RemoteActive: remoteActive})
}

func (vm *CallViewModel) emitVideo() {
	media := vm.call.Video().Get()
	remoteVisible := media.HasRemote() && !media.Remote.IsPaused()
	vm.emit(VideoChanged{Available: media.HasLocal(), Disabled: vm.call.IsVideoDisabled(), RemoteVisible: remoteVisible})
}

// Close tears the view-model down and cancels its countdown.
func (vm *CallViewModel) Close() {
	vm.stopCountdown()
	vm.engagementBase.Close()
}
