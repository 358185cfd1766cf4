package viewmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagekit/internal/call"
	"engagekit/internal/clock"
	"engagekit/internal/domain"
	"engagekit/internal/observable"
)

var rita = domain.Operator{ID: "op-1", Name: "Rita"}

func TestCallHappyPathActionSequence(t *testing.T) {
	t.Parallel()

	h := newCallHarness(domain.None{}, domain.AudioCall{})
	h.vm.Start()

	h.src.state.Set(domain.Enqueueing{Kind: domain.EngagementKindAudioCall})
	h.src.state.Set(domain.Engaged{Operator: rita})
	h.src.events.Publish(domain.AudioStreamAdded{Stream: &fakeAudio{id: "remote", remote: true}})

	assert.Equal(t, []Action{
		Queue{},
		Connecting{OperatorName: "Rita"},
		Connected{OperatorName: "Rita"},
	}, lifecycle(h.actions))
}

func TestCallDeclineLeavesCallUntouched(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	var answers []bool
	h.vm.PresentOffer(domain.UpgradeOffered{
		Offer:  domain.MediaUpgradeOffer{ID: "offer-1", Type: domain.MediaTypeVideo},
		Answer: func(accepted bool) { answers = append(answers, accepted) },
	})
	before := len(h.actions)

	h.vm.Handle(context.Background(), AnswerOffer{Accepted: false})

	assert.Equal(t, []bool{false}, answers)
	assert.Equal(t, domain.AudioCall{}, h.call.Kind().Get())
	assert.Equal(t, domain.CallStateStarted, h.call.State().Get())
	added := h.actions[before:]
	require.Len(t, added, 1)
	notice, ok := added[0].(ShowNotice)
	require.True(t, ok)
	assert.Equal(t, domain.NoticeUpgradeDeclined, notice.Notice.Kind)
}

func TestCallAcceptUpgradesBeforeAnswering(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	var kindAtAnswer domain.CallKind
	var stateAtAnswer domain.CallState
	h.vm.PresentOffer(domain.UpgradeOffered{
		Offer: domain.MediaUpgradeOffer{ID: "offer-1", Type: domain.MediaTypeVideo},
		Answer: func(accepted bool) {
			require.True(t, accepted)
			kindAtAnswer = h.call.Kind().Get()
			stateAtAnswer = h.call.State().Get()
			h.src.events.Publish(domain.VideoStreamAdded{Stream: &fakeVideo{id: "remote", remote: true}})
		},
	})

	h.vm.Handle(context.Background(), AnswerOffer{Accepted: true})

	assert.Equal(t, domain.VideoCall{Direction: domain.DirectionTwoWay}, kindAtAnswer)
	assert.Equal(t, domain.CallStateConnecting, stateAtAnswer)
	assert.True(t, h.call.Video().Get().HasRemote())
	assert.Equal(t, domain.CallStateStarted, h.call.State().Get())
	assert.False(t, h.vm.HasPendingOffer())
}

func TestCallOfferExpiryShowsNotice(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	offer := domain.MediaUpgradeOffer{ID: "offer-2", Type: domain.MediaTypeVideo}
	h.vm.PresentOffer(domain.UpgradeOffered{Offer: offer, Answer: func(bool) {}})
	before := len(h.actions)

	h.src.events.Publish(domain.UpgradeOfferExpired{Offer: offer})

	added := h.actions[before:]
	require.Len(t, added, 2)
	assert.Equal(t, OfferDismissed{OfferID: "offer-2"}, added[0])
	assert.Equal(t, domain.NoticeUpgradeExpired, added[1].(ShowNotice).Notice.Kind)
	assert.False(t, h.vm.HasPendingOffer())
	assert.Equal(t, domain.AudioCall{}, h.call.Kind().Get())
}

func TestCallAnswerFailureRevertsUpgrade(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	offer := domain.MediaUpgradeOffer{ID: "offer-3", Type: domain.MediaTypeVideo}
	h.vm.PresentOffer(domain.UpgradeOffered{Offer: offer, Answer: func(bool) {}})
	h.vm.Handle(context.Background(), AnswerOffer{Accepted: true})
	require.Equal(t, domain.MediaTypeVideo, h.call.Kind().Get().Media())

	h.src.events.Publish(domain.UpgradeAnswerFailed{
		Offer:    offer,
		Accepted: true,
		Err:      domain.NewError(domain.ErrorKindNegotiation, domain.ErrorCodeOfferAnswer, errors.New("closed")),
	})

	assert.Equal(t, domain.AudioCall{}, h.call.Kind().Get())
	assert.Equal(t, domain.CallStateStarted, h.call.State().Get())
	assert.Equal(t, domain.NoticeUpgradeFailed, h.actions[len(h.actions)-1].(ShowNotice).Notice.Kind)
}

func TestAnswerFailureForAnotherOfferIsIgnored(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	offer := domain.MediaUpgradeOffer{ID: "offer-4", Type: domain.MediaTypeVideo}
	h.vm.PresentOffer(domain.UpgradeOffered{Offer: offer, Answer: func(bool) {}})
	h.vm.Handle(context.Background(), AnswerOffer{Accepted: true})
	before := len(notices(h.actions))

	h.src.events.Publish(domain.UpgradeAnswerFailed{
		Offer:    domain.MediaUpgradeOffer{ID: "answered-in-chat", Type: domain.MediaTypeVideo},
		Accepted: true,
		Err:      domain.NewError(domain.ErrorKindNegotiation, domain.ErrorCodeOfferAnswer, errors.New("closed")),
	})

	assert.Len(t, notices(h.actions), before)
	assert.Equal(t, domain.MediaTypeVideo, h.call.Kind().Get().Media())
}

func TestCallConnectingCountdown(t *testing.T) {
	t.Parallel()

	h := newCallHarness(domain.Enqueueing{Kind: domain.EngagementKindAudioCall}, domain.AudioCall{})
	h.vm.Start()
	h.src.state.Set(domain.Engaged{Operator: rita})

	h.sched.Advance(DefaultConnectingTimeout - time.Second)
	assert.Empty(t, notices(h.actions))
	h.sched.Advance(time.Second)

	got := notices(h.actions)
	require.Len(t, got, 1)
	assert.Equal(t, domain.NoticeConnectingSlow, got[0].Kind)
	assert.Equal(t, domain.CallStateConnecting, h.call.State().Get())
}

func TestCallCountdownCancelledOnceStarted(t *testing.T) {
	t.Parallel()

	h := newCallHarness(domain.Enqueueing{Kind: domain.EngagementKindAudioCall}, domain.AudioCall{})
	h.vm.Start()
	h.src.state.Set(domain.Engaged{Operator: rita})
	h.src.events.Publish(domain.AudioStreamAdded{Stream: &fakeAudio{id: "remote", remote: true}})

	h.sched.Advance(2 * DefaultConnectingTimeout)

	assert.Empty(t, notices(h.actions))
}

func TestCallHoldEmitsActionAndNotice(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	before := len(h.actions)

	h.src.events.Publish(domain.VisitorHoldChanged{OnHold: true})

	added := h.actions[before:]
	require.Len(t, added, 2)
	assert.Equal(t, HoldChanged{OnHold: true}, added[0])
	assert.Equal(t, domain.NoticeOperatorOnHold, added[1].(ShowNotice).Notice.Kind)
}

func TestCallToggleMuteEmitsAudioState(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	h.call.UpdateAudioStream(&fakeAudio{id: "mic"})

	h.vm.Handle(context.Background(), ToggleMute{})

	assert.Equal(t, AudioChanged{Available: true, Muted: true, RemoteActive: true}, h.actions[len(h.actions)-1])
}

func TestCallMediaErrorIsDelegated(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	permission := domain.NewError(domain.ErrorKindMedia, domain.ErrorCodePermissionDenied, domain.ErrPermissionDenied)

	h.src.events.Publish(domain.AudioStreamError{Err: permission})

	assert.Equal(t, []DelegateEvent{MediaFailed{Err: permission}}, h.delegated)
}

func TestCallNavigationIsDelegated(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	h.vm.Handle(context.Background(), Minimize{})
	h.vm.Handle(context.Background(), Back{})
	h.vm.Handle(context.Background(), HangUp{})

	assert.Equal(t, []DelegateEvent{MinimizeRequested{}, BackRequested{}, HangUpRequested{}}, h.delegated)
}

func TestCallCloseStopsDeliveryAndDeclinesOffer(t *testing.T) {
	t.Parallel()

	h := startedCall(t)
	var answers []bool
	h.vm.PresentOffer(domain.UpgradeOffered{
		Offer:  domain.MediaUpgradeOffer{ID: "o", Type: domain.MediaTypeVideo},
		Answer: func(accepted bool) { answers = append(answers, accepted) },
	})
	before := len(h.actions)

	h.vm.Close()
	h.src.events.Publish(domain.VisitorHoldChanged{OnHold: true})
	h.src.state.Set(domain.Transferring{})
	h.vm.Handle(context.Background(), Minimize{})

	assert.Equal(t, []bool{false}, answers)
	assert.Len(t, h.actions, before)
	assert.Empty(t, h.delegated)
}

func TestChatShowsQueueConnectedAndMessages(t *testing.T) {
	t.Parallel()

	h := newChatHarness(domain.None{})
	h.vm.Start()

	h.src.state.Set(domain.Enqueueing{Kind: domain.EngagementKindChat})
	h.src.state.Set(domain.Engaged{Operator: rita})
	msg := domain.Message{ID: "m1", Sender: domain.SenderOperator, Text: "Hi"}
	h.src.events.Publish(domain.MessageReceived{Message: msg})

	assert.Equal(t, []Action{
		Queue{},
		Connected{OperatorName: "Rita"},
		MessageAppended{Message: msg},
	}, h.actions)
	assert.Equal(t, []domain.Message{msg}, h.vm.Transcript())
}

func TestChatAcceptedUpgradeIsDelegatedUnanswered(t *testing.T) {
	t.Parallel()

	h := newChatHarness(domain.Engaged{Operator: rita})
	h.vm.Start()
	var answers []bool
	offer := domain.MediaUpgradeOffer{ID: "o", Type: domain.MediaTypeAudio}
	h.vm.PresentOffer(domain.UpgradeOffered{Offer: offer, Answer: func(a bool) { answers = append(answers, a) }})

	h.vm.Handle(context.Background(), AnswerOffer{Accepted: true})

	require.Len(t, h.delegated, 1)
	accepted, ok := h.delegated[0].(UpgradeAccepted)
	require.True(t, ok)
	assert.Equal(t, offer, accepted.Offer)
	assert.Empty(t, answers)
	accepted.Answer(true)
	assert.Equal(t, []bool{true}, answers)
}

func TestChatRefreshReplaysTranscript(t *testing.T) {
	t.Parallel()

	h := newChatHarness(domain.Engaged{Operator: rita})
	h.vm.Start()
	msg := domain.Message{ID: "m1", Text: "Hello"}
	h.src.events.Publish(domain.MessageReceived{Message: msg})
	h.actions = nil

	h.vm.Refresh()

	assert.Equal(t, []Action{Connected{OperatorName: "Rita"}, MessageAppended{Message: msg}}, h.actions)
}

func TestChatSendDeliversOffQueue(t *testing.T) {
	t.Parallel()

	h := newChatHarness(domain.Engaged{Operator: rita})
	h.sender.reply = domain.Message{ID: "m2", Text: "Thanks"}
	h.vm.Start()
	h.actions = nil

	h.vm.Handle(context.Background(), SendMessage{Text: "Thanks"})
	runNext(t, h.queue)

	assert.Equal(t, []Action{MessageAppended{Message: domain.Message{ID: "m2", Sender: domain.SenderVisitor, Text: "Thanks"}}}, h.actions)
}

func TestChatSendFailureShowsNotice(t *testing.T) {
	t.Parallel()

	h := newChatHarness(domain.Engaged{Operator: rita})
	h.sender.err = errors.New("offline")
	h.vm.Start()
	h.actions = nil

	h.vm.Handle(context.Background(), SendMessage{Text: "Hello?"})
	runNext(t, h.queue)

	require.Len(t, h.actions, 2)
	failed, ok := h.actions[0].(MessageFailed)
	require.True(t, ok)
	assert.Equal(t, "Hello?", failed.Text)
	assert.Equal(t, domain.ErrorKindSession, failed.Err.Kind)
	assert.Equal(t, domain.NoticeMessageSendFailed, h.actions[1].(ShowNotice).Notice.Kind)
	assert.Empty(t, h.vm.Transcript())
}

func TestSecureMessagingSendsToQueues(t *testing.T) {
	t.Parallel()

	queue := make(chanQueue, 4)
	sender := &fakeSender{reply: domain.Message{ID: "s1", Text: "Question"}}
	var actions []Action
	vm := NewSecureMessagingViewModel(Deps{Queue: queue}, sender, []string{"billing"}, Config{})
	vm.Actions(func(a Action) { actions = append(actions, a) })
	vm.Start()

	vm.Handle(context.Background(), SendMessage{Text: "Question"})
	runNext(t, queue)

	assert.Equal(t, []string{"billing"}, sender.queueIDs)
	assert.Equal(t, []Action{MessageAppended{Message: domain.Message{ID: "s1", Text: "Question"}}}, actions)
}

func TestVisitorCodeRenewsOnExpiry(t *testing.T) {
	t.Parallel()

	queue := make(chanQueue, 4)
	sched := clock.NewManual()
	requester := &fakeCodes{codes: []domain.VisitorCode{{Code: "1234", ExpiresIn: 60}, {Code: "5678", ExpiresIn: 60}}}
	var actions []Action
	vm := NewVisitorCodeViewModel(Deps{Queue: queue, Scheduler: sched}, requester, Config{})
	vm.Actions(func(a Action) { actions = append(actions, a) })

	vm.Start(context.Background())
	runNext(t, queue)
	assert.Equal(t, "1234", vm.Code().Code)

	sched.Advance(time.Minute)
	runNext(t, queue)

	assert.Equal(t, []Action{
		VisitorCodeShown{Code: domain.VisitorCode{Code: "1234", ExpiresIn: 60}},
		VisitorCodeShown{Code: domain.VisitorCode{Code: "5678", ExpiresIn: 60}},
	}, actions)

	vm.Close()
	assert.Zero(t, sched.Pending())
}

type callHarness struct {
	src       *fakeSource
	sched     *clock.Manual
	call      *call.Model
	vm        *CallViewModel
	actions   []Action
	delegated []DelegateEvent
}

func newCallHarness(initial domain.EngagementState, kind domain.CallKind) *callHarness {
	h := &callHarness{src: newFakeSource(initial), sched: clock.NewManual()}
	h.call = call.New(kind, h.sched)
	h.call.Bind(h.src)
	h.vm = NewCallViewModel(Deps{
		Source:    h.src,
		Scheduler: h.sched,
		Delegate:  func(e DelegateEvent) { h.delegated = append(h.delegated, e) },
	}, h.call, Config{})
	h.vm.Actions(func(a Action) { h.actions = append(h.actions, a) })
	return h
}

func startedCall(t *testing.T) *callHarness {
	t.Helper()
	h := newCallHarness(domain.Engaged{Operator: rita}, domain.AudioCall{})
	h.vm.Start()
	h.src.events.Publish(domain.AudioStreamAdded{Stream: &fakeAudio{id: "remote", remote: true}})
	require.Equal(t, domain.CallStateStarted, h.call.State().Get())
	return h
}

type chatHarness struct {
	src       *fakeSource
	queue     chanQueue
	sender    *fakeSender
	vm        *ChatViewModel
	actions   []Action
	delegated []DelegateEvent
}

func newChatHarness(initial domain.EngagementState) *chatHarness {
	h := &chatHarness{src: newFakeSource(initial), queue: make(chanQueue, 4), sender: &fakeSender{}}
	h.vm = NewChatViewModel(Deps{
		Source:   h.src,
		Queue:    h.queue,
		Delegate: func(e DelegateEvent) { h.delegated = append(h.delegated, e) },
	}, h.sender, Config{})
	h.vm.Actions(func(a Action) { h.actions = append(h.actions, a) })
	return h
}

func lifecycle(actions []Action) []Action {
	var out []Action
	for _, a := range actions {
		switch a.(type) {
		case Queue, Connecting, Connected, Transferring, Ended:
			out = append(out, a)
		}
	}
	return out
}

func notices(actions []Action) []domain.Notice {
	var out []domain.Notice
	for _, a := range actions {
		if n, ok := a.(ShowNotice); ok {
			out = append(out, n.Notice)
		}
	}
	return out
}

// chanQueue hands posted work to the test goroutine.
type chanQueue chan func()

func (q chanQueue) Post(fn func()) error {
	q <- fn
	return nil
}

func runNext(t *testing.T, q chanQueue) {
	t.Helper()
	select {
	case fn := <-q:
		fn()
	case <-time.After(time.Second):
		t.Fatal("nothing was posted to the queue")
	}
}

type fakeSource struct {
	state  *observable.Value[domain.EngagementState]
	events observable.Feed[domain.InteractorEvent]
}

func newFakeSource(initial domain.EngagementState) *fakeSource {
	return &fakeSource{state: observable.NewValue(initial)}
}

func (s *fakeSource) States() observable.Reader[domain.EngagementState] { return s.state }

func (s *fakeSource) Subscribe(fn func(domain.InteractorEvent)) *observable.Subscription {
	return s.events.Subscribe(fn)
}

type fakeSender struct {
	reply    domain.Message
	err      error
	queueIDs []string
}

func (f *fakeSender) SendMessage(_ context.Context, _ string) (domain.Message, error) {
	return f.reply, f.err
}

func (f *fakeSender) SendSecureMessage(_ context.Context, queueIDs []string, _ string) (domain.Message, error) {
	f.queueIDs = queueIDs
	return f.reply, f.err
}

type fakeCodes struct {
	codes []domain.VisitorCode
	next  int
}

func (f *fakeCodes) RequestVisitorCode(context.Context) (domain.VisitorCode, error) {
	code := f.codes[f.next%len(f.codes)]
	f.next++
	return code, nil
}

type fakeAudio struct {
	id     string
	remote bool
	muted  bool
}

func (f *fakeAudio) ID() string     { return f.id }
func (f *fakeAudio) IsRemote() bool { return f.remote }
func (f *fakeAudio) IsMuted() bool  { return f.muted }
func (f *fakeAudio) Mute()          { f.muted = true }
func (f *fakeAudio) Unmute()        { f.muted = false }

type fakeVideo struct {
	id     string
	remote bool
	paused bool
}

func (f *fakeVideo) ID() string     { return f.id }
func (f *fakeVideo) IsRemote() bool { return f.remote }
func (f *fakeVideo) IsPaused() bool { return f.paused }
func (f *fakeVideo) Pause()         { f.paused = true }
func (f *fakeVideo) Resume()        { f.paused = false }
