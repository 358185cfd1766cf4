package interactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"engagekit/internal/clock"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/ports"
)

var operator = domain.Operator{ID: "op-1", Name: "Rita"}

func TestEnqueueThenEngage(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("StartEngagement", mock.Anything, domain.EngagementKindAudioCall, []string{"q1"}).Return(newFakeStream(), nil)
	it, _ := newTestInteractor(svc)
	phases := recordPhases(it)

	require.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindAudioCall, []string{"q1"}))
	assert.Equal(t, domain.Enqueueing{Kind: domain.EngagementKindAudioCall}, it.State())

	it.Handle(domain.OperatorConnected{Operator: operator})

	assert.Equal(t, domain.Engaged{Operator: operator}, it.State())
	assert.Equal(t, []domain.Phase{domain.PhaseEnqueueing, domain.PhaseEngaged}, *phases)
	svc.AssertExpectations(t)
}

func TestEnqueueRejectsWhileEngaged(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("StartEngagement", mock.Anything, mock.Anything, mock.Anything).Return(newFakeStream(), nil).Once()
	it, _ := newTestInteractor(svc)
	require.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindChat, nil))
	it.Handle(domain.OperatorConnected{Operator: operator})

	err := it.Enqueue(context.Background(), domain.EngagementKindChat, nil)

	assert.ErrorIs(t, err, ErrEngagementInProgress)
	assert.Equal(t, domain.PhaseEngaged, it.State().Phase())
	svc.AssertNumberOfCalls(t, "StartEngagement", 1)
}

func TestEnqueueAfterEndedPassesThroughNone(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("StartEngagement", mock.Anything, mock.Anything, mock.Anything).Return(newFakeStream(), nil)
	svc.On("EndEngagement", mock.Anything).Return(nil)
	it, _ := newTestInteractor(svc)
	phases := recordPhases(it)

	require.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindChat, nil))
	it.Handle(domain.OperatorConnected{Operator: operator})
	require.NoError(t, it.End(context.Background()))
	require.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindChat, nil))

	assert.Equal(t, []domain.Phase{
		domain.PhaseEnqueueing,
		domain.PhaseEngaged,
		domain.PhaseEnded,
		domain.PhaseNone,
		domain.PhaseEnqueueing,
	}, *phases)
}

func TestEnqueueRejectsObservationKind(t *testing.T) {
	t.Parallel()

	it, _ := newTestInteractor(&mockSignaling{})
	err := it.Enqueue(context.Background(), domain.EngagementKindObservation, nil)
	assert.ErrorIs(t, err, ErrInvalidKind)
	assert.Equal(t, domain.None{}, it.State())
}

func TestStartFailureEndsEngagement(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("StartEngagement", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial failed"))
	it, _ := newTestInteractor(svc)
	events := recordEvents(it)

	err := it.Enqueue(context.Background(), domain.EngagementKindVideoCall, nil)

	var classified *domain.EngagementError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, domain.ErrorKindSession, classified.Kind)
	assert.Equal(t, domain.Ended{Reason: domain.EndReasonFailure}, it.State())
	require.Len(t, *events, 1)
	assert.IsType(t, domain.SessionFailed{}, (*events)[0])
}

func TestInvalidTransitionIsIgnoredInRelease(t *testing.T) {
	t.Parallel()

	it, _ := newTestInteractor(&mockSignaling{})
	events := recordEvents(it)

	it.Handle(domain.TransferStarted{})

	assert.Equal(t, domain.None{}, it.State())
	assert.Empty(t, *events)
}

func TestInvalidTransitionPanicsWhenStrict(t *testing.T) {
	t.Parallel()

	it := New(&mockSignaling{}, dispatch.Inline{}, clock.NewManual(), WithStrictTransitions(true))
	assert.Panics(t, func() { it.Handle(domain.TransferStarted{}) })
}

func TestTransferReengages(t *testing.T) {
	t.Parallel()

	it, _ := engagedInteractor(t, &mockSignaling{})
	events := recordEvents(it)
	next := domain.Operator{ID: "op-2", Name: "Sam"}

	it.Handle(domain.TransferStarted{})
	assert.Equal(t, domain.Transferring{}, it.State())
	it.Handle(domain.OperatorConnected{Operator: next})

	assert.Equal(t, domain.Engaged{Operator: next}, it.State())
	require.Len(t, *events, 1)
	assert.IsType(t, domain.EngagementTransferring{}, (*events)[0])
}

func TestStreamsOutsideLiveEngagementAreDropped(t *testing.T) {
	t.Parallel()

	it, _ := newTestInteractor(&mockSignaling{})
	events := recordEvents(it)

	it.Handle(domain.AudioStreamReady{Stream: &fakeAudio{id: "a"}})
	it.Handle(domain.VideoStreamReady{Stream: &fakeVideo{id: "v"}})
	it.Handle(domain.HoldChanged{OnHold: true})

	assert.Empty(t, *events)
}

func TestStreamsWhileEngagedArePublished(t *testing.T) {
	t.Parallel()

	it, _ := engagedInteractor(t, &mockSignaling{})
	events := recordEvents(it)
	audio := &fakeAudio{id: "a", remote: true}

	it.Handle(domain.AudioStreamReady{Stream: audio})
	it.Handle(domain.HoldChanged{OnHold: true})

	require.Len(t, *events, 2)
	assert.Equal(t, domain.AudioStreamAdded{Stream: audio}, (*events)[0])
	assert.Equal(t, domain.VisitorHoldChanged{OnHold: true}, (*events)[1])
}

func TestStreamFailureIsClassified(t *testing.T) {
	t.Parallel()

	it, _ := engagedInteractor(t, &mockSignaling{})
	events := recordEvents(it)

	it.Handle(domain.StreamFailed{Media: domain.MediaTypeVideo, Err: domain.ErrPermissionDenied})
	it.Handle(domain.StreamFailed{Media: domain.MediaTypeAudio, Err: errors.New("codec")})

	require.Len(t, *events, 2)
	videoErr, ok := (*events)[0].(domain.VideoStreamError)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorCodePermissionDenied, videoErr.Err.Code)
	audioErr, ok := (*events)[1].(domain.AudioStreamError)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorCodeMediaGeneric, audioErr.Err.Code)
	assert.Equal(t, domain.PhaseEngaged, it.State().Phase())
}

func TestUpgradeOfferAnsweredExactlyOnce(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	offer := domain.MediaUpgradeOffer{ID: "offer-1", Type: domain.MediaTypeVideo}
	svc.On("AnswerMediaUpgrade", offer, true).Return(nil).Once()
	it, sched := engagedInteractor(t, svc)
	events := recordEvents(it)

	it.Handle(domain.UpgradeRequested{Offer: offer})
	require.Len(t, *events, 1)
	offered := (*events)[0].(domain.UpgradeOffered)

	offered.Answer(true)
	offered.Answer(false)
	sched.Advance(DefaultOfferTimeout * 2)

	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "AnswerMediaUpgrade", 1)
	assert.Len(t, *events, 1)
	assert.Zero(t, it.PendingNegotiations())
}

func TestUpgradeOfferTimesOutAsDecline(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	offer := domain.MediaUpgradeOffer{ID: "offer-2", Type: domain.MediaTypeAudio}
	svc.On("AnswerMediaUpgrade", offer, false).Return(nil).Once()
	it, sched := engagedInteractor(t, svc)
	events := recordEvents(it)

	it.Handle(domain.UpgradeRequested{Offer: offer})
	offered := (*events)[0].(domain.UpgradeOffered)

	sched.Advance(DefaultOfferTimeout - time.Millisecond)
	require.Len(t, *events, 1)
	sched.Advance(time.Millisecond)
	offered.Answer(true)

	require.Len(t, *events, 2)
	assert.Equal(t, domain.UpgradeOfferExpired{Offer: offer}, (*events)[1])
	assert.Equal(t, domain.PhaseEngaged, it.State().Phase())
	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "AnswerMediaUpgrade", 1)
}

func TestUpgradeAnswerFailureIsReported(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("AnswerMediaUpgrade", mock.Anything, true).Return(errors.New("socket closed"))
	it, _ := engagedInteractor(t, svc)
	events := recordEvents(it)

	it.Handle(domain.UpgradeRequested{Offer: domain.MediaUpgradeOffer{Type: domain.MediaTypeVideo}})
	offered := (*events)[0].(domain.UpgradeOffered)
	assert.NotEmpty(t, offered.Offer.ID)
	offered.Answer(true)

	require.Len(t, *events, 2)
	failed, ok := (*events)[1].(domain.UpgradeAnswerFailed)
	require.True(t, ok)
	assert.True(t, failed.Accepted)
	assert.Equal(t, domain.ErrorKindNegotiation, failed.Err.Kind)
}

func TestUpgradeOfferOutsideEngagementIsDeclined(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("AnswerMediaUpgrade", mock.Anything, false).Return(nil).Once()
	it, _ := newTestInteractor(svc)
	events := recordEvents(it)

	it.Handle(domain.UpgradeRequested{Offer: domain.MediaUpgradeOffer{ID: "x", Type: domain.MediaTypeVideo}})

	assert.Empty(t, *events)
	svc.AssertExpectations(t)
}

func TestEndReportsErrorButStillEnds(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("EndEngagement", mock.Anything).Return(errors.New("timeout"))
	it, _ := engagedInteractor(t, svc)

	err := it.End(context.Background())

	require.Error(t, err)
	assert.Equal(t, domain.Ended{Reason: domain.EndReasonVisitorEnded}, it.State())
	assert.NoError(t, it.End(context.Background()))
}

func TestEngagementClosedByOperator(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	it, _ := engagedInteractor(t, svc)
	it.Handle(domain.UpgradeRequested{Offer: domain.MediaUpgradeOffer{ID: "o", Type: domain.MediaTypeVideo}})
	require.Equal(t, 1, it.PendingNegotiations())

	it.Handle(domain.EngagementClosed{})

	assert.Equal(t, domain.Ended{Reason: domain.EndReasonOperatorEnded}, it.State())
	assert.Zero(t, it.PendingNegotiations())
}

func TestClearSessionReturnsToNone(t *testing.T) {
	t.Parallel()

	it, _ := engagedInteractor(t, &mockSignaling{})
	phases := recordPhases(it)

	it.ClearSession()

	assert.Equal(t, domain.None{}, it.State())
	assert.Equal(t, []domain.Phase{domain.PhaseEnded, domain.PhaseNone}, *phases)
}

func TestResumeRestoresEngagement(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("Resume", mock.Anything).Return(ports.ResumedEngagement{
		Kind:     domain.EngagementKindVideoCall,
		Operator: operator,
		Stream:   newFakeStream(),
	}, nil)
	it, _ := newTestInteractor(svc)

	kind, err := resumeAndWait(t, it)

	require.NoError(t, err)
	assert.Equal(t, domain.EngagementKindVideoCall, kind)
	assert.Equal(t, domain.Engaged{Operator: operator}, it.State())
}

func TestResumeFailureLeavesNone(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("Resume", mock.Anything).Return(ports.ResumedEngagement{}, errors.New("nothing to resume"))
	it, _ := newTestInteractor(svc)

	_, err := resumeAndWait(t, it)

	require.Error(t, err)
	assert.Equal(t, domain.None{}, it.State())
}

func TestResumeReturnsBeforeLookupCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan time.Time)
	svc := &mockSignaling{}
	svc.On("Resume", mock.Anything).WaitUntil(release).Return(ports.ResumedEngagement{
		Kind:     domain.EngagementKindChat,
		Operator: operator,
		Stream:   newFakeStream(),
	}, nil)
	it, _ := newTestInteractor(svc)
	done := make(chan error, 1)

	require.NoError(t, it.Resume(context.Background(), func(_ domain.EngagementKind, err error) { done <- err }))

	assert.Equal(t, domain.None{}, it.State())
	assert.ErrorIs(t, it.Resume(context.Background(), func(domain.EngagementKind, error) {}), ErrResumeInProgress)

	close(release)
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, domain.Engaged{Operator: operator}, it.State())
	svc.AssertNumberOfCalls(t, "Resume", 1)
}

func TestClearSessionSupersedesPendingResume(t *testing.T) {
	t.Parallel()

	release := make(chan time.Time)
	stream := newFakeStream()
	svc := &mockSignaling{}
	svc.On("Resume", mock.Anything).WaitUntil(release).Return(ports.ResumedEngagement{
		Kind:     domain.EngagementKindChat,
		Operator: operator,
		Stream:   stream,
	}, nil)
	it, _ := newTestInteractor(svc)
	done := make(chan error, 1)
	require.NoError(t, it.Resume(context.Background(), func(_ domain.EngagementKind, err error) { done <- err }))

	it.ClearSession()
	close(release)

	assert.ErrorIs(t, waitResult(t, done), ErrResumeSuperseded)
	assert.Equal(t, domain.None{}, it.State())
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.True(t, stream.closed)
}

func TestRepeatedOfferIDReplacesPendingNegotiation(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	svc.On("AnswerMediaUpgrade", mock.Anything, mock.Anything).Return(nil).Maybe()
	svc.On("EndEngagement", mock.Anything).Return(nil)
	it, sched := engagedInteractor(t, svc)
	events := recordEvents(it)
	offer := domain.MediaUpgradeOffer{ID: "offer-5", Type: domain.MediaTypeVideo}

	it.Handle(domain.UpgradeRequested{Offer: offer})
	sched.Advance(5 * time.Second)
	it.Handle(domain.UpgradeRequested{Offer: offer})
	sched.Advance(16 * time.Second)

	require.Len(t, *events, 2)
	assert.Equal(t, 1, it.PendingNegotiations())

	require.NoError(t, it.End(context.Background()))
	assert.Zero(t, it.PendingNegotiations())
	sched.Advance(time.Minute)

	svc.AssertNotCalled(t, "AnswerMediaUpgrade", mock.Anything, mock.Anything)
	assert.Len(t, *events, 2)
}

func TestEngagementRequestAcceptedEnqueues(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	request := domain.EngagementRequest{ID: "req-1", Operator: operator}
	svc.On("AnswerEngagementRequest", request, true).Return(nil)
	it, _ := newTestInteractor(svc)
	events := recordEvents(it)

	it.Handle(domain.EngagementRequestReceived{Request: request})
	requested := (*events)[0].(domain.EngagementRequested)
	requested.Answer(true)

	assert.Equal(t, domain.Enqueueing{Kind: domain.EngagementKindObservation}, it.State())
	it.Handle(domain.OperatorConnected{Operator: operator})
	assert.Equal(t, domain.PhaseEngaged, it.State().Phase())
}

func TestEngagementRequestExpires(t *testing.T) {
	t.Parallel()

	svc := &mockSignaling{}
	request := domain.EngagementRequest{ID: "req-2"}
	svc.On("AnswerEngagementRequest", request, false).Return(nil).Once()
	it, sched := newTestInteractor(svc)
	events := recordEvents(it)

	it.Handle(domain.EngagementRequestReceived{Request: request})
	sched.Advance(DefaultOfferTimeout)

	require.Len(t, *events, 2)
	assert.Equal(t, domain.EngagementRequestExpired{Request: request}, (*events)[1])
	assert.Equal(t, domain.None{}, it.State())
	svc.AssertExpectations(t)
}

func TestPumpDeliversInOrderAndFailsOnDisconnect(t *testing.T) {
	t.Parallel()

	q := dispatch.NewSerial()
	defer q.Close()

	stream := newFakeStream()
	stream.events = make(chan domain.SignalEvent, 8)
	svc := &mockSignaling{}
	svc.On("StartEngagement", mock.Anything, mock.Anything, mock.Anything).Return(stream, nil)
	it := New(svc, q, clock.NewManual())

	var events []domain.InteractorEvent
	require.NoError(t, q.Sync(func() {
		it.Subscribe(func(e domain.InteractorEvent) { events = append(events, e) })
		assert.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindAudioCall, nil))
	}))

	audio := &fakeAudio{id: "remote", remote: true}
	stream.events <- domain.OperatorConnected{Operator: operator}
	stream.events <- domain.AudioStreamReady{Stream: audio}
	stream.fail(errors.New("socket reset"))

	require.Eventually(t, func() bool {
		var phase domain.Phase
		_ = q.Sync(func() { phase = it.State().Phase() })
		return phase == domain.PhaseEnded
	}, time.Second, 5*time.Millisecond)

	var got []domain.InteractorEvent
	var state domain.EngagementState
	require.NoError(t, q.Sync(func() {
		got = append(got, events...)
		state = it.State()
	}))

	require.Len(t, got, 2)
	assert.Equal(t, domain.AudioStreamAdded{Stream: audio}, got[0])
	failed, ok := got[1].(domain.SessionFailed)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorKindSession, failed.Err.Kind)
	assert.Equal(t, domain.Ended{Reason: domain.EndReasonFailure}, state)
}

func resumeAndWait(t *testing.T, it *Interactor) (domain.EngagementKind, error) {
	t.Helper()
	var kind domain.EngagementKind
	done := make(chan error, 1)
	require.NoError(t, it.Resume(context.Background(), func(k domain.EngagementKind, err error) {
		kind = k
		done <- err
	}))
	err := waitResult(t, done)
	return kind, err
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatalf("resume never completed")
		return nil
	}
}

func newTestInteractor(svc *mockSignaling) (*Interactor, *clock.Manual) {
	sched := clock.NewManual()
	return New(svc, dispatch.Inline{}, sched), sched
}

func engagedInteractor(t *testing.T, svc *mockSignaling) (*Interactor, *clock.Manual) {
	t.Helper()
	svc.On("StartEngagement", mock.Anything, mock.Anything, mock.Anything).Return(newFakeStream(), nil).Maybe()
	it, sched := newTestInteractor(svc)
	require.NoError(t, it.Enqueue(context.Background(), domain.EngagementKindAudioCall, nil))
	it.Handle(domain.OperatorConnected{Operator: operator})
	return it, sched
}

func recordPhases(it *Interactor) *[]domain.Phase {
	phases := &[]domain.Phase{}
	it.States().Subscribe(func(s domain.EngagementState) { *phases = append(*phases, s.Phase()) })
	return phases
}

func recordEvents(it *Interactor) *[]domain.InteractorEvent {
	events := &[]domain.InteractorEvent{}
	it.Subscribe(func(e domain.InteractorEvent) { *events = append(*events, e) })
	return events
}

type mockSignaling struct {
	mock.Mock
}

func (m *mockSignaling) Configure(ctx context.Context, cfg ports.SignalingConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *mockSignaling) StartEngagement(ctx context.Context, kind domain.EngagementKind, queueIDs []string) (ports.EventStream, error) {
	args := m.Called(ctx, kind, queueIDs)
	stream, _ := args.Get(0).(ports.EventStream)
	return stream, args.Error(1)
}

func (m *mockSignaling) Resume(ctx context.Context) (ports.ResumedEngagement, error) {
	args := m.Called(ctx)
	return args.Get(0).(ports.ResumedEngagement), args.Error(1)
}

func (m *mockSignaling) ListenForRequests(ctx context.Context) (ports.EventStream, error) {
	args := m.Called(ctx)
	stream, _ := args.Get(0).(ports.EventStream)
	return stream, args.Error(1)
}

func (m *mockSignaling) AnswerMediaUpgrade(offer domain.MediaUpgradeOffer, accepted bool) error {
	return m.Called(offer, accepted).Error(0)
}

func (m *mockSignaling) AnswerEngagementRequest(request domain.EngagementRequest, accepted bool) error {
	return m.Called(request, accepted).Error(0)
}

func (m *mockSignaling) EndEngagement(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSignaling) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockSignaling) SendSecureMessage(ctx context.Context, queueIDs []string, text string) (domain.Message, error) {
	args := m.Called(ctx, queueIDs, text)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockSignaling) RequestVisitorCode(ctx context.Context) (domain.VisitorCode, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.VisitorCode), args.Error(1)
}

func (m *mockSignaling) FetchSiteConfiguration(ctx context.Context, siteID string) (domain.SiteConfiguration, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(domain.SiteConfiguration), args.Error(1)
}

// fakeStream never delivers unless a test installs an events channel.
type fakeStream struct {
	mu     sync.Mutex
	events chan domain.SignalEvent
	err    error
	closed bool
}

func newFakeStream() *fakeStream { return &fakeStream{} }

func (s *fakeStream) Events() <-chan domain.SignalEvent { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.events != nil {
		close(s.events)
	}
	s.closed = true
	return nil
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	_ = s.Close()
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
