// Package interactor owns the canonical engagement state. It is the only
// writer of domain.EngagementState and the single place signaling events are
// translated into state transitions and republished as interactor events.
package interactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagekit/internal/clock"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/observable"
	"engagekit/internal/ports"
)

var (
	ErrNoActiveEngagement   = errors.New("no active engagement")
	ErrEngagementInProgress = errors.New("an engagement is already in progress")
	ErrInvalidKind          = errors.New("engagement kind cannot be enqueued")
	ErrResumeInProgress     = errors.New("a resume is already in progress")
	ErrResumeSuperseded     = errors.New("resume was superseded")
)

// DefaultOfferTimeout bounds how long an operator offer waits for an answer.
const DefaultOfferTimeout = 20 * time.Second

// Option configures an Interactor.
type Option func(*Interactor)

func WithLogger(l logging.Logger) Option {
	return func(i *Interactor) {
		if l != nil {
			i.log = l
		}
	}
}

// WithStrictTransitions makes an illegal transition panic. Development
// builds enable it; release builds log and ignore.
func WithStrictTransitions(strict bool) Option {
	return func(i *Interactor) { i.strict = strict }
}

func WithOfferTimeout(d time.Duration) Option {
	return func(i *Interactor) {
		if d > 0 {
			i.offerTimeout = d
		}
	}
}

// Interactor relays the external signaling service into engagement state.
// All methods except Subscribe, State and States must run on the core's
// serialized queue.
type Interactor struct {
	svc          ports.SignalingService
	queue        dispatch.Queue
	sched        clock.Scheduler
	log          logging.Logger
	strict       bool
	offerTimeout time.Duration

	state  *observable.Value[domain.EngagementState]
	events observable.Feed[domain.InteractorEvent]

	stream       ports.EventStream
	negotiations map[string]*negotiation
	resuming     *resumeAttempt
}

// resumeAttempt identifies one Resume whose lookup has not come back yet.
type resumeAttempt struct{ ctx context.Context }

// New builds an Interactor in the none state.
func New(svc ports.SignalingService, queue dispatch.Queue, sched clock.Scheduler, opts ...Option) *Interactor {
	i := &Interactor{
		svc:          svc,
		queue:        queue,
		sched:        sched,
		log:          logging.NoOpLogger{},
		offerTimeout: DefaultOfferTimeout,
		state:        observable.NewValue[domain.EngagementState](domain.None{}),
		negotiations: make(map[string]*negotiation),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = logging.With(i.log, "component", "interactor")
	return i
}

// State returns the current engagement state.
func (i *Interactor) State() domain.EngagementState {
	return i.state.Get()
}

// States exposes the state cell read-only.
func (i *Interactor) States() observable.Reader[domain.EngagementState] {
	return i.state
}

// Subscribe registers fn for interactor events.
func (i *Interactor) Subscribe(fn func(domain.InteractorEvent)) *observable.Subscription {
	return i.events.Subscribe(fn)
}

// Configure hands the site credentials to the signaling service.
func (i *Interactor) Configure(ctx context.Context, cfg ports.SignalingConfig) error {
	if err := i.svc.Configure(ctx, cfg); err != nil {
		classified := domain.NewError(domain.ErrorKindSession, domain.ErrorCodeConfiguration, err)
		i.log.Error("configure failed", "error", err)
		return classified
	}
	return nil
}

// Enqueue starts a fresh engagement of the given kind.
func (i *Interactor) Enqueue(ctx context.Context, kind domain.EngagementKind, queueIDs []string) error {
	if !kind.Queued() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := i.prepareFreshStart(); err != nil {
		return err
	}
	i.resuming = nil

	if err := i.setState(domain.Enqueueing{Kind: kind}); err != nil {
		return err
	}

	stream, err := i.svc.StartEngagement(ctx, kind, queueIDs)
	if err != nil {
		classified := domain.Classify(err, domain.ErrorKindSession)
		i.log.Error("start engagement failed", "kind", kind, "error", err)
		_ = i.setState(domain.Ended{Reason: domain.EndReasonFailure})
		i.events.Publish(domain.SessionFailed{Err: classified})
		return classified
	}

	i.detach()
	i.attach(stream)
	return nil
}

// Resume reattaches to an engagement already in progress. The lookup runs
// off the queue; done runs on the queue with the resumed kind, or with the
// error that ended the attempt. An Enqueue, Listen or ClearSession issued
// meanwhile supersedes the attempt.
func (i *Interactor) Resume(ctx context.Context, done func(domain.EngagementKind, error)) error {
	if i.resuming != nil {
		return ErrResumeInProgress
	}
	if err := i.prepareFreshStart(); err != nil {
		return err
	}

	attempt := &resumeAttempt{ctx: ctx}
	i.resuming = attempt
	go func() {
		resumed, err := i.svc.Resume(attempt.ctx)
		posted := i.queue.Post(func() {
			kind, err := i.finishResume(attempt, resumed, err)
			done(kind, err)
		})
		if posted != nil && resumed.Stream != nil {
			_ = resumed.Stream.Close()
		}
	}()
	return nil
}

func (i *Interactor) finishResume(attempt *resumeAttempt, resumed ports.ResumedEngagement, err error) (domain.EngagementKind, error) {
	if i.resuming != attempt {
		if resumed.Stream != nil {
			_ = resumed.Stream.Close()
		}
		return "", ErrResumeSuperseded
	}
	i.resuming = nil

	if err != nil {
		classified := domain.Classify(err, domain.ErrorKindSession)
		i.log.Warn("resume failed", "error", err)
		return "", classified
	}
	if i.State().Phase() != domain.PhaseNone {
		if resumed.Stream != nil {
			_ = resumed.Stream.Close()
		}
		return "", ErrEngagementInProgress
	}

	// Resuming skips enqueueing: the visitor is rejoining, not starting fresh.
	i.state.Set(domain.Engaged{Operator: resumed.Operator})
	i.log.Info("engagement resumed", "kind", resumed.Kind, "operator", resumed.Operator.Name)

	i.detach()
	if resumed.Stream != nil {
		i.attach(resumed.Stream)
	}
	return resumed.Kind, nil
}

// Listen opens the request stream used while a visitor code is shown.
func (i *Interactor) Listen(ctx context.Context) error {
	if i.State().Phase() != domain.PhaseNone {
		return ErrEngagementInProgress
	}
	i.resuming = nil
	stream, err := i.svc.ListenForRequests(ctx)
	if err != nil {
		return domain.Classify(err, domain.ErrorKindSession)
	}
	i.detach()
	i.attach(stream)
	return nil
}

// StopListening closes a request stream opened by Listen. It has no effect
// once an engagement exists.
func (i *Interactor) StopListening() {
	if i.State().Phase() != domain.PhaseNone {
		return
	}
	i.cancelNegotiations()
	i.detach()
}

// End ends the current engagement. The state is ended when End returns, even
// if the signaling service reported an error.
func (i *Interactor) End(ctx context.Context) error {
	phase := i.State().Phase()
	if phase == domain.PhaseNone || phase == domain.PhaseEnded {
		i.StopListening()
		return nil
	}

	i.cancelNegotiations()
	err := i.svc.EndEngagement(ctx)
	i.detach()
	_ = i.setState(domain.Ended{Reason: domain.EndReasonVisitorEnded})
	if err != nil {
		i.log.Warn("end engagement reported an error", "error", err)
		return domain.Classify(err, domain.ErrorKindSession)
	}
	return nil
}

// Reset moves an ended engagement back to none.
func (i *Interactor) Reset() {
	if i.State().Phase() == domain.PhaseEnded {
		_ = i.setState(domain.None{})
	}
}

// ClearSession tears down everything the interactor holds and leaves the
// state at none.
func (i *Interactor) ClearSession() {
	i.resuming = nil
	i.cancelNegotiations()
	i.detach()
	switch i.State().Phase() {
	case domain.PhaseEnqueueing, domain.PhaseEngaged, domain.PhaseTransferring:
		_ = i.setState(domain.Ended{Reason: domain.EndReasonCleared})
	}
	i.Reset()
}

func (i *Interactor) prepareFreshStart() error {
	switch i.State().Phase() {
	case domain.PhaseNone:
		return nil
	case domain.PhaseEnded:
		i.Reset()
		return nil
	default:
		return ErrEngagementInProgress
	}
}

// setState validates next against the transition table and publishes it.
func (i *Interactor) setState(next domain.EngagementState) error {
	current := i.State()
	if !domain.CanTransition(current.Phase(), next.Phase()) {
		err := &domain.TransitionError{From: current.Phase(), To: next.Phase()}
		if i.strict {
			panic(err)
		}
		i.log.Error("rejected engagement transition", "from", current.Phase().String(), "to", next.Phase().String())
		return err
	}
	i.state.Set(next)
	i.log.Info("engagement state changed", "from", current.Phase().String(), "engagement_state", next.Phase().String())
	return nil
}
