package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engagekit/internal/clock"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/interactor"
	"engagekit/internal/logging"
	"engagekit/internal/observable"
	"engagekit/internal/ports"
	"engagekit/internal/siteconfig"
	"engagekit/internal/viewmodel"
)

var ErrUnknownSurface = errors.New("no such surface")

// DefaultNoticeDuration is how long a transient notice stays up.
const DefaultNoticeDuration = 4 * time.Second

// Config controls the root coordinator.
type Config struct {
	SiteID         string
	QueueIDs       []string
	NoticeDuration time.Duration
	BubblePosition domain.BubblePosition
	ViewModel      viewmodel.Config
	Logger         logging.Logger
}

// EngagementDeps are the collaborators the root is built from.
type EngagementDeps struct {
	Interactor *interactor.Interactor
	Signaling  ports.SignalingService
	Presenter  ports.Presenter
	Sink       ports.EventSink
	Queue      dispatch.Queue
	Scheduler  clock.Scheduler
	Sites      *siteconfig.Cache
}

// Engagement is the root coordinator. It owns every child coordinator, the
// bubble overlay and the host event stream. All methods must run on the
// core's serialized queue.
type Engagement struct {
	it        *interactor.Interactor
	svc       ports.SignalingService
	presenter ports.Presenter
	sink      ports.EventSink
	queue     dispatch.Queue
	sched     clock.Scheduler
	sites     *siteconfig.Cache
	cfg       Config
	log       logging.Logger
	ctx       context.Context

	overlay    *observable.Value[domain.OverlayState]
	children   map[string]Coordinator
	foreground string
	parked     string
	// cameFrom maps a child to the sibling it was reached from, for back
	// navigation after a chat-to-call upgrade.
	cameFrom map[string]string
	kind     domain.EngagementKind
	started  bool
	notice   *activeNotice
	subs     observable.Bag

	// upgrading is the chat upgrade whose acceptance is being delivered.
	upgrading *chatUpgrade
}

type chatUpgrade struct {
	offerID string
	failed  bool
}

type activeNotice struct {
	id    string
	timer clock.Timer
}

func NewEngagement(deps EngagementDeps, cfg Config) *Engagement {
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = DefaultNoticeDuration
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NoOpLogger{}
	}
	queue := deps.Queue
	if queue == nil {
		queue = dispatch.Inline{}
	}
	e := &Engagement{
		it:        deps.Interactor,
		svc:       deps.Signaling,
		presenter: deps.Presenter,
		sink:      deps.Sink,
		queue:     queue,
		sched:     deps.Scheduler,
		sites:     deps.Sites,
		cfg:       cfg,
		log:       logging.With(log, "component", "engagement_coordinator"),
		ctx:       context.Background(),
		overlay:   observable.NewValue(domain.HiddenOverlay()),
		children:  make(map[string]Coordinator),
		cameFrom:  make(map[string]string),
	}
	e.subs.Add(
		e.it.States().Subscribe(e.engagementChanged),
		e.it.Subscribe(e.interactorEvent),
		e.overlay.Subscribe(e.presenter.SetOverlay),
	)
	return e
}

// Overlay exposes the overlay state read-only.
func (e *Engagement) Overlay() observable.Reader[domain.OverlayState] { return e.overlay }

// Status summarizes the engagement for the host.
func (e *Engagement) Status() domain.Status {
	state := e.it.State()
	return domain.Status{
		State:   state.Phase().String(),
		Active:  e.live() || len(e.children) > 0,
		Overlay: e.overlay.Get(),
	}
}

// Foreground returns the foregrounded child, if any.
func (e *Engagement) Foreground() (Coordinator, bool) {
	child, ok := e.children[e.foreground]
	return child, ok
}

// Children returns the number of live child coordinators.
func (e *Engagement) Children() int { return len(e.children) }

// Configure hands credentials to the signaling service and warms the site
// configuration cache in the background.
func (e *Engagement) Configure(ctx context.Context, sc ports.SignalingConfig) error {
	if err := e.it.Configure(ctx, sc); err != nil {
		return err
	}
	if sc.SiteID != "" {
		e.cfg.SiteID = sc.SiteID
	}
	if e.sites == nil || e.cfg.SiteID == "" {
		return nil
	}
	e.sites.Purge()
	siteID := e.cfg.SiteID
	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := e.sites.Get(fetchCtx, siteID); err != nil {
			e.log.Warn("site configuration unavailable, using defaults", "site_id", siteID, "error", err)
		}
	}()
	return nil
}

// Start begins an engagement of kind. Starting the kind already running
// brings it back to the foreground.
func (e *Engagement) Start(ctx context.Context, kind domain.EngagementKind, queueIDs []string) error {
	if !kind.Startable() {
		return fmt.Errorf("%w: %q", interactor.ErrInvalidKind, kind)
	}
	if e.live() || (e.started && kind == domain.EngagementKindMessaging) {
		if kind == e.kind {
			e.Maximize()
			return nil
		}
		e.presenter.ShowAlert(domain.Alert{
			Kind:    domain.AlertEngagementInProgress,
			Message: "Finish your current conversation before starting a new one.",
			Accept:  func() {},
		})
		return interactor.ErrEngagementInProgress
	}
	if len(queueIDs) == 0 {
		queueIDs = e.cfg.QueueIDs
	}

	// Leftovers of an ended engagement, e.g. an unacknowledged alert.
	e.teardown()
	e.ctx = ctx

	child, err := e.build(kind, queueIDs)
	if err != nil {
		return err
	}
	if err := e.startChild(ctx, child); err != nil {
		return err
	}

	e.kind = kind
	if kind.Queued() {
		if err := e.it.Enqueue(ctx, kind, queueIDs); err != nil {
			e.release(child.ID())
			return err
		}
	}
	e.started = true
	e.log.Info("engagement started", "kind", kind)
	e.sink.EngagementStarted()
	return nil
}

// Resume reattaches to an engagement already in progress. The surface is
// rebuilt once the signaling service has found the engagement; done, when
// set, runs on the queue with the outcome.
func (e *Engagement) Resume(ctx context.Context, done func(error)) error {
	if e.live() {
		return interactor.ErrEngagementInProgress
	}
	e.teardown()
	e.ctx = ctx

	return e.it.Resume(ctx, func(kind domain.EngagementKind, err error) {
		if err == nil {
			err = e.resumed(ctx, kind)
		}
		if err != nil {
			e.log.Warn("resume did not complete", "error", err)
		}
		if done != nil {
			done(err)
		}
	})
}

func (e *Engagement) resumed(ctx context.Context, kind domain.EngagementKind) error {
	if kind == domain.EngagementKindObservation {
		v := e.visualizer()
		e.children[v.ID()] = v
		op, _ := domain.OperatorOf(e.it.State())
		if err := v.StartObservation(op, e.site()); err != nil {
			e.release(v.ID())
			return err
		}
		e.setOverlay(domain.BubbleOverlay(e.cfg.BubblePosition))
	} else {
		child, err := e.build(kind, nil)
		if err != nil {
			return err
		}
		if err := e.startChild(ctx, child); err != nil {
			return err
		}
	}

	e.kind = kind
	e.started = true
	e.log.Info("engagement resumed", "kind", kind)
	e.sink.EngagementStarted()
	return nil
}

// ShowVisitorCode shows a visitor code and listens for the operator's
// request.
func (e *Engagement) ShowVisitorCode(ctx context.Context) error {
	if e.live() {
		return interactor.ErrEngagementInProgress
	}
	e.ctx = ctx
	v := e.visualizer()
	if v.Presented() {
		e.foregroundChild(v.ID())
		return nil
	}
	if err := e.startChild(ctx, v); err != nil {
		return err
	}
	if err := e.it.Listen(ctx); err != nil {
		e.log.Warn("listening for engagement requests failed", "error", err)
		return err
	}
	return nil
}

// End ends the engagement. Surfaces are released even if the signaling
// service reports an error, which is returned.
func (e *Engagement) End(ctx context.Context) error {
	if !e.live() {
		e.it.StopListening()
		e.teardown()
		return nil
	}
	return e.it.End(ctx)
}

// ClearSession tears everything down synchronously and leaves the engagement
// at none.
func (e *Engagement) ClearSession() {
	e.teardown()
	e.it.ClearSession()
}

// Minimize moves the foregrounded surface out of the way without ending it.
// A call or visitor code keeps the bubble on screen.
func (e *Engagement) Minimize() {
	if _, ok := e.children[e.foreground]; !ok {
		return
	}
	e.parked = e.foreground
	e.foreground = ""
	if e.bubbleTarget() != "" {
		e.setOverlay(domain.BubbleOverlay(e.cfg.BubblePosition))
	} else {
		e.setOverlay(domain.HiddenOverlay())
	}
	e.sink.Minimized()
}

// Maximize brings back the surface that was minimized, the same instance.
// While the bubble shows, it brings back what the bubble stands for.
func (e *Engagement) Maximize() {
	if e.foreground != "" {
		return
	}
	id := e.parked
	if _, ok := e.children[id]; !ok || e.overlay.Get().Mode == domain.OverlayBubble {
		id = e.bubbleTarget()
	}
	if id == "" {
		return
	}
	e.foregroundChild(id)
	e.sink.Maximized()
}

// MoveBubble records where the visitor dragged the bubble.
func (e *Engagement) MoveBubble(pos domain.BubblePosition) {
	e.cfg.BubblePosition = pos
	if e.overlay.Get().Mode == domain.OverlayBubble {
		e.setOverlay(domain.BubbleOverlay(pos))
	}
}

// Handle forwards visitor input to the surface id, or the foregrounded one
// when id is empty.
func (e *Engagement) Handle(ctx context.Context, id string, ev viewmodel.Event) error {
	if id == "" {
		id = e.foreground
	}
	child, ok := e.children[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSurface, id)
	}
	child.Handle(ctx, ev)
	return nil
}

// Send receives events from child coordinators.
func (e *Engagement) Send(from string, ev Event) {
	switch x := ev.(type) {
	case MinimizeRequested:
		if from == e.foreground {
			e.Minimize()
		}
	case BackRequested:
		e.back(from)
	case EndRequested:
		if err := e.End(e.ctx); err != nil {
			e.log.Warn("ending engagement reported an error", "error", err)
		}
	case UpgradeRequested:
		e.upgradeFromChat(from, x)
	case KindChanged:
		if x.Kind != e.kind {
			e.kind = x.Kind
			e.sink.EngagementChanged(x.Kind)
		}
	case MediaFailed:
		e.mediaFailed(x.Err)
	case NoticeRequested:
		e.showNotice(x.Notice)
	case Failed:
		accept := x.Decline
		if accept == nil {
			accept = func() {}
		}
		e.presenter.ShowAlert(domain.Alert{Kind: domain.AlertSurfaceUnavailable, Message: x.Message, Accept: accept})
	case ObservationAnswered:
		e.observationAnswered(from, x)
	}
}

func (e *Engagement) build(kind domain.EngagementKind, queueIDs []string) (Coordinator, error) {
	switch kind {
	case domain.EngagementKindChat:
		return NewChatCoordinator(e.childDeps(), e.svc), nil
	case domain.EngagementKindAudioCall, domain.EngagementKindVideoCall:
		callKind, _ := domain.CallKindFor(kind)
		return NewCallCoordinator(e.childDeps(), callKind), nil
	case domain.EngagementKindMessaging:
		if len(queueIDs) == 0 {
			queueIDs = e.cfg.QueueIDs
		}
		return NewSecureMessagingCoordinator(e.childDeps(), e.svc, queueIDs), nil
	default:
		return nil, fmt.Errorf("%w: %q", interactor.ErrInvalidKind, kind)
	}
}

func (e *Engagement) childDeps() Deps {
	return Deps{
		Source:    e.it,
		Queue:     e.queue,
		Scheduler: e.sched,
		Presenter: e.presenter,
		Sender:    e,
		ViewModel: e.cfg.ViewModel,
		Logger:    e.cfg.Logger,
	}
}

// startChild adds child to the tree, builds its surface and foregrounds it.
// A child that fails to start has already reported Failed and is released.
func (e *Engagement) startChild(ctx context.Context, child Coordinator) error {
	e.children[child.ID()] = child
	if err := child.Start(ctx); err != nil {
		e.release(child.ID())
		return err
	}
	e.foregroundChild(child.ID())
	return nil
}

func (e *Engagement) foregroundChild(id string) {
	child, ok := e.children[id]
	if !ok {
		return
	}
	e.foreground = id
	e.parked = ""
	e.presenter.Foreground(id)
	e.setOverlay(domain.ForegroundOverlay(child.Surface()))
}

// release ends one child and removes it from the tree. The child is gone
// from the tree before End runs, so events it sends while ending are
// ignored.
func (e *Engagement) release(id string) {
	child, ok := e.children[id]
	if !ok {
		return
	}
	delete(e.children, id)
	delete(e.cameFrom, id)
	for k, v := range e.cameFrom {
		if v == id {
			delete(e.cameFrom, k)
		}
	}
	if e.parked == id {
		e.parked = ""
	}
	wasForeground := e.foreground == id
	if wasForeground {
		e.foreground = ""
	}
	child.End()

	if len(e.children) == 0 {
		e.setOverlay(domain.HiddenOverlay())
		if !e.live() && e.started {
			e.started = false
			e.kind = ""
			e.sink.EngagementEnded()
		}
		return
	}
	if wasForeground {
		if e.bubbleTarget() != "" {
			e.setOverlay(domain.BubbleOverlay(e.cfg.BubblePosition))
		} else {
			e.setOverlay(domain.HiddenOverlay())
		}
	}
}

// teardown releases every child and the notice, and reports the end of the
// engagement to the host once.
func (e *Engagement) teardown() {
	children := e.children
	e.children = make(map[string]Coordinator)
	e.cameFrom = make(map[string]string)
	e.foreground = ""
	e.parked = ""
	for _, child := range children {
		child.End()
	}
	e.dismissNotice()
	e.setOverlay(domain.HiddenOverlay())
	if e.started {
		e.started = false
		e.kind = ""
		e.log.Info("engagement ended")
		e.sink.EngagementEnded()
	}
}

func (e *Engagement) back(from string) {
	child, ok := e.children[from]
	if !ok {
		return
	}
	if prev, ok := e.cameFrom[from]; ok {
		if chat, ok := e.children[prev].(*ChatCoordinator); ok {
			e.foregroundChild(prev)
			chat.Refresh()
			return
		}
	}
	switch child.Surface() {
	case domain.SurfaceCall, domain.SurfaceChat:
		if from == e.foreground {
			e.Minimize()
		}
	case domain.SurfaceVisitorCode:
		if v, ok := child.(*VisualizerCoordinator); ok && v.Observing() {
			e.Minimize()
			return
		}
		e.release(from)
		if !e.live() {
			e.it.StopListening()
		}
	default:
		e.release(from)
	}
}

// upgradeFromChat builds the call for an offer accepted in chat and only
// then answers it, so streams that follow find the call ready. If the
// answer cannot be delivered the offer counts as declined and the visitor
// is returned to the chat.
func (e *Engagement) upgradeFromChat(from string, req UpgradeRequested) {
	if existing := e.callCoordinator(); existing != nil {
		existing.Call().Upgrade(req.Offer)
		e.foregroundChild(existing.ID())
		if !e.deliverUpgrade(req) {
			existing.Call().RevertUpgrade()
			e.returnToChat(from)
		}
		return
	}

	cc := NewCallCoordinator(e.childDeps(), req.Offer.Kind())
	if err := e.startChild(e.ctx, cc); err != nil {
		req.Answer(false)
		return
	}
	if _, ok := e.children[from]; ok {
		e.cameFrom[cc.ID()] = from
	}
	if !e.deliverUpgrade(req) {
		e.log.Warn("chat upgrade was not delivered, staying in chat", "offer_id", req.Offer.ID)
		e.release(cc.ID())
		e.returnToChat(from)
		return
	}

	kind := domain.EngagementKindOf(req.Offer.Kind())
	e.kind = kind
	e.log.Info("chat upgraded to call", "offer_id", req.Offer.ID, "kind", kind)
	e.sink.EngagementChanged(kind)
}

// deliverUpgrade accepts req and reports whether the acceptance reached the
// signaling service. A failed delivery is published while Answer runs.
func (e *Engagement) deliverUpgrade(req UpgradeRequested) bool {
	pending := &chatUpgrade{offerID: req.Offer.ID}
	e.upgrading = pending
	req.Answer(true)
	e.upgrading = nil
	return !pending.failed
}

func (e *Engagement) returnToChat(id string) {
	chat, ok := e.children[id].(*ChatCoordinator)
	if !ok {
		return
	}
	e.foregroundChild(id)
	chat.Refresh()
}

func (e *Engagement) routeOffer(offer domain.UpgradeOffered) {
	if cc := e.callCoordinator(); cc != nil {
		e.surfaceForOffer(cc.ID())
		cc.PresentOffer(offer)
		return
	}
	if chat := e.chatCoordinator(); chat != nil {
		e.surfaceForOffer(chat.ID())
		chat.PresentOffer(offer)
		return
	}
	e.log.Warn("no surface can answer upgrade offer, declining", "offer_id", offer.Offer.ID)
	offer.Answer(false)
}

// surfaceForOffer brings the owner of an offer to the foreground so the
// visitor sees the prompt.
func (e *Engagement) surfaceForOffer(id string) {
	switch e.foreground {
	case id:
	case "":
		e.foregroundChild(id)
		e.sink.Maximized()
	default:
		e.foregroundChild(id)
	}
}

func (e *Engagement) engagementRequested(req domain.EngagementRequested) {
	v := e.visualizer()
	e.children[v.ID()] = v
	v.Confirm(req.Request, req.Answer, e.site())
}

func (e *Engagement) requestExpired(request domain.EngagementRequest) {
	v := e.visualizerCoordinator()
	if v == nil || !v.Expire(request.ID) {
		return
	}
	e.showNotice(domain.Notice{Kind: domain.NoticeRequestExpired, Text: "The operator's request expired."})
	if !v.Presented() {
		e.release(v.ID())
	}
}

func (e *Engagement) observationAnswered(from string, ans ObservationAnswered) {
	v, ok := e.children[from].(*VisualizerCoordinator)
	if !ok {
		return
	}
	if !ans.Accepted {
		if !v.Presented() {
			e.release(from)
		}
		return
	}

	kind := ans.Request.Kind()
	if kind.IsCall() {
		callKind, _ := domain.CallKindFor(kind)
		e.release(from)
		if err := e.startChild(e.ctx, NewCallCoordinator(e.childDeps(), callKind)); err != nil {
			return
		}
	} else {
		if err := v.StartObservation(ans.Request.Operator, e.site()); err != nil {
			e.release(from)
			return
		}
		e.foreground = ""
		e.parked = from
		e.setOverlay(domain.BubbleOverlay(e.cfg.BubblePosition))
	}
	e.kind = kind
	e.started = true
	e.sink.EngagementStarted()
}

func (e *Engagement) mediaFailed(err *domain.EngagementError) {
	if err == nil {
		return
	}
	if err.Code == domain.ErrorCodePermissionDenied || err.Code == domain.ErrorCodeDeviceUnavailable {
		e.presenter.ShowAlert(domain.Alert{
			Kind:    domain.AlertMediaPermission,
			Message: "Allow access to your microphone and camera in Settings.",
			Accept:  e.presenter.OpenSettings,
			Decline: func() {},
		})
		return
	}
	e.showNotice(domain.Notice{Kind: domain.NoticeMediaFailed, Text: "Your audio or video could not be started."})
}

func (e *Engagement) interactorEvent(ev domain.InteractorEvent) {
	switch x := ev.(type) {
	case domain.UpgradeOffered:
		e.routeOffer(x)
	case domain.EngagementRequested:
		e.engagementRequested(x)
	case domain.EngagementRequestExpired:
		e.requestExpired(x.Request)
	case domain.UpgradeAnswerFailed:
		if e.upgrading != nil && x.Accepted && x.Offer.ID == e.upgrading.offerID {
			e.upgrading.failed = true
		}
	case domain.SessionFailed:
		e.presenter.ShowAlert(domain.Alert{
			Kind:    domain.AlertSessionFailed,
			Message: sessionFailureMessage(x.Err),
			Accept:  e.acknowledgeEnd,
		})
	}
}

func (e *Engagement) engagementChanged(s domain.EngagementState) {
	ended, ok := s.(domain.Ended)
	if !ok {
		return
	}
	switch ended.Reason {
	case domain.EndReasonOperatorEnded:
		e.dismissNotice()
		e.presenter.ShowAlert(domain.Alert{
			Kind:    domain.AlertOperatorEnded,
			Message: "The operator has ended the engagement.",
			Accept:  e.acknowledgeEnd,
		})
	case domain.EndReasonVisitorEnded, domain.EndReasonQueueDeclined:
		e.teardown()
	}
}

// acknowledgeEnd runs when the visitor dismisses a terminal alert.
func (e *Engagement) acknowledgeEnd() {
	e.teardown()
	e.it.Reset()
}

func (e *Engagement) showNotice(n domain.Notice) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	e.dismissNotice()
	e.presenter.ShowNotice(n)

	active := &activeNotice{id: n.ID}
	e.notice = active
	active.timer = e.sched.AfterFunc(e.cfg.NoticeDuration, func() {
		if e.notice != active {
			return
		}
		e.notice = nil
		e.presenter.DismissNotice(active.id)
	})
}

func (e *Engagement) dismissNotice() {
	if e.notice == nil {
		return
	}
	active := e.notice
	e.notice = nil
	active.timer.Cancel()
	e.presenter.DismissNotice(active.id)
}

// setOverlay publishes state if the tree can back it: foregrounded needs the
// foreground child, bubble needs a call or visitor code.
func (e *Engagement) setOverlay(state domain.OverlayState) {
	switch state.Mode {
	case domain.OverlayForegrounded:
		if _, ok := e.children[e.foreground]; !ok {
			e.log.Error("foregrounded overlay without a foreground surface", "surface", state.Surface)
			state = domain.HiddenOverlay()
		}
	case domain.OverlayBubble:
		if e.bubbleTarget() == "" {
			e.log.Error("bubble overlay without a call or visitor code")
			state = domain.HiddenOverlay()
		}
	}
	if e.overlay.Get() == state {
		return
	}
	e.overlay.Set(state)
}

func (e *Engagement) bubbleTarget() string {
	if cc := e.callCoordinator(); cc != nil {
		return cc.ID()
	}
	if v := e.visualizerCoordinator(); v != nil && v.Presented() {
		return v.ID()
	}
	return ""
}

func (e *Engagement) live() bool {
	switch e.it.State().Phase() {
	case domain.PhaseEnqueueing, domain.PhaseEngaged, domain.PhaseTransferring:
		return true
	default:
		return false
	}
}

func (e *Engagement) site() domain.SiteConfiguration {
	if e.sites == nil {
		return domain.SiteConfiguration{SiteID: e.cfg.SiteID}
	}
	cfg, _ := e.sites.Lookup(e.cfg.SiteID)
	return cfg
}

func (e *Engagement) visualizer() *VisualizerCoordinator {
	if v := e.visualizerCoordinator(); v != nil {
		return v
	}
	return NewVisualizerCoordinator(e.childDeps(), e.svc)
}

func (e *Engagement) callCoordinator() *CallCoordinator {
	for _, child := range e.children {
		if cc, ok := child.(*CallCoordinator); ok {
			return cc
		}
	}
	return nil
}

func (e *Engagement) chatCoordinator() *ChatCoordinator {
	for _, child := range e.children {
		if chat, ok := child.(*ChatCoordinator); ok {
			return chat
		}
	}
	return nil
}

func (e *Engagement) visualizerCoordinator() *VisualizerCoordinator {
	for _, child := range e.children {
		if v, ok := child.(*VisualizerCoordinator); ok {
			return v
		}
	}
	return nil
}

func sessionFailureMessage(err *domain.EngagementError) string {
	if err == nil {
		return "The engagement ended unexpectedly."
	}
	switch err.Code {
	case domain.ErrorCodeDisconnected:
		return "The connection was lost and the engagement has ended."
	case domain.ErrorCodeConfiguration:
		return "The engagement service is not configured correctly."
	default:
		return "The engagement ended unexpectedly."
	}
}
