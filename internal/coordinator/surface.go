package coordinator

import (
	"github.com/google/uuid"

	"engagekit/internal/clock"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/logging"
	"engagekit/internal/observable"
	"engagekit/internal/ports"
	"engagekit/internal/viewmodel"
)

// Deps are handed to every child coordinator by its parent.
type Deps struct {
	Source    viewmodel.Source
	Queue     dispatch.Queue
	Scheduler clock.Scheduler
	Presenter ports.Presenter
	Sender    Sender
	ViewModel viewmodel.Config
	Logger    logging.Logger
}

func (d Deps) viewModelDeps(delegate func(viewmodel.DelegateEvent)) viewmodel.Deps {
	return viewmodel.Deps{
		Source:    d.Source,
		Queue:     d.Queue,
		Scheduler: d.Scheduler,
		Delegate:  delegate,
	}
}

// surface is the part every child shares: identity, presentation and the
// upward sender.
type surface struct {
	id        string
	kind      domain.Surface
	presenter ports.Presenter
	sender    Sender
	log       logging.Logger
	subs      observable.Bag
	presented bool
}

func newSurface(kind domain.Surface, deps Deps) surface {
	id := uuid.NewString()
	log := deps.Logger
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return surface{
		id:        id,
		kind:      kind,
		presenter: deps.Presenter,
		sender:    deps.Sender,
		log:       logging.With(log, "component", "coordinator", "surface", string(kind), "coordinator_id", id),
	}
}

func (s *surface) ID() string              { return s.id }
func (s *surface) Surface() domain.Surface { return s.kind }

// Presented reports whether the surface was built and not yet dismissed.
func (s *surface) Presented() bool { return s.presented }

// present builds the surface. Failures are reported upward as Failed and
// returned classified.
func (s *surface) present() error {
	if s.presented {
		return nil
	}
	if err := s.presenter.Present(s.id, s.kind); err != nil {
		classified := domain.NewError(domain.ErrorKindSession, domain.ErrorCodeSurface, err)
		s.log.Error("present surface failed", "error", err)
		s.sender.Send(s.id, Failed{Err: classified, Message: "This screen could not be opened."})
		return classified
	}
	s.presented = true
	return nil
}

func (s *surface) render(a viewmodel.Action) {
	if n, ok := a.(viewmodel.ShowNotice); ok {
		s.sender.Send(s.id, NoticeRequested{Notice: n.Notice})
		return
	}
	s.presenter.Render(s.id, a)
}

func (s *surface) delegate(ev viewmodel.DelegateEvent) {
	if translated, ok := translate(ev); ok {
		s.sender.Send(s.id, translated)
	}
}

func (s *surface) dismiss() {
	s.subs.CancelAll()
	if s.presented {
		s.presented = false
		s.presenter.Dismiss(s.id)
	}
}
