package coordinator

import (
	"context"

	"engagekit/internal/call"
	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

// CallCoordinator owns one call surface, its Call and view-model.
type CallCoordinator struct {
	surface

	call *call.Model
	vm   *viewmodel.CallViewModel
}

// NewCallCoordinator builds the call and binds it to the engagement right
// away, so it tracks state before the surface exists.
func NewCallCoordinator(deps Deps, kind domain.CallKind) *CallCoordinator {
	c := &CallCoordinator{surface: newSurface(domain.SurfaceCall, deps)}
	c.call = call.New(kind, deps.Scheduler, call.WithLogger(deps.Logger))
	c.call.Bind(deps.Source)

	cfg := deps.ViewModel
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	c.vm = viewmodel.NewCallViewModel(deps.viewModelDeps(c.delegate), c.call, cfg)
	return c
}

// Call returns the call this coordinator owns.
func (c *CallCoordinator) Call() *call.Model { return c.call }

func (c *CallCoordinator) Start(_ context.Context) error {
	if err := c.present(); err != nil {
		return err
	}
	kind := c.call.Kind().Get()
	c.subs.Add(
		c.vm.Actions(c.render),
		c.call.Kind().Subscribe(func(next domain.CallKind) {
			if next == kind {
				return
			}
			kind = next
			c.sender.Send(c.id, KindChanged{Kind: domain.EngagementKindOf(next)})
		}),
	)
	c.vm.Start()
	return nil
}

func (c *CallCoordinator) Handle(ctx context.Context, ev viewmodel.Event) {
	c.vm.Handle(ctx, ev)
}

// PresentOffer gives the call's view-model an upgrade offer to answer.
func (c *CallCoordinator) PresentOffer(offer domain.UpgradeOffered) {
	c.vm.PresentOffer(offer)
}

func (c *CallCoordinator) End() {
	c.vm.Close()
	c.call.End()
	c.dismiss()
}
