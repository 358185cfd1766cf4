package coordinator

import (
	"context"

	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

type SecureMessagingCoordinator struct {
	surface

	vm *viewmodel.SecureMessagingViewModel
}

func NewSecureMessagingCoordinator(deps Deps, sender viewmodel.SecureMessageSender, queueIDs []string) *SecureMessagingCoordinator {
	c := &SecureMessagingCoordinator{surface: newSurface(domain.SurfaceSecureMessaging, deps)}
	cfg := deps.ViewModel
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	c.vm = viewmodel.NewSecureMessagingViewModel(deps.viewModelDeps(c.delegate), sender, queueIDs, cfg)
	return c
}

func (c *SecureMessagingCoordinator) Start(_ context.Context) error {
	if err := c.present(); err != nil {
		return err
	}
	c.subs.Add(c.vm.Actions(c.render))
	c.vm.Start()
	return nil
}

func (c *SecureMessagingCoordinator) Handle(ctx context.Context, ev viewmodel.Event) {
	c.vm.Handle(ctx, ev)
}

func (c *SecureMessagingCoordinator) End() {
	c.vm.Close()
	c.dismiss()
}
