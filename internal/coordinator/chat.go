package coordinator

import (
	"context"

	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

// ChatCoordinator owns the chat surface. It survives a chat-to-call upgrade
// so the visitor can come back to the same transcript.
type ChatCoordinator struct {
	surface

	vm *viewmodel.ChatViewModel
}

func NewChatCoordinator(deps Deps, sender viewmodel.MessageSender) *ChatCoordinator {
	c := &ChatCoordinator{surface: newSurface(domain.SurfaceChat, deps)}
	cfg := deps.ViewModel
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	c.vm = viewmodel.NewChatViewModel(deps.viewModelDeps(c.delegate), sender, cfg)
	return c
}

func (c *ChatCoordinator) Start(_ context.Context) error {
	if err := c.present(); err != nil {
		return err
	}
	c.subs.Add(c.vm.Actions(c.render))
	c.vm.Start()
	return nil
}

func (c *ChatCoordinator) Handle(ctx context.Context, ev viewmodel.Event) {
	c.vm.Handle(ctx, ev)
}

// Refresh re-renders the transcript after the surface comes back.
func (c *ChatCoordinator) Refresh() {
	c.vm.Refresh()
}

func (c *ChatCoordinator) PresentOffer(offer domain.UpgradeOffered) {
	c.vm.PresentOffer(offer)
}

// Transcript returns the messages seen so far.
func (c *ChatCoordinator) Transcript() []domain.Message {
	return c.vm.Transcript()
}

func (c *ChatCoordinator) End() {
	c.vm.Close()
	c.dismiss()
}
