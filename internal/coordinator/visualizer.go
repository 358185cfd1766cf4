package coordinator

import (
	"context"
	"fmt"

	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

// VisualizerCoordinator owns the call-visualizer flow: the visitor code
// surface and the consent step for operator-initiated engagements.
type VisualizerCoordinator struct {
	surface

	vm        *viewmodel.VisitorCodeViewModel
	request   *domain.EngagementRequest
	answer    domain.AnswerFunc
	observing bool
}

func NewVisualizerCoordinator(deps Deps, requester viewmodel.VisitorCodeRequester) *VisualizerCoordinator {
	c := &VisualizerCoordinator{surface: newSurface(domain.SurfaceVisitorCode, deps)}
	cfg := deps.ViewModel
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	c.vm = viewmodel.NewVisitorCodeViewModel(deps.viewModelDeps(c.delegate), requester, cfg)
	return c
}

// Start shows the visitor code.
func (c *VisualizerCoordinator) Start(ctx context.Context) error {
	if err := c.present(); err != nil {
		return err
	}
	c.subs.Add(c.vm.Actions(c.render))
	c.vm.Start(ctx)
	return nil
}

func (c *VisualizerCoordinator) Handle(ctx context.Context, ev viewmodel.Event) {
	c.vm.Handle(ctx, ev)
}

// Confirm runs the consent step for an operator request. Sites that require
// confirmation get a dialog; otherwise the request is accepted at once.
func (c *VisualizerCoordinator) Confirm(request domain.EngagementRequest, answer domain.AnswerFunc, site domain.SiteConfiguration) {
	if c.request != nil {
		c.log.Warn("replacing unanswered engagement request", "request_id", c.request.ID)
		c.answer(false)
	}
	c.request = &request
	c.answer = answer

	if !site.ObservationConfirmationRequired {
		c.respond(true)
		return
	}
	name := request.Operator.Name
	if name == "" {
		name = "An operator"
	}
	c.presenter.ShowAlert(domain.Alert{
		Kind:    domain.AlertObservationConfirm,
		Message: fmt.Sprintf("%s would like to see your screen.", name),
		Accept:  func() { c.respond(true) },
		Decline: func() { c.respond(false) },
	})
}

// Pending reports whether a request awaits the visitor's consent.
func (c *VisualizerCoordinator) Pending() bool { return c.request != nil }

// Expire drops the pending request if it is id. A dialog still on screen
// answers nothing afterwards.
func (c *VisualizerCoordinator) Expire(id string) bool {
	if c.request == nil || c.request.ID != id {
		return false
	}
	c.request = nil
	c.answer = nil
	return true
}

// respond tells the parent first, so anything the answer depends on exists
// before the operator hears back.
func (c *VisualizerCoordinator) respond(accepted bool) {
	if c.request == nil {
		return
	}
	request, answer := *c.request, c.answer
	c.request = nil
	c.answer = nil
	c.sender.Send(c.id, ObservationAnswered{Request: request, Accepted: accepted})
	answer(accepted)
}

// StartObservation shows the operator is observing. The surface is built if
// the request arrived without a visitor code on screen.
func (c *VisualizerCoordinator) StartObservation(operator domain.Operator, site domain.SiteConfiguration) error {
	if err := c.present(); err != nil {
		return err
	}
	c.observing = true
	c.vm.Close()
	c.presenter.Render(c.id, viewmodel.ObservationStarted{
		OperatorName:     operator.Name,
		IndicatorVisible: site.ObservationIndicatorEnabled,
	})
	return nil
}

// Observing reports whether an observation engagement is running.
func (c *VisualizerCoordinator) Observing() bool { return c.observing }

func (c *VisualizerCoordinator) End() {
	if c.request != nil {
		c.respond(false)
	}
	c.vm.Close()
	c.dismiss()
}
