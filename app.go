package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"engagekit/internal/bootstrap"
	"engagekit/internal/domain"
	"engagekit/internal/viewmodel"
)

const (
	eventLifecycle = "engage:lifecycle"
	eventSurface   = "engage:surface"
	eventRender    = "engage:render"
	eventAlert     = "engage:alert"
	eventNotice    = "engage:notice"
	eventOverlay   = "engage:overlay"
	eventSettings  = "engage:settings"
	eventError     = "engage:error"
)

var (
	errNotReady     = errors.New("application is not initialized")
	errUnknownAlert = errors.New("no such alert")
)

// App is the Wails application root. It is the host side of the engagement
// core: it receives the host event stream and presentation calls, and turns
// frontend calls into work on the core's queue.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...any)

	services bootstrap.Services
	ready    bool
	bootErr  error

	alertsMu sync.Mutex
	alerts   map[string]domain.Alert
}

func NewApp() *App {
	return &App{
		emit:   runtime.EventsEmit,
		alerts: make(map[string]domain.Alert),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(bridge{a}, bridge{a})
	if err != nil {
		a.bootErr = err
		a.emitError("startup", err)
		return
	}
	a.services = services
	a.ready = true

	if err := services.Configure(ctx); err != nil {
		services.Logger.Warn("signaling not configured", "error", err)
		a.emitError("configuration", err)
	}
}

func (a *App) shutdown(ctx context.Context) {
	if !a.ready {
		return
	}
	a.services.Shutdown(ctx)
}

// Start begins an engagement of kind, using the configured queues when none
// are given.
func (a *App) Start(kind string, queueIDs []string) (domain.Status, error) {
	err := a.run(func() error {
		return a.services.Engagement.Start(a.ctx, domain.EngagementKind(kind), queueIDs)
	})
	return a.GetStatus(), err
}

// Resume reattaches to an engagement already in progress. It waits for the
// lookup outside the core's queue.
func (a *App) Resume() (domain.Status, error) {
	result := make(chan error, 1)
	err := a.run(func() error {
		return a.services.Engagement.Resume(a.ctx, func(err error) { result <- err })
	})
	if err == nil {
		select {
		case err = <-result:
		case <-a.ctx.Done():
			err = a.ctx.Err()
		}
	}
	return a.GetStatus(), err
}

func (a *App) ShowVisitorCode() error {
	return a.run(func() error { return a.services.Engagement.ShowVisitorCode(a.ctx) })
}

func (a *App) End() error {
	return a.run(func() error { return a.services.Engagement.End(a.ctx) })
}

func (a *App) ClearSession() error {
	return a.run(func() error {
		a.services.Engagement.ClearSession()
		return nil
	})
}

func (a *App) Minimize() error {
	return a.run(func() error {
		a.services.Engagement.Minimize()
		return nil
	})
}

func (a *App) Maximize() error {
	return a.run(func() error {
		a.services.Engagement.Maximize()
		return nil
	})
}

func (a *App) MoveBubble(x, y int) error {
	return a.run(func() error {
		a.services.Engagement.MoveBubble(domain.BubblePosition{X: x, Y: y})
		return nil
	})
}

// Handle forwards visitor input from a surface. An empty surfaceID targets
// the foregrounded surface.
func (a *App) Handle(surfaceID string, event string, text string) error {
	ev, err := parseEvent(event, text)
	if err != nil {
		return err
	}
	return a.run(func() error { return a.services.Engagement.Handle(a.ctx, surfaceID, ev) })
}

// AnswerAlert runs the primary or secondary action of a shown alert.
func (a *App) AnswerAlert(id string, accepted bool) error {
	a.alertsMu.Lock()
	alert, ok := a.alerts[id]
	delete(a.alerts, id)
	a.alertsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownAlert, id)
	}

	action := alert.Accept
	if !accepted && alert.Decline != nil {
		action = alert.Decline
	}
	return a.run(func() error {
		if action != nil {
			action()
		}
		return nil
	})
}

// GetStatus returns the current engagement status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		status := domain.Status{State: domain.PhaseNone.String(), Overlay: domain.HiddenOverlay()}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	var status domain.Status
	if err := a.services.Queue.Sync(func() { status = a.services.Engagement.Status() }); err != nil {
		status.Message = err.Error()
	}
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	cfg := a.services.Config
	return map[string]string{
		"apiBase":     cfg.Signaling.APIBaseURL,
		"siteId":      cfg.Signaling.SiteID,
		"environment": cfg.Signaling.Environment,
		"queues":      strings.Join(cfg.Engagement.QueueIDs, ","),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return errNotReady
	}
	return nil
}

// run executes fn on the core's queue and waits for it.
func (a *App) run(fn func() error) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	var err error
	if syncErr := a.services.Queue.Sync(func() { err = fn() }); syncErr != nil {
		return syncErr
	}
	return err
}

// bridge is the core's view of the app: the host event stream and the
// presentation hooks. It is kept off App so Wails does not bind it.
type bridge struct{ *App }

// EngagementStarted emits host lifecycle events to the frontend.
func (b bridge) EngagementStarted() { b.lifecycle("started", "") }

func (b bridge) EngagementChanged(kind domain.EngagementKind) { b.lifecycle("changed", kind) }

func (b bridge) Minimized()       { b.lifecycle("minimized", "") }
func (b bridge) Maximized()       { b.lifecycle("maximized", "") }
func (b bridge) EngagementEnded() { b.lifecycle("ended", "") }

func (b bridge) lifecycle(event string, kind domain.EngagementKind) {
	b.send(eventLifecycle, map[string]string{"event": event, "kind": string(kind)})
}

// Present asks the frontend to build a surface.
func (b bridge) Present(id string, surface domain.Surface) error {
	if b.ctx == nil {
		return errNotReady
	}
	b.send(eventSurface, map[string]string{"op": "present", "id": id, "surface": string(surface)})
	return nil
}

func (b bridge) Foreground(id string) {
	b.send(eventSurface, map[string]string{"op": "foreground", "id": id})
}

func (b bridge) Dismiss(id string) {
	b.send(eventSurface, map[string]string{"op": "dismiss", "id": id})
}

func (b bridge) Render(id string, action any) {
	b.send(eventRender, map[string]any{"id": id, "type": actionName(action), "action": action})
}

// ShowAlert keeps the alert's actions until the frontend answers it.
func (b bridge) ShowAlert(alert domain.Alert) {
	id := uuid.NewString()
	b.alertsMu.Lock()
	b.alerts[id] = alert
	b.alertsMu.Unlock()
	b.send(eventAlert, map[string]any{
		"id":          id,
		"kind":        alert.Kind,
		"message":     alert.Message,
		"dismissible": alert.Decline != nil,
	})
}

func (b bridge) ShowNotice(notice domain.Notice) {
	b.send(eventNotice, map[string]any{"op": "show", "notice": notice})
}

func (b bridge) DismissNotice(id string) {
	b.send(eventNotice, map[string]any{"op": "dismiss", "id": id})
}

func (b bridge) SetOverlay(state domain.OverlayState) {
	b.send(eventOverlay, state)
}

func (b bridge) OpenSettings() {
	b.send(eventSettings, nil)
}

func (a *App) emitError(code string, err error) {
	a.send(eventError, map[string]string{"code": code, "message": err.Error()})
}

func (a *App) send(name string, data any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

func actionName(action any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", action), "viewmodel.")
}

func parseEvent(name string, text string) (viewmodel.Event, error) {
	switch name {
	case "toggle_mute":
		return viewmodel.ToggleMute{}, nil
	case "toggle_video":
		return viewmodel.ToggleVideo{}, nil
	case "toggle_speaker":
		return viewmodel.ToggleSpeaker{}, nil
	case "accept_offer":
		return viewmodel.AnswerOffer{Accepted: true}, nil
	case "decline_offer":
		return viewmodel.AnswerOffer{Accepted: false}, nil
	case "minimize":
		return viewmodel.Minimize{}, nil
	case "back":
		return viewmodel.Back{}, nil
	case "hang_up":
		return viewmodel.HangUp{}, nil
	case "send_message":
		return viewmodel.SendMessage{Text: text}, nil
	case "refresh_visitor_code":
		return viewmodel.RefreshVisitorCode{}, nil
	default:
		return nil, fmt.Errorf("unknown surface event %q", name)
	}
}
