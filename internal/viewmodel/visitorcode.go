package viewmodel

import (
	"context"
	"time"

	"engagekit/internal/clock"
	"engagekit/internal/domain"
)

// VisitorCodeRequester issues the code a visitor reads to an operator.
type VisitorCodeRequester interface {
	RequestVisitorCode(ctx context.Context) (domain.VisitorCode, error)
}

// VisitorCodeViewModel shows a visitor code and renews it when it expires.
type VisitorCodeViewModel struct {
	engagementBase

	requester VisitorCodeRequester
	ctx       context.Context
	renewal   clock.Timer
	code      domain.VisitorCode
	loading   bool
}

func NewVisitorCodeViewModel(deps Deps, requester VisitorCodeRequester, cfg Config) *VisitorCodeViewModel {
	return &VisitorCodeViewModel{
		engagementBase: newBase(deps, cfg.Logger, "visitor_code_view_model"),
		requester:      requester,
	}
}

// Start requests the first code.
func (vm *VisitorCodeViewModel) Start(ctx context.Context) {
	vm.ctx = ctx
	if vm.code.Code != "" {
		vm.emit(VisitorCodeShown{Code: vm.code})
		return
	}
	vm.request()
}

// Code returns the code currently shown.
func (vm *VisitorCodeViewModel) Code() domain.VisitorCode { return vm.code }

func (vm *VisitorCodeViewModel) Handle(ctx context.Context, ev Event) {
	if vm.closed {
		return
	}
	switch ev.(type) {
	case RefreshVisitorCode:
		vm.ctx = ctx
		vm.request()
	case Minimize:
		vm.delegate(MinimizeRequested{})
	case Back, HangUp:
		vm.delegate(BackRequested{})
	default:
		vm.log.Warn("unsupported visitor code event", "event", ev)
	}
}

func (vm *VisitorCodeViewModel) request() {
	if vm.loading {
		return
	}
	vm.loading = true
	ctx := vm.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		code, err := vm.requester.RequestVisitorCode(ctx)
		_ = vm.deps.Queue.Post(func() { vm.received(code, err) })
	}()
}

func (vm *VisitorCodeViewModel) received(code domain.VisitorCode, err error) {
	vm.loading = false
	if vm.closed {
		return
	}
	if err != nil {
		vm.log.Warn("visitor code request failed", "error", err)
		vm.emit(VisitorCodeFailed{Err: domain.Classify(err, domain.ErrorKindSession)})
		return
	}
	vm.code = code
	vm.emit(VisitorCodeShown{Code: code})
	vm.scheduleRenewal(time.Duration(code.ExpiresIn) * time.Second)
}

func (vm *VisitorCodeViewModel) scheduleRenewal(after time.Duration) {
	if vm.renewal != nil {
		vm.renewal.Cancel()
		vm.renewal = nil
	}
	if after <= 0 || vm.deps.Scheduler == nil {
		return
	}
	vm.renewal = vm.deps.Scheduler.AfterFunc(after, func() {
		vm.renewal = nil
		vm.request()
	})
}

func (vm *VisitorCodeViewModel) Close() {
	if vm.renewal != nil {
		vm.renewal.Cancel()
		vm.renewal = nil
	}
	vm.engagementBase.Close()
}
