package viewmodel

import (
	"context"

	"engagekit/internal/domain"
)

// SecureMessageSender delivers asynchronous secure messages to a queue.
type SecureMessageSender interface {
	SendSecureMessage(ctx context.Context, queueIDs []string, text string) (domain.Message, error)
}

// SecureMessagingViewModel renders the secure messaging composer. It is not
// tied to a live engagement, so it ignores engagement state.
type SecureMessagingViewModel struct {
	engagementBase

	sender   SecureMessageSender
	queueIDs []string
	sent     []domain.Message
}

func NewSecureMessagingViewModel(deps Deps, sender SecureMessageSender, queueIDs []string, cfg Config) *SecureMessagingViewModel {
	return &SecureMessagingViewModel{
		engagementBase: newBase(deps, cfg.Logger, "secure_messaging_view_model"),
		sender:         sender,
		queueIDs:       append([]string(nil), queueIDs...),
	}
}

// Start re-emits messages sent earlier in this session.
func (vm *SecureMessagingViewModel) Start() {
	for _, m := range vm.sent {
		vm.emit(MessageAppended{Message: m})
	}
}

func (vm *SecureMessagingViewModel) Handle(ctx context.Context, ev Event) {
	if vm.closed {
		return
	}
	switch e := ev.(type) {
	case SendMessage:
		vm.send(ctx, e.Text)
	case Minimize, Back, HangUp:
		vm.delegate(BackRequested{})
	default:
		vm.log.Warn("unsupported secure messaging event", "event", ev)
	}
}

func (vm *SecureMessagingViewModel) send(ctx context.Context, text string) {
	if text == "" {
		return
	}
	queueIDs := vm.queueIDs
	go func() {
		msg, err := vm.sender.SendSecureMessage(ctx, queueIDs, text)
		_ = vm.deps.Queue.Post(func() {
			if vm.closed {
				return
			}
			if err != nil {
				vm.log.Warn("send secure message failed", "error", err)
				vm.emit(MessageFailed{Text: text, Err: domain.Classify(err, domain.ErrorKindSession)})
				vm.notice(domain.NoticeMessageSendFailed, "Your message could not be sent.")
				return
			}
			vm.sent = append(vm.sent, msg)
			vm.emit(MessageAppended{Message: msg})
		})
	}()
}
