package viewmodel

import (
	"context"

	"engagekit/internal/domain"
)

// MessageSender delivers chat messages for the live engagement.
type MessageSender interface {
	SendMessage(ctx context.Context, text string) (domain.Message, error)
}

// ChatViewModel renders the chat transcript of one engagement.
type ChatViewModel struct {
	engagementBase

	sender     MessageSender
	transcript []domain.Message
}

func NewChatViewModel(deps Deps, sender MessageSender, cfg Config) *ChatViewModel {
	return &ChatViewModel{
		engagementBase: newBase(deps, cfg.Logger, "chat_view_model"),
		sender:         sender,
	}
}

// Start subscribes and emits the current state and transcript.
func (vm *ChatViewModel) Start() {
	src := vm.deps.Source
	vm.subs.Add(
		src.States().Subscribe(vm.engagementChanged),
		src.Subscribe(vm.handle),
	)
	vm.Refresh()
}

// Refresh re-emits the current state and the full transcript, for a surface
// brought back to the foreground.
func (vm *ChatViewModel) Refresh() {
	vm.engagementChanged(vm.deps.Source.States().Get())
	for _, m := range vm.transcript {
		vm.emit(MessageAppended{Message: m})
	}
	if vm.pending != nil {
		vm.emit(OfferShown{Offer: vm.pending.Offer})
	}
}

// Transcript returns a copy of the messages seen so far.
func (vm *ChatViewModel) Transcript() []domain.Message {
	out := make([]domain.Message, len(vm.transcript))
	copy(out, vm.transcript)
	return out
}

func (vm *ChatViewModel) Handle(ctx context.Context, ev Event) {
	if vm.closed {
		return
	}
	switch e := ev.(type) {
	case SendMessage:
		vm.send(ctx, e.Text)
	case AnswerOffer:
		vm.answerOffer(e.Accepted)
	case Minimize:
		vm.delegate(MinimizeRequested{})
	case Back:
		vm.delegate(BackRequested{})
	case HangUp:
		vm.delegate(HangUpRequested{})
	default:
		vm.log.Warn("unsupported chat event", "event", ev)
	}
}

// answerOffer hands an accepted offer to the owner, which builds the call
// before answering.
func (vm *ChatViewModel) answerOffer(accepted bool) {
	if !accepted {
		vm.declineOffer()
		return
	}
	offer, ok := vm.takeOffer()
	if !ok {
		return
	}
	vm.delegate(UpgradeAccepted{Offer: offer.Offer, Answer: offer.Answer})
}

func (vm *ChatViewModel) engagementChanged(s domain.EngagementState) {
	switch st := s.(type) {
	case domain.Enqueueing:
		vm.emit(Queue{})
	case domain.Engaged:
		vm.emit(Connected{OperatorName: st.Operator.Name})
	case domain.Transferring:
		vm.emit(Transferring{})
	case domain.Ended:
		vm.emit(Ended{})
	}
}

func (vm *ChatViewModel) handle(event domain.InteractorEvent) {
	if vm.offerSettled(event) {
		return
	}
	if e, ok := event.(domain.MessageReceived); ok {
		vm.appendMessage(e.Message)
	}
}

func (vm *ChatViewModel) appendMessage(m domain.Message) {
	vm.transcript = append(vm.transcript, m)
	vm.emit(MessageAppended{Message: m})
}

// send delivers text off the queue and reports the outcome back on it.
func (vm *ChatViewModel) send(ctx context.Context, text string) {
	if text == "" {
		return
	}
	go func() {
		msg, err := vm.sender.SendMessage(ctx, text)
		_ = vm.deps.Queue.Post(func() {
			if vm.closed {
				return
			}
			if err != nil {
				classified := domain.Classify(err, domain.ErrorKindSession)
				vm.log.Warn("send message failed", "error", err)
				vm.emit(MessageFailed{Text: text, Err: classified})
				vm.notice(domain.NoticeMessageSendFailed, "Your message could not be sent.")
				return
			}
			if msg.Sender == "" {
				msg.Sender = domain.SenderVisitor
			}
			if msg.Text == "" {
				msg.Text = text
			}
			vm.appendMessage(msg)
		})
	}()
}
