package interactor

import (
	"engagekit/internal/domain"
	"engagekit/internal/ports"
)

// attach starts delivering stream events onto the serialized queue.
func (i *Interactor) attach(stream ports.EventStream) {
	i.stream = stream
	go pumpSignalEvents(stream, i.queue.Post, func(event domain.SignalEvent) {
		if i.stream != stream {
			return
		}
		i.Handle(event)
	}, func(err error) {
		i.streamClosed(stream, err)
	})
}

// detach stops treating the current stream as authoritative and closes it.
// Events it already queued are dropped by the identity check in attach.
func (i *Interactor) detach() {
	stream := i.stream
	i.stream = nil
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		i.log.Debug("closing event stream", "error", err)
	}
}

func (i *Interactor) streamClosed(stream ports.EventStream, err error) {
	if i.stream != stream {
		return
	}
	i.stream = nil
	switch i.State().Phase() {
	case domain.PhaseNone, domain.PhaseEnded:
		if err != nil {
			i.log.Warn("event stream closed", "error", err)
		}
		return
	}
	if err == nil {
		err = domain.NewError(domain.ErrorKindSession, domain.ErrorCodeDisconnected, nil)
	}
	i.fail(err)
}

// pumpSignalEvents forwards every event in delivery order, then reports why
// the stream closed. It never blocks the queue.
func pumpSignalEvents(
	stream ports.EventStream,
	post func(func()) error,
	handle func(domain.SignalEvent),
	closed func(error),
) {
	for event := range stream.Events() {
		event := event
		if err := post(func() { handle(event) }); err != nil {
			return
		}
	}
	err := stream.Err()
	_ = post(func() { closed(err) })
}
