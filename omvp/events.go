package omvp

import "omvp-toolkit/wire"

// pendingEvent is an event queued for the core loop to emit. Events
// produced outside the core loop (capture interrupts, script threads)
// land here; a full queue drops the event rather than block the
// producer.
type pendingEvent struct {
	channel uint8
	opcode  uint8
	event   wire.Event
	data    []byte
}

// EmitSystemEvent queues a system event on channel 0. Callable from
// any goroutine.
func (e *Engine) EmitSystemEvent(code, arg uint32) {
	e.queueEvent(pendingEvent{
		channel: 0,
		opcode:  wire.OpSysEvent,
		event:   wire.Event{Code: code, Arg: arg},
	})
}

// EmitChannelEvent queues a channel event with optional channel-defined
// data. Callable from any goroutine.
func (e *Engine) EmitChannelEvent(channel uint8, code, arg uint32, data []byte) {
	e.queueEvent(pendingEvent{
		channel: channel,
		opcode:  wire.OpChannelEvent,
		event:   wire.Event{Code: code, Arg: arg},
		data:    data,
	})
}

func (e *Engine) queueEvent(ev pendingEvent) {
	select {
	case e.eventCh <- ev:
	case <-e.die:
	default:
		e.log.Debug("Event queue full, dropping event")
	}
}

// emitEvent puts a queued event on the wire if events are negotiated
// on, the transport is ready and the ACK queue has headroom. Events
// never request acknowledgment and are never retried.
func (e *Engine) emitEvent(ev pendingEvent) {
	if !e.caps.Events || !e.tr.Ready() || e.rtx.full() {
		return
	}
	payload := ev.event.Encode()
	if err := e.send(ev.channel, wire.FlagEvent, ev.opcode, nil, payload[:], ev.data); err != nil {
		e.log.WithError(err).Debug("Failed to emit event")
	}
}

// emitter is the opaque handle channels use to raise events without a
// back-pointer to the engine API.
type emitter struct {
	e  *Engine
	id uint8
}

func (em emitter) Emit(code, arg uint32) {
	em.e.EmitChannelEvent(em.id, code, arg, nil)
}
