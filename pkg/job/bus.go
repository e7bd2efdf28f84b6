package job

import "sync"

// Bus is the single multi-producer, single-consumer progress event channel
// (spec §4.B). Producers call Send; the sole consumer (a renderer) calls
// Next until it returns ok=false, which happens once Close has been called
// and every already-buffered event has been drained.
//
// The events channel itself is never closed — with many concurrent
// producers there is no single owner safe to do so — instead Close closes
// a separate signal channel that Next and Send both observe.
type Bus struct {
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBus constructs a Bus with the given channel capacity. Sending into a
// full bus is a legitimate suspension point per spec §5.
func NewBus(capacity int) *Bus {
	return &Bus{
		events: make(chan Event, capacity),
		closed: make(chan struct{}),
	}
}

// Send delivers an event to the consumer, blocking if the bus is full. It
// silently drops the event if the bus has already been closed.
func (b *Bus) Send(e Event) {
	select {
	case b.events <- e:
	case <-b.closed:
	}
}

// Next blocks for the next event. It returns ok=false once Close has been
// called and the buffer has drained, signalling the consumer to exit.
func (b *Bus) Next() (Event, bool) {
	select {
	case e := <-b.events:
		return e, true
	case <-b.closed:
		select {
		case e := <-b.events:
			return e, true
		default:
			return Event{}, false
		}
	}
}

// Close signals that no further events will be produced. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
