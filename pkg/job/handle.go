package job

import (
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

// tailLines is how many trailing lines of message output a Handle retains
// for failure diagnosis (SPEC_FULL.md §13: fixed at 20).
const tailLines = 20

// Handle is the producer-side capability for a single Job: it can emit
// messages, spawn children, and bracket a unit of work so that exactly one
// terminal event (JobSucceeded or JobFailed) is emitted regardless of how
// the work ends.
type Handle struct {
	bus    *Bus
	id     ID
	parent ID
	tail   []string
}

// NewRoot constructs the Meta job handle that owns the whole deployment run.
func NewRoot(bus *Bus) *Handle {
	h := &Handle{bus: bus, id: newID(), parent: ""}
	bus.Send(Event{Kind: EventJobCreated, ID: h.id, Parent: "", Type: TypeMeta})
	return h
}

// ID returns this job's stable id.
func (h *Handle) ID() ID { return h.id }

// CreateChild creates a new Job under h and returns its Handle. The child's
// JobCreated event is emitted before CreateChild returns, satisfying the
// causal-ordering guarantee in spec §4.B.
func (h *Handle) CreateChild(typ Type, nodes []string) *Handle {
	child := &Handle{bus: h.bus, id: newID(), parent: h.id}
	h.bus.Send(Event{Kind: EventJobCreated, ID: child.id, Parent: h.id, Type: typ, Nodes: nodes})
	return child
}

// Message emits an informational JobMessage event and records the line in
// this job's captured output tail.
func (h *Handle) Message(text string) {
	h.message(text, LevelInfo)
}

// Warn emits a JobMessage event at warning level.
func (h *Handle) Warn(text string) {
	h.message(text, LevelWarn)
}

func (h *Handle) message(text string, level Level) {
	h.tail = append(h.tail, text)
	if len(h.tail) > tailLines {
		h.tail = h.tail[len(h.tail)-tailLines:]
	}
	h.bus.Send(Event{Kind: EventJobMessage, ID: h.id, Text: text, Level: level})
}

// Tail returns the last N lines of this job's captured output, for
// attaching to a failure (spec §7's "captured last N lines").
func (h *Handle) Tail() []string {
	out := make([]string, len(h.tail))
	copy(out, h.tail)
	return out
}

// Run brackets body with a JobStarted event on entry and exactly one of
// JobSucceeded/JobFailed on exit, regardless of how body returns — including
// a panic, which Run recovers, reports as a JobFailed("internal"), and
// re-panics so the caller still observes the failure.
func (h *Handle) Run(body func(*Handle) error) (err error) {
	h.bus.Send(Event{Kind: EventJobStarted, ID: h.id})

	defer func() {
		if r := recover(); r != nil {
			h.bus.Send(Event{Kind: EventJobFailed, ID: h.id, Reason: string(errkind.Internal)})
			panic(r)
		}
		if err != nil {
			kind, ok := errkind.KindOf(err)
			if !ok {
				kind = errkind.Internal
			}
			h.bus.Send(Event{Kind: EventJobFailed, ID: h.id, Reason: string(kind)})
		} else {
			h.bus.Send(Event{Kind: EventJobSucceeded, ID: h.id})
		}
	}()

	err = body(h)
	return err
}
