package job

import (
	"testing"

	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads exactly n events from the bus, blocking until each one
// arrives, and fails the test if the bus is closed first.
func drain(t *testing.T, bus *Bus, n int) []Event {
	t.Helper()
	var got []Event
	for i := 0; i < n; i++ {
		e, ok := bus.Next()
		require.True(t, ok, "bus closed early after %d events", len(got))
		got = append(got, e)
	}
	return got
}

func TestRunEmitsStartedThenSucceeded(t *testing.T) {
	bus := NewBus(16)
	root := NewRoot(bus)

	err := root.Run(func(h *Handle) error {
		h.Message("working")
		return nil
	})
	require.NoError(t, err)

	events := drain(t, bus, 4)
	assert.Equal(t, EventJobCreated, events[0].Kind)
	assert.Equal(t, EventJobStarted, events[1].Kind)
	assert.Equal(t, EventJobMessage, events[2].Kind)
	assert.Equal(t, EventJobSucceeded, events[3].Kind)
}

func TestRunEmitsFailedOnError(t *testing.T) {
	bus := NewBus(16)
	root := NewRoot(bus)

	err := root.Run(func(h *Handle) error {
		return errkind.New(errkind.Activation, "activation command exited non-zero")
	})
	require.Error(t, err)

	events := drain(t, bus, 3)
	assert.Equal(t, EventJobFailed, events[2].Kind)
	assert.Equal(t, string(errkind.Activation), events[2].Reason)
}

func TestRunEmitsExactlyOneTerminalEvent(t *testing.T) {
	bus := NewBus(16)
	root := NewRoot(bus)

	_ = root.Run(func(h *Handle) error { return nil })

	events := drain(t, bus, 3)
	terminal := 0
	for _, e := range events {
		if e.Kind == EventJobSucceeded || e.Kind == EventJobFailed {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestCreateChildEmitsCreatedBeforeAnyChildEvent(t *testing.T) {
	bus := NewBus(16)
	root := NewRoot(bus)

	child := root.CreateChild(TypeEvaluate, []string{"alpha", "beta"})
	_ = child.Run(func(h *Handle) error {
		h.Message("eval: 0")
		return nil
	})

	events := drain(t, bus, 4)
	// root created, child created, child started, child message, ...
	assert.Equal(t, EventJobCreated, events[1].Kind)
	assert.Equal(t, child.ID(), events[1].ID)
	assert.Equal(t, root.ID(), events[1].Parent)
	assert.Equal(t, []string{"alpha", "beta"}, events[1].Nodes)
}

func TestTailCapturesLastNLines(t *testing.T) {
	bus := NewBus(64)
	root := NewRoot(bus)

	_ = root.Run(func(h *Handle) error {
		for i := 0; i < tailLines+5; i++ {
			h.Message("line")
		}
		if len(h.Tail()) != tailLines {
			t.Errorf("tail length = %d, want %d", len(h.Tail()), tailLines)
		}
		return nil
	})
}
