package progress

import (
	"bytes"
	"testing"

	"github.com/Xuanwo/colmena-go/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinnerDrainsToCompletionWithoutPanic(t *testing.T) {
	bus := job.NewBus(16)
	root := job.NewRoot(bus)

	go func() {
		_ = root.Run(func(h *job.Handle) error {
			child := h.CreateChild(job.TypeEvaluate, []string{"alpha"})
			return child.Run(func(ch *job.Handle) error {
				ch.Message("evaluating")
				return nil
			})
		})
		bus.Close()
	}()

	var buf bytes.Buffer
	s := NewSpinner(bus, &buf)
	require.NoError(t, s.Run())
	assert.NotEmpty(t, buf.String())
}
