package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/Xuanwo/colmena-go/pkg/job"
)

// Verbose is the non-redrawing renderer: every event becomes one printed
// line tagged with job id and node names, in arrival order.
type Verbose struct {
	bus *job.Bus
	w   io.Writer
}

// NewVerbose constructs a Verbose renderer writing to w.
func NewVerbose(bus *job.Bus, w io.Writer) *Verbose {
	return &Verbose{bus: bus, w: w}
}

func (v *Verbose) Run() error {
	nodes := make(map[job.ID]string)
	for {
		e, ok := v.bus.Next()
		if !ok {
			return nil
		}
		if e.Kind == job.EventJobCreated {
			nodes[e.ID] = strings.Join(e.Nodes, ",")
		}
		text := formatLine(e)
		if n := nodes[e.ID]; n != "" && e.Kind != job.EventJobCreated {
			text += " [" + n + "]"
		}
		if _, err := fmt.Fprintln(v.w, text); err != nil {
			return err
		}
	}
}

func formatLine(e job.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", shortID(e.ID))

	switch e.Kind {
	case job.EventJobCreated:
		fmt.Fprintf(&b, "created %s %s", e.Type, strings.Join(e.Nodes, ","))
	case job.EventJobStarted:
		fmt.Fprintf(&b, "started")
	case job.EventJobMessage:
		fmt.Fprintf(&b, "%s", e.Text)
	case job.EventJobSucceeded:
		fmt.Fprintf(&b, "done")
	case job.EventJobFailed:
		fmt.Fprintf(&b, "failed: %s", e.Reason)
	}
	return b.String()
}

func shortID(id job.ID) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
