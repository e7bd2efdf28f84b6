// Package progress implements the two consumer-side renderers of the
// deployment pipeline's progress bus (spec §4.C): a redrawing spinner view
// and a plain verbose log. Both drain pkg/job's Bus until it is closed.
package progress

import (
	"io"

	"github.com/Xuanwo/colmena-go/pkg/job"
)

// Renderer consumes a job.Bus until it is closed.
type Renderer interface {
	// Run drains the bus until Close is observed, then returns. A
	// renderer failure is reported through the returned error but is
	// never fatal to the deployment engine producing the events.
	Run() error
}

// New picks a renderer appropriate for the given sink: the spinner
// renderer when w is an interactive terminal and verbose isn't forced,
// the verbose renderer otherwise (non-TTY output, e.g. piped into a file
// or CI log, should never carry carriage-return redraws).
func New(bus *job.Bus, w io.Writer, verbose bool) Renderer {
	if !verbose && isTerminal(w) {
		return NewSpinner(bus, w)
	}
	return NewVerbose(bus, w)
}
