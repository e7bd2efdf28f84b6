package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/Xuanwo/colmena-go/pkg/job"
)

// frameInterval is the spinner redraw cadence (SPEC_FULL.md §13: ~10 Hz).
const frameInterval = 100 * time.Millisecond

var spinnerFrames = []rune{'|', '/', '-', '\\'}

type line struct {
	typ        job.Type
	nodes      []string
	text       string
	state      job.State
	reason     string
	hasChild   bool
	createdSeq int
}

// Spinner maintains one redrawing status line per leaf job.
type Spinner struct {
	bus *job.Bus
	w   io.Writer

	mu      sync.Mutex
	order   []job.ID
	lines   map[job.ID]*line
	parent  map[job.ID]job.ID
	seq     int
	frame   int
	printed int // number of lines drawn in the previous frame, to erase
}

// NewSpinner constructs a Spinner renderer writing to w.
func NewSpinner(bus *job.Bus, w io.Writer) *Spinner {
	return &Spinner{
		bus:    bus,
		w:      w,
		lines:  make(map[job.ID]*line),
		parent: make(map[job.ID]job.ID),
	}
}

func (s *Spinner) Run() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			e, ok := s.bus.Next()
			if !ok {
				return
			}
			s.apply(e)
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.redraw() // final frame, frozen terminal glyphs
			return nil
		case <-ticker.C:
			s.redraw()
		}
	}
}

func (s *Spinner) apply(e job.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case job.EventJobCreated:
		s.seq++
		s.lines[e.ID] = &line{typ: e.Type, nodes: e.Nodes, state: job.Pending, createdSeq: s.seq}
		s.order = append(s.order, e.ID)
		if e.Parent != "" {
			s.parent[e.ID] = e.Parent
			if p, ok := s.lines[e.Parent]; ok {
				p.hasChild = true
			}
		}
	case job.EventJobStarted:
		if l, ok := s.lines[e.ID]; ok {
			l.state = job.Running
		}
	case job.EventJobMessage:
		if l, ok := s.lines[e.ID]; ok {
			l.text = e.Text
		}
	case job.EventJobSucceeded:
		if l, ok := s.lines[e.ID]; ok {
			l.state = job.Succeeded
		}
	case job.EventJobFailed:
		if l, ok := s.lines[e.ID]; ok {
			l.state = job.Failed
			l.reason = e.Reason
		}
	}
}

func (s *Spinner) redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.printed > 0 {
		fmt.Fprintf(s.w, "\033[%dA\033[J", s.printed)
	}

	s.frame++
	glyph := spinnerFrames[s.frame%len(spinnerFrames)]

	count := 0
	for _, id := range s.order {
		l := s.lines[id]
		if l.typ == job.TypeMeta && l.hasChild {
			fmt.Fprintln(s.w, color.New(color.Bold).Sprint(headerText(l)))
			count++
			continue
		}
		if l.typ == job.TypeMeta {
			continue
		}
		fmt.Fprintln(s.w, lineText(l, glyph))
		count++
	}
	s.printed = count
}

func headerText(l *line) string {
	return fmt.Sprintf("== %s ==", strings.Join(l.nodes, ", "))
}

func lineText(l *line, glyph rune) string {
	marker := string(glyph)
	paint := color.New(color.FgYellow)
	switch l.state {
	case job.Succeeded:
		marker = "✓"
		paint = color.New(color.FgGreen)
	case job.Failed:
		marker = "✗"
		paint = color.New(color.FgRed)
	case job.Pending:
		marker = "."
		paint = color.New(color.FgHiBlack)
	}

	detail := l.text
	if l.state == job.Failed && l.reason != "" {
		detail = l.reason
	}

	return fmt.Sprintf("%s %-12s [%s] %s",
		paint.Sprint(marker), l.typ, strings.Join(l.nodes, ","), detail)
}
