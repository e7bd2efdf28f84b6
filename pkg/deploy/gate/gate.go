// Package gate implements the two independent concurrency limits of
// spec §4.D: evaluation concurrency and apply (push+activate) concurrency.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a single FIFO-acquired counting semaphore wrapping
// golang.org/x/sync/semaphore.Weighted with weight 1 per holder.
type Gate struct {
	sem *semaphore.Weighted
}

// New constructs a Gate admitting up to n concurrent holders. Callers
// resolve a zero ParallelismLimit field to the target count before calling
// New (spec §3: "Zero means unbounded").
func New(n int) *Gate {
	if n <= 0 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a permit is available or ctx is done. Acquisition is
// FIFO per the underlying semaphore's queueing.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns a permit to the gate.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Pair bundles the deployment's two independent gates.
type Pair struct {
	Evaluation *Gate
	Apply      *Gate
}

// NewPair constructs both gates, resolving zero limits against nTargets.
func NewPair(evaluationLimit, applyLimit, nTargets int) *Pair {
	if evaluationLimit <= 0 {
		evaluationLimit = nTargets
	}
	if applyLimit <= 0 {
		applyLimit = nTargets
	}
	return &Pair{
		Evaluation: New(evaluationLimit),
		Apply:      New(applyLimit),
	}
}
