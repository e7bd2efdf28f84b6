// Package engine implements the Deployment Engine of spec §4.G: the
// per-node state machine (New → Evaluating → Built → KeysPre? → Pushing →
// Activating → KeysPost? → Done/Failed), fanned out across nodes and
// coordinated through the two independent gates of pkg/deploy/gate.
// Grounded on original_source/src/nix/deployment/mod.rs's per-goal stage
// skipping and the teacher's supervisory-goroutine shape in systemd.go.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/build"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/deploy/eval"
	"github.com/Xuanwo/colmena-go/pkg/deploy/gate"
	"github.com/Xuanwo/colmena-go/pkg/deploy/host"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// NodeSpec is one entry of the fleet description loader's collaborator
// output (spec §6's select_nodes), bundling a node's static configuration
// with the driver that reaches it.
type NodeSpec struct {
	Name   deploy.NodeName
	Config deploy.NodeConfig
	Driver host.Host
}

// requireKeyOwnership is the fixed policy decision for upload-keys'
// require-ownership parameter (SPEC_FULL.md §13): always fail closed.
const requireKeyOwnership = true

// NodeResult is one node's terminal outcome.
type NodeResult struct {
	Name  deploy.NodeName
	State job.State
	Err   error
}

// Result is the whole deployment's outcome: success iff every node reached
// job.Succeeded.
type Result struct {
	Nodes []NodeResult
	Err   error // aggregated *multierror.Error, nil if every node succeeded
}

// Success reports whether every node reached Done.
func (r *Result) Success() bool { return r.Err == nil }

// Failed returns the names of every node that did not reach Done.
func (r *Result) Failed() []deploy.NodeName {
	var out []deploy.NodeName
	for _, n := range r.Nodes {
		if n.State != job.Succeeded {
			out = append(out, n.Name)
		}
	}
	return out
}

// Engine owns the node state machines for one deployment run.
type Engine struct {
	logger    hclog.Logger
	evaluator *eval.Evaluator
	builder   *build.Builder
	gates     *gate.Pair
	options   deploy.Options
	goal      deploy.Goal
}

// New constructs an Engine. gates must already be sized for this run's
// target count and ParallelismLimit (spec §4.D).
func New(logger hclog.Logger, evaluator *eval.Evaluator, builder *build.Builder, gates *gate.Pair, options deploy.Options, goal deploy.Goal) *Engine {
	return &Engine{
		logger:    logger.Named("engine"),
		evaluator: evaluator,
		builder:   builder,
		gates:     gates,
		options:   options,
		goal:      goal,
	}
}

// Execute runs the deployment to completion. root is the Meta job owning
// this run; the caller is responsible for constructing it from the same
// Bus a renderer is draining concurrently, and for closing the Bus once
// Execute returns. A node's failure is captured in the returned Result and
// never aborts its peers (spec §4.G: "A node's failure must never be
// rethrown out of the engine in a way that cancels peers' tasks").
func (e *Engine) Execute(ctx context.Context, root *job.Handle, nodes []NodeSpec) (*Result, error) {
	result := &Result{}

	runErr := root.Run(func(h *job.Handle) error {
		if e.goal.KeysOnly() && !e.options.UploadKeys {
			return errkind.New(errkind.Configuration, "goal=keys requires upload-keys to be enabled")
		}
		e.logger.Info("starting deployment", "goal", e.goal, "nodes", len(nodes))

		specs := make(map[deploy.NodeName]NodeSpec, len(nodes))
		names := make([]deploy.NodeName, 0, len(nodes))
		for _, n := range nodes {
			specs[n.Name] = n
			names = append(names, n.Name)
		}

		chunks := e.evaluator.Chunks(names)
		resultsCh := make(chan NodeResult, len(names))

		doneChunks := make(chan struct{}, len(chunks))
		for _, chunk := range chunks {
			chunk := chunk
			go func() {
				defer func() { doneChunks <- struct{}{} }()
				e.runChunk(ctx, h, chunk, specs, resultsCh)
			}()
		}
		for range chunks {
			<-doneChunks
		}
		close(resultsCh)

		var agg *multierror.Error
		for nr := range resultsCh {
			result.Nodes = append(result.Nodes, nr)
			if nr.State != job.Succeeded {
				agg = multierror.Append(agg, fmt.Errorf("node %s: %w", nr.Name, nr.Err))
			}
		}
		if agg != nil {
			result.Err = agg
		}
		// A node's own failure is carried in Result, not in the Meta job's
		// own outcome: the Meta job only fails for a pre-flight/engine-level
		// error, never for a per-node failure (spec §8).
		return nil
	})
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// runChunk evaluates one chunk under the evaluation gate, then fans each
// successfully-evaluated node out into its own task for the remaining
// stages.
func (e *Engine) runChunk(ctx context.Context, root *job.Handle, chunk []deploy.NodeName, specs map[deploy.NodeName]NodeSpec, out chan<- NodeResult) {
	if err := e.gates.Evaluation.Acquire(ctx); err != nil {
		for _, n := range chunk {
			out <- NodeResult{Name: n, State: job.Failed, Err: errkind.Wrap(err, errkind.Cancelled, "cancelled before evaluation")}
		}
		return
	}

	evalJob := root.CreateChild(job.TypeEvaluate, nodeNameStrings(chunk))
	var evalResults []eval.Result
	_ = evalJob.Run(func(h *job.Handle) error {
		h.Message("evaluating chunk")
		var err error
		evalResults, err = e.evaluator.EvaluateChunk(ctx, chunk)
		return err
	})
	e.gates.Evaluation.Release()

	var wg sync.WaitGroup
	wg.Add(len(evalResults))
	for _, r := range evalResults {
		r := r
		go func() {
			defer wg.Done()
			out <- e.runNodeAfterEval(ctx, root, specs[r.Node], r)
		}()
	}
	wg.Wait()
}

func nodeNameStrings(names []deploy.NodeName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
