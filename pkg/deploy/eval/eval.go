// Package eval implements the Evaluator of spec §4.E: turns a set of
// NodeNames into Derivations (or per-node evaluation errors), working in
// chunks sized by deploy.EvaluationNodeLimit so that the memory-hungry
// evaluation step never runs unbounded. Grounded on
// original_source/src/nix/mod.rs's chunked eval_all and the teacher's
// subprocess-driving idiom in systemd/systemd.go.
package eval

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

// FleetDescription is the out-of-scope collaborator (spec §6) that knows how
// to turn one node's configuration into a Derivation. Implementations wrap
// whatever evaluator the fleet description file actually uses (e.g.
// shelling out to nix-instantiate); a returned error whose errkind.IsGlobal
// is true means the fleet description itself is unloadable, not just this
// node's configuration.
type FleetDescription interface {
	EvaluateNode(ctx context.Context, name deploy.NodeName) (deploy.Derivation, error)
}

// Result is one node's outcome from a chunk evaluation.
type Result struct {
	Node       deploy.NodeName
	Derivation deploy.Derivation
	Err        error
}

// Evaluator chunks a node set per limit and asks fleet to evaluate each node.
type Evaluator struct {
	fleet  FleetDescription
	limit  deploy.EvaluationNodeLimit
	logger hclog.Logger
}

// New constructs an Evaluator.
func New(fleet FleetDescription, limit deploy.EvaluationNodeLimit, logger hclog.Logger) *Evaluator {
	return &Evaluator{fleet: fleet, limit: limit, logger: logger.Named("eval")}
}

// Chunks splits nodes into groups sized by the evaluator's current
// EvaluationNodeLimit (spec §4.G.1: "the engine pulls up to k not-yet-
// evaluated nodes into one chunk where k is the current evaluation limit").
func (e *Evaluator) Chunks(nodes []deploy.NodeName) [][]deploy.NodeName {
	if len(nodes) == 0 {
		return nil
	}
	size := e.limit.ChunkSize(len(nodes))
	if size <= 0 {
		size = len(nodes)
	}

	var chunks [][]deploy.NodeName
	for start := 0; start < len(nodes); start += size {
		end := start + size
		if end > len(nodes) {
			end = len(nodes)
		}
		chunks = append(chunks, nodes[start:end])
	}
	return chunks
}

// EvaluateChunk evaluates every node in chunk. A per-node error is reported
// in that node's Result without affecting siblings. If any node's error is
// a global (fleet-unloadable) error, the whole chunk fails: every node in
// chunk receives that same error and the second return value is non-nil.
func (e *Evaluator) EvaluateChunk(ctx context.Context, chunk []deploy.NodeName) ([]Result, error) {
	results := make([]Result, len(chunk))
	for i, name := range chunk {
		drv, err := e.fleet.EvaluateNode(ctx, name)
		if err != nil && errkind.IsGlobal(err) {
			globalErr := errkind.Wrapf(err, errkind.Evaluation, "fleet description unloadable")
			for j, n := range chunk {
				results[j] = Result{Node: n, Err: globalErr}
			}
			return results, globalErr
		}
		if err != nil {
			e.logger.Debug("node evaluation failed", "node", name, "error", err)
			results[i] = Result{Node: name, Err: errkind.Wrapf(err, errkind.Evaluation, "evaluating %s", name)}
			continue
		}
		results[i] = Result{Node: name, Derivation: drv}
	}
	return results, nil
}
