// Command colmena-exec exercises the deployment pipeline end to end
// against a hard-coded two-node fleet. Loading a real fleet description is
// a collaborator this repo does not implement (spec §6); this binary
// exists to exercise the Evaluator, Builder, Host drivers, Deployment
// Engine and renderer together the way apply.rs's CLI entry point wires
// them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/build"
	"github.com/Xuanwo/colmena-go/pkg/deploy/engine"
	"github.com/Xuanwo/colmena-go/pkg/deploy/eval"
	"github.com/Xuanwo/colmena-go/pkg/deploy/gate"
	"github.com/Xuanwo/colmena-go/pkg/deploy/host"
	"github.com/Xuanwo/colmena-go/pkg/job"
	"github.com/Xuanwo/colmena-go/pkg/progress"
)

// demoFleet is a fixed stand-in for what a real fleet description loader's
// select_nodes would return (spec §6).
type demoFleet struct{}

func (demoFleet) EvaluateNode(ctx context.Context, name deploy.NodeName) (deploy.Derivation, error) {
	path, err := deploy.NewStorePath("/nix/store/00000000000000000000000000000000-" + string(name) + ".drv")
	if err != nil {
		return deploy.Derivation{}, err
	}
	return deploy.Derivation{Path: path, Node: name}, nil
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "colmena-exec",
		Level: hclog.Info,
	})

	if err := run(logger); err != nil {
		logger.Error("deployment failed", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	goal := deploy.GoalSwitch
	options := deploy.DefaultOptions()

	web1, err := deploy.NewNodeName("web1")
	if err != nil {
		return err
	}
	web2, err := deploy.NewNodeName("web2")
	if err != nil {
		return err
	}

	nodes := []engine.NodeSpec{
		{
			Name:   web1,
			Config: deploy.NodeConfig{Target: deploy.Target{Host: "web1.example.org", User: "root"}, ProfilePath: "/etc/nixos"},
			Driver: host.NewLocal(logger, nil),
		},
		{
			Name:   web2,
			Config: deploy.NodeConfig{Target: deploy.Target{Host: "web2.example.org", User: "root"}, ProfilePath: "/etc/nixos"},
			Driver: host.NewLocal(logger, nil),
		},
	}

	limits := deploy.ParallelismLimit{}.Resolve(len(nodes))
	gates := gate.NewPair(limits.EvaluationConcurrency, limits.ApplyConcurrency, len(nodes))

	evaluator := eval.New(demoFleet{}, deploy.EvaluationNodeLimit{Kind: deploy.EvalLimitHeuristic}, logger)
	builder := build.New(logger, host.NewLocal(logger, nil), "", options.CreateGCRoots)
	eng := engine.New(logger, evaluator, builder, gates, options, goal)

	bus := job.NewBus(256)
	root := job.NewRoot(bus)
	renderer := progress.New(bus, os.Stdout, false)

	ctx := context.Background()

	renderErrCh := make(chan error, 1)
	go func() { renderErrCh <- renderer.Run() }()

	result, engineErr := eng.Execute(ctx, root, nodes)
	bus.Close()
	renderErr := <-renderErrCh

	if renderErr != nil {
		logger.Warn("renderer exited with error", "error", renderErr)
	}
	if engineErr != nil {
		return engineErr
	}
	if !result.Success() {
		return fmt.Errorf("partial failure: nodes failed: %v (%w)", result.Failed(), result.Err)
	}
	return nil
}
