package engine

import (
	"context"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/build"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/deploy/eval"
	"github.com/Xuanwo/colmena-go/pkg/deploy/host"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// runNodeAfterEval drives one node through Built → KeysPre? → Pushing →
// Activating → KeysPost? → Done/Failed (spec §4.G). The evaluation gate has
// already been released by the caller; the apply gate is acquired here,
// only after Built, and only when this goal actually pushes (spec §4.D:
// "acquisition of the apply gate happens after Built, never before").
func (e *Engine) runNodeAfterEval(ctx context.Context, root *job.Handle, spec NodeSpec, r eval.Result) NodeResult {
	if r.Err != nil {
		return NodeResult{Name: r.Node, State: job.Failed, Err: r.Err}
	}
	if spec.Driver == nil && e.goal.RequiresTargetHost() {
		return NodeResult{Name: r.Node, State: job.Failed, Err: errkind.Newf(errkind.Configuration, "node %s has no driver but goal %s requires one", r.Node, e.goal)}
	}

	nodeNames := []string{string(r.Node)}

	// goal=keys stops after the pre-activation key upload and never builds,
	// pushes, or activates anything (spec §8: "goal=keys ⇒ no
	// Pushing/Activating/Build events, only KeysPre").
	if e.goal.KeysOnly() {
		if cancelled(ctx) {
			return e.cancelledResult(r.Node, "before pre-activation keys")
		}
		if e.options.UploadKeys {
			if err := e.uploadKeys(ctx, root, spec, nodeNames, deploy.PreActivation); err != nil {
				return NodeResult{Name: r.Node, State: job.Failed, Err: err}
			}
		}
		return NodeResult{Name: r.Node, State: job.Succeeded}
	}

	if cancelled(ctx) {
		return e.cancelledResult(r.Node, "before build")
	}

	profile, err := e.runBuild(ctx, root, spec, r, nodeNames)
	if err != nil {
		return NodeResult{Name: r.Node, State: job.Failed, Err: err}
	}

	if e.goal.RequiresTargetHost() {
		if err := e.checkUnknownProfile(ctx, spec); err != nil {
			return NodeResult{Name: r.Node, State: job.Failed, Err: err}
		}
	}

	if cancelled(ctx) {
		return e.cancelledResult(r.Node, "before pre-activation keys")
	}

	if e.options.UploadKeys {
		if err := e.uploadKeys(ctx, root, spec, nodeNames, deploy.PreActivation); err != nil {
			return NodeResult{Name: r.Node, State: job.Failed, Err: err}
		}
	}

	if !e.goal.SkipsPush() {
		if err := e.gates.Apply.Acquire(ctx); err != nil {
			return e.cancelledResult(r.Node, "waiting for apply gate")
		}
		defer e.gates.Apply.Release()

		if cancelled(ctx) {
			return e.cancelledResult(r.Node, "before push")
		}
		if err := e.runPush(ctx, root, spec, profile, nodeNames); err != nil {
			return NodeResult{Name: r.Node, State: job.Failed, Err: err}
		}

		if !e.goal.SkipsActivate() {
			if cancelled(ctx) {
				return e.cancelledResult(r.Node, "before activate")
			}
			if err := e.runActivate(ctx, root, spec, profile, nodeNames); err != nil {
				return NodeResult{Name: r.Node, State: job.Failed, Err: err}
			}
		}
	}

	if e.options.UploadKeys {
		if err := e.uploadKeys(ctx, root, spec, nodeNames, deploy.PostActivation); err != nil {
			return NodeResult{Name: r.Node, State: job.Failed, Err: err}
		}
	}

	return NodeResult{Name: r.Node, State: job.Succeeded}
}

func (e *Engine) cancelledResult(name deploy.NodeName, where string) NodeResult {
	return NodeResult{Name: name, State: job.Failed, Err: errkind.Newf(errkind.Cancelled, "deployment cancelled %s", where)}
}

func (e *Engine) runBuild(ctx context.Context, root *job.Handle, spec NodeSpec, r eval.Result, nodeNames []string) (deploy.Profile, error) {
	var profile deploy.Profile
	buildJob := root.CreateChild(job.TypeBuild, nodeNames)
	err := buildJob.Run(func(h *job.Handle) error {
		policy := build.OnOrchestrator
		if spec.Config.BuildOnTarget {
			policy = build.OnTarget
		}
		paths, err := e.builder.Build(ctx, h, r.Derivation, policy, spec.Driver)
		if err != nil {
			return err
		}
		profile = deploy.Profile{StorePath: paths[0]}
		return nil
	})
	return profile, err
}

func (e *Engine) checkUnknownProfile(ctx context.Context, spec NodeSpec) error {
	known, err := spec.Driver.ActiveDerivationKnown(ctx)
	if err != nil {
		return err
	}
	if !known && !spec.Config.ReplaceUnknownProfiles && !e.options.ForceReplaceUnknownProfiles {
		return errkind.Newf(errkind.Policy, "unknown-profile: %s's active derivation is not recorded and replace-unknown-profiles is not set", spec.Name)
	}
	return nil
}

func (e *Engine) runPush(ctx context.Context, root *job.Handle, spec NodeSpec, profile deploy.Profile, nodeNames []string) error {
	pushJob := root.CreateChild(job.TypePush, nodeNames)
	return pushJob.Run(func(h *job.Handle) error {
		spec.Driver.AttachJob(h)
		return spec.Driver.CopyClosure(ctx, profile.StorePath, host.ToTarget, host.CopyOptions{
			SubstitutersPush: e.options.SubstitutersPush,
			Gzip:             e.options.Gzip,
		})
	})
}

func (e *Engine) runActivate(ctx context.Context, root *job.Handle, spec NodeSpec, profile deploy.Profile, nodeNames []string) error {
	activateJob := root.CreateChild(job.TypeActivate, nodeNames)
	return activateJob.Run(func(h *job.Handle) error {
		spec.Driver.AttachJob(h)
		return spec.Driver.Activate(ctx, profile, e.goal)
	})
}

func (e *Engine) uploadKeys(ctx context.Context, root *job.Handle, spec NodeSpec, nodeNames []string, when deploy.UploadTime) error {
	filtered := make(map[string]*deploy.KeySpec)
	for name, k := range spec.Config.Keys {
		if k.UploadAt() == when {
			filtered[name] = k
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	keysJob := root.CreateChild(job.TypeUploadKeys, nodeNames)
	return keysJob.Run(func(h *job.Handle) error {
		spec.Driver.AttachJob(h)
		return spec.Driver.UploadKeys(ctx, filtered, requireKeyOwnership)
	})
}
