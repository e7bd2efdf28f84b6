// Package build implements the Builder of spec §4.F: turns a Derivation
// into a StorePath, either locally on the orchestrator or remotely on the
// target's own driver, and optionally pins the result against garbage
// collection under .gcroots/. Grounded on original_source/src/nix/mod.rs's
// build-on-target policy and the teacher's subprocess-driving idiom.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/deploy/host"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// Policy decides where a derivation is realized.
type Policy int

const (
	// OnOrchestrator builds locally regardless of the node's own target.
	OnOrchestrator Policy = iota
	// OnTarget builds using the node's own driver (spec: "remotely on the
	// target host using its own driver").
	OnTarget
)

// LocalRealizer is the orchestrator-side realization collaborator: the
// Local host driver satisfies this, but it is named independently so the
// builder does not need to depend on a *host.Local concrete type.
type LocalRealizer interface {
	RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error)
}

// Builder realizes derivations per Policy and optionally places GC roots.
type Builder struct {
	logger       hclog.Logger
	local        LocalRealizer
	gcRootsDir   string
	createGCRoot bool
}

// New constructs a Builder. gcRootsDir is the `.gcroots/` directory adjacent
// to the fleet description file (spec §6); it is only used when
// createGCRoots is true.
func New(logger hclog.Logger, local LocalRealizer, gcRootsDir string, createGCRoots bool) *Builder {
	return &Builder{
		logger:       logger.Named("build"),
		local:        local,
		gcRootsDir:   gcRootsDir,
		createGCRoot: createGCRoots,
	}
}

// Build realizes drv according to policy. With OnTarget, j is attached to
// target so its subprocess output streams into the job tree; with
// OnOrchestrator the local realizer is not attached to j. target is
// consulted only when policy is OnTarget.
func (b *Builder) Build(ctx context.Context, j *job.Handle, drv deploy.Derivation, policy Policy, target host.Host) ([]deploy.StorePath, error) {
	b.logger.Debug("building derivation", "node", drv.Node, "path", drv.Path.Path())

	var realizer interface {
		RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error)
	}

	switch policy {
	case OnTarget:
		if target == nil {
			return nil, errkind.New(errkind.Configuration, "build-on-target requested without a target driver")
		}
		target.AttachJob(j)
		realizer = target
	default:
		if b.local == nil {
			return nil, errkind.New(errkind.Configuration, "no local realizer configured")
		}
		realizer = b.local
	}

	paths, err := realizer.RealizeRemote(ctx, drv)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errkind.Newf(errkind.Realization, "build of %s produced no output paths", drv.Path.Path())
	}

	if b.createGCRoot {
		if err := b.placeGCRoot(drv.Node, paths[0]); err != nil {
			return paths, err
		}
	}

	return paths, nil
}

// placeGCRoot symlinks paths[0] under b.gcRootsDir, named by node, per
// spec §6: "one symbolic reference per built profile under a directory
// .gcroots/ adjacent to the fleet description file, named by node."
func (b *Builder) placeGCRoot(node deploy.NodeName, path deploy.StorePath) error {
	if b.gcRootsDir == "" {
		return errkind.New(errkind.Configuration, "create-gc-roots set without a gcroots directory")
	}
	if err := os.MkdirAll(b.gcRootsDir, 0o755); err != nil {
		return errkind.Wrap(err, errkind.Internal, "create gcroots directory")
	}

	link := filepath.Join(b.gcRootsDir, string(node))
	_ = os.Remove(link)
	if err := os.Symlink(path.Path(), link); err != nil {
		return errkind.Wrap(err, errkind.Internal, fmt.Sprintf("place gc root for %s", node))
	}
	return nil
}
