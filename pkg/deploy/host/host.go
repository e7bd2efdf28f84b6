// Package host implements the Host Driver capability set of spec §4.A: an
// effectful handle to one machine, either the orchestrator itself (Local)
// or a remote node reached over SSH (Ssh). Grounded on
// original_source/src/nix/host/local.rs's Host trait implementation and on
// the teacher's subprocess-driving pattern in systemd/systemd.go.
package host

import (
	"context"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// CopyDirection is the direction a closure travels in CopyClosure.
type CopyDirection int

const (
	// ToTarget copies from the orchestrator to the node (a "push").
	ToTarget CopyDirection = iota
	// FromTarget copies from the node back to the orchestrator.
	FromTarget
)

// CopyOptions mirrors the subset of deploy.Options that affects transport.
type CopyOptions struct {
	SubstitutersPush bool
	Gzip             bool
}

// Host is the capability set every driver variant implements — a closed
// set per spec §9 ("Dynamic dispatch over Host... tagged variant if the
// driver set is closed and known at build").
type Host interface {
	// CopyClosure transports a closure between the orchestrator and the node.
	CopyClosure(ctx context.Context, path deploy.StorePath, dir CopyDirection, opts CopyOptions) error

	// RealizeRemote asks the target to realize a derivation, returning its
	// output paths parsed line-by-line from stdout.
	RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error)

	// UploadKeys installs every key in keys on the target.
	UploadKeys(ctx context.Context, keys map[string]*deploy.KeySpec, requireOwnership bool) error

	// Activate activates profile for goal, returning once the remote
	// activation command has exited.
	Activate(ctx context.Context, profile deploy.Profile, goal deploy.Goal) error

	// ActiveDerivationKnown reports whether the target's current live
	// profile's source derivation is recorded on the target.
	ActiveDerivationKnown(ctx context.Context) (bool, error)

	// AttachJob funnels this driver's subprocess output into job for the
	// lifetime of the next operation. Drivers are owned exclusively by the
	// per-node task that invokes them (spec §4.A).
	AttachJob(j *job.Handle)
}
