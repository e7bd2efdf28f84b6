package host

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/hashicorp/go-hclog"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// Local is the orchestrator machine itself. It may not be able to realize
// every derivation (e.g. building Linux derivations from a non-Linux
// orchestrator), but copy-closure is always a no-op and the active
// derivation is always considered known, matching
// original_source/src/nix/host/local.rs.
type Local struct {
	logger     hclog.Logger
	nixOptions []string
	job        *job.Handle
}

// NewLocal constructs a Local host driver.
func NewLocal(logger hclog.Logger, nixOptions []string) *Local {
	return &Local{logger: logger.Named("host.local"), nixOptions: nixOptions}
}

func (l *Local) AttachJob(j *job.Handle) { l.job = j }

// CopyClosure is a no-op for Local: the closure is already on this machine.
func (l *Local) CopyClosure(ctx context.Context, path deploy.StorePath, dir CopyDirection, opts CopyOptions) error {
	return nil
}

func (l *Local) RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error) {
	args := append(append([]string{}, l.nixOptions...), "--no-gc-warning", "--realise", drv.Path.Path())
	lines, err := runLocal(ctx, l.job, "nix-store", args...)
	if err != nil {
		return nil, err
	}
	return parseStorePaths(lines)
}

func (l *Local) UploadKeys(ctx context.Context, keys map[string]*deploy.KeySpec, requireOwnership bool) error {
	for name, key := range keys {
		if err := l.uploadKey(ctx, name, key, requireOwnership); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) uploadKey(ctx context.Context, name string, key *deploy.KeySpec, requireOwnership bool) error {
	if l.job != nil {
		l.job.Message(fmt.Sprintf("deploying key %s", name))
	}

	destPath := key.DestDir() + "/" + name
	script := generateUploadScript(destPath, key.User(), key.Group(), key.Permissions(), requireOwnership)

	r, err := key.Reader(ctx)
	if err != nil {
		return errkind.Wrapf(err, errkind.Transport, "open key material for %q", name)
	}
	defer r.Close()

	cmd := exec.CommandContext(context.WithoutCancel(ctx), "sh", "-c", script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "key uploader stdin pipe")
	}

	go func() {
		defer stdin.Close()
		io.Copy(stdin, r)
	}()

	_, err = runCommand(cmd, l.job)
	if err != nil {
		return errkind.Wrapf(err, errkind.Transport, "upload key %q", name)
	}
	return nil
}

// Activate implements spec §4.A's activate(): if goal is not a real goal it
// is unsupported; if it should switch the profile, point the system
// profile symlink at the new path first; then invoke the profile's
// activation command.
func (l *Local) Activate(ctx context.Context, profile deploy.Profile, goal deploy.Goal) error {
	if !goal.IsRealGoal() {
		return errkind.New(errkind.Unsupported, "driver does not implement goal "+string(goal))
	}

	if goal.ShouldSwitchProfile() {
		if _, err := runLocal(ctx, l.job, "nix-env",
			"--profile", deploy.SystemProfile, "--set", profile.StorePath.Path()); err != nil {
			return err
		}
	}

	cmdline, err := profile.ActivationCommand(goal)
	if err != nil {
		return err
	}
	if _, err := runLocal(ctx, l.job, cmdline[0], cmdline[1:]...); err != nil {
		return errkind.Wrap(err, errkind.Activation, "activation command exited non-zero")
	}
	return nil
}

// ActiveDerivationKnown always reports true for Local: the orchestrator's
// own store always knows its own derivations.
func (l *Local) ActiveDerivationKnown(ctx context.Context) (bool, error) {
	return true, nil
}
