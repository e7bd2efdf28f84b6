package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// Ssh is a remote node reached over SSH. Every operation opens a fresh
// session on the shared client connection; the connection itself is dialed
// once per node task and torn down when the task ends (spec §4.A: "Drivers
// are owned exclusively by the per-node task that invokes them and are
// destroyed when the task ends").
type Ssh struct {
	logger hclog.Logger
	target deploy.Target
	client *ssh.Client
	job    *job.Handle
}

// DialSsh opens the SSH connection for target, authenticating through the
// running ssh-agent (SSH_AUTH_SOCK) the way the fleet description's ssh
// config path collaborator expects the orchestrator's environment to be
// set up. The caller is responsible for Close()ing the returned driver.
func DialSsh(ctx context.Context, logger hclog.Logger, target deploy.Target) (*Ssh, error) {
	authMethods, err := agentAuthMethods()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Transport, "ssh-agent unavailable")
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback(target),
		Timeout:         15 * time.Second,
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errkind.Wrapf(err, errkind.Transport, "dial %s", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, errkind.Wrapf(err, errkind.Transport, "ssh handshake with %s", addr)
	}

	return &Ssh{
		logger: logger.Named("host.ssh").With("node", target.Host),
		target: target,
		client: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// Close tears down the underlying SSH connection.
func (s *Ssh) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Ssh) AttachJob(j *job.Handle) { s.job = j }

func agentAuthMethods() ([]ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	ag := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil
}

// hostKeyCallback honors an explicit per-node host key if the fleet
// description supplied one and it parses as an authorized-keys line.
// Otherwise every host key is accepted; known_hosts is not consulted.
func hostKeyCallback(target deploy.Target) ssh.HostKeyCallback {
	if target.HostKey == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	expected, _, _, _, err := ssh.ParseAuthorizedKey([]byte(target.HostKey))
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	return ssh.FixedHostKey(expected)
}

// runRemote runs a command line on the target over a fresh SSH session,
// streaming combined stdout/stderr into the attached job the same way
// runCommand does for Local, and returns the captured stdout lines.
func (s *Ssh) runRemote(ctx context.Context, stdin io.Reader, cmdline string) ([]string, error) {
	s.logger.Debug("running remote command", "cmdline", cmdline)

	session, err := s.client.NewSession()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Transport, "open ssh session")
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Internal, "ssh stdout pipe")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Internal, "ssh stderr pipe")
	}
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Start(cmdline); err != nil {
		return nil, errkind.Wrap(err, errkind.Transport, "start remote command")
	}

	var lines []string
	done := make(chan struct{}, 2)
	go func() { lines = append(lines, streamLines(stdout, s.job)...); done <- struct{}{} }()
	go func() { streamLines(stderr, s.job); done <- struct{}{} }()
	<-done
	<-done

	// A remote command already running is allowed to finish (spec §5:
	// "subprocesses already running are allowed to finish... the engine
	// does not kill them") — ctx cancellation is observed at the engine's
	// own stage boundaries, not by abandoning this session mid-command.
	if err := session.Wait(); err != nil {
		tail := lines
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		return lines, errkind.Wrap(err, errkind.Realization, "remote command exited non-zero").WithOutput(tail)
	}
	return lines, nil
}

func (s *Ssh) CopyClosure(ctx context.Context, path deploy.StorePath, dir CopyDirection, opts CopyOptions) error {
	args := []string{"nix", "copy"}
	if dir == ToTarget {
		args = append(args, "--to", fmt.Sprintf("ssh://%s", s.target.Host))
	} else {
		args = append(args, "--from", fmt.Sprintf("ssh://%s", s.target.Host))
	}
	if opts.SubstitutersPush {
		args = append(args, "--substitute-on-destination")
	}
	if opts.Gzip {
		args = append(args, "--compress")
	}
	args = append(args, path.Path())

	if _, err := runLocal(ctx, s.job, args[0], args[1:]...); err != nil {
		return errkind.Wrap(err, errkind.Transport, "copy-closure")
	}
	return nil
}

func (s *Ssh) RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error) {
	cmdline := fmt.Sprintf("nix-store --no-gc-warning --realise %s", shQuote(drv.Path.Path()))
	lines, err := s.runRemote(ctx, nil, cmdline)
	if err != nil {
		return nil, err
	}
	return parseStorePaths(lines)
}

func (s *Ssh) UploadKeys(ctx context.Context, keys map[string]*deploy.KeySpec, requireOwnership bool) error {
	for name, key := range keys {
		if err := s.uploadKey(ctx, name, key, requireOwnership); err != nil {
			return err
		}
	}
	return nil
}

func (s *Ssh) uploadKey(ctx context.Context, name string, key *deploy.KeySpec, requireOwnership bool) error {
	if s.job != nil {
		s.job.Message(fmt.Sprintf("deploying key %s", name))
	}

	destPath := key.DestDir() + "/" + name
	script := generateUploadScript(destPath, key.User(), key.Group(), key.Permissions(), requireOwnership)

	r, err := key.Reader(ctx)
	if err != nil {
		return errkind.Wrapf(err, errkind.Transport, "open key material for %q", name)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, bufio.NewReader(r)); err != nil {
		return errkind.Wrapf(err, errkind.Transport, "read key material for %q", name)
	}

	cmdline := fmt.Sprintf("sh -c %s", shQuote(script))
	if _, err := s.runRemote(ctx, &buf, cmdline); err != nil {
		return errkind.Wrapf(err, errkind.Transport, "upload key %q", name)
	}
	return nil
}

func (s *Ssh) Activate(ctx context.Context, profile deploy.Profile, goal deploy.Goal) error {
	if !goal.IsRealGoal() {
		return errkind.New(errkind.Unsupported, "driver does not implement goal "+string(goal))
	}

	if goal.ShouldSwitchProfile() {
		cmdline := fmt.Sprintf("nix-env --profile %s --set %s", shQuote(deploy.SystemProfile), shQuote(profile.StorePath.Path()))
		if _, err := s.runRemote(ctx, nil, cmdline); err != nil {
			return err
		}
	}

	cmd, err := profile.ActivationCommand(goal)
	if err != nil {
		return err
	}
	quoted := make([]string, len(cmd))
	for i, c := range cmd {
		quoted[i] = shQuote(c)
	}
	if _, err := s.runRemote(ctx, nil, strings.Join(quoted, " ")); err != nil {
		return errkind.Wrap(err, errkind.Activation, "activation command exited non-zero")
	}
	return nil
}

func (s *Ssh) ActiveDerivationKnown(ctx context.Context) (bool, error) {
	cmdline := fmt.Sprintf("nix-store -q --deriver $(readlink -f %s)", shQuote(deploy.SystemProfile))
	_, err := s.runRemote(ctx, nil, cmdline)
	if err != nil {
		if _, ok := errkind.KindOf(err); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
