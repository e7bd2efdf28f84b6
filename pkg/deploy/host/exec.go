package host

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

// runLocal runs name/args to completion, streaming combined stdout+stderr
// into j (if attached) one line at a time, and returns the captured stdout
// as a slice of lines — the same shape Local.realize_remote needs to parse
// store paths out of `nix-store --realise`'s output.
//
// The subprocess is started on context.WithoutCancel(ctx): a cancelled
// deployment stops starting new stages at the engine's own suspension
// points, but a subprocess already running is allowed to finish and have
// its output drained (spec §5) rather than be SIGKILLed mid-command.
func runLocal(ctx context.Context, j *job.Handle, name string, args ...string) ([]string, error) {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), name, args...)
	return runCommand(cmd, j)
}

// runCommand is the shared subprocess-driving primitive used by both Local
// and Ssh: start the command, stream its output into the attached job, wait
// for it to exit, and surface a non-zero exit as a *errkind.Error carrying
// the captured tail.
func runCommand(cmd *exec.Cmd, j *job.Handle) ([]string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Internal, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.Internal, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrap(err, errkind.Transport, "start command")
	}

	var lines []string
	done := make(chan struct{}, 2)
	go func() { lines = append(lines, streamLines(stdout, j)...); done <- struct{}{} }()
	go func() { streamLines(stderr, j); done <- struct{}{} }()
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		tail := lines
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		return lines, errkind.Wrap(err, errkind.Realization, "command exited non-zero").WithOutput(tail)
	}

	return lines, nil
}

// streamLines reads r line by line, forwarding each non-blank line to
// j.Message if attached, and returns every non-blank line read.
func streamLines(r io.Reader, j *job.Handle) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if j != nil {
			j.Message(line)
		}
		lines = append(lines, line)
	}
	return lines
}

// parseStorePaths turns each non-blank line into a StorePath, failing the
// whole call if any single line is not a valid store path (spec §4.A:
// "Each line must be a valid store path or the call fails with
// malformed-output").
func parseStorePaths(lines []string) ([]deploy.StorePath, error) {
	out := make([]deploy.StorePath, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		p, err := deploy.NewStorePath(l)
		if err != nil {
			return nil, errkind.Wrapf(err, errkind.Internal, "malformed store path in realize-remote output: %q", l)
		}
		out = append(out, p)
	}
	return out, nil
}
