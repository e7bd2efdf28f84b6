package deploy

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

// UploadTime controls when a key must be present on the target relative to
// activation of the new profile.
type UploadTime int

const (
	// PreActivation keys must exist before the new configuration is activated.
	PreActivation UploadTime = iota
	// PostActivation keys are uploaded only after activation succeeds.
	PostActivation
)

var unixNamePattern = regexp.MustCompile(`^[a-z][-a-z0-9]*$`)

var permissionsPattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// keySource is exactly one of text, command or file — mirrors the closed
// enum in the original implementation's KeySource, validated at
// construction rather than left to be discovered at upload time.
type keySource struct {
	text    *string
	command []string
	file    string
}

// KeySpec describes one secret to install on a node.
type KeySpec struct {
	source keySource

	destDir     string
	user        string
	group       string
	permissions string
	uploadAt    UploadTime
}

// KeySpecOption configures an optional field of a KeySpec at construction.
type KeySpecOption func(*KeySpec)

// WithGroup overrides the owning group (default: same as user).
func WithGroup(group string) KeySpecOption { return func(k *KeySpec) { k.group = group } }

// WithPostActivation marks the key as installed only after activation.
func WithPostActivation() KeySpecOption { return func(k *KeySpec) { k.uploadAt = PostActivation } }

// NewTextKey constructs a KeySpec whose material is an inline literal.
func NewTextKey(text, destDir, user, permissions string, opts ...KeySpecOption) (*KeySpec, error) {
	return newKeySpec(keySource{text: &text}, destDir, user, permissions, opts)
}

// NewCommandKey constructs a KeySpec whose material comes from a command's stdout.
func NewCommandKey(command []string, destDir, user, permissions string, opts ...KeySpecOption) (*KeySpec, error) {
	if len(command) == 0 {
		return nil, errkind.New(errkind.Configuration, "keyCommand must have at least one element")
	}
	return newKeySpec(keySource{command: command}, destDir, user, permissions, opts)
}

// NewFileKey constructs a KeySpec whose material is read from a filesystem path.
func NewFileKey(path, destDir, user, permissions string, opts ...KeySpecOption) (*KeySpec, error) {
	return newKeySpec(keySource{file: path}, destDir, user, permissions, opts)
}

func newKeySpec(src keySource, destDir, user, permissions string, opts []KeySpecOption) (*KeySpec, error) {
	k := &KeySpec{
		source:      src,
		destDir:     destDir,
		user:        user,
		group:       user,
		permissions: permissions,
		uploadAt:    PreActivation,
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Validate checks the destination directory, owner names and permissions
// the same way key.rs's validator attributes did.
func (k *KeySpec) Validate() error {
	if !filepath.IsAbs(k.destDir) {
		return errkind.New(errkind.Configuration, "secret key destination directory must be absolute")
	}
	if !unixNamePattern.MatchString(k.user) {
		return errkind.Newf(errkind.Configuration, "invalid user name %q", k.user)
	}
	if !unixNamePattern.MatchString(k.group) {
		return errkind.Newf(errkind.Configuration, "invalid group name %q", k.group)
	}
	if !permissionsPattern.MatchString(k.permissions) {
		return errkind.Newf(errkind.Configuration, "invalid octal permissions %q", k.permissions)
	}
	return nil
}

func (k *KeySpec) DestDir() string     { return k.destDir }
func (k *KeySpec) User() string        { return k.user }

// Group returns the owning group. The original implementation's accessor
// returned the user field here, which spec.md calls out as a bug; this
// returns the group field as the specification mandates.
func (k *KeySpec) Group() string         { return k.group }
func (k *KeySpec) Permissions() string   { return k.permissions }
func (k *KeySpec) UploadAt() UploadTime  { return k.uploadAt }

// Reader opens the key material for streaming. For a Command source this
// spawns the command and streams its stdout; the caller is responsible for
// draining and closing the returned reader. The command is started on
// context.WithoutCancel(ctx), so cancelling ctx does not kill it once started.
func (k *KeySpec) Reader(ctx context.Context) (io.ReadCloser, error) {
	switch {
	case k.source.text != nil:
		return io.NopCloser(strings.NewReader(*k.source.text)), nil
	case k.source.command != nil:
		cmd := exec.CommandContext(context.WithoutCancel(ctx), k.source.command[0], k.source.command[1:]...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errkind.Wrap(err, errkind.Internal, "key command stdout pipe")
		}
		if err := cmd.Start(); err != nil {
			return nil, errkind.Wrap(err, errkind.Internal, "key command start")
		}
		return &cmdReadCloser{ReadCloser: stdout, cmd: cmd}, nil
	case k.source.file != "":
		f, err := os.Open(k.source.file)
		if err != nil {
			return nil, errkind.Wrap(err, errkind.Internal, "open key file")
		}
		return f, nil
	default:
		return nil, errkind.New(errkind.Internal, "key has no source set")
	}
}

type cmdReadCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdReadCloser) Close() error {
	err := c.ReadCloser.Close()
	if werr := c.cmd.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
