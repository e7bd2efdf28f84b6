package deploy

import (
	"regexp"

	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

// storePathPattern matches the fixed lexical form of a content-addressed
// store path: a store root, a base-32-ish hash segment, a dash, and a name.
var storePathPattern = regexp.MustCompile(`^/nix/store/[0-9a-z]{32}-[A-Za-z0-9+._?=-]+$`)

// StorePath is an opaque, content-addressed filesystem path produced by the
// evaluator/builder.
type StorePath struct {
	path string
}

// NewStorePath validates and constructs a StorePath, rejecting malformed input.
func NewStorePath(path string) (StorePath, error) {
	if !storePathPattern.MatchString(path) {
		return StorePath{}, errkind.Newf(errkind.Internal, "malformed store path %q", path)
	}
	return StorePath{path: path}, nil
}

func (s StorePath) Path() string   { return s.path }
func (s StorePath) String() string { return s.path }
func (s StorePath) IsZero() bool   { return s.path == "" }

// Derivation is a reproducible build description that realizes to one or
// more StorePaths.
type Derivation struct {
	Path StorePath
	Node NodeName
}

// Profile is a distinguished StorePath carrying an activation command.
type Profile struct {
	StorePath StorePath
}

// ActivationCommand derives the command to invoke on the target for the
// given goal: the profile's own switch-to-configuration script.
func (p Profile) ActivationCommand(goal Goal) ([]string, error) {
	if !goal.IsRealGoal() {
		return nil, errkind.New(errkind.Unsupported, "goal has no activation command")
	}
	return []string{p.StorePath.Path() + "/bin/switch-to-configuration", string(goal)}, nil
}

// SystemProfile is the well-known nix-env profile path the Local driver's
// goal-switch step points at.
const SystemProfile = "/nix/var/nix/profiles/system"
