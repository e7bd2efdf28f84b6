// Package deploy holds the data model shared by the deployment pipeline:
// node identity and configuration, secrets, goals, store paths and
// deployment-wide options. The pipeline stages themselves (evaluate, build,
// host drivers, the engine) live in sibling packages under pkg/deploy/.
package deploy

import (
	"fmt"
	"regexp"

	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
)

// NodeName is an opaque, printable-ASCII identifier, unique within a
// deployment.
type NodeName string

var nodeNamePattern = regexp.MustCompile(`^[\x21-\x7e]+$`)

// NewNodeName validates and constructs a NodeName.
func NewNodeName(s string) (NodeName, error) {
	if s == "" || !nodeNamePattern.MatchString(s) {
		return "", errkind.Newf(errkind.Configuration, "invalid node name %q", s)
	}
	return NodeName(s), nil
}

func (n NodeName) String() string { return string(n) }

// Target describes how to reach a node over the network.
type Target struct {
	Host    string
	User    string
	Port    int
	HostKey string // optional explicit host key, empty if unset
}

// NodeConfig is the immutable per-node data the fleet description supplies.
type NodeConfig struct {
	Target                   Target
	BuildOnTarget            bool
	Keys                     map[string]*KeySpec
	ProfilePath              string
	ReplaceUnknownProfiles   bool
}

// Validate checks the structural invariants NodeConfig must satisfy.
func (c *NodeConfig) Validate() error {
	if c.ProfilePath == "" {
		return errkind.New(errkind.Configuration, "node has no activation-profile path")
	}
	for name, k := range c.Keys {
		if err := k.Validate(); err != nil {
			return errkind.Wrapf(err, errkind.Configuration, "key %q", name)
		}
	}
	return nil
}

// HasTarget reports whether this node has a usable connection target.
func (c *NodeConfig) HasTarget() bool {
	return c.Target.Host != ""
}

func (t Target) String() string {
	if t.Port != 0 {
		return fmt.Sprintf("%s@%s:%d", t.User, t.Host, t.Port)
	}
	return fmt.Sprintf("%s@%s", t.User, t.Host)
}
