package host

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
)

func TestLocalCopyClosureIsNoop(t *testing.T) {
	l := NewLocal(hclog.NewNullLogger(), nil)
	path, err := deploy.NewStorePath("/nix/store/00000000000000000000000000000000-hello-1.0")
	require.NoError(t, err)

	err = l.CopyClosure(context.Background(), path, ToTarget, CopyOptions{})
	assert.NoError(t, err)
}

func TestLocalActiveDerivationKnownAlwaysTrue(t *testing.T) {
	l := NewLocal(hclog.NewNullLogger(), nil)
	known, err := l.ActiveDerivationKnown(context.Background())
	require.NoError(t, err)
	assert.True(t, known)
}

func TestLocalActivateRejectsUnsupportedGoal(t *testing.T) {
	l := NewLocal(hclog.NewNullLogger(), nil)
	path, err := deploy.NewStorePath("/nix/store/00000000000000000000000000000000-hello-1.0")
	require.NoError(t, err)

	err = l.Activate(context.Background(), deploy.Profile{StorePath: path}, deploy.GoalBuild)
	require.Error(t, err)
}
