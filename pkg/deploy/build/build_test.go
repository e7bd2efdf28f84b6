package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

type fakeRealizer struct {
	paths []deploy.StorePath
	err   error
}

func (f *fakeRealizer) RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error) {
	return f.paths, f.err
}

func samplePath(t *testing.T) deploy.StorePath {
	p, err := deploy.NewStorePath("/nix/store/00000000000000000000000000000000-hello-1.0")
	require.NoError(t, err)
	return p
}

func TestBuildOnOrchestratorUsesLocalRealizer(t *testing.T) {
	path := samplePath(t)
	b := New(hclog.NewNullLogger(), &fakeRealizer{paths: []deploy.StorePath{path}}, "", false)
	node, _ := deploy.NewNodeName("web1")

	bus := job.NewBus(8)
	h := job.NewRoot(bus)
	paths, err := b.Build(context.Background(), h, deploy.Derivation{Path: path, Node: node}, OnOrchestrator, nil)
	require.NoError(t, err)
	assert.Equal(t, []deploy.StorePath{path}, paths)
}

func TestBuildPlacesGCRootWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := samplePath(t)
	gcDir := filepath.Join(dir, ".gcroots")
	b := New(hclog.NewNullLogger(), &fakeRealizer{paths: []deploy.StorePath{path}}, gcDir, true)
	node, _ := deploy.NewNodeName("web1")

	bus := job.NewBus(8)
	h := job.NewRoot(bus)
	_, err := b.Build(context.Background(), h, deploy.Derivation{Path: path, Node: node}, OnOrchestrator, nil)
	require.NoError(t, err)

	link := filepath.Join(gcDir, "web1")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, path.Path(), target)
}

func TestBuildFailsOnEmptyOutputPaths(t *testing.T) {
	b := New(hclog.NewNullLogger(), &fakeRealizer{paths: nil}, "", false)
	node, _ := deploy.NewNodeName("web1")
	path := samplePath(t)

	bus := job.NewBus(8)
	h := job.NewRoot(bus)
	_, err := b.Build(context.Background(), h, deploy.Derivation{Path: path, Node: node}, OnOrchestrator, nil)
	require.Error(t, err)
}
