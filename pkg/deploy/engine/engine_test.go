package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xuanwo/colmena-go/pkg/deploy"
	"github.com/Xuanwo/colmena-go/pkg/deploy/build"
	"github.com/Xuanwo/colmena-go/pkg/deploy/errkind"
	"github.com/Xuanwo/colmena-go/pkg/deploy/eval"
	"github.com/Xuanwo/colmena-go/pkg/deploy/gate"
	"github.com/Xuanwo/colmena-go/pkg/deploy/host"
	"github.com/Xuanwo/colmena-go/pkg/job"
)

func mustNode(t *testing.T, s string) deploy.NodeName {
	n, err := deploy.NewNodeName(s)
	require.NoError(t, err)
	return n
}

type fakeFleet struct{}

func (fakeFleet) EvaluateNode(ctx context.Context, name deploy.NodeName) (deploy.Derivation, error) {
	path, err := deploy.NewStorePath("/nix/store/00000000000000000000000000000000-" + string(name) + ".drv")
	if err != nil {
		return deploy.Derivation{}, err
	}
	return deploy.Derivation{Path: path, Node: name}, nil
}

type fakeRealizer struct{}

func (fakeRealizer) RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error) {
	path, err := deploy.NewStorePath("/nix/store/11111111111111111111111111111111-" + string(drv.Node) + "-system")
	if err != nil {
		return nil, err
	}
	return []deploy.StorePath{path}, nil
}

type fakeDriver struct {
	mu           sync.Mutex
	activeKnown  bool
	failActivate bool
	jobs         []*job.Handle
}

func (f *fakeDriver) AttachJob(j *job.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
}

func (f *fakeDriver) CopyClosure(ctx context.Context, path deploy.StorePath, dir host.CopyDirection, opts host.CopyOptions) error {
	return nil
}

func (f *fakeDriver) RealizeRemote(ctx context.Context, drv deploy.Derivation) ([]deploy.StorePath, error) {
	return nil, nil
}

func (f *fakeDriver) UploadKeys(ctx context.Context, keys map[string]*deploy.KeySpec, requireOwnership bool) error {
	return nil
}

func (f *fakeDriver) Activate(ctx context.Context, profile deploy.Profile, goal deploy.Goal) error {
	if f.failActivate {
		return errkind.New(errkind.Activation, "switch-to-configuration exited 1")
	}
	return nil
}

func (f *fakeDriver) ActiveDerivationKnown(ctx context.Context) (bool, error) {
	return f.activeKnown, nil
}

func newTestEngine(goal deploy.Goal, options deploy.Options, nTargets int) *Engine {
	evaluator := eval.New(fakeFleet{}, deploy.EvaluationNodeLimit{Kind: deploy.EvalLimitNone}, hclog.NewNullLogger())
	builder := build.New(hclog.NewNullLogger(), fakeRealizer{}, "", false)
	gates := gate.NewPair(0, 0, nTargets)
	return New(hclog.NewNullLogger(), evaluator, builder, gates, options, goal)
}

func drainBus(bus *job.Bus) {
	go func() {
		for {
			_, ok := bus.Next()
			if !ok {
				return
			}
		}
	}()
}

// collectBus drains bus into events until closed, signaling done on the
// returned channel.
func collectBus(bus *job.Bus, events *[]job.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			e, ok := bus.Next()
			if !ok {
				return
			}
			*events = append(*events, e)
		}
	}()
	return done
}

func TestEngineHappyPathSwitch(t *testing.T) {
	bus := job.NewBus(64)
	drainBus(bus)
	root := job.NewRoot(bus)

	options := deploy.DefaultOptions()
	e := newTestEngine(deploy.GoalSwitch, options, 2)

	nodes := []NodeSpec{
		{Name: mustNode(t, "web1"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: true}},
		{Name: mustNode(t, "web2"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: true}},
	}

	result, err := e.Execute(context.Background(), root, nodes)
	require.NoError(t, err)
	require.True(t, result.Success())
	assert.Len(t, result.Nodes, 2)
}

func TestEngineSingleFailingActivationIsPartialFailure(t *testing.T) {
	bus := job.NewBus(64)
	drainBus(bus)
	root := job.NewRoot(bus)

	options := deploy.DefaultOptions()
	e := newTestEngine(deploy.GoalSwitch, options, 2)

	nodes := []NodeSpec{
		{Name: mustNode(t, "web1"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: true}},
		{Name: mustNode(t, "web2"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: true, failActivate: true}},
	}

	result, err := e.Execute(context.Background(), root, nodes)
	require.NoError(t, err)
	require.False(t, result.Success())
	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, deploy.NodeName("web2"), failed[0])

	var web1 *NodeResult
	for i := range result.Nodes {
		if result.Nodes[i].Name == "web1" {
			web1 = &result.Nodes[i]
		}
	}
	require.NotNil(t, web1)
	assert.Equal(t, job.Succeeded, web1.State)
}

func TestEngineKeysOnlyGoalSkipsPushAndActivate(t *testing.T) {
	bus := job.NewBus(64)
	var events []job.Event
	busDone := collectBus(bus, &events)
	root := job.NewRoot(bus)

	key, err := deploy.NewTextKey("secret", "/run/keys", "root", "0400")
	require.NoError(t, err)

	options := deploy.DefaultOptions()
	e := newTestEngine(deploy.GoalKeys, options, 1)

	driver := &fakeDriver{activeKnown: true}
	nodes := []NodeSpec{
		{Name: mustNode(t, "web1"), Config: deploy.NodeConfig{
			ProfilePath: "/x",
			Keys:        map[string]*deploy.KeySpec{"secret": key},
		}, Driver: driver},
	}

	result, err := e.Execute(context.Background(), root, nodes)
	require.NoError(t, err)
	require.True(t, result.Success())

	bus.Close()
	<-busDone

	for _, e := range events {
		if e.Kind == job.EventJobCreated && (e.Type == job.TypeBuild || e.Type == job.TypePush || e.Type == job.TypeActivate) {
			t.Fatalf("goal=keys must not create a build, push or activate job, got event %+v", e)
		}
	}
}

func TestEngineRefusesUnknownProfileWithoutOverride(t *testing.T) {
	bus := job.NewBus(64)
	drainBus(bus)
	root := job.NewRoot(bus)

	options := deploy.DefaultOptions()
	e := newTestEngine(deploy.GoalSwitch, options, 1)

	nodes := []NodeSpec{
		{Name: mustNode(t, "web1"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: false}},
	}

	result, err := e.Execute(context.Background(), root, nodes)
	require.NoError(t, err)
	require.False(t, result.Success())
	kind, ok := errkind.KindOf(result.Nodes[0].Err)
	require.True(t, ok)
	assert.Equal(t, errkind.Policy, kind)
}

func TestEngineCancellationFailsNodesCleanly(t *testing.T) {
	bus := job.NewBus(64)
	drainBus(bus)
	root := job.NewRoot(bus)

	options := deploy.DefaultOptions()
	e := newTestEngine(deploy.GoalSwitch, options, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	nodes := []NodeSpec{
		{Name: mustNode(t, "web1"), Config: deploy.NodeConfig{ProfilePath: "/x"}, Driver: &fakeDriver{activeKnown: true}},
	}

	result, err := e.Execute(ctx, root, nodes)
	require.NoError(t, err)
	require.False(t, result.Success())
	kind, ok := errkind.KindOf(result.Nodes[0].Err)
	require.True(t, ok)
	assert.Equal(t, errkind.Cancelled, kind)
}

func TestEngineRejectsKeysOnlyWithoutUploadKeys(t *testing.T) {
	bus := job.NewBus(64)
	drainBus(bus)
	root := job.NewRoot(bus)

	options := deploy.Options{UploadKeys: false}
	e := newTestEngine(deploy.GoalKeys, options, 1)

	_, err := e.Execute(context.Background(), root, nil)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Configuration, kind)
}
