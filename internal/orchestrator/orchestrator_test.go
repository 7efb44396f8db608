package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeploy/fleetdeploy/internal/config"
	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/internal/transport"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

const onlineJlist = `[{"name":"app","pm2_env":{"status":"online"}}]`

type fakeStore struct{}

func (fakeStore) Resolve(ref string) (secrets.Credential, error) {
	return secrets.Credential{User: "deploy", PrivateKey: []byte("key")}, nil
}

// fakeFleet hands out one scripted client per target label and tracks
// peak concurrency across them.
type fakeFleet struct {
	mu        sync.Mutex
	active    int
	peak      int
	workDelay time.Duration

	copyErr  map[string]error
	buildErr map[string]transport.ExecResult
	dialErr  map[string]error
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		copyErr:  map[string]error{},
		buildErr: map[string]transport.ExecResult{},
		dialErr:  map[string]error{},
	}
}

func (f *fakeFleet) Dial(_ context.Context, target model.Target, _ secrets.Credential) (transport.Client, error) {
	if err := f.dialErr[target.Label]; err != nil {
		return nil, err
	}
	return &fleetClient{fleet: f, label: target.Label}, nil
}

func (f *fakeFleet) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	time.Sleep(f.workDelay)
}

func (f *fakeFleet) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

type fleetClient struct {
	fleet *fakeFleet
	label string
}

func (c *fleetClient) Copy(_ context.Context, _, _ string, _ time.Duration) error {
	c.fleet.enter()
	defer c.fleet.leave()
	return c.fleet.copyErr[c.label]
}

func (c *fleetClient) Exec(_ context.Context, command string, _ time.Duration) (transport.ExecResult, error) {
	c.fleet.enter()
	defer c.fleet.leave()
	if strings.Contains(command, "npm run build") {
		if res, ok := c.fleet.buildErr[c.label]; ok {
			return res, nil
		}
	}
	if strings.Contains(command, "pm2 jlist") {
		return transport.ExecResult{Output: onlineJlist}, nil
	}
	return transport.ExecResult{}, nil
}

func (c *fleetClient) Close() error { return nil }

type okProber struct{}

func (okProber) Probe(context.Context, string, int) error { return nil }

type failProber struct{}

func (failProber) Probe(_ context.Context, host string, port int) error {
	return &model.HealthCheckError{Addr: host, Err: errors.New("no response")}
}

func testConfig(concurrency int, labels ...string) *config.Config {
	cfg := &config.Config{Concurrency: concurrency}
	for _, l := range labels {
		cfg.Targets = append(cfg.Targets, model.Target{
			Label:        l,
			Host:         "10.0.0.1",
			ArtifactPath: "./dist",
			RemoteDir:    "~/app",
			ProcessName:  "app",
			ServicePort:  4200,
		})
	}
	cfg.Timeouts.Copy = time.Minute
	cfg.Timeouts.Exec = time.Minute
	cfg.Timeouts.Health = time.Second
	return cfg
}

func newTestOrchestrator(cfg *config.Config, fleet *fakeFleet) *Orchestrator {
	o := New(cfg, fleet, fakeStore{}, nil)
	o.Checker = okProber{}
	return o
}

func TestRunAllTargetsSucceed(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(testConfig(2, "vm1", "vm2"), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.AllSucceeded, summary.Overall)
	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, model.OutcomeSuccess, r.Outcome)
		assert.Equal(t, model.PhaseHealthChecked, r.Phase)
	}
}

func TestRunPreservesRegistryOrder(t *testing.T) {
	labels := []string{"vm1", "vm2", "vm3", "vm4", "vm5"}
	fleet := newFakeFleet()
	fleet.workDelay = 2 * time.Millisecond
	o := newTestOrchestrator(testConfig(3, labels...), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, len(labels))
	for i, r := range summary.Results {
		assert.Equal(t, labels[i], r.TargetLabel)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	fleet := newFakeFleet()
	fleet.workDelay = 5 * time.Millisecond
	o := newTestOrchestrator(testConfig(2, "vm1", "vm2", "vm3", "vm4", "vm5", "vm6"), fleet)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, fleet.peak, 2)
	assert.Positive(t, fleet.peak)
}

func TestRunIsolatesFailures(t *testing.T) {
	fleet := newFakeFleet()
	fleet.copyErr["vm1"] = &model.TransportError{Op: "copy", Err: errors.New("connection reset")}
	o := newTestOrchestrator(testConfig(2, "vm1", "vm2"), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.PartialFailure, summary.Overall)

	vm1 := summary.Results[0]
	assert.Equal(t, model.OutcomeFailure, vm1.Outcome)
	assert.Equal(t, model.PhasePending, vm1.Phase)
	assert.Equal(t, model.ErrTransport, vm1.ErrorKind)
	assert.Contains(t, vm1.ErrorDetail, "connection reset")

	vm2 := summary.Results[1]
	assert.Equal(t, model.OutcomeSuccess, vm2.Outcome)
	assert.Equal(t, model.PhaseHealthChecked, vm2.Phase)
}

func TestRunBuildFailureDoesNotAbortSiblings(t *testing.T) {
	fleet := newFakeFleet()
	fleet.buildErr["vm1"] = transport.ExecResult{ExitStatus: 1, Output: "ng build failed"}
	o := newTestOrchestrator(testConfig(1, "vm1", "vm2"), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.PartialFailure, summary.Overall)
	assert.Equal(t, model.PhaseDependenciesInstalled, summary.Results[0].Phase)
	assert.Equal(t, model.ErrScriptStep, summary.Results[0].ErrorKind)
	assert.Equal(t, model.OutcomeSuccess, summary.Results[1].Outcome)
}

func TestRunHealthFailureDegradesResult(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(testConfig(2, "vm1"), fleet)
	o.Checker = failProber{}

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	r := summary.Results[0]
	assert.Equal(t, model.OutcomeFailure, r.Outcome)
	assert.Equal(t, model.PhaseHealthChecked, r.Phase)
	assert.Equal(t, model.ErrHealthCheck, r.ErrorKind)
	assert.Equal(t, model.AllFailed, summary.Overall)
}

func TestRunEmptyRegistry(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(testConfig(2), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.AllSucceeded, summary.Overall)
	assert.Empty(t, summary.Results)
}

func TestRunCancelledBeforeStartMarksTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fleet := newFakeFleet()
	o := newTestOrchestrator(testConfig(2, "vm1", "vm2"), fleet)

	summary, err := o.Run(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, model.OutcomeFailure, r.Outcome)
		assert.Equal(t, model.ErrCancelledRun, r.ErrorKind)
		assert.Equal(t, model.PhasePending, r.Phase)
	}
	assert.Equal(t, model.AllFailed, summary.Overall)
}

func TestRunDialFailure(t *testing.T) {
	fleet := newFakeFleet()
	fleet.dialErr["vm1"] = &model.TransportError{Op: "dial", Err: errors.New("no route to host")}
	o := newTestOrchestrator(testConfig(2, "vm1"), fleet)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	r := summary.Results[0]
	assert.Equal(t, model.ErrTransport, r.ErrorKind)
	assert.Equal(t, model.PhasePending, r.Phase)
}

func TestRunPublishesEvents(t *testing.T) {
	fleet := newFakeFleet()
	o := newTestOrchestrator(testConfig(2, "vm1", "vm2"), fleet)

	sink := &recordingSink{}
	o.Events = sink

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sink.results, 2)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, model.AllSucceeded, sink.runs[0].Overall)
}

type recordingSink struct {
	mu      sync.Mutex
	results []model.DeploymentResult
	runs    []model.RunSummary
}

func (s *recordingSink) TargetDeployed(r model.DeploymentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) RunCompleted(r model.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
}
