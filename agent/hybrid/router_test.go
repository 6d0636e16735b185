package hybrid

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/handoff"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/types"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeDelegator struct {
	mu    sync.Mutex
	calls []handoff.DelegateRequest
	fn    func(req handoff.DelegateRequest) (*handoff.Outcome, error)
}

func (d *fakeDelegator) DelegateAndWait(_ context.Context, req handoff.DelegateRequest) (*handoff.Outcome, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	fn := d.fn
	d.mu.Unlock()

	if fn == nil {
		return &handoff.Outcome{TaskID: req.TaskID, DeviceID: req.DeviceID, Status: handoff.StatusCompleted, Output: json.RawMessage(`"remote"`)}, nil
	}
	return fn(req)
}

func (d *fakeDelegator) requests() []handoff.DelegateRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]handoff.DelegateRequest(nil), d.calls...)
}

type fakeDevices struct {
	local      *discovery.DeviceProfile
	candidates []discovery.Candidate
}

func (f *fakeDevices) Local() *discovery.DeviceProfile { return f.local }

func (f *fakeDevices) FindDevicesForSkill(string) []discovery.Candidate {
	return f.candidates
}

type fakeMonitor struct {
	mu       sync.Mutex
	shedding bool
	loads    map[string]float64
	suggest  string
	started  []string
	ended    map[string]bool
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{loads: make(map[string]float64), ended: make(map[string]bool)}
}

func (m *fakeMonitor) IsShedding() bool { return m.shedding }

func (m *fakeMonitor) LoadScore(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[id]
}

func (m *fakeMonitor) SuggestAssignment(req loadmonitor.AssignmentRequest) (loadmonitor.Assignment, error) {
	if m.suggest == "" {
		return loadmonitor.Assignment{}, types.NewError(types.ErrNoAgents, "none")
	}
	return loadmonitor.Assignment{AgentID: m.suggest}, nil
}

func (m *fakeMonitor) RecordTaskStart(id string) {
	m.mu.Lock()
	m.started = append(m.started, id)
	m.mu.Unlock()
}

func (m *fakeMonitor) RecordTaskEnd(id string, _ time.Duration, success bool) {
	m.mu.Lock()
	m.ended[id] = success
	m.mu.Unlock()
}

func remoteDevice(id string, rank float64, gpu bool) discovery.Candidate {
	return discovery.Candidate{
		Device: &discovery.DeviceProfile{
			DeviceID:  id,
			PeerID:    "peer-" + id,
			Tier:      discovery.TierFull,
			State:     discovery.StateOnline,
			Resources: discovery.Resources{CPUCount: 16, MemoryMB: 32768, GPU: gpu},
		},
		Score: rank,
	}
}

func localDevice() *discovery.DeviceProfile {
	return &discovery.DeviceProfile{
		DeviceID:  "dev-a",
		IsLocal:   true,
		Tier:      discovery.TierStandard,
		State:     discovery.StateOnline,
		Resources: discovery.Resources{CPUCount: 4, MemoryMB: 4096},
	}
}

type fixture struct {
	router    *Router
	runtime   *skills.Registry
	delegator *fakeDelegator
	devices   *fakeDevices
}

func newFixture(t *testing.T, cfg *RouterConfig, monitor LoadSource, remotes ...discovery.Candidate) *fixture {
	t.Helper()
	f := &fixture{
		runtime:   skills.NewRegistry(zap.NewNop()),
		delegator: &fakeDelegator{},
		devices:   &fakeDevices{local: localDevice(), candidates: remotes},
	}
	f.router = NewRouter(cfg, Dependencies{
		Runtime:   f.runtime,
		Delegator: f.delegator,
		Devices:   f.devices,
		Monitor:   monitor,
	}, zap.NewNop())
	return f
}

func (f *fixture) addLocal(t *testing.T, id string, fn skills.SkillHandler) {
	t.Helper()
	if fn == nil {
		fn = func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"local"`), nil
		}
	}
	require.NoError(t, f.runtime.Register(skills.SkillDefinition{ID: id, Name: id}, fn))
}

func failing(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, errors.New("local failure")
}

// =============================================================================
// Configuration and scoring
// =============================================================================

func TestRouterConfig_Normalize(t *testing.T) {
	r := NewRouter(&RouterConfig{
		DefaultStrategy: "fastest",
		BestFitRatio:    -1,
		WeightTable:     map[string]WeightClass{"sha256": WeightHeavy, "odd": "enormous"},
	}, Dependencies{}, nil)
	cfg := r.Config()

	assert.Equal(t, StrategyBestFit, cfg.DefaultStrategy)
	assert.Equal(t, 0.7, cfg.BestFitRatio)
	assert.Equal(t, 60*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 1000, cfg.HistorySize)

	assert.Equal(t, WeightHeavy, r.Classify("sha256"))
	assert.Equal(t, WeightLight, r.Classify("uppercase"))
	assert.Equal(t, WeightMedium, r.Classify("odd"))
	assert.Equal(t, WeightMedium, r.Classify("unlisted"))
}

func TestRouter_SetWeightClass(t *testing.T) {
	r := NewRouter(nil, Dependencies{}, nil)

	require.NoError(t, r.SetWeightClass("render", WeightGPU))
	assert.Equal(t, WeightGPU, r.Classify("render"))

	err := r.SetWeightClass("render", "huge")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
	assert.Equal(t, WeightGPU, r.Classify("render"))
}

func TestLocalScore(t *testing.T) {
	tests := []struct {
		class WeightClass
		load  float64
		gpu   bool
		want  float64
	}{
		{WeightLight, 0, false, 1.2},
		{WeightMedium, 0.5, false, 0.5},
		{WeightHeavy, 0.25, false, 0.55},
		{WeightGPU, 0, true, 0.7},
		{WeightGPU, 0, false, 0.5},
		{WeightMedium, 3, false, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, LocalScore(tt.class, tt.load, tt.gpu), 1e-9, "%s load %v", tt.class, tt.load)
	}
}

func TestRemoteScore(t *testing.T) {
	big := remoteDevice("big", 75, true).Device
	small := &discovery.DeviceProfile{Resources: discovery.Resources{CPUCount: 4, MemoryMB: 8192}}

	assert.InDelta(t, 0.65, RemoteScore(WeightLight, 75, 0, big), 1e-9)
	assert.InDelta(t, 0.375, RemoteScore(WeightMedium, 75, 0.5, big), 1e-9)
	assert.InDelta(t, 0.95, RemoteScore(WeightHeavy, 75, 0, big), 1e-9)
	assert.InDelta(t, 0.8, RemoteScore(WeightHeavy, 75, 0, small), 1e-9)
	assert.InDelta(t, 0.2, RemoteScore(WeightGPU, 0, 1, big), 1e-9)
}

// =============================================================================
// Strategies
// =============================================================================

func TestBestFit_PrefersLocalForLightSkill(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "uppercase", nil)

	res, err := f.router.Execute(context.Background(), Task{SkillID: "uppercase", Strategy: StrategyBestFit})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)
	assert.Equal(t, LocationLocal, res.Location)
	assert.Equal(t, WeightLight, res.Weight)
	assert.False(t, res.Fallback)
	assert.Empty(t, f.delegator.requests())
}

func TestBestFit_PrefersRemoteWhenLocalIsBusy(t *testing.T) {
	mon := newFakeMonitor()
	mon.loads["dev-a"] = 0.9
	f := newFixture(t, nil, mon, remoteDevice("dev-b", 70, false))
	f.addLocal(t, "transcode", nil)

	res, err := f.router.Execute(context.Background(), Task{SkillID: "transcode", Strategy: StrategyBestFit})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn)
	assert.Equal(t, "dev-b", res.DeviceID)

	reqs := f.delegator.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "peer-dev-b", reqs[0].PeerID)
	assert.Equal(t, res.TaskID, reqs[0].TaskID)
}

func TestBestFit_RatioIsConfigurable(t *testing.T) {
	// medium skill: local 0.5 against remote 0.75 gives a ratio of 0.67.
	mon := newFakeMonitor()
	mon.loads["dev-a"] = 0.5

	f := newFixture(t, nil, mon, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "sha256", nil)
	res, err := f.router.Execute(context.Background(), Task{SkillID: "sha256"})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn)

	f = newFixture(t, &RouterConfig{BestFitRatio: 0.6}, mon, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "sha256", nil)
	res, err = f.router.Execute(context.Background(), Task{SkillID: "sha256"})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)
}

func TestBestFit_FallsBackOnFailure(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "uppercase", failing)

	res, err := f.router.Execute(context.Background(), Task{SkillID: "uppercase", Strategy: StrategyBestFit})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn)
	assert.True(t, res.Fallback)
	assert.JSONEq(t, `"remote"`, string(res.Output))

	hist := f.router.History()
	require.Len(t, hist, 2)
	assert.False(t, hist[0].Success)
	assert.Equal(t, LocationLocal, hist[0].Location)
	assert.Contains(t, hist[0].Error, "local failure")
	assert.True(t, hist[1].Success)
	assert.True(t, hist[1].Fallback)

	stats := f.router.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, 1, stats.Local)
	assert.Equal(t, 1, stats.Remote)
	assert.Equal(t, 2, stats.ByStrategy[StrategyBestFit])
}

func TestBestFit_OnlyOneSideAvailable(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.addLocal(t, "sha256", nil)
	res, err := f.router.Execute(context.Background(), Task{SkillID: "sha256"})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)

	f = newFixture(t, nil, nil, remoteDevice("dev-b", 50, false))
	res, err = f.router.Execute(context.Background(), Task{SkillID: "sha256"})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn)

	f = newFixture(t, nil, nil)
	_, err = f.router.Execute(context.Background(), Task{SkillID: "sha256"})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate))
}

func TestLocalOnly(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))

	_, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate), "remote peers are never used")

	f.addLocal(t, "echo", failing)
	_, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFailed))
	assert.Empty(t, f.delegator.requests(), "no fallback without a fallback strategy")
}

func TestRemoteOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.addLocal(t, "echo", nil)

	_, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate))

	f = newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)
	f.delegator.fn = func(req handoff.DelegateRequest) (*handoff.Outcome, error) {
		err := types.NewError(types.ErrDelegationRejected, "skill unavailable")
		return &handoff.Outcome{TaskID: req.TaskID, Status: handoff.StatusRejected, Err: err}, err
	}
	_, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrDelegationRejected))
	assert.Equal(t, 1, f.router.Stats().Total, "the local skill is not tried")
}

func TestRemoteOnly_UsesMonitorSuggestion(t *testing.T) {
	mon := newFakeMonitor()
	mon.suggest = "dev-c"
	f := newFixture(t, nil, mon, remoteDevice("dev-b", 75, false), remoteDevice("dev-c", 40, false))

	res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteOnly})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-c", res.ExecutedOn)

	mon.suggest = ""
	_, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate), "no eligible agent means no candidate")
}

func TestLocalFirst(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)

	res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalFirst})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)

	f = newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", failing)
	f.delegator.fn = func(req handoff.DelegateRequest) (*handoff.Outcome, error) {
		err := types.NewError(types.ErrDelegationTimeout, "no answer")
		return &handoff.Outcome{TaskID: req.TaskID, Status: handoff.StatusTimedOut, Err: err}, err
	}
	_, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalFirst})
	assert.True(t, types.IsErrorCode(err, types.ErrDelegationTimeout), "the final failure is surfaced")
	assert.Equal(t, 2, f.router.Stats().Failures)
}

func TestRemoteFirst(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 10, false))
	f.addLocal(t, "echo", nil)

	res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteFirst})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn)

	f.delegator.fn = func(handoff.DelegateRequest) (*handoff.Outcome, error) {
		return nil, types.NewError(types.ErrSendFailed, "link down")
	}
	res, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyRemoteFirst})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)
	assert.True(t, res.Fallback)
}

func TestLoadBalanced_RotatesByRecentExecutions(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)

	var got []string
	for i := 0; i < 4; i++ {
		res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLoadBalanced})
		require.NoError(t, err)
		got = append(got, res.ExecutedOn)
	}
	assert.Equal(t, []string{"local", "remote:dev-b", "local", "remote:dev-b"}, got)
}

func TestLoadBalanced_WindowForgetsOldExecutions(t *testing.T) {
	f := newFixture(t, &RouterConfig{LoadBalanceWindow: time.Minute}, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.router.now = func() time.Time { return now }

	res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLoadBalanced})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)

	now = now.Add(2 * time.Minute)
	res, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLoadBalanced})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)
}

func TestLoadBalanced_NoFallback(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", failing)

	_, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLoadBalanced})
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFailed))
	assert.Empty(t, f.delegator.requests())
}

func TestExecute_TimeoutAppliesPerCall(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.addLocal(t, "slow", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := f.router.Execute(context.Background(), Task{SkillID: "slow", Strategy: StrategyLocalOnly, Timeout: 30 * time.Millisecond})
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_SheddingRefusesRemoteOnly(t *testing.T) {
	mon := newFakeMonitor()
	mon.shedding = true
	mon.suggest = "dev-b"
	f := newFixture(t, nil, mon, remoteDevice("dev-b", 75, false))

	for _, strategy := range []Strategy{StrategyRemoteOnly, StrategyRemoteFirst, StrategyBestFit, StrategyLoadBalanced} {
		_, err := f.router.Execute(context.Background(), Task{SkillID: "sha256", Strategy: strategy})
		assert.True(t, types.IsErrorCode(err, types.ErrLoadShedding), "strategy %s: %v", strategy, err)
	}
	assert.Empty(t, f.delegator.requests())
	assert.Zero(t, f.router.Stats().Total)
}

func TestExecute_SheddingStillRunsLocally(t *testing.T) {
	mon := newFakeMonitor()
	mon.shedding = true
	mon.suggest = "dev-b"
	f := newFixture(t, nil, mon, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)

	for _, strategy := range []Strategy{StrategyLocalOnly, StrategyLocalFirst, StrategyRemoteFirst, StrategyBestFit, StrategyLoadBalanced} {
		res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: strategy})
		require.NoError(t, err, "strategy %s", strategy)
		assert.Equal(t, "local", res.ExecutedOn, "strategy %s", strategy)
		assert.False(t, res.Fallback)
	}
	assert.Empty(t, f.delegator.requests())

	// a local failure has no remote to fall back to
	f.addLocal(t, "sha256", failing)
	_, err := f.router.Execute(context.Background(), Task{SkillID: "sha256", Strategy: StrategyLocalFirst})
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFailed), "%v", err)
	assert.Empty(t, f.delegator.requests())

	// local-only without the skill is still NO_CANDIDATE
	_, err = f.router.Execute(context.Background(), Task{SkillID: "resize", Strategy: StrategyLocalOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate))
}

func TestExecute_GPUSkillsNeedAGPUPeer(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("cpu-only", 75, false))
	_, err := f.router.Execute(context.Background(), Task{SkillID: "embed", Strategy: StrategyRemoteOnly})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate))

	f = newFixture(t, nil, nil, remoteDevice("cpu-only", 75, false), remoteDevice("gpu-box", 30, true))
	res, err := f.router.Execute(context.Background(), Task{SkillID: "embed", Strategy: StrategyRemoteOnly})
	require.NoError(t, err)
	assert.Equal(t, "remote:gpu-box", res.ExecutedOn)
	assert.Equal(t, WeightGPU, res.Weight)
}

func TestExecute_RequirementsFilterCandidates(t *testing.T) {
	f := newFixture(t, nil, nil, remoteDevice("dev-b", 75, false))
	_, err := f.router.Execute(context.Background(), Task{
		SkillID:      "echo",
		Requirements: discovery.Requirements{MustBeLocal: true},
	})
	assert.True(t, types.IsErrorCode(err, types.ErrNoCandidate))

	f.addLocal(t, "echo", nil)
	res, err := f.router.Execute(context.Background(), Task{
		SkillID:      "echo",
		Strategy:     StrategyLocalFirst,
		Requirements: discovery.Requirements{MinCPU: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, "remote:dev-b", res.ExecutedOn, "the 4-cpu local device does not qualify")
}

func TestExecute_InvalidTask(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.router.Execute(context.Background(), Task{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))

	_, err = f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: "random"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))
}

func TestExecute_FeedsMonitor(t *testing.T) {
	mon := newFakeMonitor()
	mon.suggest = "dev-b"
	f := newFixture(t, nil, mon, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", failing)

	_, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalFirst})
	require.NoError(t, err)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	assert.Equal(t, []string{"dev-a", "dev-b"}, mon.started)
	assert.Equal(t, map[string]bool{"dev-a": false, "dev-b": true}, mon.ended)
}

func TestHistory_IsBounded(t *testing.T) {
	f := newFixture(t, &RouterConfig{HistorySize: 3}, nil)
	f.addLocal(t, "echo", nil)

	var ids []string
	for i := 0; i < 5; i++ {
		res, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLocalOnly})
		require.NoError(t, err)
		ids = append(ids, res.TaskID)
	}

	hist := f.router.History()
	require.Len(t, hist, 3)
	assert.Equal(t, ids[2:], []string{hist[0].TaskID, hist[1].TaskID, hist[2].TaskID})
	assert.Equal(t, 3, f.router.Stats().Total)
}

func TestRouter_ConcurrentExecute(t *testing.T) {
	f := newFixture(t, &RouterConfig{HistorySize: 50}, nil, remoteDevice("dev-b", 75, false))
	f.addLocal(t, "echo", nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := f.router.Execute(context.Background(), Task{SkillID: "echo", Strategy: StrategyLoadBalanced})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := f.router.Stats()
	assert.Equal(t, 50, stats.Total)
	assert.Zero(t, stats.Failures)
}
