package loadmonitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, cfg *MonitorConfig, store MetricsStore) (*Monitor, *clock) {
	t.Helper()
	m := NewMonitor(cfg, store, nil, zap.NewNop())
	c := &clock{now: t0}
	m.now = c.Now
	return m, c
}

// eventSink collects events emitted on separate goroutines.
type eventSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *eventSink) handle(e *Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *eventSink) ofType(typ EventType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, typ EventType, n int) []*Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.ofType(typ)) >= n }, time.Second, 5*time.Millisecond)
	return s.ofType(typ)
}

func report(t *testing.T, m *Monitor, id string, r Report) AgentMetrics {
	t.Helper()
	got, err := m.Report(context.Background(), id, r)
	require.NoError(t, err)
	return got
}

var (
	idle       = Report{}
	busy       = Report{ActiveTasks: 10, QueueDepth: 20, AvgResponseMs: 5000}                  // 0.8
	overloaded = Report{ActiveTasks: 10, QueueDepth: 20, AvgResponseMs: 5000, ErrorRate: 0.25} // 0.85
	saturated  = Report{ActiveTasks: 10, QueueDepth: 20, AvgResponseMs: 5000, ErrorRate: 1}    // 1.0
	moderate   = Report{ActiveTasks: 10, QueueDepth: 10}                                       // 0.55
)

func TestComputeLoadScore(t *testing.T) {
	w := DefaultWeights()
	l := DefaultMonitorConfig().Limits

	tests := []struct {
		name string
		in   Report
		want float64
	}{
		{"idle", idle, 0},
		{"half tasks", Report{ActiveTasks: 5}, 0.2},
		{"full queue", Report{QueueDepth: 20}, 0.3},
		{"errors only", Report{ErrorRate: 1}, 0.2},
		{"slow only", Report{AvgResponseMs: 2500}, 0.05},
		{"busy", busy, 0.8},
		{"overloaded", overloaded, 0.85},
		{"saturated", saturated, 1},
		{"beyond limits clamps", Report{ActiveTasks: 100, QueueDepth: 500, AvgResponseMs: 1e6, ErrorRate: 7}, 1},
		{"negative inputs clamp", Report{ActiveTasks: -3, QueueDepth: -1, AvgResponseMs: -10, ErrorRate: -1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeLoadScore(tt.in, w, l), 1e-9)
		})
	}
}

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		name       string
		responsive bool
		errorRate  float64
		load       float64
		want       HealthStatus
	}{
		{"silent wins over everything", false, 0, 0, HealthUnresponsive},
		{"error rate above half", true, 0.6, 0.1, HealthUnhealthy},
		{"load above 0.95", true, 0, 0.97, HealthUnhealthy},
		{"error rate above 0.2", true, 0.25, 0.1, HealthDegraded},
		{"load at threshold", true, 0, 0.8, HealthDegraded},
		{"healthy", true, 0.1, 0.5, HealthHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHealth(tt.responsive, tt.errorRate, tt.load, 0.8))
		})
	}
}

func TestHealthStatus_WorseThan(t *testing.T) {
	assert.True(t, HealthDegraded.WorseThan(HealthHealthy))
	assert.True(t, HealthUnresponsive.WorseThan(HealthUnhealthy))
	assert.False(t, HealthHealthy.WorseThan(HealthHealthy))
	assert.False(t, HealthDegraded.WorseThan(HealthUnhealthy))
}

func TestMonitorConfig_Normalize(t *testing.T) {
	m := NewMonitor(&MonitorConfig{
		Weights:                 Weights{TaskLoad: 2, QueueDepth: -1},
		OverloadThreshold:       1.5,
		SystemOverloadThreshold: -1,
		UnderloadThreshold:      0.9,
	}, nil, nil, nil)
	cfg := m.Config()

	assert.InDelta(t, 1.0, cfg.Weights.TaskLoad, 1e-9)
	assert.Zero(t, cfg.Weights.QueueDepth)
	assert.Equal(t, 1.0, cfg.OverloadThreshold)
	assert.Equal(t, 0.9, cfg.SystemOverloadThreshold)
	assert.Equal(t, 0.5, cfg.UnderloadThreshold)
	assert.Equal(t, 10, cfg.Limits.MaxTasks)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 1000, cfg.MaxMigrationLog)
}

func TestMonitor_ReportRequiresAgentID(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	_, err := m.Report(context.Background(), "", idle)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))
}

func TestMonitor_ReportScoresAndClassifies(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	got := report(t, m, "a", overloaded)
	assert.InDelta(t, 0.85, got.LoadScore, 1e-9)
	assert.Equal(t, HealthDegraded, got.Health)
	assert.Equal(t, t0, got.LastHeartbeat)

	changed := sink.waitFor(t, EventHealthChanged, 1)
	assert.Equal(t, HealthHealthy, changed[0].Previous)
	assert.Equal(t, HealthDegraded, changed[0].Health)

	assert.InDelta(t, 0.85, m.LoadScore("a"), 1e-9)
	assert.Zero(t, m.LoadScore("unknown"))
}

func TestMonitor_RecordTaskLifecycle(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	m.RecordTaskStart("a")
	m.RecordTaskStart("a")
	a, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, a.ActiveTasks)
	assert.Equal(t, int64(2), a.TotalTasks)
	assert.InDelta(t, 0.08, a.LoadScore, 1e-9)

	m.RecordTaskEnd("a", 100*time.Millisecond, true)
	a, _ = m.Get("a")
	assert.Equal(t, 1, a.ActiveTasks)
	assert.InDelta(t, 100, a.AvgResponseMs, 1e-9)
	assert.Zero(t, a.ErrorRate)

	// Second sample is smoothed: 0.2*600 + 0.8*100.
	m.RecordTaskEnd("a", 600*time.Millisecond, false)
	a, _ = m.Get("a")
	assert.Zero(t, a.ActiveTasks)
	assert.Equal(t, int64(1), a.FailedTasks)
	assert.InDelta(t, 200, a.AvgResponseMs, 1e-9)
	assert.InDelta(t, 0.2, a.ErrorRate, 1e-9)

	m.RecordTaskEnd("a", time.Millisecond, true)
	a, _ = m.Get("a")
	assert.Zero(t, a.ActiveTasks, "active tasks never go negative")

	m.RecordTaskStart("")
	assert.Len(t, m.Agents(), 1)
}

func TestMonitor_SuggestAssignment(t *testing.T) {
	m, c := newTestMonitor(t, nil, nil)

	report(t, m, "a", moderate)
	report(t, m, "b", Report{ActiveTasks: 2})
	report(t, m, "c", Report{ActiveTasks: 2})
	report(t, m, "sick", Report{ErrorRate: 0.9})

	got, err := m.SuggestAssignment(AssignmentRequest{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "b", got.AgentID, "ties break on the lower id")
	assert.InDelta(t, 0.08, got.LoadScore, 1e-9)
	assert.False(t, got.Overloaded)

	got, err = m.SuggestAssignment(AssignmentRequest{Candidates: []string{"a", "sick"}})
	require.NoError(t, err)
	assert.Equal(t, "a", got.AgentID, "unhealthy agents are never suggested")

	got, err = m.SuggestAssignment(AssignmentRequest{Candidates: []string{"a", "fresh"}})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.AgentID, "agents without metrics count as idle")

	// b and c go silent.
	c.Set(t0.Add(60 * time.Second))
	report(t, m, "a", moderate)
	c.Set(t0.Add(95 * time.Second))
	got, err = m.SuggestAssignment(AssignmentRequest{Candidates: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "a", got.AgentID)
}

func TestMonitor_SuggestAssignment_NoAgents(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	_, err := m.SuggestAssignment(AssignmentRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrNoAgents))

	report(t, m, "sick", Report{ErrorRate: 0.9})
	got, err := m.SuggestAssignment(AssignmentRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrNoAgents))
	assert.Empty(t, got.AgentID)
}

func TestMonitor_SuggestAssignment_FlagsOverloadedChoice(t *testing.T) {
	m, _ := newTestMonitor(t, &MonitorConfig{SystemOverloadThreshold: 1}, nil)

	report(t, m, "a", overloaded)
	got, err := m.SuggestAssignment(AssignmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", got.AgentID)
	assert.True(t, got.Overloaded)
	assert.NotEmpty(t, got.Reason)
}

func TestMonitor_SheddingHysteresis(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "a", saturated)
	assert.True(t, m.IsShedding())
	sink.waitFor(t, EventSheddingStarted, 1)

	got, err := m.SuggestAssignment(AssignmentRequest{TaskID: "t1"})
	assert.True(t, types.IsErrorCode(err, types.ErrLoadShedding))
	assert.True(t, types.IsRetryable(err))
	assert.True(t, got.Rejected)
	assert.Empty(t, got.AgentID)

	// 0.8 is below the activation threshold but above the release point.
	report(t, m, "a", busy)
	assert.True(t, m.IsShedding())
	_, err = m.SuggestAssignment(AssignmentRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrLoadShedding))

	report(t, m, "a", moderate)
	assert.False(t, m.IsShedding())
	sink.waitFor(t, EventSheddingStopped, 1)

	got, err = m.SuggestAssignment(AssignmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", got.AgentID)
	assert.Len(t, sink.ofType(EventSheddingStarted), 1)
}

func TestMonitor_SystemLoadIsMean(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	assert.Zero(t, m.SystemLoad())
	report(t, m, "a", saturated)
	report(t, m, "b", idle)
	assert.InDelta(t, 0.5, m.SystemLoad(), 1e-9)
	assert.False(t, m.IsShedding())
}

func TestMonitor_MigrateTask_RejectsOverloadedTarget(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	report(t, m, "src", Report{ActiveTasks: 4})
	report(t, m, "dst", overloaded)
	before := m.Agents()

	_, err := m.MigrateTask("t1", "src", "dst")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTargetOverloaded))
	assert.Contains(t, err.Error(), "0.85")

	assert.Equal(t, before, m.Agents(), "a refused migration changes nothing")
	assert.Empty(t, m.Migrations())
}

func TestMonitor_MigrateTask(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "src", Report{ActiveTasks: 4})
	report(t, m, "dst", Report{ActiveTasks: 1})

	rec, err := m.MigrateTask("t1", "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TaskID)
	assert.InDelta(t, 0.12, rec.FromScore, 1e-9)
	assert.InDelta(t, 0.08, rec.ToScore, 1e-9)

	src, _ := m.Get("src")
	dst, _ := m.Get("dst")
	assert.Equal(t, 3, src.ActiveTasks)
	assert.Equal(t, 2, dst.ActiveTasks)

	migrated := sink.waitFor(t, EventTaskMigrated, 1)
	assert.Equal(t, "dst", migrated[0].AgentID)
	require.NotNil(t, migrated[0].Migration)
	assert.Equal(t, "src", migrated[0].Migration.From)

	rec, err = m.MigrateTask("", "src", "dst")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.TaskID, "a task id is generated when missing")

	_, err = m.MigrateTask("t3", "src", "src")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))
	_, err = m.MigrateTask("t3", "src", "ghost")
	assert.True(t, types.IsErrorCode(err, types.ErrNoAgents))
}

func TestMonitor_MigrationLogIsBounded(t *testing.T) {
	m, _ := newTestMonitor(t, &MonitorConfig{MaxMigrationLog: 3}, nil)
	report(t, m, "a", idle)
	report(t, m, "b", idle)

	ids := []string{"t1", "t2", "t3", "t4", "t5"}
	for i, id := range ids {
		from, to := "a", "b"
		if i%2 == 1 {
			from, to = "b", "a"
		}
		_, err := m.MigrateTask(id, from, to)
		require.NoError(t, err)
	}

	log := m.Migrations()
	require.Len(t, log, 3)
	assert.Equal(t, "t3", log[0].TaskID)
	assert.Equal(t, "t5", log[2].TaskID)
	assert.Equal(t, 3, m.Stats().Migrations)
}

func TestMonitor_Check_MarksSilentAgentsUnresponsive(t *testing.T) {
	m, c := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "a", idle)
	c.Set(t0.Add(60 * time.Second))
	report(t, m, "b", idle)

	assert.Nil(t, m.Check(t0.Add(60*time.Second)))
	a, _ := m.Get("a")
	assert.Equal(t, HealthHealthy, a.Health, "two missed heartbeats are tolerated")

	m.Check(t0.Add(95 * time.Second))
	a, _ = m.Get("a")
	assert.Equal(t, HealthUnresponsive, a.Health)
	b, _ := m.Get("b")
	assert.Equal(t, HealthHealthy, b.Health)

	lost := sink.waitFor(t, EventAgentUnresponsive, 1)
	assert.Equal(t, "a", lost[0].AgentID)
	assert.Equal(t, HealthHealthy, lost[0].Previous)

	// Already unresponsive agents are not reported twice.
	m.Check(t0.Add(100 * time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.ofType(EventAgentUnresponsive), 1)

	// A fresh report brings the agent back.
	c.Set(t0.Add(101 * time.Second))
	a = report(t, m, "a", idle)
	assert.Equal(t, HealthHealthy, a.Health)
}

func TestMonitor_Check_SuggestsRebalance(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "hot", overloaded)
	assert.Nil(t, m.Check(t0), "no suggestion without an underloaded agent")

	report(t, m, "cold", idle)
	report(t, m, "warm", moderate)

	s := m.Check(t0)
	require.NotNil(t, s)
	assert.Equal(t, []string{"hot"}, s.Overloaded)
	assert.Equal(t, []string{"cold"}, s.Underloaded)
	assert.InDelta(t, (0.85+0+0.55)/3, s.SystemLoad, 1e-9)

	events := sink.waitFor(t, EventRebalanceSuggested, 1)
	assert.Equal(t, s, events[0].Rebalance)
}

func TestMonitor_SetWeights(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	report(t, m, "a", Report{QueueDepth: 20})
	assert.InDelta(t, 0.3, m.LoadScore("a"), 1e-9)

	applied := m.SetWeights(Weights{TaskLoad: 1, QueueDepth: 3, ErrorRate: -2})
	assert.InDelta(t, 0.25, applied.TaskLoad, 1e-9)
	assert.InDelta(t, 0.75, applied.QueueDepth, 1e-9)
	assert.Zero(t, applied.ErrorRate)
	assert.InDelta(t, 0.75, m.LoadScore("a"), 1e-9, "agents are rescored")

	applied = m.SetWeights(Weights{})
	assert.Equal(t, DefaultWeights(), applied)
}

func TestMonitor_SetWeightsCanStartShedding(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "a", Report{QueueDepth: 20})
	require.False(t, m.IsShedding())

	m.SetWeights(Weights{QueueDepth: 1})
	assert.True(t, m.IsShedding())
	sink.waitFor(t, EventSheddingStarted, 1)
}

func TestMonitor_Stats(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	report(t, m, "a", idle)
	report(t, m, "b", overloaded)
	report(t, m, "c", Report{ErrorRate: 0.9})

	stats := m.Stats()
	assert.Equal(t, 3, stats.Agents)
	assert.Equal(t, 1, stats.ByHealth[HealthHealthy])
	assert.Equal(t, 1, stats.ByHealth[HealthDegraded])
	assert.Equal(t, 1, stats.ByHealth[HealthUnhealthy])
	assert.False(t, stats.Shedding)

	ids := make([]string, 0, 3)
	for _, a := range m.Agents() {
		ids = append(ids, a.AgentID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	sink := &eventSink{}
	id := m.Subscribe(sink.handle)
	m.Unsubscribe(id)

	report(t, m, "a", overloaded)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.ofType(EventHealthChanged))
}

func TestMonitor_PersistsAndRestores(t *testing.T) {
	store := NewMemoryMetricsStore()
	m, _ := newTestMonitor(t, nil, store)

	report(t, m, "a", moderate)
	m.RecordTaskEnd("a", 200*time.Millisecond, false)

	saved, err := store.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.FailedTasks)
	assert.Equal(t, 9, saved.ActiveTasks)

	restored, c := newTestMonitor(t, nil, store)
	c.Set(t0.Add(10 * time.Second))
	require.NoError(t, restored.Start(context.Background()))
	defer restored.Close()

	a, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, 9, a.ActiveTasks)
	assert.Equal(t, int64(1), a.FailedTasks)
	assert.Equal(t, HealthHealthy, a.Health)

	// Records older than the silence limit come back unresponsive.
	stale, c := newTestMonitor(t, nil, store)
	c.Set(t0.Add(10 * time.Minute))
	require.NoError(t, stale.Start(context.Background()))
	defer stale.Close()
	a, _ = stale.Get("a")
	assert.Equal(t, HealthUnresponsive, a.Health)
}

type failingStore struct {
	MemoryMetricsStore
}

func (*failingStore) Save(context.Context, *AgentMetrics) error {
	return errors.New("store down")
}

func (*failingStore) LoadAll(context.Context) ([]*AgentMetrics, error) {
	return nil, errors.New("store down")
}

func TestMonitor_StoreFailuresAreNonFatal(t *testing.T) {
	m, _ := newTestMonitor(t, nil, &failingStore{})

	require.NoError(t, m.Start(context.Background()))
	defer m.Close()

	got := report(t, m, "a", moderate)
	assert.InDelta(t, 0.55, got.LoadScore, 1e-9)
	m.RecordTaskEnd("a", time.Millisecond, true)
	_, ok := m.Get("a")
	assert.True(t, ok)
}

func TestMonitor_CheckLoop(t *testing.T) {
	m, c := newTestMonitor(t, &MonitorConfig{CheckInterval: 10 * time.Millisecond}, nil)
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	report(t, m, "a", idle)
	c.Set(t0.Add(2 * time.Minute))

	require.NoError(t, m.Start(context.Background()))
	sink.waitFor(t, EventAgentUnresponsive, 1)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestMonitor_StopsWithContext(t *testing.T) {
	m, _ := newTestMonitor(t, &MonitorConfig{CheckInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, m.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("check loop did not stop on context cancel")
	}
}

func TestMonitor_ConcurrentUpdates(t *testing.T) {
	m, _ := newTestMonitor(t, nil, NewMemoryMetricsStore())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordTaskStart("a")
				_, _ = m.SuggestAssignment(AssignmentRequest{})
				m.RecordTaskEnd("a", time.Millisecond, j%5 != 0)
				_ = m.Stats()
			}
		}()
	}
	wg.Wait()

	a, _ := m.Get("a")
	assert.Zero(t, a.ActiveTasks)
	assert.Equal(t, int64(400), a.TotalTasks)
	assert.Equal(t, int64(80), a.FailedTasks)
}

func TestMonitor_ReportQueueDepthKeepsTaskCounters(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)

	_, err := m.ReportQueueDepth(context.Background(), "", 1)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))

	m.RecordTaskStart("a")
	m.RecordTaskEnd("a", 100*time.Millisecond, false)
	m.RecordTaskStart("a")

	a, err := m.ReportQueueDepth(context.Background(), "a", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, a.QueueDepth)
	assert.Equal(t, 1, a.ActiveTasks)
	assert.InDelta(t, 100, a.AvgResponseMs, 1e-9)
	assert.InDelta(t, 1, a.ErrorRate, 1e-9)

	a, err = m.ReportQueueDepth(context.Background(), "a", -2)
	require.NoError(t, err)
	assert.Zero(t, a.QueueDepth)
}

func TestMonitor_ReportQueueDepthRacesTaskStart(t *testing.T) {
	m, _ := newTestMonitor(t, nil, NewMemoryMetricsStore())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.RecordTaskStart("a")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = m.ReportQueueDepth(context.Background(), "a", i%4)
		}
	}()
	wg.Wait()

	a, _ := m.Get("a")
	assert.Equal(t, 200, a.ActiveTasks, "queue updates must not overwrite started tasks")
	assert.Equal(t, int64(200), a.TotalTasks)
}
