package loadmonitor

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/internal/metrics"
	"github.com/BaSui01/skillmesh/types"
)

// Limits are the values at which each load component saturates.
type Limits struct {
	MaxTasks      int     `json:"max_tasks" yaml:"max_tasks"`
	MaxQueueDepth int     `json:"max_queue_depth" yaml:"max_queue_depth"`
	MaxResponseMs float64 `json:"max_response_ms" yaml:"max_response_ms"`
}

// MonitorConfig configures the load monitor. Out-of-range values are
// clamped, never rejected.
type MonitorConfig struct {
	Weights Weights `json:"weights" yaml:"weights"`
	Limits  Limits  `json:"limits" yaml:"limits"`

	// OverloadThreshold marks an agent overloaded (degraded) at or above it.
	OverloadThreshold float64 `json:"overload_threshold" yaml:"overload_threshold"`

	// SystemOverloadThreshold activates shedding when the average load reaches it.
	SystemOverloadThreshold float64 `json:"system_overload_threshold" yaml:"system_overload_threshold"`

	// RecoveryRatio releases shedding below SystemOverloadThreshold*RecoveryRatio.
	RecoveryRatio float64 `json:"recovery_ratio" yaml:"recovery_ratio"`

	// UnderloadThreshold marks an agent underloaded below it.
	UnderloadThreshold float64 `json:"underload_threshold" yaml:"underload_threshold"`

	// HeartbeatInterval is the expected report period. No report for 3x
	// this interval makes an agent unresponsive.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// CheckInterval is the period of the liveness and rebalance sweep.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// Smoothing is the EMA factor for response time and error rate.
	Smoothing float64 `json:"smoothing" yaml:"smoothing"`

	MaxMigrationLog int           `json:"max_migration_log" yaml:"max_migration_log"`
	StoreTimeout    time.Duration `json:"store_timeout" yaml:"store_timeout"`
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Weights:                 DefaultWeights(),
		Limits:                  Limits{MaxTasks: 10, MaxQueueDepth: 20, MaxResponseMs: 5000},
		OverloadThreshold:       0.8,
		SystemOverloadThreshold: 0.9,
		RecoveryRatio:           0.8,
		UnderloadThreshold:      0.3,
		HeartbeatInterval:       30 * time.Second,
		CheckInterval:           10 * time.Second,
		Smoothing:               0.2,
		MaxMigrationLog:         1000,
		StoreTimeout:            2 * time.Second,
	}
}

func (c *MonitorConfig) normalize() {
	def := DefaultMonitorConfig()
	c.Weights = c.Weights.Normalized()

	if c.Limits.MaxTasks <= 0 {
		c.Limits.MaxTasks = def.Limits.MaxTasks
	}
	if c.Limits.MaxQueueDepth <= 0 {
		c.Limits.MaxQueueDepth = def.Limits.MaxQueueDepth
	}
	if c.Limits.MaxResponseMs <= 0 {
		c.Limits.MaxResponseMs = def.Limits.MaxResponseMs
	}
	c.OverloadThreshold = clampThreshold(c.OverloadThreshold, def.OverloadThreshold)
	c.SystemOverloadThreshold = clampThreshold(c.SystemOverloadThreshold, def.SystemOverloadThreshold)
	c.RecoveryRatio = clampThreshold(c.RecoveryRatio, def.RecoveryRatio)
	c.UnderloadThreshold = clampThreshold(c.UnderloadThreshold, def.UnderloadThreshold)
	if c.UnderloadThreshold >= c.OverloadThreshold {
		c.UnderloadThreshold = c.OverloadThreshold / 2
	}
	c.Smoothing = clampThreshold(c.Smoothing, def.Smoothing)

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.MaxMigrationLog <= 0 {
		c.MaxMigrationLog = def.MaxMigrationLog
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
}

// clampThreshold keeps v in (0,1]; zero or negative falls back to def.
func clampThreshold(v, def float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return def
	}
	if v > 1 {
		return 1
	}
	return v
}

// ComputeLoadScore is the weighted sum of the four normalized components.
// The result is always within [0,1].
func ComputeLoadScore(r Report, w Weights, l Limits) float64 {
	w = w.Normalized()
	taskLoad := clamp01(float64(r.ActiveTasks) / float64(max(l.MaxTasks, 1)))
	queue := clamp01(float64(r.QueueDepth) / float64(max(l.MaxQueueDepth, 1)))
	response := 0.0
	if l.MaxResponseMs > 0 {
		response = clamp01(r.AvgResponseMs / l.MaxResponseMs)
	}
	score := w.TaskLoad*taskLoad + w.QueueDepth*queue + w.ErrorRate*clamp01(r.ErrorRate) + w.ResponseTime*response
	return clamp01(score)
}

// ClassifyHealth applies the health rules in order: unresponsive, unhealthy,
// degraded, healthy.
func ClassifyHealth(responsive bool, errorRate, loadScore, overloadThreshold float64) HealthStatus {
	switch {
	case !responsive:
		return HealthUnresponsive
	case errorRate > 0.5 || loadScore > 0.95:
		return HealthUnhealthy
	case errorRate > 0.2 || loadScore >= overloadThreshold:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// Monitor tracks per-agent load and system-wide shedding.
type Monitor struct {
	config  *MonitorConfig
	store   MetricsStore
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu         sync.RWMutex
	agents     map[string]*AgentMetrics
	shedding   bool
	migrations []MigrationRecord

	eventHandlers map[string]EventHandler
	handlerMu     sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMonitor creates a load monitor. store and collector may be nil.
func NewMonitor(config *MonitorConfig, store MetricsStore, collector *metrics.Collector, logger *zap.Logger) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	cfg := *config
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		config:        &cfg,
		store:         store,
		metrics:       collector,
		logger:        logger.With(zap.String("component", "load_monitor")),
		now:           time.Now,
		agents:        make(map[string]*AgentMetrics),
		eventHandlers: make(map[string]EventHandler),
		done:          make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (m *Monitor) Config() MonitorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Start restores persisted metrics and starts the sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.restore(ctx)

	m.wg.Add(1)
	go m.checkLoop(ctx)

	m.logger.Info("load monitor started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Float64("overload_threshold", m.config.OverloadThreshold))
	return nil
}

// Close stops the sweep loop. The store is owned by the caller.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

func (m *Monitor) checkLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.Check(m.now())
		}
	}
}

func (m *Monitor) restore(ctx context.Context) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	stored, err := m.store.LoadAll(ctx)
	if err != nil {
		m.logger.Error("restoring agent metrics failed, continuing memory-only", zap.Error(err))
		return
	}

	now := m.now()
	m.mu.Lock()
	restored := 0
	for _, s := range stored {
		if s == nil || s.AgentID == "" {
			continue
		}
		if _, known := m.agents[s.AgentID]; known {
			continue
		}
		cp := *s
		m.recomputeLocked(&cp, now)
		m.agents[cp.AgentID] = &cp
		restored++
	}
	load, shedding, _ := m.updateSystemLocked()
	m.mu.Unlock()

	m.metrics.SetSystemLoad(load, shedding)
	m.logger.Info("agent metrics restored", zap.Int("agents", restored))
}

// =============================================================================
// Ingestion
// =============================================================================

// Report ingests one telemetry sample and returns the updated metrics.
func (m *Monitor) Report(ctx context.Context, agentID string, r Report) (AgentMetrics, error) {
	if agentID == "" {
		return AgentMetrics{}, types.NewError(types.ErrInvalidMessage, "agent id is required")
	}
	now := m.now()

	m.mu.Lock()
	a := m.getOrCreateLocked(agentID, now)
	prev := a.Health
	a.ActiveTasks = max(r.ActiveTasks, 0)
	a.QueueDepth = max(r.QueueDepth, 0)
	a.AvgResponseMs = max(r.AvgResponseMs, 0)
	a.ErrorRate = clamp01(r.ErrorRate)
	a.LastHeartbeat = now
	m.recomputeLocked(a, now)
	snapshot := *a
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.afterUpdate(snapshot, prev, load, shedding, transition)
	m.persist(ctx, snapshot)
	return snapshot, nil
}

// ReportQueueDepth sets only the queue depth of agentID and refreshes its
// heartbeat. Task counters and averages kept by RecordTaskStart and
// RecordTaskEnd are left as they are.
func (m *Monitor) ReportQueueDepth(ctx context.Context, agentID string, depth int) (AgentMetrics, error) {
	if agentID == "" {
		return AgentMetrics{}, types.NewError(types.ErrInvalidMessage, "agent id is required")
	}
	now := m.now()

	m.mu.Lock()
	a := m.getOrCreateLocked(agentID, now)
	prev := a.Health
	a.QueueDepth = max(depth, 0)
	a.LastHeartbeat = now
	m.recomputeLocked(a, now)
	snapshot := *a
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.afterUpdate(snapshot, prev, load, shedding, transition)
	m.persist(ctx, snapshot)
	return snapshot, nil
}

// RecordTaskStart counts a task started on agentID.
func (m *Monitor) RecordTaskStart(agentID string) {
	if agentID == "" {
		return
	}
	now := m.now()

	m.mu.Lock()
	a := m.getOrCreateLocked(agentID, now)
	prev := a.Health
	a.ActiveTasks++
	a.TotalTasks++
	m.recomputeLocked(a, now)
	snapshot := *a
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.afterUpdate(snapshot, prev, load, shedding, transition)
}

// RecordTaskEnd counts a finished task and folds its duration and outcome
// into the response time and error rate averages.
func (m *Monitor) RecordTaskEnd(agentID string, duration time.Duration, success bool) {
	if agentID == "" {
		return
	}
	now := m.now()
	alpha := m.config.Smoothing
	ms := float64(duration) / float64(time.Millisecond)
	failure := 0.0
	if !success {
		failure = 1
	}

	m.mu.Lock()
	a := m.getOrCreateLocked(agentID, now)
	prev := a.Health
	if a.ActiveTasks > 0 {
		a.ActiveTasks--
	}
	if !success {
		a.FailedTasks++
	}
	if a.AvgResponseMs == 0 {
		a.AvgResponseMs = ms
	} else {
		a.AvgResponseMs = alpha*ms + (1-alpha)*a.AvgResponseMs
	}
	a.ErrorRate = clamp01(alpha*failure + (1-alpha)*a.ErrorRate)
	m.recomputeLocked(a, now)
	snapshot := *a
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.afterUpdate(snapshot, prev, load, shedding, transition)

	ctx, cancel := context.WithTimeout(context.Background(), m.config.StoreTimeout)
	defer cancel()
	m.persist(ctx, snapshot)
}

func (m *Monitor) getOrCreateLocked(agentID string, now time.Time) *AgentMetrics {
	a, ok := m.agents[agentID]
	if !ok {
		a = &AgentMetrics{AgentID: agentID, Health: HealthHealthy, LastHeartbeat: now}
		m.agents[agentID] = a
	}
	return a
}

func (m *Monitor) responsive(a *AgentMetrics, now time.Time) bool {
	return now.Sub(a.LastHeartbeat) <= 3*m.config.HeartbeatInterval
}

func (m *Monitor) recomputeLocked(a *AgentMetrics, now time.Time) {
	a.LoadScore = ComputeLoadScore(Report{
		ActiveTasks:   a.ActiveTasks,
		QueueDepth:    a.QueueDepth,
		AvgResponseMs: a.AvgResponseMs,
		ErrorRate:     a.ErrorRate,
	}, m.config.Weights, m.config.Limits)
	a.Health = ClassifyHealth(m.responsive(a, now), a.ErrorRate, a.LoadScore, m.config.OverloadThreshold)
	a.UpdatedAt = now
}

// updateSystemLocked recomputes the average load and applies the shedding
// hysteresis. transition is +1 when shedding starts and -1 when it stops.
func (m *Monitor) updateSystemLocked() (load float64, shedding bool, transition int) {
	load = m.systemLoadLocked()
	switch {
	case !m.shedding && load >= m.config.SystemOverloadThreshold:
		m.shedding = true
		transition = 1
	case m.shedding && load < m.config.SystemOverloadThreshold*m.config.RecoveryRatio:
		m.shedding = false
		transition = -1
	}
	return load, m.shedding, transition
}

func (m *Monitor) systemLoadLocked() float64 {
	if len(m.agents) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range m.agents {
		sum += a.LoadScore
	}
	return sum / float64(len(m.agents))
}

func (m *Monitor) afterUpdate(a AgentMetrics, prev HealthStatus, load float64, shedding bool, transition int) {
	m.metrics.SetAgentLoad(a.AgentID, a.LoadScore)
	m.metrics.SetSystemLoad(load, shedding)
	now := a.UpdatedAt

	if prev != a.Health {
		m.emitEvent(&Event{Type: EventHealthChanged, AgentID: a.AgentID, Health: a.Health, Previous: prev, SystemLoad: load, Timestamp: now})
	}
	switch transition {
	case 1:
		m.logger.Warn("system overloaded, shedding new assignments",
			zap.Float64("system_load", load),
			zap.Float64("threshold", m.config.SystemOverloadThreshold))
		m.emitEvent(&Event{Type: EventSheddingStarted, SystemLoad: load, Timestamp: now})
	case -1:
		m.logger.Info("system load recovered, shedding released", zap.Float64("system_load", load))
		m.emitEvent(&Event{Type: EventSheddingStopped, SystemLoad: load, Timestamp: now})
	}
}

func (m *Monitor) persist(ctx context.Context, snapshots ...AgentMetrics) {
	if m.store == nil {
		return
	}
	for i := range snapshots {
		if err := m.store.Save(ctx, &snapshots[i]); err != nil {
			m.logger.Error("persisting agent metrics failed",
				zap.String("agent_id", snapshots[i].AgentID),
				zap.Error(err))
		}
	}
}

// =============================================================================
// Decisions
// =============================================================================

// SuggestAssignment returns the least loaded eligible agent. It rejects
// outright while shedding is active. Unresponsive and unhealthy agents are
// never suggested; candidates without metrics yet count as idle.
func (m *Monitor) SuggestAssignment(req AssignmentRequest) (Assignment, error) {
	now := m.now()

	m.mu.RLock()
	if m.shedding {
		load := m.systemLoadLocked()
		m.mu.RUnlock()
		m.logger.Debug("assignment rejected by load shedding",
			zap.String("task_id", req.TaskID),
			zap.Float64("system_load", load))
		return Assignment{Rejected: true, Reason: "load shedding active"},
			types.Errorf(types.ErrLoadShedding, "load shedding active (system load %.2f)", load)
	}

	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates = make([]string, 0, len(m.agents))
		for id := range m.agents {
			candidates = append(candidates, id)
		}
	}

	best := ""
	bestScore := 0.0
	for _, id := range candidates {
		score := 0.0
		if a, ok := m.agents[id]; ok {
			health := a.Health
			if !m.responsive(a, now) {
				health = HealthUnresponsive
			}
			if health == HealthUnresponsive || health == HealthUnhealthy {
				continue
			}
			score = a.LoadScore
		}
		if best == "" || score < bestScore || (score == bestScore && id < best) {
			best, bestScore = id, score
		}
	}
	threshold := m.config.OverloadThreshold
	m.mu.RUnlock()

	if best == "" {
		return Assignment{Reason: "no agents available"},
			types.NewError(types.ErrNoAgents, "no healthy agent available")
	}

	out := Assignment{AgentID: best, LoadScore: bestScore}
	if bestScore >= threshold {
		out.Overloaded = true
		out.Reason = "least loaded agent is above the overload threshold"
		m.logger.Warn("assigning to an overloaded agent",
			zap.String("agent_id", best),
			zap.Float64("load_score", bestScore))
	}
	return out, nil
}

// MigrateTask moves one task's accounting from one agent to another. It
// fails without side effects when the target is at or above the overload
// threshold. Execution itself is not moved.
func (m *Monitor) MigrateTask(taskID, from, to string) (MigrationRecord, error) {
	if from == to {
		return MigrationRecord{}, types.NewError(types.ErrInvalidMessage, "source and target are the same agent")
	}
	now := m.now()

	m.mu.Lock()
	src, okSrc := m.agents[from]
	dst, okDst := m.agents[to]
	if !okSrc || !okDst {
		m.mu.Unlock()
		return MigrationRecord{}, types.Errorf(types.ErrNoAgents, "unknown agent in migration %s -> %s", from, to)
	}
	if dst.LoadScore >= m.config.OverloadThreshold {
		score := dst.LoadScore
		m.mu.Unlock()
		return MigrationRecord{}, types.Errorf(types.ErrTargetOverloaded,
			"target overloaded: %s at %.2f (threshold %.2f)", to, score, m.config.OverloadThreshold)
	}

	prevSrc, prevDst := src.Health, dst.Health
	if src.ActiveTasks > 0 {
		src.ActiveTasks--
	}
	dst.ActiveTasks++
	m.recomputeLocked(src, now)
	m.recomputeLocked(dst, now)

	if taskID == "" {
		taskID = uuid.NewString()
	}
	rec := MigrationRecord{TaskID: taskID, From: from, To: to, FromScore: src.LoadScore, ToScore: dst.LoadScore, At: now}
	m.migrations = append(m.migrations, rec)
	if over := len(m.migrations) - m.config.MaxMigrationLog; over > 0 {
		m.migrations = append([]MigrationRecord(nil), m.migrations[over:]...)
	}
	srcSnap, dstSnap := *src, *dst
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.afterUpdate(srcSnap, prevSrc, load, shedding, 0)
	m.afterUpdate(dstSnap, prevDst, load, shedding, transition)
	m.logger.Info("task migrated",
		zap.String("task_id", taskID),
		zap.String("from", from),
		zap.String("to", to))
	m.emitEvent(&Event{Type: EventTaskMigrated, AgentID: to, SystemLoad: load, Migration: &rec, Timestamp: now})

	ctx, cancel := context.WithTimeout(context.Background(), m.config.StoreTimeout)
	defer cancel()
	m.persist(ctx, srcSnap, dstSnap)
	return rec, nil
}

// Check marks agents silent for more than 3x the heartbeat interval as
// unresponsive and computes an advisory rebalance suggestion, which is
// returned when both overloaded and underloaded agents exist.
func (m *Monitor) Check(now time.Time) *RebalanceSuggestion {
	type change struct {
		id   string
		prev HealthStatus
	}
	var lost []change
	var overloaded, underloaded []string

	m.mu.Lock()
	for id, a := range m.agents {
		if a.Health != HealthUnresponsive && !m.responsive(a, now) {
			lost = append(lost, change{id: id, prev: a.Health})
			a.Health = HealthUnresponsive
			a.UpdatedAt = now
			continue
		}
		if a.Health == HealthUnresponsive {
			continue
		}
		switch {
		case a.LoadScore >= m.config.OverloadThreshold:
			overloaded = append(overloaded, id)
		case a.LoadScore < m.config.UnderloadThreshold:
			underloaded = append(underloaded, id)
		}
	}
	load := m.systemLoadLocked()
	m.mu.Unlock()

	for _, c := range lost {
		m.logger.Warn("agent unresponsive",
			zap.String("agent_id", c.id),
			zap.Duration("silence_limit", 3*m.config.HeartbeatInterval))
		m.emitEvent(&Event{Type: EventAgentUnresponsive, AgentID: c.id, Health: HealthUnresponsive, Previous: c.prev, SystemLoad: load, Timestamp: now})
	}

	if len(overloaded) == 0 || len(underloaded) == 0 {
		return nil
	}
	sort.Strings(overloaded)
	sort.Strings(underloaded)
	s := &RebalanceSuggestion{Overloaded: overloaded, Underloaded: underloaded, SystemLoad: load, At: now}
	m.logger.Info("rebalance suggested",
		zap.Strings("overloaded", overloaded),
		zap.Strings("underloaded", underloaded))
	m.emitEvent(&Event{Type: EventRebalanceSuggested, SystemLoad: load, Rebalance: s, Timestamp: now})
	return s
}

// SetWeights replaces the score weights, clamped and normalized, and
// rescores every agent.
func (m *Monitor) SetWeights(w Weights) Weights {
	now := m.now()

	m.mu.Lock()
	m.config.Weights = w.Normalized()
	applied := m.config.Weights
	for _, a := range m.agents {
		m.recomputeLocked(a, now)
	}
	load, shedding, transition := m.updateSystemLocked()
	m.mu.Unlock()

	m.metrics.SetSystemLoad(load, shedding)
	if transition != 0 {
		m.afterUpdate(AgentMetrics{UpdatedAt: now}, "", load, shedding, transition)
	}
	return applied
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a copy of an agent's metrics.
func (m *Monitor) Get(agentID string) (AgentMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[agentID]
	if !ok {
		return AgentMetrics{}, false
	}
	return *a, true
}

// LoadScore returns an agent's score, 0 for unknown agents.
func (m *Monitor) LoadScore(agentID string) float64 {
	a, _ := m.Get(agentID)
	return a.LoadScore
}

// Agents returns every agent's metrics ordered by ID.
func (m *Monitor) Agents() []AgentMetrics {
	m.mu.RLock()
	out := make([]AgentMetrics, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SystemLoad returns the average load score of all known agents.
func (m *Monitor) SystemLoad() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemLoadLocked()
}

// IsShedding reports whether new assignments are being rejected.
func (m *Monitor) IsShedding() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shedding
}

// Migrations returns the migration audit log, oldest first.
func (m *Monitor) Migrations() []MigrationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MigrationRecord(nil), m.migrations...)
}

// Stats returns a snapshot summary.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byHealth := make(map[HealthStatus]int)
	for _, a := range m.agents {
		byHealth[a.Health]++
	}
	return MonitorStats{
		Agents:     len(m.agents),
		ByHealth:   byHealth,
		SystemLoad: m.systemLoadLocked(),
		Shedding:   m.shedding,
		Migrations: len(m.migrations),
	}
}

// =============================================================================
// Events
// =============================================================================

// Subscribe subscribes to monitor events.
func (m *Monitor) Subscribe(handler EventHandler) string {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	id := "sub-" + uuid.NewString()
	m.eventHandlers[id] = handler
	return id
}

// Unsubscribe unsubscribes from monitor events.
func (m *Monitor) Unsubscribe(subscriptionID string) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	delete(m.eventHandlers, subscriptionID)
}

func (m *Monitor) emitEvent(event *Event) {
	m.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(m.eventHandlers))
	for _, h := range m.eventHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
