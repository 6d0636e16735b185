package hybrid

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/handoff"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/internal/ctxkeys"
	"github.com/BaSui01/skillmesh/internal/metrics"
	"github.com/BaSui01/skillmesh/internal/resilience"
	"github.com/BaSui01/skillmesh/types"
)

const instrumentationName = "github.com/BaSui01/skillmesh/agent/hybrid"

// Delegator hands a task to a peer and waits for its outcome.
type Delegator interface {
	DelegateAndWait(ctx context.Context, req handoff.DelegateRequest) (*handoff.Outcome, error)
}

// DeviceSource provides the local profile and ranked devices per skill.
type DeviceSource interface {
	Local() *discovery.DeviceProfile
	FindDevicesForSkill(skillID string) []discovery.Candidate
}

// LoadSource is the part of the load monitor the router consults and feeds.
type LoadSource interface {
	IsShedding() bool
	LoadScore(agentID string) float64
	SuggestAssignment(req loadmonitor.AssignmentRequest) (loadmonitor.Assignment, error)
	RecordTaskStart(agentID string)
	RecordTaskEnd(agentID string, duration time.Duration, success bool)
}

var (
	_ Delegator    = (*handoff.Protocol)(nil)
	_ DeviceSource = (*discovery.Registry)(nil)
	_ LoadSource   = (*loadmonitor.Monitor)(nil)
)

// RouterConfig configures the router.
type RouterConfig struct {
	DefaultStrategy Strategy      `json:"default_strategy" yaml:"default_strategy"`
	DefaultTimeout  time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// BestFitRatio: under best-fit, local wins unless localScore/remoteScore
	// falls below it.
	BestFitRatio float64 `json:"best_fit_ratio" yaml:"best_fit_ratio"`

	HistorySize       int           `json:"history_size" yaml:"history_size"`
	LoadBalanceWindow time.Duration `json:"load_balance_window" yaml:"load_balance_window"`

	// WeightTable overrides the class of individual skills. Unlisted skills are medium.
	WeightTable map[string]WeightClass `json:"weight_table" yaml:"weight_table"`
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		DefaultStrategy:   StrategyBestFit,
		DefaultTimeout:    60 * time.Second,
		BestFitRatio:      0.7,
		HistorySize:       1000,
		LoadBalanceWindow: time.Minute,
		WeightTable:       DefaultWeightTable(),
	}
}

func (c *RouterConfig) normalize() {
	def := DefaultRouterConfig()
	if !c.DefaultStrategy.Valid() {
		c.DefaultStrategy = def.DefaultStrategy
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.BestFitRatio <= 0 || math.IsNaN(c.BestFitRatio) {
		c.BestFitRatio = def.BestFitRatio
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.LoadBalanceWindow <= 0 {
		c.LoadBalanceWindow = def.LoadBalanceWindow
	}

	table := def.WeightTable
	for skill, class := range c.WeightTable {
		if class.Valid() {
			table[skill] = class
		}
	}
	c.WeightTable = table
}

// Dependencies are the collaborators of a Router. Any of them may be nil:
// without Runtime nothing runs locally, without Delegator or Devices nothing
// runs remotely, without Monitor no load is consulted.
type Dependencies struct {
	Runtime   skills.Runtime
	Delegator Delegator
	Devices   DeviceSource
	Monitor   LoadSource
	Metrics   *metrics.Collector
}

// Router decides where a task runs and executes it there.
type Router struct {
	config *RouterConfig
	deps   Dependencies
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	weights map[string]WeightClass
	history *history
}

// NewRouter creates a router.
func NewRouter(config *RouterConfig, deps Dependencies, logger *zap.Logger) *Router {
	if config == nil {
		config = DefaultRouterConfig()
	}
	cfg := *config
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		config:  &cfg,
		deps:    deps,
		tracer:  otel.Tracer(instrumentationName),
		logger:  logger.With(zap.String("component", "hybrid_router")),
		now:     time.Now,
		weights: cfg.WeightTable,
		history: newHistory(cfg.HistorySize),
	}
}

// Config returns the effective configuration.
func (r *Router) Config() RouterConfig {
	return *r.config
}

// Classify returns the weight class of a skill, medium when unlisted.
func (r *Router) Classify(skillID string) WeightClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if class, ok := r.weights[skillID]; ok {
		return class
	}
	return WeightMedium
}

// SetWeightClass overrides the class of one skill.
func (r *Router) SetWeightClass(skillID string, class WeightClass) error {
	if !class.Valid() {
		return types.Errorf(types.ErrInvalidConfig, "unknown weight class %q", class)
	}
	r.mu.Lock()
	r.weights[skillID] = class
	r.mu.Unlock()
	return nil
}

// =============================================================================
// Execution
// =============================================================================

// attempt is one planned execution. A nil device means local.
type attempt struct {
	location Location
	device   *discovery.DeviceProfile
}

// Execute routes and runs one task. Strategies with a fallback retry once on
// the other side before giving up; the others return the first error.
// NO_CANDIDATE means nothing could run the task at all.
func (r *Router) Execute(ctx context.Context, task Task) (*Result, error) {
	if task.SkillID == "" {
		return nil, types.NewError(types.ErrInvalidMessage, "skill id is required")
	}
	strategy := task.Strategy
	if strategy == "" {
		strategy = r.config.DefaultStrategy
	}
	if !strategy.Valid() {
		return nil, types.Errorf(types.ErrInvalidMessage, "unknown strategy %q", strategy)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Timeout <= 0 {
		task.Timeout = r.config.DefaultTimeout
	}
	class := r.Classify(task.SkillID)

	ctx, span := r.tracer.Start(ctx, "mesh.route",
		trace.WithAttributes(
			attribute.String("mesh.task_id", task.ID),
			attribute.String("mesh.skill_id", task.SkillID),
			attribute.String("mesh.strategy", string(strategy)),
			attribute.String("mesh.weight", string(class)),
		))
	defer span.End()

	res, err := r.execute(ctx, task, strategy, class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mesh.executed_on", res.ExecutedOn),
		attribute.Bool("mesh.fallback", res.Fallback),
	)
	return res, nil
}

func (r *Router) execute(ctx context.Context, task Task, strategy Strategy, class WeightClass) (*Result, error) {
	plan, err := r.plan(task, strategy, class)
	if err != nil {
		return nil, err
	}

	start := r.now()
	out, err := r.run(ctx, task, strategy, plan[0], false)
	used := plan[0]
	fallback := false

	if err != nil && strategy.hasFallback() && len(plan) > 1 && ctx.Err() == nil {
		r.logger.Warn("execution failed, falling back",
			zap.String("task_id", task.ID),
			zap.String("skill_id", task.SkillID),
			zap.String("strategy", string(strategy)),
			zap.String("failed_on", executedOn(plan[0].location, deviceID(plan[0]))),
			zap.Error(err))
		r.deps.Metrics.RecordFallback(string(strategy))

		used, fallback = plan[1], true
		out, err = r.run(ctx, task, strategy, used, true)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		TaskID:     task.ID,
		SkillID:    task.SkillID,
		Output:     out,
		ExecutedOn: executedOn(used.location, deviceID(used)),
		Location:   used.location,
		DeviceID:   deviceID(used),
		Strategy:   strategy,
		Weight:     class,
		Fallback:   fallback,
		Duration:   r.now().Sub(start),
	}, nil
}

func deviceID(a attempt) string {
	if a.device == nil {
		return ""
	}
	return a.device.DeviceID
}

// run executes one attempt under the task timeout and records the outcome.
func (r *Router) run(ctx context.Context, task Task, strategy Strategy, a attempt, fallback bool) (json.RawMessage, error) {
	agentID := r.localAgentID()
	if a.location == LocationRemote {
		agentID = a.device.DeviceID
	}
	if r.deps.Monitor != nil {
		r.deps.Monitor.RecordTaskStart(agentID)
	}

	start := r.now()
	out, err := resilience.WithTimeout(ctx, task.Timeout, func(ctx context.Context) (json.RawMessage, error) {
		if a.location == LocationLocal {
			return r.deps.Runtime.Execute(ctxkeys.WithTaskID(ctx, task.ID), task.SkillID, task.Input)
		}
		o, err := r.deps.Delegator.DelegateAndWait(ctx, handoff.DelegateRequest{
			TaskID:   task.ID,
			PeerID:   a.device.PeerID,
			DeviceID: a.device.DeviceID,
			SkillID:  task.SkillID,
			Input:    task.Input,
			Priority: task.Priority,
			Timeout:  task.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return o.Output, nil
	})
	duration := r.now().Sub(start)

	if r.deps.Monitor != nil {
		r.deps.Monitor.RecordTaskEnd(agentID, duration, err == nil)
	}
	r.deps.Metrics.RecordExecution(string(strategy), string(a.location), err == nil, duration)

	rec := ExecutionRecord{
		TaskID:   task.ID,
		SkillID:  task.SkillID,
		Strategy: strategy,
		Location: a.location,
		DeviceID: deviceID(a),
		Success:  err == nil,
		Fallback: fallback,
		Duration: duration,
		At:       start,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.mu.Lock()
	r.history.add(rec)
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("skill_id", task.SkillID),
		zap.String("executed_on", executedOn(a.location, deviceID(a))),
		zap.Duration("duration", duration),
	}
	if err != nil {
		r.logger.Debug("execution failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Debug("execution completed", fields...)
	}
	return out, err
}

// =============================================================================
// Planning
// =============================================================================

// remoteOption is a scored remote candidate.
type remoteOption struct {
	device *discovery.DeviceProfile
	score  float64
}

// plan returns the attempts for a strategy: the primary first and, for
// strategies with a fallback, the other side second when available.
func (r *Router) plan(task Task, strategy Strategy, class WeightClass) ([]attempt, error) {
	localOK := r.localAvailable(task)
	local := attempt{location: LocationLocal}
	var plan []attempt

	switch strategy {
	case StrategyLocalOnly:
		if localOK {
			plan = []attempt{local}
		}

	case StrategyRemoteOnly:
		if remote, ok := r.pickRemote(task, class); ok {
			plan = []attempt{remote}
		}

	case StrategyLocalFirst:
		if localOK {
			plan = append(plan, local)
		}
		if remote, ok := r.pickRemote(task, class); ok {
			plan = append(plan, remote)
		}

	case StrategyRemoteFirst:
		if remote, ok := r.pickRemote(task, class); ok {
			plan = append(plan, remote)
		}
		if localOK {
			plan = append(plan, local)
		}

	case StrategyBestFit:
		plan = r.planBestFit(task, class, localOK)

	case StrategyLoadBalanced:
		if a, ok := r.pickLeastUsed(task, class, localOK); ok {
			plan = []attempt{a}
		}
	}

	if len(plan) == 0 {
		if strategy != StrategyLocalOnly && r.shedding() {
			return nil, types.Errorf(types.ErrLoadShedding, "load shedding active, no remote assignment for skill %s", task.SkillID)
		}
		return nil, types.Errorf(types.ErrNoCandidate, "no candidate can run skill %s (strategy %s)", task.SkillID, strategy)
	}
	return plan, nil
}

// shedding reports whether new remote assignments are refused. Local
// attempts are not affected.
func (r *Router) shedding() bool {
	return r.deps.Monitor != nil && r.deps.Monitor.IsShedding()
}

func (r *Router) localAvailable(task Task) bool {
	if r.deps.Runtime == nil || !r.deps.Runtime.Has(task.SkillID) {
		return false
	}
	if task.Requirements.ExcludeLocal {
		return false
	}
	if local := r.localProfile(); local != nil {
		req := task.Requirements
		req.MustBeLocal = false
		return req.Satisfied(local)
	}
	return true
}

func (r *Router) planBestFit(task Task, class WeightClass, localOK bool) []attempt {
	local := attempt{location: LocationLocal}
	options := r.remoteOptions(task, class)

	switch {
	case !localOK && len(options) == 0:
		return nil
	case !localOK:
		return []attempt{{location: LocationRemote, device: options[0].device}}
	case len(options) == 0:
		return []attempt{local}
	}

	best := options[0]
	remote := attempt{location: LocationRemote, device: best.device}
	hasGPU := false
	if p := r.localProfile(); p != nil {
		hasGPU = p.Resources.GPU
	}
	localScore := LocalScore(class, r.loadOf(r.localAgentID(), r.localProfile()), hasGPU)

	preferLocal := best.score <= 0 || localScore/best.score >= r.config.BestFitRatio
	r.logger.Debug("best-fit decision",
		zap.String("task_id", task.ID),
		zap.String("skill_id", task.SkillID),
		zap.String("weight", string(class)),
		zap.Float64("local_score", localScore),
		zap.Float64("remote_score", best.score),
		zap.String("remote_device", best.device.DeviceID),
		zap.Bool("local", preferLocal))

	if preferLocal {
		return []attempt{local, remote}
	}
	return []attempt{remote, local}
}

// remoteOptions lists remote devices able to run the task, best score first.
// It is empty while load shedding is active.
func (r *Router) remoteOptions(task Task, class WeightClass) []remoteOption {
	if r.deps.Devices == nil || r.deps.Delegator == nil || r.shedding() {
		return nil
	}
	req := task.Requirements
	req.ExcludeLocal = true
	if class == WeightGPU {
		req.RequireGPU = true
	}

	var out []remoteOption
	for _, c := range r.deps.Devices.FindDevicesForSkill(task.SkillID) {
		d := c.Device
		if d == nil || d.IsLocal || d.PeerID == "" || !req.Satisfied(d) {
			continue
		}
		out = append(out, remoteOption{
			device: d,
			score:  RemoteScore(class, c.Score, r.loadOf(d.DeviceID, d), d),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].device.DeviceID < out[j].device.DeviceID
	})
	return out
}

// pickRemote chooses the remote for remote-only and remote-first. With a
// monitor it takes the least loaded eligible candidate, otherwise the best
// scored one.
func (r *Router) pickRemote(task Task, class WeightClass) (attempt, bool) {
	options := r.remoteOptions(task, class)
	if len(options) == 0 {
		return attempt{}, false
	}
	if r.deps.Monitor == nil {
		return attempt{location: LocationRemote, device: options[0].device}, true
	}

	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.device.DeviceID)
	}
	a, err := r.deps.Monitor.SuggestAssignment(loadmonitor.AssignmentRequest{
		TaskID:     task.ID,
		SkillID:    task.SkillID,
		Candidates: ids,
	})
	if err != nil {
		r.logger.Debug("no remote assignment",
			zap.String("task_id", task.ID),
			zap.String("code", string(types.GetErrorCode(err))))
		return attempt{}, false
	}
	for _, o := range options {
		if o.device.DeviceID == a.AgentID {
			return attempt{location: LocationRemote, device: o.device}, true
		}
	}
	return attempt{}, false
}

// pickLeastUsed picks the location with the fewest executions in the load
// balancing window. Ties go to local, then to the better scored remote.
func (r *Router) pickLeastUsed(task Task, class WeightClass, localOK bool) (attempt, bool) {
	candidates := make([]attempt, 0, 4)
	if localOK {
		candidates = append(candidates, attempt{location: LocationLocal})
	}
	for _, o := range r.remoteOptions(task, class) {
		candidates = append(candidates, attempt{location: LocationRemote, device: o.device})
	}
	if len(candidates) == 0 {
		return attempt{}, false
	}

	r.mu.RLock()
	counts := r.history.countSince(r.now().Add(-r.config.LoadBalanceWindow))
	r.mu.RUnlock()

	best, bestCount := candidates[0], counts[targetKey(candidates[0])]
	for _, c := range candidates[1:] {
		if n := counts[targetKey(c)]; n < bestCount {
			best, bestCount = c, n
		}
	}
	return best, true
}

func targetKey(a attempt) string {
	if a.location == LocationLocal {
		return string(LocationLocal)
	}
	return a.device.DeviceID
}

func (r *Router) localProfile() *discovery.DeviceProfile {
	if r.deps.Devices == nil {
		return nil
	}
	return r.deps.Devices.Local()
}

func (r *Router) localAgentID() string {
	if p := r.localProfile(); p != nil {
		return p.DeviceID
	}
	return string(LocationLocal)
}

// loadOf is the higher of the announced load and the monitor's score.
func (r *Router) loadOf(agentID string, profile *discovery.DeviceProfile) float64 {
	load := 0.0
	if profile != nil {
		load = profile.Resources.Load
	}
	if r.deps.Monitor != nil {
		if s := r.deps.Monitor.LoadScore(agentID); s > load {
			load = s
		}
	}
	return clamp01(load)
}

// =============================================================================
// History
// =============================================================================

// History returns the rolling execution history, oldest first.
func (r *Router) History() []ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.snapshot()
}

// Stats aggregates the execution history.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.stats()
}
