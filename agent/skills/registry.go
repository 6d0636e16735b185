package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/internal/ctxkeys"
	"github.com/BaSui01/skillmesh/types"
)

// SkillCategory groups skills by the kind of work they do.
type SkillCategory string

const (
	CategoryText    SkillCategory = "text"
	CategoryCompute SkillCategory = "compute"
	CategoryMedia   SkillCategory = "media"
	CategoryML      SkillCategory = "ml"
)

// SkillDefinition describes a skill the local runtime can execute.
type SkillDefinition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Category    SkillCategory `json:"category"`
	Description string        `json:"description,omitempty"`
}

// SkillStats tracks invocation statistics of one skill.
type SkillStats struct {
	Invocations int64         `json:"invocations"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastInvoked *time.Time    `json:"last_invoked,omitempty"`
}

// SkillHandler executes a skill.
type SkillHandler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type skillInstance struct {
	def     SkillDefinition
	handler SkillHandler
	enabled bool
	stats   SkillStats
}

// Runtime is the local skill runtime: it answers Has and runs Execute.
type Runtime interface {
	Has(skillID string) bool
	Execute(ctx context.Context, skillID string, input json.RawMessage) (json.RawMessage, error)
}

// Registry holds the skills this node executes.
type Registry struct {
	skills map[string]*skillInstance
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty skill registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		skills: make(map[string]*skillInstance),
		logger: logger.With(zap.String("component", "skill_registry")),
	}
}

// Register adds or replaces a skill.
func (r *Registry) Register(def SkillDefinition, handler SkillHandler) error {
	if def.ID == "" {
		return fmt.Errorf("skill id is required")
	}
	if handler == nil {
		return fmt.Errorf("skill %s: handler is required", def.ID)
	}
	if def.Name == "" {
		def.Name = def.ID
	}

	r.mu.Lock()
	r.skills[def.ID] = &skillInstance{def: def, handler: handler, enabled: true}
	r.mu.Unlock()

	r.logger.Info("skill registered",
		zap.String("id", def.ID),
		zap.String("category", string(def.Category)),
	)
	return nil
}

// Unregister removes a skill.
func (r *Registry) Unregister(skillID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[skillID]; !ok {
		return types.Errorf(types.ErrSkillNotFound, "skill not found: %s", skillID)
	}
	delete(r.skills, skillID)
	r.logger.Info("skill unregistered", zap.String("id", skillID))
	return nil
}

// Has reports whether skillID is registered and enabled.
func (r *Registry) Has(skillID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.skills[skillID]
	return ok && s.enabled
}

// Execute runs a skill. Handler failures come back as EXECUTION_FAILED
// carrying the handler's error verbatim as the cause.
func (r *Registry) Execute(ctx context.Context, skillID string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	s, ok := r.skills[skillID]
	enabled := ok && s.enabled
	r.mu.RUnlock()

	if !enabled {
		return nil, types.Errorf(types.ErrSkillNotFound, "skill not available: %s", skillID)
	}

	start := time.Now()
	result, err := s.handler(ctx, input)
	latency := time.Since(start)

	r.mu.Lock()
	s.stats.Invocations++
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.Successes++
	}
	now := time.Now()
	s.stats.LastInvoked = &now
	n := s.stats.Invocations
	s.stats.AvgLatency = time.Duration((int64(s.stats.AvgLatency)*(n-1) + int64(latency)) / n)
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug("skill failed", append(ctxkeys.Fields(ctx),
			zap.String("skill_id", skillID),
			zap.Duration("latency", latency),
			zap.Error(err))...)
		if _, structured := types.AsError(err); structured {
			return nil, err
		}
		return nil, types.NewError(types.ErrExecutionFailed, err.Error()).WithCause(err)
	}
	return result, nil
}

// Enable enables a skill.
func (r *Registry) Enable(skillID string) error {
	return r.setEnabled(skillID, true)
}

// Disable hides a skill from Has and Execute without removing it.
func (r *Registry) Disable(skillID string) error {
	return r.setEnabled(skillID, false)
}

func (r *Registry) setEnabled(skillID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.skills[skillID]
	if !ok {
		return types.Errorf(types.ErrSkillNotFound, "skill not found: %s", skillID)
	}
	s.enabled = enabled
	return nil
}

// List returns enabled skill definitions ordered by ID.
func (r *Registry) List() []SkillDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SkillDefinition, 0, len(r.skills))
	for _, s := range r.skills {
		if s.enabled {
			out = append(out, s.def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the statistics of one skill.
func (r *Registry) Stats(skillID string) (SkillStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.skills[skillID]
	if !ok {
		return SkillStats{}, false
	}
	return s.stats, true
}

var _ Runtime = (*Registry)(nil)
