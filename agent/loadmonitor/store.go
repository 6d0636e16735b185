package loadmonitor

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrMetricsNotFound is returned by MetricsStore.Load for unknown agents.
var ErrMetricsNotFound = errors.New("agent metrics not found")

// MetricsStore persists agent load metrics. The monitor treats every store
// failure as non-fatal and keeps working from memory.
type MetricsStore interface {
	Save(ctx context.Context, m *AgentMetrics) error
	Load(ctx context.Context, agentID string) (*AgentMetrics, error)
	LoadAll(ctx context.Context) ([]*AgentMetrics, error)
	Close() error
}

// MemoryMetricsStore keeps metrics in process memory.
type MemoryMetricsStore struct {
	mu   sync.RWMutex
	data map[string]AgentMetrics
}

// NewMemoryMetricsStore creates an empty in-memory store.
func NewMemoryMetricsStore() *MemoryMetricsStore {
	return &MemoryMetricsStore{data: make(map[string]AgentMetrics)}
}

func (s *MemoryMetricsStore) Save(_ context.Context, m *AgentMetrics) error {
	if m == nil || m.AgentID == "" {
		return errors.New("agent id is required")
	}
	s.mu.Lock()
	s.data[m.AgentID] = *m
	s.mu.Unlock()
	return nil
}

func (s *MemoryMetricsStore) Load(_ context.Context, agentID string) (*AgentMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[agentID]
	if !ok {
		return nil, ErrMetricsNotFound
	}
	return &m, nil
}

func (s *MemoryMetricsStore) LoadAll(_ context.Context) ([]*AgentMetrics, error) {
	s.mu.RLock()
	out := make([]*AgentMetrics, 0, len(s.data))
	for _, m := range s.data {
		cp := m
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryMetricsStore) Close() error { return nil }

var _ MetricsStore = (*MemoryMetricsStore)(nil)
