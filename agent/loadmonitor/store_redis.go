package loadmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/internal/cache"
)

// RedisMetricsStore keeps one JSON record per agent plus a set of agent IDs.
type RedisMetricsStore struct {
	redis  *cache.Manager
	logger *zap.Logger
}

// NewRedisMetricsStore connects to Redis.
func NewRedisMetricsStore(config cache.Config, logger *zap.Logger) (*RedisMetricsStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := cache.NewManager(config, logger)
	if err != nil {
		return nil, err
	}
	return &RedisMetricsStore{redis: m, logger: logger.With(zap.String("component", "metrics_store"))}, nil
}

func (s *RedisMetricsStore) recordKey(agentID string) string {
	return s.redis.Key("agent", agentID)
}

func (s *RedisMetricsStore) indexKey() string {
	return s.redis.Key("agents")
}

func (s *RedisMetricsStore) Save(ctx context.Context, m *AgentMetrics) error {
	if m == nil || m.AgentID == "" {
		return errors.New("agent id is required")
	}
	return s.redis.PutJSON(ctx, s.recordKey(m.AgentID), s.indexKey(), m.AgentID, m)
}

func (s *RedisMetricsStore) Load(ctx context.Context, agentID string) (*AgentMetrics, error) {
	var m AgentMetrics
	if err := s.redis.GetJSON(ctx, s.recordKey(agentID), &m); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrMetricsNotFound
		}
		return nil, err
	}
	return &m, nil
}

// LoadAll returns every stored record. Index entries whose record expired
// are skipped.
func (s *RedisMetricsStore) LoadAll(ctx context.Context) ([]*AgentMetrics, error) {
	ids, err := s.redis.Members(ctx, s.indexKey())
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}

	out := make([]*AgentMetrics, 0, len(keys))
	err = s.redis.MGetJSON(ctx, keys, func(key string, data []byte) error {
		var m AgentMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) < len(ids) {
		s.logger.Debug("skipped expired metrics records", zap.Int("missing", len(ids)-len(out)))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *RedisMetricsStore) Close() error {
	return s.redis.Close()
}

var _ MetricsStore = (*RedisMetricsStore)(nil)
