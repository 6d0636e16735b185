package loadmonitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/skillmesh/internal/database"
)

// agentMetricsRow is the table layout of the SQL store.
type agentMetricsRow struct {
	AgentID       string    `gorm:"primaryKey;size:128"`
	ActiveTasks   int       `gorm:"not null"`
	QueueDepth    int       `gorm:"not null"`
	AvgResponseMs float64   `gorm:"not null"`
	ErrorRate     float64   `gorm:"not null"`
	LoadScore     float64   `gorm:"not null;index"`
	Health        string    `gorm:"size:16"`
	TotalTasks    int64     `gorm:"not null"`
	FailedTasks   int64     `gorm:"not null"`
	LastHeartbeat time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (agentMetricsRow) TableName() string { return "agent_load_metrics" }

func toRow(m *AgentMetrics) agentMetricsRow {
	return agentMetricsRow{
		AgentID:       m.AgentID,
		ActiveTasks:   m.ActiveTasks,
		QueueDepth:    m.QueueDepth,
		AvgResponseMs: m.AvgResponseMs,
		ErrorRate:     m.ErrorRate,
		LoadScore:     m.LoadScore,
		Health:        string(m.Health),
		TotalTasks:    m.TotalTasks,
		FailedTasks:   m.FailedTasks,
		LastHeartbeat: m.LastHeartbeat.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

func (r agentMetricsRow) metrics() *AgentMetrics {
	return &AgentMetrics{
		AgentID:       r.AgentID,
		ActiveTasks:   r.ActiveTasks,
		QueueDepth:    r.QueueDepth,
		AvgResponseMs: r.AvgResponseMs,
		ErrorRate:     r.ErrorRate,
		LoadScore:     r.LoadScore,
		Health:        HealthStatus(r.Health),
		TotalTasks:    r.TotalTasks,
		FailedTasks:   r.FailedTasks,
		LastHeartbeat: r.LastHeartbeat,
		UpdatedAt:     r.UpdatedAt,
	}
}

// SQLMetricsStore persists metrics through gorm (sqlite, postgres or mysql).
type SQLMetricsStore struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

// NewSQLMetricsStore wraps an open pool. With autoMigrate the table is
// created or updated first.
func NewSQLMetricsStore(pool *database.PoolManager, autoMigrate bool, logger *zap.Logger) (*SQLMetricsStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := pool.DB().AutoMigrate(&agentMetricsRow{}); err != nil {
			return nil, fmt.Errorf("migrate agent_load_metrics: %w", err)
		}
	}
	return &SQLMetricsStore{
		pool:       pool,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "metrics_store")),
	}, nil
}

// Save upserts one agent's row.
func (s *SQLMetricsStore) Save(ctx context.Context, m *AgentMetrics) error {
	if m == nil || m.AgentID == "" {
		return errors.New("agent id is required")
	}
	row := toRow(m)
	return s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
}

func (s *SQLMetricsStore) Load(ctx context.Context, agentID string) (*AgentMetrics, error) {
	var row agentMetricsRow
	err := s.pool.DB().WithContext(ctx).Where("agent_id = ?", agentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMetricsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load metrics for %s: %w", agentID, err)
	}
	return row.metrics(), nil
}

func (s *SQLMetricsStore) LoadAll(ctx context.Context) ([]*AgentMetrics, error) {
	var rows []agentMetricsRow
	if err := s.pool.DB().WithContext(ctx).Order("agent_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load all metrics: %w", err)
	}
	out := make([]*AgentMetrics, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.metrics())
	}
	return out, nil
}

func (s *SQLMetricsStore) Close() error {
	return s.pool.Close()
}

var _ MetricsStore = (*SQLMetricsStore)(nil)
