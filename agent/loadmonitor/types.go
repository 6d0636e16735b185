package loadmonitor

import (
	"math"
	"time"
)

// HealthStatus classifies an agent from its latest metrics.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthUnhealthy    HealthStatus = "unhealthy"
	HealthUnresponsive HealthStatus = "unresponsive"
)

// severity orders statuses from best (0) to worst.
func (h HealthStatus) severity() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	case HealthUnresponsive:
		return 3
	}
	return 3
}

// WorseThan reports whether h is a worse classification than other.
func (h HealthStatus) WorseThan(other HealthStatus) bool {
	return h.severity() > other.severity()
}

// AgentMetrics is the load picture of one agent.
type AgentMetrics struct {
	AgentID       string       `json:"agentId"`
	ActiveTasks   int          `json:"activeTasks"`
	QueueDepth    int          `json:"queueDepth"`
	AvgResponseMs float64      `json:"avgResponseMs"`
	ErrorRate     float64      `json:"errorRate"`
	LoadScore     float64      `json:"loadScore"`
	Health        HealthStatus `json:"health"`
	TotalTasks    int64        `json:"totalTasks"`
	FailedTasks   int64        `json:"failedTasks"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Report is one telemetry sample for an agent.
type Report struct {
	ActiveTasks   int     `json:"activeTasks"`
	QueueDepth    int     `json:"queueDepth"`
	AvgResponseMs float64 `json:"avgResponseMs"`
	ErrorRate     float64 `json:"errorRate"`
}

// Weights are the load score component weights.
type Weights struct {
	TaskLoad     float64 `json:"task_load" yaml:"task_load"`
	QueueDepth   float64 `json:"queue_depth" yaml:"queue_depth"`
	ErrorRate    float64 `json:"error_rate" yaml:"error_rate"`
	ResponseTime float64 `json:"response_time" yaml:"response_time"`
}

// DefaultWeights returns 0.4/0.3/0.2/0.1.
func DefaultWeights() Weights {
	return Weights{TaskLoad: 0.4, QueueDepth: 0.3, ErrorRate: 0.2, ResponseTime: 0.1}
}

// Normalized clamps every weight to [0,1] and scales them to sum to 1.
// All-zero weights fall back to the defaults.
func (w Weights) Normalized() Weights {
	w.TaskLoad = clamp01(w.TaskLoad)
	w.QueueDepth = clamp01(w.QueueDepth)
	w.ErrorRate = clamp01(w.ErrorRate)
	w.ResponseTime = clamp01(w.ResponseTime)

	sum := w.TaskLoad + w.QueueDepth + w.ErrorRate + w.ResponseTime
	if sum == 0 {
		return DefaultWeights()
	}
	return Weights{
		TaskLoad:     w.TaskLoad / sum,
		QueueDepth:   w.QueueDepth / sum,
		ErrorRate:    w.ErrorRate / sum,
		ResponseTime: w.ResponseTime / sum,
	}
}

// AssignmentRequest asks for the least loaded agent. An empty Candidates
// list considers every known agent.
type AssignmentRequest struct {
	TaskID     string
	SkillID    string
	Candidates []string
}

// Assignment is the result of SuggestAssignment. AgentID is empty when
// Rejected is set or no agent qualifies.
type Assignment struct {
	AgentID    string  `json:"agentId,omitempty"`
	LoadScore  float64 `json:"loadScore"`
	Rejected   bool    `json:"rejected"`
	Overloaded bool    `json:"overloaded"`
	Reason     string  `json:"reason,omitempty"`
}

// MigrationRecord is one audit entry of MigrateTask.
type MigrationRecord struct {
	TaskID    string    `json:"taskId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromScore float64   `json:"fromScore"`
	ToScore   float64   `json:"toScore"`
	At        time.Time `json:"at"`
}

// RebalanceSuggestion lists overloaded and underloaded agents. It is advisory.
type RebalanceSuggestion struct {
	Overloaded  []string  `json:"overloaded"`
	Underloaded []string  `json:"underloaded"`
	SystemLoad  float64   `json:"systemLoad"`
	At          time.Time `json:"at"`
}

// EventType is the type of monitor notification.
type EventType string

const (
	EventHealthChanged      EventType = "health_changed"
	EventAgentUnresponsive  EventType = "agent_unresponsive"
	EventSheddingStarted    EventType = "shedding_started"
	EventSheddingStopped    EventType = "shedding_stopped"
	EventRebalanceSuggested EventType = "rebalance_suggested"
	EventTaskMigrated       EventType = "task_migrated"
)

// Event is a monitor notification.
type Event struct {
	Type       EventType            `json:"type"`
	AgentID    string               `json:"agentId,omitempty"`
	Health     HealthStatus         `json:"health,omitempty"`
	Previous   HealthStatus         `json:"previous,omitempty"`
	SystemLoad float64              `json:"systemLoad"`
	Rebalance  *RebalanceSuggestion `json:"rebalance,omitempty"`
	Migration  *MigrationRecord     `json:"migration,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// EventHandler handles monitor events.
type EventHandler func(event *Event)

// MonitorStats summarizes the monitor.
type MonitorStats struct {
	Agents     int                  `json:"agents"`
	ByHealth   map[HealthStatus]int `json:"byHealth"`
	SystemLoad float64              `json:"systemLoad"`
	Shedding   bool                 `json:"shedding"`
	Migrations int                  `json:"migrations"`
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
