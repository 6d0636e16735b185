package hybrid

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
)

// Strategy selects where a task runs.
type Strategy string

const (
	// StrategyLocalOnly runs on this node or fails.
	StrategyLocalOnly Strategy = "local-only"
	// StrategyRemoteOnly delegates to a peer or fails.
	StrategyRemoteOnly Strategy = "remote-only"
	// StrategyLocalFirst runs locally and falls back to a peer.
	StrategyLocalFirst Strategy = "local-first"
	// StrategyRemoteFirst delegates and falls back to local execution.
	StrategyRemoteFirst Strategy = "remote-first"
	// StrategyBestFit compares local and remote scores, with fallback.
	StrategyBestFit Strategy = "best-fit"
	// StrategyLoadBalanced picks the location with the fewest recent executions.
	StrategyLoadBalanced Strategy = "load-balanced"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLocalOnly, StrategyRemoteOnly, StrategyLocalFirst,
		StrategyRemoteFirst, StrategyBestFit, StrategyLoadBalanced:
		return true
	}
	return false
}

// hasFallback reports whether the strategy retries once on the other side.
func (s Strategy) hasFallback() bool {
	return s == StrategyLocalFirst || s == StrategyRemoteFirst || s == StrategyBestFit
}

// WeightClass is the expected cost of a skill.
type WeightClass string

const (
	WeightLight  WeightClass = "light"
	WeightMedium WeightClass = "medium"
	WeightHeavy  WeightClass = "heavy"
	WeightGPU    WeightClass = "gpu"
)

// Valid reports whether w is a known weight class.
func (w WeightClass) Valid() bool {
	switch w {
	case WeightLight, WeightMedium, WeightHeavy, WeightGPU:
		return true
	}
	return false
}

// DefaultWeightTable returns the built-in skill classification.
func DefaultWeightTable() map[string]WeightClass {
	return map[string]WeightClass{
		"echo":      WeightLight,
		"uppercase": WeightLight,
		"wordcount": WeightLight,
		"sha256":    WeightMedium,
		"transcode": WeightHeavy,
		"summarize": WeightHeavy,
		"embed":     WeightGPU,
		"image-gen": WeightGPU,
	}
}

// Location is where an execution happened.
type Location string

const (
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
)

// Task is one unit of work handed to the router.
type Task struct {
	ID       string          `json:"id,omitempty"`
	SkillID  string          `json:"skillId"`
	Input    json.RawMessage `json:"input,omitempty"`
	Strategy Strategy        `json:"strategy,omitempty"`
	Priority mesh.Priority   `json:"priority,omitempty"`

	// Timeout bounds each execution attempt. Zero uses the router default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Requirements constrain remote candidates.
	Requirements discovery.Requirements `json:"requirements,omitempty"`
}

// Result is a successful execution.
type Result struct {
	TaskID  string          `json:"taskId"`
	SkillID string          `json:"skillId"`
	Output  json.RawMessage `json:"output"`

	// ExecutedOn is "local" or "remote:<deviceId>".
	ExecutedOn string      `json:"executedOn"`
	Location   Location    `json:"location"`
	DeviceID   string      `json:"deviceId,omitempty"`
	Strategy   Strategy    `json:"strategy"`
	Weight     WeightClass `json:"weight"`

	// Fallback is set when the first attempt failed and the other side served the task.
	Fallback bool          `json:"fallback"`
	Duration time.Duration `json:"duration"`
}

// ExecutionRecord is one entry of the rolling execution history.
type ExecutionRecord struct {
	TaskID   string        `json:"taskId"`
	SkillID  string        `json:"skillId"`
	Strategy Strategy      `json:"strategy"`
	Location Location      `json:"location"`
	DeviceID string        `json:"deviceId,omitempty"`
	Success  bool          `json:"success"`
	Fallback bool          `json:"fallback"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// target returns the load-balancing key of a record.
func (r ExecutionRecord) target() string {
	if r.Location == LocationLocal {
		return string(LocationLocal)
	}
	return r.DeviceID
}

// RouterStats aggregates the execution history.
type RouterStats struct {
	Total       int              `json:"total"`
	Local       int              `json:"local"`
	Remote      int              `json:"remote"`
	Failures    int              `json:"failures"`
	Fallbacks   int              `json:"fallbacks"`
	AvgDuration time.Duration    `json:"avgDuration"`
	ByStrategy  map[Strategy]int `json:"byStrategy"`
}

func executedOn(loc Location, deviceID string) string {
	if loc == LocationLocal {
		return string(LocationLocal)
	}
	return string(LocationRemote) + ":" + deviceID
}
