package handoff

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
)

// DelegationStatus represents the status of a delegated task.
type DelegationStatus string

const (
	StatusPending   DelegationStatus = "pending"
	StatusAccepted  DelegationStatus = "accepted"
	StatusRunning   DelegationStatus = "running"
	StatusRejected  DelegationStatus = "rejected"
	StatusCompleted DelegationStatus = "completed"
	StatusFailed    DelegationStatus = "failed"
	StatusCancelled DelegationStatus = "cancelled"
	StatusTimedOut  DelegationStatus = "timed_out"
)

// IsTerminal reports whether s is a final status.
func (s DelegationStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

func (s DelegationStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusRunning:
		return 2
	}
	return 3
}

// Delegation is one outstanding task handed to a peer.
type Delegation struct {
	TaskID     string           `json:"task_id"`
	PeerID     string           `json:"peer_id"`
	DeviceID   string           `json:"device_id,omitempty"`
	SkillID    string           `json:"skill_id"`
	Input      json.RawMessage  `json:"input,omitempty"`
	Priority   mesh.Priority    `json:"priority"`
	Timeout    time.Duration    `json:"timeout"`
	Status     DelegationStatus `json:"status"`
	Progress   int              `json:"progress"`
	CreatedAt  time.Time        `json:"created_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
}

// DelegateRequest describes a task to hand off. PeerID wins over DeviceID
// when both are set.
type DelegateRequest struct {
	TaskID   string
	PeerID   string
	DeviceID string
	SkillID  string
	Input    json.RawMessage
	Priority mesh.Priority
	Timeout  time.Duration
}

// Outcome is the settled result of a delegation.
type Outcome struct {
	TaskID   string           `json:"task_id"`
	PeerID   string           `json:"peer_id"`
	DeviceID string           `json:"device_id,omitempty"`
	Status   DelegationStatus `json:"status"`
	Output   json.RawMessage  `json:"output,omitempty"`
	Err      error            `json:"-"`
	Duration time.Duration    `json:"duration"`
}

// Future resolves exactly once with the Outcome of a delegation.
type Future struct {
	taskID  string
	done    chan struct{}
	once    sync.Once
	outcome *Outcome
}

func newFuture(taskID string) *Future {
	return &Future{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the delegated task ID.
func (f *Future) TaskID() string { return f.taskID }

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the settled outcome, or nil while unsettled.
func (f *Future) Outcome() *Outcome {
	select {
	case <-f.done:
		return f.outcome
	default:
		return nil
	}
}

// Wait blocks until the future settles or ctx is done. A completed
// delegation returns its output; any other terminal status returns its error.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.outcome.Output, f.outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve settles the future. It reports false when already settled.
func (f *Future) resolve(o *Outcome) bool {
	settled := false
	f.once.Do(func() {
		f.outcome = o
		close(f.done)
		settled = true
	})
	return settled
}

// EventType defines the type of protocol event.
type EventType string

const (
	EventDelegationSettled EventType = "delegation.settled"
	EventTaskProgress      EventType = "task.progress"
	EventPeerUnreachable   EventType = "peer.unreachable"
	EventPeerHeartbeat     EventType = "peer.heartbeat"
	EventTeamInvite        EventType = "team.invite"
)

// Event is a protocol notification.
type Event struct {
	Type      EventType            `json:"type"`
	TaskID    string               `json:"task_id,omitempty"`
	PeerID    string               `json:"peer_id,omitempty"`
	DeviceID  string               `json:"device_id,omitempty"`
	Status    DelegationStatus     `json:"status,omitempty"`
	Progress  int                  `json:"progress,omitempty"`
	Message   string               `json:"message,omitempty"`
	Resources *discovery.Resources `json:"resources,omitempty"`
	Invite    *mesh.TeamInvite     `json:"invite,omitempty"`
	Accepted  bool                 `json:"accepted,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// EventHandler handles protocol events.
type EventHandler func(event *Event)

// InviteHandler decides whether to join a team. A nil handler accepts.
type InviteHandler func(peerID string, invite *mesh.TeamInvite) bool

// ProtocolStats summarizes protocol activity.
type ProtocolStats struct {
	PendingDelegations int            `json:"pending_delegations"`
	ActiveRemoteTasks  int            `json:"active_remote_tasks"`
	Settled            map[string]int `json:"settled"`
	UnreachablePeers   int            `json:"unreachable_peers"`
}
