package mesh

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/skillmesh/agent/discovery"
)

// Type identifies a mesh message variant.
type Type string

const (
	TypeAnnounce           Type = "mesh:agent-announce"
	TypeHeartbeat          Type = "mesh:agent-heartbeat"
	TypeDelegate           Type = "mesh:task-delegate"
	TypeAccept             Type = "mesh:task-accept"
	TypeReject             Type = "mesh:task-reject"
	TypeProgress           Type = "mesh:task-progress"
	TypeResult             Type = "mesh:task-result"
	TypeCancel             Type = "mesh:task-cancel"
	TypeSkillQuery         Type = "mesh:skill-query"
	TypeSkillResponse      Type = "mesh:skill-response"
	TypeTeamInvite         Type = "mesh:team-invite"
	TypeTeamInviteResponse Type = "mesh:team-invite-response"
)

// IsValid reports whether t is a known message type.
func (t Type) IsValid() bool {
	_, ok := factories[t]
	return ok
}

func (t Type) String() string {
	return string(t)
}

// Message is one variant of the mesh tagged union.
type Message interface {
	MessageType() Type
	Validate() error
}

// Priority of a delegated task. Higher runs first where executors queue.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Announce advertises a device profile to a peer.
type Announce struct {
	Device    discovery.DeviceProfile `json:"device"`
	Timestamp time.Time               `json:"timestamp"`
}

// Heartbeat carries periodic liveness and telemetry.
type Heartbeat struct {
	DeviceID  string                `json:"deviceId"`
	State     discovery.DeviceState `json:"state"`
	Resources discovery.Resources   `json:"resources"`
	Timestamp time.Time             `json:"timestamp"`
}

// Delegate hands a task to a peer.
type Delegate struct {
	TaskID      string          `json:"taskId"`
	SkillID     string          `json:"skillId"`
	Input       json.RawMessage `json:"input,omitempty"`
	Priority    Priority        `json:"priority"`
	TimeoutMs   int64           `json:"timeout"`
	DelegatedBy string          `json:"delegatedBy"`
	DelegatedAt time.Time       `json:"delegatedAt"`
}

// Timeout returns the task timeout as a duration.
func (d *Delegate) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Accept acknowledges a delegation.
type Accept struct {
	TaskID string `json:"taskId"`
}

// Reject declines a delegation.
type Reject struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

// Progress reports execution progress in percent.
type Progress struct {
	TaskID   string `json:"taskId"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// Result carries the single terminal outcome of a delegated task.
type Result struct {
	TaskID      string          `json:"taskId"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Cancel asks the executor to stop a task. Best effort.
type Cancel struct {
	TaskID string `json:"taskId"`
}

// SkillQuery asks peers whether they offer a skill.
type SkillQuery struct {
	QueryID string `json:"queryId"`
	SkillID string `json:"skillId"`
}

// SkillResponse answers a SkillQuery.
type SkillResponse struct {
	QueryID   string                   `json:"queryId"`
	SkillID   string                   `json:"skillId"`
	Available bool                     `json:"available"`
	Device    *discovery.DeviceProfile `json:"device,omitempty"`
}

// TeamInvite invites a peer to a work group.
type TeamInvite struct {
	InviteID string `json:"inviteId"`
	TeamID   string `json:"teamId"`
	Role     string `json:"role,omitempty"`
}

// TeamInviteResponse answers a TeamInvite.
type TeamInviteResponse struct {
	InviteID string `json:"inviteId"`
	TeamID   string `json:"teamId"`
	Accepted bool   `json:"accepted"`
}

func (*Announce) MessageType() Type           { return TypeAnnounce }
func (*Heartbeat) MessageType() Type          { return TypeHeartbeat }
func (*Delegate) MessageType() Type           { return TypeDelegate }
func (*Accept) MessageType() Type             { return TypeAccept }
func (*Reject) MessageType() Type             { return TypeReject }
func (*Progress) MessageType() Type           { return TypeProgress }
func (*Result) MessageType() Type             { return TypeResult }
func (*Cancel) MessageType() Type             { return TypeCancel }
func (*SkillQuery) MessageType() Type         { return TypeSkillQuery }
func (*SkillResponse) MessageType() Type      { return TypeSkillResponse }
func (*TeamInvite) MessageType() Type         { return TypeTeamInvite }
func (*TeamInviteResponse) MessageType() Type { return TypeTeamInviteResponse }

func (m *Announce) Validate() error {
	if m.Device.DeviceID == "" {
		return ErrMissingDeviceID
	}
	return nil
}

func (m *Heartbeat) Validate() error {
	if m.DeviceID == "" {
		return ErrMissingDeviceID
	}
	return nil
}

func (m *Delegate) Validate() error {
	if m.TaskID == "" {
		return ErrMissingTaskID
	}
	if m.SkillID == "" {
		return ErrMissingSkillID
	}
	if m.TimeoutMs < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func (m *Accept) Validate() error { return requireTaskID(m.TaskID) }
func (m *Reject) Validate() error { return requireTaskID(m.TaskID) }
func (m *Cancel) Validate() error { return requireTaskID(m.TaskID) }
func (m *Result) Validate() error { return requireTaskID(m.TaskID) }

func (m *Progress) Validate() error {
	if m.TaskID == "" {
		return ErrMissingTaskID
	}
	if m.Progress < 0 || m.Progress > 100 {
		return ErrInvalidProgress
	}
	return nil
}

func (m *SkillQuery) Validate() error {
	if m.QueryID == "" {
		return ErrMissingQueryID
	}
	if m.SkillID == "" {
		return ErrMissingSkillID
	}
	return nil
}

func (m *SkillResponse) Validate() error {
	if m.QueryID == "" {
		return ErrMissingQueryID
	}
	return nil
}

func (m *TeamInvite) Validate() error {
	if m.InviteID == "" {
		return ErrMissingInviteID
	}
	return nil
}

func (m *TeamInviteResponse) Validate() error {
	if m.InviteID == "" {
		return ErrMissingInviteID
	}
	return nil
}

func requireTaskID(id string) error {
	if id == "" {
		return ErrMissingTaskID
	}
	return nil
}

// TaskID returns the task a message refers to, or "" for non-task messages.
func TaskID(m Message) string {
	switch v := m.(type) {
	case *Delegate:
		return v.TaskID
	case *Accept:
		return v.TaskID
	case *Reject:
		return v.TaskID
	case *Progress:
		return v.TaskID
	case *Result:
		return v.TaskID
	case *Cancel:
		return v.TaskID
	}
	return ""
}

var factories = map[Type]func() Message{
	TypeAnnounce:           func() Message { return &Announce{} },
	TypeHeartbeat:          func() Message { return &Heartbeat{} },
	TypeDelegate:           func() Message { return &Delegate{} },
	TypeAccept:             func() Message { return &Accept{} },
	TypeReject:             func() Message { return &Reject{} },
	TypeProgress:           func() Message { return &Progress{} },
	TypeResult:             func() Message { return &Result{} },
	TypeCancel:             func() Message { return &Cancel{} },
	TypeSkillQuery:         func() Message { return &SkillQuery{} },
	TypeSkillResponse:      func() Message { return &SkillResponse{} },
	TypeTeamInvite:         func() Message { return &TeamInvite{} },
	TypeTeamInviteResponse: func() Message { return &TeamInviteResponse{} },
}
