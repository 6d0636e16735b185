package discovery

import (
	"time"
)

// CapabilityTier is a coarse classification of a device's execution power.
type CapabilityTier string

const (
	TierFull     CapabilityTier = "full"
	TierStandard CapabilityTier = "standard"
	TierLight    CapabilityTier = "light"
	TierCloud    CapabilityTier = "cloud"
)

// Valid reports whether t is a known tier.
func (t CapabilityTier) Valid() bool {
	switch t {
	case TierFull, TierStandard, TierLight, TierCloud:
		return true
	}
	return false
}

// DeviceState is the liveness state of a device as seen by the registry.
type DeviceState string

const (
	StateOnline      DeviceState = "online"
	StateStale       DeviceState = "stale"
	StateOffline     DeviceState = "offline"
	StateUnreachable DeviceState = "unreachable"
)

// SkillInfo describes one skill offered by a device.
type SkillInfo struct {
	ID       string `json:"skillId"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Resources carries static capacity and live telemetry of a device.
type Resources struct {
	CPUCount      int     `json:"cpuCount"`
	MemoryMB      int     `json:"memoryMB"`
	GPU           bool    `json:"gpu,omitempty"`
	ActiveTasks   int     `json:"activeTasks,omitempty"`
	QueueDepth    int     `json:"queueDepth,omitempty"`
	AvgResponseMs float64 `json:"avgResponseMs,omitempty"`
	ErrorRate     float64 `json:"errorRate,omitempty"`
	Load          float64 `json:"load,omitempty"`
}

// DeviceProfile describes one known node in the mesh.
type DeviceProfile struct {
	DeviceID     string            `json:"deviceId"`
	PeerID       string            `json:"peerId,omitempty"`
	Platform     string            `json:"platform"`
	Tier         CapabilityTier    `json:"capabilityTier"`
	Skills       []SkillInfo       `json:"skills"`
	Resources    Resources         `json:"resources"`
	State        DeviceState       `json:"state"`
	LastSeen     time.Time         `json:"lastSeen"`
	RegisteredAt time.Time         `json:"registeredAt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// IsLocal is assigned by the registry and never taken from the wire.
	IsLocal bool `json:"-"`
}

// HasSkill reports whether the device offers skillID.
func (d *DeviceProfile) HasSkill(skillID string) bool {
	for _, s := range d.Skills {
		if s.ID == skillID {
			return true
		}
	}
	return false
}

// SkillIDs returns the set of skill ids offered by the device.
func (d *DeviceProfile) SkillIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Skills))
	for _, s := range d.Skills {
		ids[s.ID] = struct{}{}
	}
	return ids
}

// Clone returns a deep copy.
func (d *DeviceProfile) Clone() *DeviceProfile {
	if d == nil {
		return nil
	}
	c := *d
	c.Skills = append([]SkillInfo(nil), d.Skills...)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Filter selects devices in Query. Zero-valued fields match everything.
type Filter struct {
	Platform string         `json:"platform,omitempty"`
	Tier     CapabilityTier `json:"tier,omitempty"`
	SkillID  string         `json:"skill_id,omitempty"`
	State    DeviceState    `json:"state,omitempty"`
}

// Requirements are hard constraints applied by GetBestDeviceForSkill.
type Requirements struct {
	MinCPU       int  `json:"min_cpu,omitempty"`
	MinMemoryMB  int  `json:"min_memory_mb,omitempty"`
	MustBeLocal  bool `json:"must_be_local,omitempty"`
	ExcludeLocal bool `json:"exclude_local,omitempty"`
	RequireGPU   bool `json:"require_gpu,omitempty"`
}

// Candidate is a ranked device for a skill.
type Candidate struct {
	Device *DeviceProfile `json:"device"`
	Score  float64        `json:"score"`
}

// DiscoveryEventType defines the type of discovery event.
type DiscoveryEventType string

const (
	// DiscoveryEventDeviceDiscovered indicates a device was seen for the first time.
	DiscoveryEventDeviceDiscovered DiscoveryEventType = "device_discovered"
	// DiscoveryEventDeviceUpdated indicates a device profile or state changed.
	DiscoveryEventDeviceUpdated DiscoveryEventType = "device_updated"
	// DiscoveryEventDeviceOffline indicates a device went offline or unreachable.
	DiscoveryEventDeviceOffline DiscoveryEventType = "device_offline"
	// DiscoveryEventDevicePurged indicates a device was removed after the purge timeout.
	DiscoveryEventDevicePurged DiscoveryEventType = "device_purged"
)

// DiscoveryEvent represents a registry change notification.
type DiscoveryEvent struct {
	Type      DiscoveryEventType `json:"type"`
	DeviceID  string             `json:"device_id"`
	PeerID    string             `json:"peer_id,omitempty"`
	Device    *DeviceProfile     `json:"device,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// DiscoveryEventHandler is a function that handles discovery events.
type DiscoveryEventHandler func(event *DiscoveryEvent)

// RegistryStats summarizes the registry contents.
type RegistryStats struct {
	Devices int                 `json:"devices"`
	ByState map[DeviceState]int `json:"by_state"`
	Skills  int                 `json:"skills"`
}
