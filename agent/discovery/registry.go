package discovery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/types"
)

// Ranking weights used by FindDevicesForSkill.
const (
	localityBonus  = 15.0
	cpuBonusMax    = 10.0
	memoryBonusMax = 10.0
	stalePenalty   = 25.0
	loadPenaltyMax = 10.0

	cpuSaturation    = 16
	memorySaturation = 16384
)

var tierScores = map[CapabilityTier]float64{
	TierFull:     40,
	TierCloud:    30,
	TierStandard: 20,
	TierLight:    10,
}

// Registry tracks known devices and the skills they offer.
type Registry struct {
	mu sync.RWMutex

	// devices stores known devices by device ID.
	devices map[string]*DeviceProfile

	// peerIndex maps transport peer IDs to device IDs.
	peerIndex map[string]string

	// skillIndex maps skill ID -> set of device IDs. Derived from devices.
	skillIndex map[string]map[string]struct{}

	localID string

	eventHandlers map[string]DiscoveryEventHandler
	handlerMu     sync.RWMutex

	config *RegistryConfig
	logger *zap.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// RegistryConfig holds configuration for the capability registry.
type RegistryConfig struct {
	// MaxPeers caps the number of remote devices. Extra announcements are dropped.
	MaxPeers int `json:"max_peers" yaml:"max_peers"`

	// StaleTimeout flags a silent device as stale.
	StaleTimeout time.Duration `json:"stale_timeout" yaml:"stale_timeout"`

	// PurgeTimeout removes a silent device. Always longer than StaleTimeout.
	PurgeTimeout time.Duration `json:"purge_timeout" yaml:"purge_timeout"`

	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		MaxPeers:      100,
		StaleTimeout:  90 * time.Second,
		PurgeTimeout:  5 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

func (c *RegistryConfig) normalize() {
	def := DefaultRegistryConfig()
	if c.MaxPeers <= 0 {
		c.MaxPeers = def.MaxPeers
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = def.StaleTimeout
	}
	if c.PurgeTimeout <= c.StaleTimeout {
		c.PurgeTimeout = 2 * c.StaleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
}

// NewRegistry creates a new capability registry.
func NewRegistry(config *RegistryConfig, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	cfg := *config
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		devices:       make(map[string]*DeviceProfile),
		peerIndex:     make(map[string]string),
		skillIndex:    make(map[string]map[string]struct{}),
		eventHandlers: make(map[string]DiscoveryEventHandler),
		config:        &cfg,
		logger:        logger.With(zap.String("component", "capability_registry")),
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start starts the background sweep.
func (r *Registry) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.sweepLoop(ctx)
	r.logger.Info("capability registry started",
		zap.Duration("stale_timeout", r.config.StaleTimeout),
		zap.Duration("purge_timeout", r.config.PurgeTimeout))
	return nil
}

// Close stops the background sweep.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	r.logger.Info("capability registry closed")
	return nil
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// RegisterLocal registers the profile of this node. A previous local
// registration is replaced.
func (r *Registry) RegisterLocal(profile *DeviceProfile) error {
	if profile == nil || profile.DeviceID == "" {
		return types.NewError(types.ErrInvalidMessage, "local device id is required")
	}

	now := r.now()
	p := profile.Clone()
	p.IsLocal = true
	p.PeerID = ""
	p.State = StateOnline
	p.LastSeen = now
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = now
	}

	r.mu.Lock()
	if r.localID != "" && r.localID != p.DeviceID {
		r.removeLocked(r.localID)
	}
	_, existed := r.devices[p.DeviceID]
	r.putLocked(p)
	r.localID = p.DeviceID
	r.mu.Unlock()

	evt := DiscoveryEventDeviceDiscovered
	if existed {
		evt = DiscoveryEventDeviceUpdated
	}
	r.emitEvent(&DiscoveryEvent{Type: evt, DeviceID: p.DeviceID, Device: p.Clone(), Timestamp: now})
	r.logger.Info("local device registered",
		zap.String("device_id", p.DeviceID),
		zap.Int("skills", len(p.Skills)))
	return nil
}

// Upsert records an announced remote profile, keyed by device ID. It returns
// true when the device was not known before.
func (r *Registry) Upsert(profile *DeviceProfile) (bool, error) {
	if profile == nil || profile.DeviceID == "" {
		return false, types.NewError(types.ErrInvalidMessage, "device id is required")
	}

	now := r.now()
	r.mu.Lock()
	if profile.DeviceID == r.localID {
		r.mu.Unlock()
		return false, types.NewError(types.ErrInvalidMessage, "announcement collides with local device id")
	}

	existing, exists := r.devices[profile.DeviceID]
	if !exists && r.remoteCountLocked() >= r.config.MaxPeers {
		r.mu.Unlock()
		r.logger.Warn("registry full, dropping announcement",
			zap.String("device_id", profile.DeviceID),
			zap.Int("max_peers", r.config.MaxPeers))
		return false, types.Errorf(types.ErrRegistryFull, "registry full (%d peers)", r.config.MaxPeers).
			WithPeer(profile.PeerID)
	}

	p := profile.Clone()
	p.IsLocal = false
	p.State = StateOnline
	p.LastSeen = now
	if exists {
		p.RegisteredAt = existing.RegisteredAt
		if p.PeerID == "" {
			p.PeerID = existing.PeerID
		}
	} else if p.RegisteredAt.IsZero() {
		p.RegisteredAt = now
	}
	r.putLocked(p)
	r.mu.Unlock()

	evt := DiscoveryEventDeviceUpdated
	if !exists {
		evt = DiscoveryEventDeviceDiscovered
		r.logger.Info("device discovered",
			zap.String("device_id", p.DeviceID),
			zap.String("peer_id", p.PeerID),
			zap.String("tier", string(p.Tier)))
	}
	r.emitEvent(&DiscoveryEvent{Type: evt, DeviceID: p.DeviceID, PeerID: p.PeerID, Device: p.Clone(), Timestamp: now})
	return !exists, nil
}

// Heartbeat refreshes a known device's state and resources.
func (r *Registry) Heartbeat(deviceID string, state DeviceState, resources Resources) error {
	now := r.now()

	r.mu.Lock()
	p, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("device %s not found", deviceID)
	}
	prev := p.State
	if state == "" || state == StateStale || state == StateUnreachable {
		state = StateOnline
	}
	p.State = state
	p.Resources = resources
	p.LastSeen = now
	snapshot := p.Clone()
	r.mu.Unlock()

	if prev != state {
		evt := DiscoveryEventDeviceUpdated
		if state == StateOffline {
			evt = DiscoveryEventDeviceOffline
		}
		r.emitEvent(&DiscoveryEvent{Type: evt, DeviceID: deviceID, PeerID: snapshot.PeerID, Device: snapshot, Timestamp: now})
	}
	return nil
}

// Unregister removes a device. Unknown devices are a no-op.
func (r *Registry) Unregister(deviceID string) {
	r.mu.Lock()
	p, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(deviceID)
	if deviceID == r.localID {
		r.localID = ""
	}
	r.mu.Unlock()

	p.State = StateOffline
	r.emitEvent(&DiscoveryEvent{Type: DiscoveryEventDeviceOffline, DeviceID: deviceID, PeerID: p.PeerID, Device: p, Timestamp: r.now()})
	r.logger.Info("device unregistered", zap.String("device_id", deviceID))
}

// MarkUnreachable flags every device bound to peerID as unreachable and
// returns their IDs.
func (r *Registry) MarkUnreachable(peerID string) []string {
	now := r.now()
	var changed []*DeviceProfile

	r.mu.Lock()
	if id, ok := r.peerIndex[peerID]; ok {
		if p := r.devices[id]; p != nil && p.State != StateUnreachable {
			p.State = StateUnreachable
			changed = append(changed, p.Clone())
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(changed))
	for _, p := range changed {
		ids = append(ids, p.DeviceID)
		r.emitEvent(&DiscoveryEvent{Type: DiscoveryEventDeviceOffline, DeviceID: p.DeviceID, PeerID: peerID, Device: p, Timestamp: now})
	}
	if len(ids) > 0 {
		r.logger.Warn("peer marked unreachable", zap.String("peer_id", peerID), zap.Strings("devices", ids))
	}
	return ids
}

// Get returns a copy of a device profile.
func (r *Registry) Get(deviceID string) (*DeviceProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Local returns the local device profile, or nil before RegisterLocal.
func (r *Registry) Local() *DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.localID == "" {
		return nil
	}
	return r.devices[r.localID].Clone()
}

// UpdateLocalResources replaces the local device's resource telemetry.
func (r *Registry) UpdateLocalResources(resources Resources) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.devices[r.localID]; p != nil {
		p.Resources = resources
		p.LastSeen = r.now()
	}
}

// DeviceForPeer returns the device announced over peerID.
func (r *Registry) DeviceForPeer(peerID string) (*DeviceProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.peerIndex[peerID]
	if !ok {
		return nil, false
	}
	return r.devices[id].Clone(), true
}

// Query returns the devices matching filter, ordered by device ID.
func (r *Registry) Query(filter Filter) []*DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*DeviceProfile
	if filter.SkillID != "" {
		for id := range r.skillIndex[filter.SkillID] {
			if p := r.devices[id]; matchesFilter(p, filter) {
				out = append(out, p.Clone())
			}
		}
	} else {
		for _, p := range r.devices {
			if matchesFilter(p, filter) {
				out = append(out, p.Clone())
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func matchesFilter(p *DeviceProfile, f Filter) bool {
	if p == nil {
		return false
	}
	if f.Platform != "" && p.Platform != f.Platform {
		return false
	}
	if f.Tier != "" && p.Tier != f.Tier {
		return false
	}
	if f.State != "" && p.State != f.State {
		return false
	}
	if f.SkillID != "" && !p.HasSkill(f.SkillID) {
		return false
	}
	return true
}

// FindDevicesForSkill ranks the devices offering skillID, best first.
// Offline and unreachable devices are never returned.
func (r *Registry) FindDevicesForSkill(skillID string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Candidate, 0, len(r.skillIndex[skillID]))
	for id := range r.skillIndex[skillID] {
		p := r.devices[id]
		if p == nil || p.State == StateOffline || p.State == StateUnreachable {
			continue
		}
		out = append(out, Candidate{Device: p.Clone(), Score: RankScore(p)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Device.DeviceID < out[j].Device.DeviceID
	})
	return out
}

// GetBestDeviceForSkill returns the highest-ranked device that satisfies req,
// or nil when none qualifies.
func (r *Registry) GetBestDeviceForSkill(skillID string, req Requirements) *DeviceProfile {
	for _, c := range r.FindDevicesForSkill(skillID) {
		if req.Satisfied(c.Device) {
			return c.Device
		}
	}
	return nil
}

// Satisfied reports whether p meets every hard constraint in req.
func (req Requirements) Satisfied(p *DeviceProfile) bool {
	if req.MustBeLocal && !p.IsLocal {
		return false
	}
	if req.ExcludeLocal && p.IsLocal {
		return false
	}
	if req.MinCPU > 0 && p.Resources.CPUCount < req.MinCPU {
		return false
	}
	if req.MinMemoryMB > 0 && p.Resources.MemoryMB < req.MinMemoryMB {
		return false
	}
	if req.RequireGPU && !p.Resources.GPU {
		return false
	}
	return true
}

// RankScore computes the ranking score of a device: tier, locality and
// available resources add, staleness and load subtract.
func RankScore(p *DeviceProfile) float64 {
	score := tierScores[p.Tier]
	if p.IsLocal {
		score += localityBonus
	}
	score += cpuBonusMax * math.Min(float64(p.Resources.CPUCount), cpuSaturation) / cpuSaturation
	score += memoryBonusMax * math.Min(float64(p.Resources.MemoryMB), memorySaturation) / memorySaturation
	if p.State == StateStale {
		score -= stalePenalty
	}
	score -= loadPenaltyMax * clamp01(p.Resources.Load)
	return score
}

// Sweep flags silent remote devices as stale and purges those silent past
// the purge timeout. The local device is never swept.
func (r *Registry) Sweep(now time.Time) {
	var events []*DiscoveryEvent

	r.mu.Lock()
	for id, p := range r.devices {
		if p.IsLocal {
			continue
		}
		silent := now.Sub(p.LastSeen)
		switch {
		case silent > r.config.PurgeTimeout:
			r.removeLocked(id)
			events = append(events, &DiscoveryEvent{Type: DiscoveryEventDevicePurged, DeviceID: id, PeerID: p.PeerID, Device: p.Clone(), Timestamp: now})
		case silent > r.config.StaleTimeout && p.State == StateOnline:
			p.State = StateStale
			events = append(events, &DiscoveryEvent{Type: DiscoveryEventDeviceUpdated, DeviceID: id, PeerID: p.PeerID, Device: p.Clone(), Timestamp: now})
		}
	}
	r.mu.Unlock()

	for _, e := range events {
		if e.Type == DiscoveryEventDevicePurged {
			r.logger.Info("device purged", zap.String("device_id", e.DeviceID))
		}
		r.emitEvent(e)
	}
}

// Stats returns a summary of the registry.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		Devices: len(r.devices),
		ByState: make(map[DeviceState]int),
		Skills:  len(r.skillIndex),
	}
	for _, p := range r.devices {
		stats.ByState[p.State]++
	}
	return stats
}

// Subscribe subscribes to discovery events. Handlers run on their own
// goroutine and never block the registry.
func (r *Registry) Subscribe(handler DiscoveryEventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := "sub-" + uuid.NewString()
	r.eventHandlers[id] = handler
	return id
}

// Unsubscribe unsubscribes from discovery events.
func (r *Registry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	delete(r.eventHandlers, subscriptionID)
}

// putLocked stores p and re-derives its skill index entries.
func (r *Registry) putLocked(p *DeviceProfile) {
	if old, ok := r.devices[p.DeviceID]; ok {
		r.unindexLocked(old)
	}
	r.devices[p.DeviceID] = p
	if p.PeerID != "" {
		r.peerIndex[p.PeerID] = p.DeviceID
	}
	for _, s := range p.Skills {
		if r.skillIndex[s.ID] == nil {
			r.skillIndex[s.ID] = make(map[string]struct{})
		}
		r.skillIndex[s.ID][p.DeviceID] = struct{}{}
	}
}

func (r *Registry) removeLocked(deviceID string) {
	if p, ok := r.devices[deviceID]; ok {
		r.unindexLocked(p)
		delete(r.devices, deviceID)
	}
}

func (r *Registry) unindexLocked(p *DeviceProfile) {
	for _, s := range p.Skills {
		if set, ok := r.skillIndex[s.ID]; ok {
			delete(set, p.DeviceID)
			if len(set) == 0 {
				delete(r.skillIndex, s.ID)
			}
		}
	}
	if p.PeerID != "" && r.peerIndex[p.PeerID] == p.DeviceID {
		delete(r.peerIndex, p.PeerID)
	}
}

func (r *Registry) remoteCountLocked() int {
	n := len(r.devices)
	if r.localID != "" {
		n--
	}
	return n
}

// emitEvent emits a discovery event to all subscribers.
func (r *Registry) emitEvent(event *DiscoveryEvent) {
	r.handlerMu.RLock()
	handlers := make([]DiscoveryEventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
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
