package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/internal/metrics"
	"github.com/BaSui01/skillmesh/internal/pool"
	"github.com/BaSui01/skillmesh/internal/resilience"
	"github.com/BaSui01/skillmesh/types"
)

// ProtocolConfig configures the delegation protocol.
type ProtocolConfig struct {
	// DelegateTimeout bounds the wait for accept or reject.
	DelegateTimeout time.Duration `json:"delegate_timeout" yaml:"delegate_timeout"`

	// TaskTimeout bounds the wait for a result once accepted, unless the
	// request carries its own timeout.
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"`

	// HeartbeatInterval is the period of the health broadcast. A peer silent
	// for 3x this interval is unreachable.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// SkillQueryTimeout is the default collection window of QuerySkill.
	SkillQueryTimeout time.Duration `json:"skill_query_timeout" yaml:"skill_query_timeout"`

	// InviteTimeout bounds the wait for a team invite response.
	InviteTimeout time.Duration `json:"invite_timeout" yaml:"invite_timeout"`

	// MaxConcurrentTasks caps executor-side skill runs. Extra delegations are rejected.
	MaxConcurrentTasks int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`

	// InviteHandler answers inbound team invites.
	InviteHandler InviteHandler `json:"-" yaml:"-"`
}

// DefaultProtocolConfig returns a ProtocolConfig with sensible defaults.
func DefaultProtocolConfig() *ProtocolConfig {
	return &ProtocolConfig{
		DelegateTimeout:    10 * time.Second,
		TaskTimeout:        5 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
		SkillQueryTimeout:  3 * time.Second,
		InviteTimeout:      30 * time.Second,
		MaxConcurrentTasks: 16,
	}
}

func (c *ProtocolConfig) normalize() {
	def := DefaultProtocolConfig()
	if c.DelegateTimeout <= 0 {
		c.DelegateTimeout = def.DelegateTimeout
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SkillQueryTimeout <= 0 {
		c.SkillQueryTimeout = def.SkillQueryTimeout
	}
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = def.InviteTimeout
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
}

// Dependencies are the collaborators of a Protocol.
type Dependencies struct {
	Transport transport.Transport
	Registry  *discovery.Registry
	Runtime   skills.Runtime
	Metrics   *metrics.Collector
}

// delegation is the delegator-side record of one task.
type delegation struct {
	Delegation
	future *Future
	timer  *resilience.Timer
}

// remoteTask is the executor-side record of one accepted task.
type remoteTask struct {
	peerID string
	cancel context.CancelCauseFunc
}

// Protocol is the delegation protocol of one node. It implements
// transport.Handler.
type Protocol struct {
	config    *ProtocolConfig
	transport transport.Transport
	registry  *discovery.Registry
	runtime   skills.Runtime
	metrics   *metrics.Collector
	executor  *pool.GoroutinePool
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	delegations map[string]*delegation
	tasks       map[string]*remoteTask
	queries     map[string]chan *mesh.SkillResponse
	invites     map[string]chan bool
	lastHeard   map[string]time.Time
	unreachable map[string]bool
	settled     map[string]int

	eventHandlers map[string]EventHandler
	handlerMu     sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewProtocol creates a delegation protocol and installs it as the
// transport's handler.
func NewProtocol(config *ProtocolConfig, deps Dependencies, logger *zap.Logger) *Protocol {
	if config == nil {
		config = DefaultProtocolConfig()
	}
	cfg := *config
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "delegation_protocol"))

	p := &Protocol{
		config:        &cfg,
		transport:     deps.Transport,
		registry:      deps.Registry,
		runtime:       deps.Runtime,
		metrics:       deps.Metrics,
		executor:      pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: cfg.MaxConcurrentTasks}, logger),
		logger:        logger,
		now:           time.Now,
		delegations:   make(map[string]*delegation),
		tasks:         make(map[string]*remoteTask),
		queries:       make(map[string]chan *mesh.SkillResponse),
		invites:       make(map[string]chan bool),
		lastHeard:     make(map[string]time.Time),
		unreachable:   make(map[string]bool),
		settled:       make(map[string]int),
		eventHandlers: make(map[string]EventHandler),
		done:          make(chan struct{}),
	}
	if p.transport != nil {
		p.transport.SetHandler(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Protocol) Config() ProtocolConfig {
	return *p.config
}

// Start starts the heartbeat loop.
func (p *Protocol) Start(ctx context.Context) error {
	p.wg.Add(1)
	go p.heartbeatLoop(ctx)
	p.logger.Info("delegation protocol started",
		zap.Duration("heartbeat_interval", p.config.HeartbeatInterval))
	return nil
}

// Close stops background work, fails outstanding delegations and waits for
// executor tasks to finish.
func (p *Protocol) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()

	p.mu.Lock()
	ids := make([]string, 0, len(p.delegations))
	for id := range p.delegations {
		ids = append(ids, id)
	}
	for _, t := range p.tasks {
		t.cancel(errors.New("protocol closed"))
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.settle(id, StatusFailed, nil, types.NewError(types.ErrPeerDisconnected, "protocol closed"))
	}
	p.executor.Close()
	p.logger.Info("delegation protocol closed")
	return nil
}

func (p *Protocol) localDeviceID() string {
	if p.registry == nil {
		return p.transport.LocalID()
	}
	if local := p.registry.Local(); local != nil {
		return local.DeviceID
	}
	return p.transport.LocalID()
}

// =============================================================================
// Transport callbacks
// =============================================================================

// OnConnect announces the local device to a newly connected peer.
func (p *Protocol) OnConnect(peerID string) {
	p.mu.Lock()
	p.lastHeard[peerID] = p.now()
	delete(p.unreachable, peerID)
	p.mu.Unlock()

	if p.registry == nil || p.registry.Local() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DelegateTimeout)
	defer cancel()
	if err := p.send(ctx, peerID, &mesh.Announce{Device: *p.registry.Local(), Timestamp: p.now().UTC()}); err != nil {
		p.logger.Warn("announce failed", zap.String("peer_id", peerID), zap.Error(err))
	}
}

// OnDisconnect marks the peer unreachable.
func (p *Protocol) OnDisconnect(peerID string) {
	p.PeerLost(peerID, "transport disconnected")
}

// OnMessage decodes and dispatches one inbound frame.
func (p *Protocol) OnMessage(peerID string, data []byte) {
	env, msg, err := mesh.Decode(data)
	if err != nil {
		p.logger.Warn("dropping invalid message", zap.String("peer_id", peerID), zap.Error(err))
		return
	}
	p.metrics.RecordMessage("in", string(env.Type))

	p.mu.Lock()
	p.lastHeard[peerID] = p.now()
	delete(p.unreachable, peerID)
	p.mu.Unlock()

	p.logger.Debug("message received",
		zap.String("peer_id", peerID),
		zap.String("type", string(env.Type)),
		zap.String("task_id", mesh.TaskID(msg)))

	switch m := msg.(type) {
	case *mesh.Announce:
		p.handleAnnounce(peerID, m)
	case *mesh.Heartbeat:
		p.handleHeartbeat(peerID, m)
	case *mesh.Delegate:
		p.handleDelegate(peerID, m)
	case *mesh.Accept:
		p.handleAccept(peerID, m)
	case *mesh.Reject:
		p.handleReject(peerID, m)
	case *mesh.Progress:
		p.handleProgress(peerID, m)
	case *mesh.Result:
		p.handleResult(peerID, m)
	case *mesh.Cancel:
		p.handleCancel(peerID, m)
	case *mesh.SkillQuery:
		p.handleSkillQuery(peerID, m)
	case *mesh.SkillResponse:
		p.handleSkillResponse(m)
	case *mesh.TeamInvite:
		p.handleTeamInvite(peerID, m)
	case *mesh.TeamInviteResponse:
		p.handleTeamInviteResponse(m)
	}
}

func (p *Protocol) handleAnnounce(peerID string, m *mesh.Announce) {
	if p.registry == nil {
		return
	}
	device := m.Device
	device.PeerID = peerID
	if _, err := p.registry.Upsert(&device); err != nil {
		p.logger.Debug("announcement not recorded", zap.String("peer_id", peerID), zap.Error(err))
	}
}

func (p *Protocol) handleHeartbeat(peerID string, m *mesh.Heartbeat) {
	if p.registry != nil {
		if err := p.registry.Heartbeat(m.DeviceID, m.State, m.Resources); err != nil {
			p.logger.Debug("heartbeat from unannounced device", zap.String("device_id", m.DeviceID))
		}
	}
	res := m.Resources
	p.emitEvent(&Event{
		Type:      EventPeerHeartbeat,
		PeerID:    peerID,
		DeviceID:  m.DeviceID,
		Resources: &res,
		Timestamp: p.now(),
	})
}

// =============================================================================
// Sending
// =============================================================================

func (p *Protocol) send(ctx context.Context, peerID string, msg mesh.Message) error {
	data, err := mesh.Encode(p.localDeviceID(), msg)
	if err != nil {
		return err
	}
	return p.sendRaw(ctx, peerID, msg.MessageType(), data)
}

func (p *Protocol) sendRaw(ctx context.Context, peerID string, typ mesh.Type, data []byte) error {
	if err := p.transport.Send(ctx, peerID, data); err != nil {
		return types.Errorf(types.ErrSendFailed, "send %s to %s", typ, peerID).
			WithCause(err).
			WithPeer(peerID)
	}
	p.metrics.RecordMessage("out", string(typ))
	return nil
}

// broadcast sends msg to every connected peer. It returns how many sends
// succeeded and the first error.
func (p *Protocol) broadcast(ctx context.Context, msg mesh.Message) (int, error) {
	data, err := mesh.Encode(p.localDeviceID(), msg)
	if err != nil {
		return 0, err
	}

	var (
		g    errgroup.Group
		sent atomic.Int32
	)
	g.SetLimit(8)
	for _, peerID := range p.transport.Peers() {
		g.Go(func() error {
			if err := p.sendRaw(ctx, peerID, msg.MessageType(), data); err != nil {
				return err
			}
			sent.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(sent.Load()), err
}

// Announce broadcasts the local device profile to every connected peer.
func (p *Protocol) Announce(ctx context.Context) error {
	if p.registry == nil || p.registry.Local() == nil {
		return nil
	}
	_, err := p.broadcast(ctx, &mesh.Announce{Device: *p.registry.Local(), Timestamp: p.now().UTC()})
	return err
}

// =============================================================================
// Heartbeat and peer loss
// =============================================================================

func (p *Protocol) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.sendHeartbeat(ctx)
			p.CheckPeers(p.now())
		}
	}
}

func (p *Protocol) sendHeartbeat(ctx context.Context) {
	if p.registry == nil {
		return
	}
	local := p.registry.Local()
	if local == nil {
		return
	}
	hb := &mesh.Heartbeat{
		DeviceID:  local.DeviceID,
		State:     discovery.StateOnline,
		Resources: local.Resources,
		Timestamp: p.now().UTC(),
	}
	if _, err := p.broadcast(ctx, hb); err != nil {
		p.logger.Warn("heartbeat broadcast incomplete", zap.Error(err))
	}
}

// CheckPeers marks every peer silent for more than 3x the heartbeat
// interval as unreachable. It returns the peers newly marked.
func (p *Protocol) CheckPeers(now time.Time) []string {
	limit := 3 * p.config.HeartbeatInterval

	p.mu.Lock()
	var silent []string
	for peerID, last := range p.lastHeard {
		if !p.unreachable[peerID] && now.Sub(last) > limit {
			silent = append(silent, peerID)
		}
	}
	p.mu.Unlock()

	for _, peerID := range silent {
		p.PeerLost(peerID, fmt.Sprintf("no heartbeat for %s", limit))
	}
	return silent
}

// PeerLost marks peerID unreachable: its pending delegations fail with a
// disconnect error and tasks it delegated here are cancelled. Repeated calls
// for the same peer are no-ops until it is heard from again.
func (p *Protocol) PeerLost(peerID, reason string) {
	p.mu.Lock()
	if p.unreachable[peerID] {
		p.mu.Unlock()
		return
	}
	p.unreachable[peerID] = true

	var failing []string
	for id, d := range p.delegations {
		if d.PeerID == peerID {
			failing = append(failing, id)
		}
	}
	cause := types.NewError(types.ErrPeerDisconnected, reason).WithPeer(peerID).WithRetryable(true)
	for _, t := range p.tasks {
		if t.peerID == peerID {
			t.cancel(cause)
		}
	}
	p.mu.Unlock()

	for _, id := range failing {
		p.settle(id, StatusFailed, nil, cause)
	}

	var devices []string
	if p.registry != nil {
		devices = p.registry.MarkUnreachable(peerID)
	}
	p.logger.Warn("peer unreachable",
		zap.String("peer_id", peerID),
		zap.String("reason", reason),
		zap.Int("failed_delegations", len(failing)))

	evt := &Event{Type: EventPeerUnreachable, PeerID: peerID, Message: reason, Timestamp: p.now()}
	if len(devices) > 0 {
		evt.DeviceID = devices[0]
	}
	p.emitEvent(evt)
}

// =============================================================================
// Events and stats
// =============================================================================

// Subscribe subscribes to protocol events. Handlers run on their own
// goroutine and never block the protocol.
func (p *Protocol) Subscribe(handler EventHandler) string {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()

	id := "sub-" + uuid.NewString()
	p.eventHandlers[id] = handler
	return id
}

// Unsubscribe unsubscribes from protocol events.
func (p *Protocol) Unsubscribe(subscriptionID string) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()

	delete(p.eventHandlers, subscriptionID)
}

func (p *Protocol) emitEvent(event *Event) {
	p.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(p.eventHandlers))
	for _, h := range p.eventHandlers {
		handlers = append(handlers, h)
	}
	p.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Stats returns a snapshot of protocol activity.
func (p *Protocol) Stats() ProtocolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	settled := make(map[string]int, len(p.settled))
	for k, v := range p.settled {
		settled[k] = v
	}
	return ProtocolStats{
		PendingDelegations: len(p.delegations),
		ActiveRemoteTasks:  len(p.tasks),
		Settled:            settled,
		UnreachablePeers:   len(p.unreachable),
	}
}

var _ transport.Handler = (*Protocol)(nil)
