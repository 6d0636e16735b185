package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/handoff"
	"github.com/BaSui01/skillmesh/agent/hybrid"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/internal/metrics"
	"github.com/BaSui01/skillmesh/types"
)

// Config configures one mesh node. Component sections left nil use their
// package defaults.
type Config struct {
	DeviceID string
	Platform string
	Tier     discovery.CapabilityTier
	GPU      bool
	Metadata map[string]string

	// LoadReportInterval is the period at which the node folds its own load
	// into the monitor and into the profile carried by heartbeats.
	LoadReportInterval time.Duration

	Registry *discovery.RegistryConfig
	Protocol *handoff.ProtocolConfig
	Monitor  *loadmonitor.MonitorConfig
	Router   *hybrid.RouterConfig
}

// DefaultConfig returns a Config for a standard-tier node.
func DefaultConfig() *Config {
	return &Config{
		Platform:           runtime.GOOS,
		Tier:               discovery.TierStandard,
		LoadReportInterval: 10 * time.Second,
	}
}

// Options are the collaborators of a Node. Transport is required; the node
// does not close Transport or Store.
type Options struct {
	Config    *Config
	Transport transport.Transport
	Skills    *skills.Registry
	Store     loadmonitor.MetricsStore
	Metrics   *metrics.Collector

	// Resources overrides host detection.
	Resources *discovery.Resources

	Logger *zap.Logger
}

// Node is one participant of the mesh: a capability registry, a delegation
// protocol, a load monitor and a router wired to each other.
type Node struct {
	config    Config
	registry  *discovery.Registry
	protocol  *handoff.Protocol
	monitor   *loadmonitor.Monitor
	router    *hybrid.Router
	skills    *skills.Registry
	transport transport.Transport
	metrics   *metrics.Collector
	logger    *zap.Logger

	subs []func()

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds a node and registers its local device profile.
func New(opts Options) (*Node, error) {
	if opts.Transport == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "transport is required")
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = opts.Config
	}
	c := *cfg
	if c.DeviceID == "" {
		c.DeviceID = opts.Transport.LocalID()
	}
	if c.DeviceID == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "device id is required")
	}
	if c.Platform == "" {
		c.Platform = runtime.GOOS
	}
	if !c.Tier.Valid() {
		c.Tier = discovery.TierStandard
	}
	if c.LoadReportInterval <= 0 {
		c.LoadReportInterval = DefaultConfig().LoadReportInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("device_id", c.DeviceID))

	sk := opts.Skills
	if sk == nil {
		sk = skills.NewRegistry(logger)
	}

	n := &Node{
		config:    c,
		skills:    sk,
		transport: opts.Transport,
		metrics:   opts.Metrics,
		logger:    logger.With(zap.String("component", "node")),
		done:      make(chan struct{}),
	}

	n.registry = discovery.NewRegistry(c.Registry, logger)
	n.monitor = loadmonitor.NewMonitor(c.Monitor, opts.Store, opts.Metrics, logger)
	n.protocol = handoff.NewProtocol(c.Protocol, handoff.Dependencies{
		Transport: opts.Transport,
		Registry:  n.registry,
		Runtime:   sk,
		Metrics:   opts.Metrics,
	}, logger)
	n.router = hybrid.NewRouter(c.Router, hybrid.Dependencies{
		Runtime:   sk,
		Delegator: n.protocol,
		Devices:   n.registry,
		Monitor:   n.monitor,
		Metrics:   opts.Metrics,
	}, logger)

	var res discovery.Resources
	if opts.Resources != nil {
		res = *opts.Resources
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		res = discovery.DetectResources(ctx, logger)
		cancel()
	}
	if c.GPU {
		res.GPU = true
	}
	if err := n.registry.RegisterLocal(&discovery.DeviceProfile{
		DeviceID:  c.DeviceID,
		Platform:  c.Platform,
		Tier:      c.Tier,
		Skills:    skillInfos(sk),
		Resources: res,
		Metadata:  c.Metadata,
	}); err != nil {
		return nil, fmt.Errorf("register local device: %w", err)
	}

	n.wire()
	return n, nil
}

func skillInfos(r *skills.Registry) []discovery.SkillInfo {
	defs := r.List()
	infos := make([]discovery.SkillInfo, 0, len(defs))
	for _, d := range defs {
		infos = append(infos, discovery.SkillInfo{ID: d.ID, Name: d.Name, Category: string(d.Category)})
	}
	return infos
}

// =============================================================================
// Wiring
// =============================================================================

func (n *Node) wire() {
	protoSub := n.protocol.Subscribe(n.onProtocolEvent)
	monSub := n.monitor.Subscribe(n.onMonitorEvent)
	regSub := n.registry.Subscribe(n.onDiscoveryEvent)
	n.subs = []func(){
		func() { n.protocol.Unsubscribe(protoSub) },
		func() { n.monitor.Unsubscribe(monSub) },
		func() { n.registry.Unsubscribe(regSub) },
	}
}

// onProtocolEvent feeds peer heartbeats into the monitor.
func (n *Node) onProtocolEvent(e *handoff.Event) {
	if e.Type != handoff.EventPeerHeartbeat || e.Resources == nil || e.DeviceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := n.monitor.Report(ctx, e.DeviceID, loadmonitor.Report{
		ActiveTasks:   e.Resources.ActiveTasks,
		QueueDepth:    e.Resources.QueueDepth,
		AvgResponseMs: e.Resources.AvgResponseMs,
		ErrorRate:     e.Resources.ErrorRate,
	}); err != nil {
		n.logger.Debug("heartbeat not recorded", zap.String("peer_id", e.PeerID), zap.Error(err))
	}
}

// onMonitorEvent fails the in-flight work of agents the monitor lost.
func (n *Node) onMonitorEvent(e *loadmonitor.Event) {
	if e.Type != loadmonitor.EventAgentUnresponsive {
		return
	}
	d, ok := n.registry.Get(e.AgentID)
	if !ok || d.IsLocal || d.PeerID == "" {
		return
	}
	n.protocol.PeerLost(d.PeerID, "agent unresponsive")
}

// onDiscoveryEvent keeps the registry gauges current. Purged devices drop
// their load gauge; the monitor keeps their metrics.
func (n *Node) onDiscoveryEvent(e *discovery.DiscoveryEvent) {
	if e.Type == discovery.DiscoveryEventDevicePurged {
		n.metrics.ForgetAgent(e.DeviceID)
	}
	stats := n.registry.Stats()
	counts := map[string]int{
		string(discovery.StateOnline):      0,
		string(discovery.StateStale):       0,
		string(discovery.StateOffline):     0,
		string(discovery.StateUnreachable): 0,
	}
	for state, c := range stats.ByState {
		counts[string(state)] = c
	}
	n.metrics.SetRegistryDevices(counts)
}

// ReportLoad folds the node's own load into the monitor and the local
// profile. Router runs on this node count as active tasks, tasks accepted
// from peers as queue depth.
func (n *Node) ReportLoad(ctx context.Context) (loadmonitor.AgentMetrics, error) {
	stats := n.protocol.Stats()

	m, err := n.monitor.ReportQueueDepth(ctx, n.config.DeviceID, stats.ActiveRemoteTasks)
	if err != nil {
		return m, err
	}

	local := n.registry.Local()
	if local == nil {
		return m, nil
	}
	res := local.Resources
	res.ActiveTasks = m.ActiveTasks
	res.QueueDepth = m.QueueDepth
	res.AvgResponseMs = m.AvgResponseMs
	res.ErrorRate = m.ErrorRate
	res.Load = m.LoadScore
	n.registry.UpdateLocalResources(res)
	return m, nil
}

func (n *Node) reportLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.LoadReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ticker.C:
			if _, err := n.ReportLoad(ctx); err != nil {
				n.logger.Warn("local load report failed", zap.Error(err))
			}
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the background loops of every component and announces the
// local device to peers already connected.
func (n *Node) Start(ctx context.Context) error {
	var err error
	n.startOnce.Do(func() {
		if err = n.registry.Start(ctx); err != nil {
			return
		}
		if err = n.monitor.Start(ctx); err != nil {
			return
		}
		if err = n.protocol.Start(ctx); err != nil {
			return
		}
		if _, rerr := n.ReportLoad(ctx); rerr != nil {
			n.logger.Warn("initial load report failed", zap.Error(rerr))
		}
		if aerr := n.protocol.Announce(ctx); aerr != nil {
			n.logger.Warn("initial announce incomplete", zap.Error(aerr))
		}

		n.wg.Add(1)
		go n.reportLoop(ctx)

		n.logger.Info("mesh node started",
			zap.Int("skills", len(n.skills.List())),
			zap.Strings("peers", n.transport.Peers()))
	})
	return err
}

// Stop stops every component. Outstanding delegations fail.
func (n *Node) Stop() error {
	var errs []error
	n.stopOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
		for _, unsub := range n.subs {
			unsub()
		}
		errs = append(errs,
			n.protocol.Close(),
			n.monitor.Close(),
			n.registry.Close(),
		)
		n.logger.Info("mesh node stopped")
	})
	return errors.Join(errs...)
}

// =============================================================================
// Operations
// =============================================================================

// Execute routes one task.
func (n *Node) Execute(ctx context.Context, task hybrid.Task) (*hybrid.Result, error) {
	return n.router.Execute(ctx, task)
}

// Run executes skillID with the router's default strategy.
func (n *Node) Run(ctx context.Context, skillID string, input json.RawMessage) (*hybrid.Result, error) {
	return n.router.Execute(ctx, hybrid.Task{SkillID: skillID, Input: input})
}

// QuerySkill asks connected peers whether they offer skillID.
func (n *Node) QuerySkill(ctx context.Context, skillID string, timeout time.Duration) []*mesh.SkillResponse {
	return n.protocol.QuerySkill(ctx, skillID, timeout)
}

// InviteToTeam invites the device's peer to a team.
func (n *Node) InviteToTeam(ctx context.Context, deviceID, teamID, role string) (bool, error) {
	d, ok := n.registry.Get(deviceID)
	if !ok || d.PeerID == "" {
		return false, types.Errorf(types.ErrNoCandidate, "device %s is not a known peer", deviceID)
	}
	return n.protocol.InviteToTeam(ctx, d.PeerID, teamID, role)
}

// DeviceID returns the local device ID.
func (n *Node) DeviceID() string { return n.config.DeviceID }

// Registry returns the capability registry.
func (n *Node) Registry() *discovery.Registry { return n.registry }

// Protocol returns the delegation protocol.
func (n *Node) Protocol() *handoff.Protocol { return n.protocol }

// Monitor returns the load monitor.
func (n *Node) Monitor() *loadmonitor.Monitor { return n.monitor }

// Router returns the router.
func (n *Node) Router() *hybrid.Router { return n.router }

// Skills returns the local skill registry.
func (n *Node) Skills() *skills.Registry { return n.skills }

// Status is a point-in-time view of the node.
type Status struct {
	DeviceID string                   `json:"device_id"`
	Peers    []string                 `json:"peers"`
	Registry discovery.RegistryStats  `json:"registry"`
	Protocol handoff.ProtocolStats    `json:"protocol"`
	Monitor  loadmonitor.MonitorStats `json:"monitor"`
	Router   hybrid.RouterStats       `json:"router"`
}

// Status returns a snapshot of every component.
func (n *Node) Status() Status {
	return Status{
		DeviceID: n.config.DeviceID,
		Peers:    n.transport.Peers(),
		Registry: n.registry.Stats(),
		Protocol: n.protocol.Stats(),
		Monitor:  n.monitor.Stats(),
		Router:   n.router.Stats(),
	}
}
