// Package skillmesh provides a top-level convenience entry point for building
// a mesh node with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/skillmesh"
//
//	net := transport.NewMemoryNetwork()
//	a, err := skillmesh.New(skillmesh.WithTransport(net.Join("node-a")), skillmesh.WithBuiltinSkills())
//	b, err := skillmesh.New(skillmesh.WithTransport(net.Join("node-b")))
//
// This is a thin wrapper around [node.New]; both produce identical results.
package skillmesh

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/hybrid"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/node"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/internal/metrics"
)

// Option configures the node created by [New].
type Option func(*options)

type options struct {
	config    *node.Config
	transport transport.Transport
	skills    *skills.Registry
	builtins  bool
	extra     []skillEntry
	store     loadmonitor.MetricsStore
	metrics   *metrics.Collector
	resources *discovery.Resources
	logger    *zap.Logger
}

type skillEntry struct {
	def     skills.SkillDefinition
	handler skills.SkillHandler
}

// New builds a node. A transport is required.
func New(opts ...Option) (*node.Node, error) {
	o := &options{config: node.DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	sk := o.skills
	if sk == nil {
		sk = skills.NewRegistry(o.logger)
	}
	if o.builtins {
		if err := skills.RegisterBuiltins(sk); err != nil {
			return nil, err
		}
	}
	var errs []error
	for _, e := range o.extra {
		errs = append(errs, sk.Register(e.def, e.handler))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return node.New(node.Options{
		Config:    o.config,
		Transport: o.transport,
		Skills:    sk,
		Store:     o.store,
		Metrics:   o.metrics,
		Resources: o.resources,
		Logger:    o.logger,
	})
}

// WithTransport sets the transport the node speaks over.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithConfig replaces the whole node configuration.
func WithConfig(cfg *node.Config) Option {
	return func(o *options) {
		if cfg != nil {
			c := *cfg
			o.config = &c
		}
	}
}

// WithDeviceID overrides the device ID, which otherwise is the transport's local ID.
func WithDeviceID(id string) Option {
	return func(o *options) { o.config.DeviceID = id }
}

// WithTier sets the capability tier.
func WithTier(tier discovery.CapabilityTier) Option {
	return func(o *options) { o.config.Tier = tier }
}

// WithGPU marks the device as having a GPU.
func WithGPU() Option {
	return func(o *options) { o.config.GPU = true }
}

// WithStrategy sets the router's default strategy.
func WithStrategy(s hybrid.Strategy) Option {
	return func(o *options) {
		rc := hybrid.DefaultRouterConfig()
		if o.config.Router != nil {
			*rc = *o.config.Router
		}
		rc.DefaultStrategy = s
		o.config.Router = rc
	}
}

// WithSkills sets a pre-built skill registry.
func WithSkills(r *skills.Registry) Option {
	return func(o *options) { o.skills = r }
}

// WithBuiltinSkills registers the demo skills (echo, uppercase, wordcount, sha256, ...).
func WithBuiltinSkills() Option {
	return func(o *options) { o.builtins = true }
}

// WithSkill registers one extra skill.
func WithSkill(def skills.SkillDefinition, handler skills.SkillHandler) Option {
	return func(o *options) { o.extra = append(o.extra, skillEntry{def: def, handler: handler}) }
}

// WithStore persists load metrics. The caller closes the store.
func WithStore(s loadmonitor.MetricsStore) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithResources overrides host resource detection.
func WithResources(r discovery.Resources) Option {
	return func(o *options) { o.resources = &r }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}
