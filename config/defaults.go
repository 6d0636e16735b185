// =============================================================================
// 📦 SkillMesh 默认配置
// =============================================================================
// 组件段直接取各组件的 DefaultXConfig
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/handoff"
	"github.com/BaSui01/skillmesh/agent/hybrid"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/internal/cache"
	"github.com/BaSui01/skillmesh/internal/database"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Node:      DefaultNodeConfig(),
		Server:    DefaultServerConfig(),
		Transport: *transport.DefaultWebSocketConfig(),
		Registry:  *discovery.DefaultRegistryConfig(),
		Protocol:  *handoff.DefaultProtocolConfig(),
		Monitor:   *loadmonitor.DefaultMonitorConfig(),
		Router:    *hybrid.DefaultRouterConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Tier:               string(discovery.TierStandard),
		LoadReportInterval: 10 * time.Second,
		Builtins:           true,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:          7946,
		MetricsPort:       9091,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// DefaultStoreConfig 返回默认存储配置（不持久化）
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Redis: cache.DefaultConfig(),
		Database: database.Config{
			Driver: "sqlite",
			DSN:    "skillmesh.db",
			Pool:   database.DefaultPoolConfig(),
		},
		AutoMigrate: true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "skillmesh",
		SampleRate:   0.1,
	}
}
