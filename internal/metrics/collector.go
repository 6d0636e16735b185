// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法对 nil 接收者安全，组件可在未配置指标时直接调用。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 委派协议指标
	delegationsTotal   *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec

	// 路由指标
	routerExecutionsTotal *prometheus.CounterVec
	routerFallbacksTotal  *prometheus.CounterVec
	routerDuration        *prometheus.HistogramVec

	// 负载监控指标
	systemLoad     prometheus.Gauge
	sheddingActive prometheus.Gauge
	agentLoad      *prometheus.GaugeVec

	// 注册表与传输指标
	registryDevices   *prometheus.GaugeVec
	transportMessages *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.delegationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of settled delegations by terminal status",
		},
		[]string{"status"},
	)

	c.delegationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Time from delegate to settlement in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"status"},
	)

	c.routerExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_executions_total",
			Help:      "Total number of routed executions",
		},
		[]string{"strategy", "location", "status"},
	)

	c.routerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_fallbacks_total",
			Help:      "Total number of executions that used the fallback side",
		},
		[]string{"strategy"},
	)

	c.routerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "router_execution_duration_seconds",
			Help:      "Routed execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy", "location"},
	)

	c.systemLoad = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitor_system_load",
		Help:      "Average load score across all known agents",
	})

	c.sheddingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitor_shedding_active",
		Help:      "1 when system-wide load shedding is active",
	})

	c.agentLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_load_score",
			Help:      "Load score per agent",
		},
		[]string{"agent_id"},
	)

	c.registryDevices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_devices",
			Help:      "Number of known devices by state",
		},
		[]string{"state"},
	)

	c.transportMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_messages_total",
			Help:      "Mesh messages by direction and type",
		},
		[]string{"direction", "type"},
	)

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤝 委派与路由指标记录
// =============================================================================

// RecordDelegation 记录一次委派的终态与耗时
func (c *Collector) RecordDelegation(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.delegationsTotal.WithLabelValues(status).Inc()
	c.delegationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordExecution 记录一次路由执行
func (c *Collector) RecordExecution(strategy, location string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	c.routerExecutionsTotal.WithLabelValues(strategy, location, status).Inc()
	c.routerDuration.WithLabelValues(strategy, location).Observe(duration.Seconds())
}

// RecordFallback 记录一次回退执行
func (c *Collector) RecordFallback(strategy string) {
	if c == nil {
		return
	}
	c.routerFallbacksTotal.WithLabelValues(strategy).Inc()
}

// =============================================================================
// ⚖️ 负载与注册表指标记录
// =============================================================================

// SetSystemLoad 更新系统平均负载与降载状态
func (c *Collector) SetSystemLoad(load float64, shedding bool) {
	if c == nil {
		return
	}
	c.systemLoad.Set(load)
	if shedding {
		c.sheddingActive.Set(1)
	} else {
		c.sheddingActive.Set(0)
	}
}

// SetAgentLoad 更新单个 agent 的负载分
func (c *Collector) SetAgentLoad(agentID string, score float64) {
	if c == nil {
		return
	}
	c.agentLoad.WithLabelValues(agentID).Set(score)
}

// ForgetAgent 移除 agent 的负载 Gauge（指标数据本身由监控器保留）
func (c *Collector) ForgetAgent(agentID string) {
	if c == nil {
		return
	}
	c.agentLoad.DeleteLabelValues(agentID)
}

// SetRegistryDevices 按状态更新设备数量
func (c *Collector) SetRegistryDevices(counts map[string]int) {
	if c == nil {
		return
	}
	for state, n := range counts {
		c.registryDevices.WithLabelValues(state).Set(float64(n))
	}
}

// RecordMessage 记录一条收发的 mesh 消息
func (c *Collector) RecordMessage(direction, msgType string) {
	if c == nil {
		return
	}
	c.transportMessages.WithLabelValues(direction, msgType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
