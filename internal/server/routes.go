package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/internal/metrics"
)

// 节点对外暴露的路径
const (
	PathMesh    = "/mesh"
	PathHealth  = "/healthz"
	PathStatus  = "/status"
	PathMetrics = "/metrics"
)

// Routes 描述节点 HTTP 端点的依赖。为 nil 的字段对应路由不注册。
type Routes struct {
	// Mesh 接收入站的 WebSocket 对等连接
	Mesh http.Handler

	// Status 返回可 JSON 序列化的节点状态快照
	Status func() any

	// Metrics 为 Prometheus 抓取端点；通常只在 metrics 端口未单独开启时挂载
	Metrics http.Handler

	Collector *metrics.Collector
	Logger    *zap.Logger
}

// NewHandler 构建路由。
// /mesh 只套 Recovery：协议升级需要原始 ResponseWriter 来劫持连接。
func NewHandler(r Routes) http.Handler {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http_routes"))
	started := time.Now()

	api := http.NewServeMux()
	api.HandleFunc("GET "+PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	if r.Status != nil {
		api.HandleFunc("GET "+PathStatus, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, r.Status())
		})
	}
	if r.Metrics != nil {
		api.Handle("GET "+PathMetrics, r.Metrics)
	}

	wrapped := Chain(api,
		Recovery(logger),
		OTelTracing(),
		Metrics(r.Collector),
		RequestLogger(logger),
	)

	root := http.NewServeMux()
	if r.Mesh != nil {
		root.Handle(PathMesh, Recovery(logger)(r.Mesh))
	}
	root.Handle("/", wrapped)
	return root
}

// NewMetricsHandler 构建独立 metrics 端口上的路由
func NewMetricsHandler(metricsHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("GET "+PathMetrics, metricsHandler)
	return Recovery(logger)(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
