package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/node"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/config"
	"github.com/BaSui01/skillmesh/internal/database"
	"github.com/BaSui01/skillmesh/internal/metrics"
	"github.com/BaSui01/skillmesh/internal/server"
	"github.com/BaSui01/skillmesh/internal/telemetry"
	"github.com/BaSui01/skillmesh/internal/tlsutil"
)

// seedRetryInterval 种子节点拨号失败后的重试间隔
const seedRetryInterval = 10 * time.Second

// =============================================================================
// 🖥️ meshServer
// =============================================================================

// meshServer 持有一个节点进程的全部资源
type meshServer struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	providers *telemetry.Providers
	collector *metrics.Collector
	store     loadmonitor.MetricsStore
	transport *transport.WebSocketTransport
	node      *node.Node

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// serve 运行节点直到收到 SIGINT/SIGTERM 或服务器异常退出
func serve(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newMeshServer(cfg, configPath, "skillmesh", logger)
	if err != nil {
		return err
	}
	if err := s.start(ctx); err != nil {
		return errors.Join(err, s.shutdown())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-s.httpManager.Errors():
	case runErr = <-managerErrors(s.metricsManager):
	}

	return errors.Join(runErr, s.shutdown())
}

// newMeshServer 构建节点及其依赖，不监听端口
func newMeshServer(cfg *config.Config, configPath, namespace string, logger *zap.Logger) (*meshServer, error) {
	deviceID, err := resolveDeviceID(cfg.Node.DeviceID)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("device_id", deviceID))

	s := &meshServer{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}

	s.providers, err = telemetry.Init(cfg.Telemetry, deviceID, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	s.collector = metrics.NewCollector(namespace, logger)

	s.store, err = openStore(cfg.Store, logger)
	if err != nil {
		// 存储不可用时节点仍以纯内存方式运行
		logger.Warn("metrics store not available, running memory-only", zap.Error(err))
		s.store = nil
	}

	sk := skills.NewRegistry(logger)
	if cfg.Node.Builtins {
		if err := skills.RegisterBuiltins(sk); err != nil {
			s.closeResources()
			return nil, fmt.Errorf("register builtin skills: %w", err)
		}
	}

	serverTLS, err := tlsutil.ServerConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	transportCfg := cfg.Transport
	transportCfg.TLS, err = tlsutil.ClientConfig(cfg.Server.TLSCAFile)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.transport = transport.NewWebSocketTransport(deviceID, &transportCfg, logger)

	n, err := node.New(node.Options{
		Config:    nodeConfig(cfg, deviceID),
		Transport: s.transport,
		Skills:    sk,
		Store:     s.store,
		Metrics:   s.collector,
		Logger:    logger,
	})
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("create node: %w", err)
	}
	s.node = n

	routes := server.Routes{
		Mesh:      s.transport,
		Status:    func() any { return s.node.Status() },
		Collector: s.collector,
		Logger:    logger,
	}
	if cfg.Server.MetricsPort == 0 {
		routes.Metrics = promhttp.Handler()
	} else {
		s.metricsManager = server.NewManager(
			server.NewMetricsHandler(promhttp.Handler(), logger),
			serverConfig(cfg.Server, cfg.Server.MetricsPort),
			logger,
		)
	}
	httpCfg := serverConfig(cfg.Server, cfg.Server.HTTPPort)
	httpCfg.TLSConfig = serverTLS
	s.httpManager = server.NewManager(server.NewHandler(routes), httpCfg, logger)

	return s, nil
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

func (s *meshServer) start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Start(); err != nil {
			return err
		}
	}

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath, config.NewLoader(), s.cfg, config.WithWatcherLogger(s.logger))
		if err != nil {
			return err
		}
		w.OnChange(s.applyConfig)
		if err := w.Start(ctx); err != nil {
			s.logger.Warn("config watcher not started", zap.Error(err))
		} else {
			s.watcher = w
		}
	}

	for _, seed := range s.cfg.Node.Seeds {
		s.wg.Add(1)
		go s.dialSeed(ctx, seed)
	}

	s.logger.Info("mesh node ready",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("seeds", len(s.cfg.Node.Seeds)),
	)
	return nil
}

// dialSeed 拨号种子节点，失败时按固定间隔重试直到成功或退出
func (s *meshServer) dialSeed(ctx context.Context, url string) {
	defer s.wg.Done()

	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()

	for {
		peerID, err := s.transport.Dial(ctx, url)
		if err == nil {
			s.logger.Info("connected to seed", zap.String("seed", url), zap.String("peer_id", peerID))
			return
		}
		if errors.Is(err, transport.ErrTransportClosed) {
			return
		}
		s.logger.Warn("seed dial failed, will retry",
			zap.String("seed", url),
			zap.Duration("retry_in", seedRetryInterval),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applyConfig 在运行期应用可热更新的配置：负载权重与技能分级。
// 其他字段需要重启节点才生效。
func (s *meshServer) applyConfig(old, updated *config.Config) {
	weights := s.node.Monitor().SetWeights(updated.Monitor.Weights)

	changed := 0
	for skill, class := range updated.Router.WeightTable {
		if old != nil && old.Router.WeightTable[skill] == class {
			continue
		}
		if err := s.node.Router().SetWeightClass(skill, class); err != nil {
			s.logger.Warn("weight class rejected", zap.String("skill_id", skill), zap.Error(err))
			continue
		}
		changed++
	}

	s.logger.Info("runtime config applied",
		zap.Any("weights", weights),
		zap.Int("weight_classes_changed", changed),
	)
}

// shutdown 按依赖的逆序释放资源，可重复调用
func (s *meshServer) shutdown() error {
	s.shutdownOnce.Do(func() {
		var errs []error
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultServerConfig().ShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if s.cancel != nil {
			s.cancel()
		}
		if s.watcher != nil {
			errs = append(errs, s.watcher.Stop())
		}
		if s.httpManager != nil {
			errs = append(errs, s.httpManager.Shutdown(ctx))
		}
		if s.node != nil {
			errs = append(errs, s.node.Stop())
		}
		s.wg.Wait()
		errs = append(errs, s.closeResources())
		if s.metricsManager != nil {
			errs = append(errs, s.metricsManager.Shutdown(ctx))
		}
		errs = append(errs, s.providers.Shutdown(ctx))

		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// closeResources 关闭节点不拥有的传输层与存储
func (s *meshServer) closeResources() error {
	var errs []error
	if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// openStore 按配置打开负载指标存储。driver 为空时不持久化。
func openStore(cfg config.StoreConfig, logger *zap.Logger) (loadmonitor.MetricsStore, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "memory":
		return loadmonitor.NewMemoryMetricsStore(), nil
	case "redis":
		return loadmonitor.NewRedisMetricsStore(cfg.Redis, logger)
	case "sql":
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := loadmonitor.NewSQLMetricsStore(pool, cfg.AutoMigrate, logger)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func nodeConfig(cfg *config.Config, deviceID string) *node.Config {
	registry := cfg.Registry
	protocol := cfg.Protocol
	monitor := cfg.Monitor
	router := cfg.Router
	return &node.Config{
		DeviceID:           deviceID,
		Platform:           cfg.Node.Platform,
		Tier:               discovery.CapabilityTier(cfg.Node.Tier),
		GPU:                cfg.Node.GPU,
		Metadata:           cfg.Node.Metadata,
		LoadReportInterval: cfg.Node.LoadReportInterval,
		Registry:           &registry,
		Protocol:           &protocol,
		Monitor:            &monitor,
		Router:             &router,
	}
}

func serverConfig(cfg config.ServerConfig, port int) server.Config {
	sc := server.DefaultConfig()
	sc.Addr = fmt.Sprintf(":%d", port)
	sc.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	sc.IdleTimeout = cfg.IdleTimeout
	sc.ShutdownTimeout = cfg.ShutdownTimeout
	return sc
}

// resolveDeviceID 设备 ID 为空时使用主机名
func resolveDeviceID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "", fmt.Errorf("device id not configured and hostname unavailable: %v", err)
	}
	return host, nil
}

func managerErrors(m *server.Manager) <-chan error {
	if m == nil {
		return nil
	}
	return m.Errors()
}
