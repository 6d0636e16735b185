// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听配置文件所在目录，去抖后重新加载并回调。
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// Watcher 监听配置文件，变更后重新加载完整配置。
// 加载或校验失败时保留旧配置。
type Watcher struct {
	mu sync.RWMutex

	// 配置
	path          string
	loader        *Loader
	debounceDelay time.Duration

	// 状态
	running bool
	current *Config
	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	// 回调
	callbacks []func(old, updated *Config)

	// 记录器
	logger *zap.Logger
}

// --- 监听器选项 ---

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay 设置去抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 监听器实现 ---

// NewWatcher 创建配置监听器。current 为当前生效的配置，可为 nil。
// loader 的配置路径被设置为 path。
func NewWatcher(path string, loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if loader == nil {
		loader = NewLoader()
	}
	loader.WithConfigPath(abs)

	w := &Watcher{
		path:          abs,
		loader:        loader,
		debounceDelay: 200 * time.Millisecond,
		current:       current,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	return w, nil
}

// OnChange 注册配置变更回调
func (w *Watcher) OnChange(callback func(old, updated *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Path 返回监听的配置文件绝对路径
func (w *Watcher) Path() string {
	return w.path
}

// IsRunning 返回监听器是否在运行
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Start 开始监听。监听目录而不是文件本身，编辑器的原子替换也能被捕获。
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx, fsw, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监听
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()

	w.logger.Info("config watcher stopped")
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done <-chan struct{}) {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// 重置去抖定时器
			if timer == nil {
				timer = time.NewTimer(w.debounceDelay)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounceDelay)
			}
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-fire:
			fire = nil
			if _, err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected, keeping previous config", zap.Error(err))
			}
		}
	}
}

// Reload 立即重新加载并校验配置，成功后依次调用回调。
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := w.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	callbacks := make([]func(old, updated *Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(old, cfg)
	}
	return cfg, nil
}
