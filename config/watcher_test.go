package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Constructor ---

func TestNewWatcher_Defaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, path, w.Path())
	assert.False(t, w.IsRunning())
	assert.Nil(t, w.Current())
	assert.Equal(t, 200*time.Millisecond, w.debounceDelay)
}

func TestNewWatcher_Options(t *testing.T) {
	path := writeConfig(t, "")

	w, err := NewWatcher(path, NewLoader(), DefaultConfig(),
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, w.debounceDelay)
	assert.NotNil(t, w.Current())
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher("", nil, nil)
	assert.Error(t, err)
}

// --- Reload ---

func TestWatcher_ReloadCallsBack(t *testing.T) {
	path := writeConfig(t, "monitor:\n  overload_threshold: 0.8\n")
	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	w, err := NewWatcher(path, nil, initial)
	require.NoError(t, err)

	var got []float64
	w.OnChange(func(old, updated *Config) {
		got = append(got, old.Monitor.OverloadThreshold, updated.Monitor.OverloadThreshold)
	})

	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  overload_threshold: 0.6\n"), 0644))
	cfg, err := w.Reload()
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Monitor.OverloadThreshold)
	assert.Equal(t, []float64{0.8, 0.6}, got)
	assert.Same(t, cfg, w.Current())
}

func TestWatcher_ReloadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "node:\n  tier: light\n")
	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	w, err := NewWatcher(path, nil, initial)
	require.NoError(t, err)

	called := false
	w.OnChange(func(_, _ *Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("node:\n  tier: huge\n"), 0644))
	_, err = w.Reload()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("node: [broken"), 0644))
	_, err = w.Reload()
	assert.Error(t, err)

	assert.False(t, called)
	assert.Same(t, initial, w.Current())
}

// --- Start / Stop ---

func TestWatcher_DetectsFileChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, nil, nil, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		levels []string
	)
	w.OnChange(func(_, updated *Config) {
		mu.Lock()
		levels = append(levels, updated.Log.Level)
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, nil, nil, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	calls := make(chan struct{}, 10)
	w.OnChange(func(_, _ *Config) { calls <- struct{}{} })

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	sibling := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(sibling, []byte("x: 1"), 0644))

	select {
	case <-calls:
		t.Fatal("sibling file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	path := writeConfig(t, "")

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}
