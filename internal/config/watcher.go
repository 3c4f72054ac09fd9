package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the config already in use.
var ErrUnchanged = errors.New("config: unchanged")

// ChangeFunc receives the previous config, the new config and their diff.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher keeps a config file and its running copy in step. [Watcher.Run]
// polls the file's mtime; [Watcher.Reload] re-reads it on demand, for
// example on SIGHUP. A change is only applied when the content hash differs
// and the new file validates. Otherwise the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]

	// mu serialises reloads and guards mtime and hash.
	mu    sync.Mutex
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run]. The default
// is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Nothing is polled until
// [Watcher.Run] is called.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(cfg)
	w.hash, w.mtime = hash, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	if !unchanged {
		// Recorded up front so a broken file is not re-parsed every tick.
		w.mtime = info.ModTime()
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	if _, err := w.Reload(); err != nil && !errors.Is(err, ErrUnchanged) {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

// Reload re-reads the file regardless of its mtime and applies it when the
// content changed. It returns [ErrUnchanged] when there is nothing to apply
// and a load error when the file no longer validates.
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.mu.Lock()
	cfg, hash, mtime, err := w.read()
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, err
	}
	w.mtime = mtime
	if hash == w.hash {
		w.mu.Unlock()
		return ConfigDiff{}, ErrUnchanged
	}
	w.hash = hash
	old := w.current.Swap(cfg)
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"typos_changed", d.TyposChanged,
		"rate_limit_changed", d.RateLimitChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current or Reload.
	if w.onChange != nil && d.Changed() {
		w.onChange(old, cfg, d)
	}
	return d, nil
}

// read parses and validates the file and returns it together with the
// content hash and modification time.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data), FormatFor(w.path))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
