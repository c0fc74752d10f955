package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the previous and the reloaded config together with
// their [Diff].
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reports edits that change the effective
// configuration. Edits that fail validation are logged and ignored; edits
// that only touch comments or formatting are absorbed silently.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to slog.Default.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// snapshot is one successful read of the file.
type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	sameBytes := snap.sum == w.sum
	w.mtime, w.sum = snap.mtime, snap.sum
	var d ConfigDiff
	if !sameBytes {
		d = Diff(old, snap.cfg)
		w.current = snap.cfg
	}
	w.mu.Unlock()

	if sameBytes {
		return
	}
	if !d.Changed() {
		w.log.Debug("config watcher: file edited without effective change", "path", w.path)
		return
	}
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"chat", d.ChatChanged,
		"conversation", d.ConversationChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg, d)
	}
}
