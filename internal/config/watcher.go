package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot is one successfully parsed read of the config file, used to
// detect real content changes between polls.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// Watcher polls the config file and invokes a callback whenever its
// content changes and still parses. A broken edit is logged and
// skipped; the last valid config remains current. Polling keeps the
// module free of a filesystem-notification dependency.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	last     snapshot
	done     chan struct{}
	stopOnce sync.Once
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

// NewWatcher loads the config at path and starts polling it in the
// background. The initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.pollLoop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

// refresh re-reads the file when its mtime moved and swaps in the new
// config when the content hash actually differs.
func (w *Watcher) refresh() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.last.hash {
		// Touched but content identical, just remember the new mtime.
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Callback runs outside the lock so it may call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// read parses and validates the file, returning it with the content
// hash and mtime needed for change detection.
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
	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
