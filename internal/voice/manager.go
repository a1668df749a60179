// Package voice orchestrates a live conversation: it owns the
// single-active-session invariant, fetches session credentials and
// wires the capture, detection, playback and transport pieces together.
package voice

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Manager enforces that at most one voice session runs at a time. The
// holder is identified by an opaque token so that a stale teardown can
// never clear a newer session's claim.
type Manager struct {
	mu    sync.Mutex
	token string
	log   *slog.Logger
}

// NewManager returns a Manager with no active session. A nil log uses
// [slog.Default].
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// TryAcquire claims the active-session slot. It returns the holder
// token and true on success, or "" and false when a session is already
// active.
func (m *Manager) TryAcquire() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		m.log.Info("session already active, ignoring start", "holder", m.token)
		return "", false
	}
	m.token = uuid.NewString()
	m.log.Debug("session slot acquired", "token", m.token)
	return m.token, true
}

// Release frees the slot if token is the current holder. A stale or
// unknown token is a no-op.
func (m *Manager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || token != m.token {
		m.log.Debug("ignoring stale session release", "token", token)
		return
	}
	m.token = ""
	m.log.Debug("session slot released")
}

// Active reports whether a session currently holds the slot.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}
