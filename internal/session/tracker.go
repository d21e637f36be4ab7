// ABOUTME: Tracks the live session of every connected device
// ABOUTME: Last writer wins on add; removal is compare-and-delete by session id

package session

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker maps device ids to their current session.
// Every operation is an in-memory map mutation; no I/O happens under the lock.
type Tracker struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	gauge    prometheus.Gauge
	logger   *slog.Logger
}

// NewTracker creates an empty Tracker. gauge may be nil.
func NewTracker(logger *slog.Logger, gauge prometheus.Gauge) *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		gauge:    gauge,
		logger:   logger,
	}
}

// Add makes s the current session for its device, replacing any previous
// one. The replaced session, if any, is returned so the caller can close it.
func (t *Tracker) Add(s *Session) *Session {
	t.mu.Lock()
	prev := t.sessions[s.DeviceID]
	t.sessions[s.DeviceID] = s
	total := len(t.sessions)
	t.mu.Unlock()

	t.setGauge(total)
	if prev != nil {
		t.logger.Info("session replaced",
			"device_id", s.DeviceID,
			"old_session_id", prev.ID,
			"session_id", s.ID,
		)
	}
	t.logger.Info("=== DEVICE CONNECTED ===",
		"device_id", s.DeviceID,
		"session_id", s.ID,
		"total_sessions", total,
	)
	return prev
}

// Remove deletes the tracked session for deviceID only if its id equals
// sessionID. It reports whether anything was removed, so a stale stream
// closing after a reconnect cannot evict the newer session.
func (t *Tracker) Remove(deviceID, sessionID string) bool {
	t.mu.Lock()
	cur, ok := t.sessions[deviceID]
	if !ok || cur.ID != sessionID {
		t.mu.Unlock()
		return false
	}
	delete(t.sessions, deviceID)
	total := len(t.sessions)
	t.mu.Unlock()

	t.setGauge(total)
	t.logger.Info("=== DEVICE DISCONNECTED ===",
		"device_id", deviceID,
		"session_id", sessionID,
		"total_sessions", total,
	)
	return true
}

// Lookup returns the current session for deviceID.
func (t *Tracker) Lookup(deviceID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[deviceID]
	return s, ok
}

// IsConnected reports whether deviceID has a live session.
func (t *Tracker) IsConnected(deviceID string) bool {
	_, ok := t.Lookup(deviceID)
	return ok
}

// Snapshot returns device id -> session id for every tracked session.
func (t *Tracker) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string, len(t.sessions))
	for id, s := range t.sessions {
		out[id] = s.ID
	}
	return out
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *Tracker) setGauge(n int) {
	if t.gauge != nil {
		t.gauge.Set(float64(n))
	}
}
