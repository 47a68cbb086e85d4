package app

import (
	"context"
	"sync/atomic"

	"evaliq-attempt-service/internal/domain"
)

// IntegrityMonitor counts transitions of the participant's tab into the hidden
// state. The counter lives in the session store and is incremented there, so a
// reload between two transitions never loses a count. Rapid repeated hidden
// events are not debounced.
type IntegrityMonitor struct {
	session   persistedSession
	threshold int
	armed     atomic.Bool
}

func newIntegrityMonitor(session persistedSession, threshold int) *IntegrityMonitor {
	return &IntegrityMonitor{session: session, threshold: threshold}
}

// Arm subscribes the monitor to visibility changes.
func (m *IntegrityMonitor) Arm() { m.armed.Store(true) }

// Disarm unsubscribes the monitor; later events are no-ops.
func (m *IntegrityMonitor) Disarm() { m.armed.Store(false) }

// Armed reports whether visibility changes are being counted.
func (m *IntegrityMonitor) Armed() bool { return m.armed.Load() }

// Observe handles one visibility change. Only transitions into hidden count.
// The returned warning is nil when the event was ignored.
func (m *IntegrityMonitor) Observe(ctx context.Context, hidden bool) (*domain.Warning, error) {
	if !hidden || !m.Armed() {
		return nil, nil
	}
	count, err := m.session.incrTabSwitches(ctx)
	if err != nil {
		return nil, err
	}
	remaining := m.threshold - count
	if remaining < 0 {
		remaining = 0
	}
	return &domain.Warning{
		Count:     count,
		Threshold: m.threshold,
		Remaining: remaining,
		Breached:  count >= m.threshold,
	}, nil
}
