package alerting

import "time"

// PendingAlert tracks a condition the window has approved but that has
// not yet been present long enough to emit.
type PendingAlert struct {
	Type           AlertType `json:"alert_type"`
	Severity       Severity  `json:"severity"`
	FirstTriggered time.Time `json:"first_triggered"`
	LastTriggered  time.Time `json:"last_triggered"`
	TriggerCount   int       `json:"trigger_count"`
}

// pendingStaleAfter bounds how long a pending entry survives without a
// new trigger before the sweeper drops it.
const pendingStaleAfter = 120 * time.Second

// PendingTracker holds the persistence-window timers for one machine.
// Callers hold the machine lock.
type PendingTracker struct {
	entries map[AlertType]*PendingAlert
	now     func() time.Time
}

func NewPendingTracker(now func() time.Time) *PendingTracker {
	if now == nil {
		now = time.Now
	}
	return &PendingTracker{entries: map[AlertType]*PendingAlert{}, now: now}
}

// Process records an approved trigger and reports whether the condition
// has now been sustained for the full persistence window. A true return
// removes the entry; the caller proceeds to the gate.
func (t *PendingTracker) Process(alertType AlertType, severity Severity, persistence time.Duration) bool {
	now := t.now()

	entry, ok := t.entries[alertType]
	if !ok {
		t.entries[alertType] = &PendingAlert{
			Type:           alertType,
			Severity:       severity,
			FirstTriggered: now,
			LastTriggered:  now,
			TriggerCount:   1,
		}
		return false
	}

	entry.LastTriggered = now
	entry.TriggerCount++
	entry.Severity = severity

	if entry.LastTriggered.Sub(entry.FirstTriggered) >= persistence {
		delete(t.entries, alertType)
		return true
	}
	return false
}

// Clear drops the pending entry for a type. Called when the condition
// releases past its clear threshold.
func (t *PendingTracker) Clear(alertType AlertType) {
	delete(t.entries, alertType)
}

// Get returns the live entry for a type, or nil.
func (t *PendingTracker) Get(alertType AlertType) *PendingAlert {
	return t.entries[alertType]
}

// SweepStale drops entries whose last trigger is older than the
// staleness bound and reports how many were removed. Idempotent.
func (t *PendingTracker) SweepStale() int {
	cutoff := t.now().Add(-pendingStaleAfter)
	removed := 0
	for alertType, entry := range t.entries {
		if entry.LastTriggered.Before(cutoff) {
			delete(t.entries, alertType)
			removed++
		}
	}
	return removed
}
