package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/plantops/maintwatch/internal/observ"
	"github.com/plantops/maintwatch/internal/store"
)

// LifecycleManager runs the alert state machine. Every operation is a
// single store transaction; no partial mutation is ever visible.
//
// Allowed transitions: ACTIVE->ACKNOWLEDGED, ACKNOWLEDGED->IN_PROGRESS,
// ACKNOWLEDGED->RESOLVED, IN_PROGRESS->RESOLVED, RESOLVED->LOGGED.
type LifecycleManager struct {
	store store.Store
	now   func() time.Time

	// resetMachine clears pipeline state after a resolve, wired to
	// Engine.ResetMachine at startup. Optional.
	resetMachine func(machineID string)
}

func NewLifecycleManager(st store.Store, now func() time.Time) *LifecycleManager {
	if now == nil {
		now = time.Now
	}
	return &LifecycleManager{store: st, now: now}
}

// OnResolve registers a callback invoked after a successful resolve.
func (m *LifecycleManager) OnResolve(fn func(machineID string)) {
	m.resetMachine = fn
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED.
func (m *LifecycleManager) Acknowledge(ctx context.Context, alertID, operator string) (store.Alert, error) {
	if len(strings.TrimSpace(operator)) < 3 {
		return store.Alert{}, fmt.Errorf("%w: operator id must be at least 3 characters", ErrInvalidInput)
	}

	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return store.Alert{}, err
	}
	if a.State != store.StateActive {
		return store.Alert{}, fmt.Errorf("%w: cannot acknowledge alert in state %s", ErrInvalidState, a.State)
	}

	now := m.now()
	a.State = store.StateAcknowledged
	a.AcknowledgedBy = operator
	a.AcknowledgedAt = &now

	if err := m.store.UpdateAlert(ctx, a, store.StateActive); err != nil {
		return store.Alert{}, err
	}

	observ.Log("alert_acknowledged", map[string]any{"alert_id": alertID, "operator": operator})
	return a, nil
}

// StartWork moves an ACKNOWLEDGED alert to IN_PROGRESS.
func (m *LifecycleManager) StartWork(ctx context.Context, alertID, operator string) (store.Alert, error) {
	if len(strings.TrimSpace(operator)) < 3 {
		return store.Alert{}, fmt.Errorf("%w: operator id must be at least 3 characters", ErrInvalidInput)
	}

	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return store.Alert{}, err
	}
	if a.State != store.StateAcknowledged {
		return store.Alert{}, fmt.Errorf("%w: cannot start work on alert in state %s", ErrInvalidState, a.State)
	}

	a.State = store.StateInProgress

	if err := m.store.UpdateAlert(ctx, a, store.StateAcknowledged); err != nil {
		return store.Alert{}, err
	}

	observ.Log("alert_work_started", map[string]any{"alert_id": alertID, "operator": operator})
	return a, nil
}

// ResolveInput carries the resolution details.
type ResolveInput struct {
	Operator        string `json:"operator_id"`
	RootCause       string `json:"root_cause"`
	ResolutionNotes string `json:"resolution_notes"`
	DowntimeMinutes int    `json:"downtime_minutes"`
}

func (in ResolveInput) validate() error {
	if len(strings.TrimSpace(in.Operator)) < 3 {
		return fmt.Errorf("%w: operator id must be at least 3 characters", ErrInvalidInput)
	}
	if len(strings.TrimSpace(in.RootCause)) < 5 {
		return fmt.Errorf("%w: root cause must be at least 5 characters", ErrInvalidInput)
	}
	if len(strings.TrimSpace(in.ResolutionNotes)) < 10 {
		return fmt.Errorf("%w: resolution notes must be at least 10 characters", ErrInvalidInput)
	}
	if in.DowntimeMinutes < 0 {
		return fmt.Errorf("%w: downtime minutes must not be negative", ErrInvalidInput)
	}
	return nil
}

// Resolve moves an ACKNOWLEDGED or IN_PROGRESS alert to RESOLVED and
// writes the maintenance log in the same transaction. The log id is
// derived from the alert id so the audit trail joins trivially.
func (m *LifecycleManager) Resolve(ctx context.Context, alertID string, in ResolveInput) (store.MaintenanceLog, error) {
	if err := in.validate(); err != nil {
		return store.MaintenanceLog{}, err
	}

	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return store.MaintenanceLog{}, err
	}
	if a.State != store.StateAcknowledged && a.State != store.StateInProgress {
		return store.MaintenanceLog{}, fmt.Errorf("%w: cannot resolve alert in state %s", ErrInvalidState, a.State)
	}

	now := m.now()
	a.State = store.StateResolved
	a.ResolvedBy = in.Operator
	a.ResolvedAt = &now
	a.RootCause = in.RootCause
	a.ResolutionNotes = in.ResolutionNotes
	a.DowntimeMinutes = in.DowntimeMinutes

	log := store.MaintenanceLog{
		ID:              "LOG-" + alertID,
		MachineID:       a.MachineID,
		AlertID:         a.ID,
		CreatedAt:       now,
		ResolvedAt:      now,
		Operator:        in.Operator,
		RootCause:       in.RootCause,
		ResolutionNotes: in.ResolutionNotes,
		DowntimeMinutes: in.DowntimeMinutes,
		Severity:        a.Severity,
		AlertType:       a.AlertType,
		Metadata:        a.Metadata,
	}

	if err := m.store.ResolveAlert(ctx, a, log); err != nil {
		return store.MaintenanceLog{}, err
	}

	if m.resetMachine != nil {
		m.resetMachine(a.MachineID)
	}

	observ.Log("alert_resolved", map[string]any{
		"alert_id": alertID,
		"log_id":   log.ID,
		"operator": in.Operator,
		"downtime": in.DowntimeMinutes,
	})
	return log, nil
}

// Archive moves RESOLVED alerts older than the cutoff to LOGGED.
func (m *LifecycleManager) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	return m.store.ArchiveResolved(ctx, cutoff)
}

// Statistics summarizes the persisted alert population.
type Statistics struct {
	ByState           map[string]int `json:"by_state"`
	Total             int            `json:"total"`
	RequiresAttention int            `json:"requires_attention"`
}

// Stats counts alerts by state. RequiresAttention is the number still
// awaiting operator action.
func (m *LifecycleManager) Stats(ctx context.Context) (Statistics, error) {
	counts, err := m.store.CountAlertsByState(ctx)
	if err != nil {
		return Statistics{}, err
	}

	s := Statistics{ByState: counts}
	for _, n := range counts {
		s.Total += n
	}
	s.RequiresAttention = counts[store.StateActive] + counts[store.StateAcknowledged]
	return s, nil
}
