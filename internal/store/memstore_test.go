package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeAlert(id, machine, alertType string) Alert {
	return Alert{
		ID:        id,
		MachineID: machine,
		AlertType: alertType,
		Severity:  "critical",
		Message:   "test condition",
		CreatedAt: time.Now(),
		State:     StateActive,
	}
}

func TestMemStoreEnforcesSingleActiveAlert(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul")))

	err := m.InsertAlert(ctx, activeAlert("A-2", "M-001", "critical_rul"))
	assert.ErrorIs(t, err, ErrDuplicate)

	// other machine or other type is fine
	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-3", "M-002", "critical_rul")))
	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-4", "M-001", "anomaly_detected")))
}

func TestMemStoreDuplicateAllowedAfterResolve(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul")))

	a, err := m.GetAlert(ctx, "A-1")
	require.NoError(t, err)
	a.State = StateAcknowledged
	require.NoError(t, m.UpdateAlert(ctx, a, StateActive))

	now := time.Now()
	a.State = StateResolved
	a.ResolvedAt = &now
	require.NoError(t, m.ResolveAlert(ctx, a, MaintenanceLog{ID: "LOG-A-1", AlertID: "A-1", MachineID: "M-001", CreatedAt: now, ResolvedAt: now}))

	// the pair is free again once no active row remains
	assert.NoError(t, m.InsertAlert(ctx, activeAlert("A-5", "M-001", "critical_rul")))
}

func TestMemStoreUpdateConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul")))

	a, err := m.GetAlert(ctx, "A-1")
	require.NoError(t, err)
	a.State = StateAcknowledged

	// expected state mismatch reports a conflict
	err = m.UpdateAlert(ctx, a, StateInProgress)
	assert.ErrorIs(t, err, ErrConflict)

	err = m.UpdateAlert(ctx, Alert{ID: "A-404"}, StateActive)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreResolveRequiresWorkableState(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul")))

	now := time.Now()
	a, _ := m.GetAlert(ctx, "A-1")
	a.State = StateResolved
	a.ResolvedAt = &now

	// resolving straight from ACTIVE is rejected
	err := m.ResolveAlert(ctx, a, MaintenanceLog{ID: "LOG-A-1", AlertID: "A-1"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemStoreArchiveResolved(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	for i, resolvedAt := range []time.Time{old, recent} {
		id := []string{"A-OLD", "A-NEW"}[i]
		require.NoError(t, m.InsertAlert(ctx, activeAlert(id, "M-00"+id, "critical_rul")))
		a, _ := m.GetAlert(ctx, id)
		a.State = StateAcknowledged
		require.NoError(t, m.UpdateAlert(ctx, a, StateActive))
		at := resolvedAt
		a.State = StateResolved
		a.ResolvedAt = &at
		require.NoError(t, m.ResolveAlert(ctx, a, MaintenanceLog{ID: "LOG-" + id, AlertID: id}))
	}

	moved, err := m.ArchiveResolved(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	archived, _ := m.GetAlert(ctx, "A-OLD")
	assert.Equal(t, StateLogged, archived.State)
	kept, _ := m.GetAlert(ctx, "A-NEW")
	assert.Equal(t, StateResolved, kept.State)
}

func TestMemStoreListLogsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	now := time.Now()

	require.NoError(t, m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul")))
	a, _ := m.GetAlert(ctx, "A-1")
	a.State = StateAcknowledged
	require.NoError(t, m.UpdateAlert(ctx, a, StateActive))
	a.State = StateResolved
	a.ResolvedAt = &now
	require.NoError(t, m.ResolveAlert(ctx, a, MaintenanceLog{
		ID: "LOG-A-1", AlertID: "A-1", MachineID: "M-001", CreatedAt: now, ResolvedAt: now,
	}))

	logs, err := m.ListLogs(ctx, "M-001", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	logs, err = m.ListLogs(ctx, "M-999", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, logs)

	logs, err = m.ListLogs(ctx, "M-001", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestMemStoreHonorsContextCancellation(t *testing.T) {
	m := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.InsertAlert(ctx, activeAlert("A-1", "M-001", "critical_rul"))
	assert.ErrorIs(t, err, context.Canceled)
}
