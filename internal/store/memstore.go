package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory Store used by tests and scenario playback.
// It enforces the same invariants as the Postgres implementation.
type MemStore struct {
	mu      sync.RWMutex
	alerts  map[string]Alert
	logs    map[string]MaintenanceLog
	history []SensorHistoryRow
}

func NewMemStore() *MemStore {
	return &MemStore{
		alerts: map[string]Alert{},
		logs:   map[string]MaintenanceLog{},
	}
}

func isActiveState(state string) bool {
	for _, s := range ActiveStates {
		if state == s {
			return true
		}
	}
	return false
}

func (m *MemStore) InsertAlert(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.MachineID == a.MachineID && existing.AlertType == a.AlertType && isActiveState(existing.State) {
			return ErrDuplicate
		}
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *MemStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

func (m *MemStore) ListActiveAlerts(ctx context.Context, machineID string) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Alert
	for _, a := range m.alerts {
		if !isActiveState(a.State) {
			continue
		}
		if machineID != "" && a.MachineID != machineID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateAlert(ctx context.Context, a Alert, expectState string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.State != expectState {
		return ErrConflict
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *MemStore) ResolveAlert(ctx context.Context, a Alert, log MaintenanceLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.State != StateAcknowledged && existing.State != StateInProgress {
		return ErrConflict
	}
	m.alerts[a.ID] = a
	m.logs[log.ID] = log
	return nil
}

func (m *MemStore) ArchiveResolved(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for id, a := range m.alerts {
		if a.State == StateResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			a.State = StateLogged
			m.alerts[id] = a
			moved++
		}
	}
	return moved, nil
}

func (m *MemStore) CountAlertsByState(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[string]int{}
	for _, a := range m.alerts {
		counts[a.State]++
	}
	return counts, nil
}

func (m *MemStore) HasActiveAlert(ctx context.Context, machineID, alertType string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.MachineID == machineID && a.AlertType == alertType && isActiveState(a.State) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) ListLogs(ctx context.Context, machineID string, since time.Time) ([]MaintenanceLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MaintenanceLog
	for _, l := range m.logs {
		if machineID != "" && l.MachineID != machineID {
			continue
		}
		if l.CreatedAt.Before(since) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) InsertSensorHistory(ctx context.Context, row SensorHistoryRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, row)
	return nil
}

// SensorHistory returns the recorded rows for a machine, oldest first.
func (m *MemStore) SensorHistory(machineID string) []SensorHistoryRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SensorHistoryRow
	for _, row := range m.history {
		if row.MachineID == machineID {
			out = append(out, row)
		}
	}
	return out
}

func (m *MemStore) Close() error { return nil }
