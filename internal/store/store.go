package store

import (
	"context"
	"errors"
	"time"
)

// Alert lifecycle states.
const (
	StateActive       = "ACTIVE"
	StateAcknowledged = "ACKNOWLEDGED"
	StateInProgress   = "IN_PROGRESS"
	StateResolved     = "RESOLVED"
	StateLogged       = "LOGGED"
)

// ActiveStates are the states that count toward the one-active-alert
// invariant per (machine, alert type).
var ActiveStates = []string{StateActive, StateAcknowledged, StateInProgress}

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("duplicate active alert")
	ErrConflict    = errors.New("concurrent modification")
	ErrUnavailable = errors.New("storage unavailable")
)

// Alert is one persisted alert row.
type Alert struct {
	ID              string         `json:"id"`
	MachineID       string         `json:"machine_id"`
	AlertType       string         `json:"alert_type"`
	Severity        string         `json:"severity"`
	Message         string         `json:"message"`
	CreatedAt       time.Time      `json:"created_at"`
	State           string         `json:"state"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	RootCause       string         `json:"root_cause,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	DowntimeMinutes int            `json:"downtime_minutes"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MaintenanceLog is the immutable audit record written when an alert is
// resolved.
type MaintenanceLog struct {
	ID              string         `json:"id"`
	MachineID       string         `json:"machine_id"`
	AlertID         string         `json:"alert_id"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      time.Time      `json:"resolved_at"`
	Operator        string         `json:"operator"`
	RootCause       string         `json:"root_cause"`
	ResolutionNotes string         `json:"resolution_notes"`
	DowntimeMinutes int            `json:"downtime_minutes"`
	Severity        string         `json:"severity"`
	AlertType       string         `json:"alert_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SensorHistoryRow is one append-only sensor snapshot.
type SensorHistoryRow struct {
	MachineID   string             `json:"machine_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Sensors     map[string]float64 `json:"sensors"`
	HealthScore float64            `json:"health_score"`
	RULHours    float64            `json:"rul_hours"`
}

// Store is the persistence contract. Every call is one transaction.
type Store interface {
	// InsertAlert persists a new ACTIVE alert. Returns ErrDuplicate when
	// a row for the same (machine, alert type) is already in an active
	// state, which keeps the dedup invariant even across processes.
	InsertAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, id string) (Alert, error)
	// ListActiveAlerts returns alerts in active states, newest first.
	// Empty machineID means all machines.
	ListActiveAlerts(ctx context.Context, machineID string) ([]Alert, error)
	// UpdateAlert rewrites the row only while it is still in
	// expectState; returns ErrConflict when another writer moved it.
	UpdateAlert(ctx context.Context, a Alert, expectState string) error
	// ResolveAlert moves the alert to RESOLVED and writes the
	// maintenance log in the same transaction.
	ResolveAlert(ctx context.Context, a Alert, log MaintenanceLog) error
	// ArchiveResolved moves RESOLVED alerts older than cutoff to LOGGED
	// and reports how many rows moved.
	ArchiveResolved(ctx context.Context, cutoff time.Time) (int, error)
	CountAlertsByState(ctx context.Context) (map[string]int, error)
	HasActiveAlert(ctx context.Context, machineID, alertType string) (bool, error)
	// ListLogs returns maintenance logs created since the given time,
	// newest first. Empty machineID means all machines.
	ListLogs(ctx context.Context, machineID string, since time.Time) ([]MaintenanceLog, error)
	InsertSensorHistory(ctx context.Context, row SensorHistoryRow) error
	Close() error
}
