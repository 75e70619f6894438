package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection without migrating.
// Used by tests that drive a mock database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL,
			acknowledged_by TEXT,
			acknowledged_at TIMESTAMPTZ,
			resolved_by TEXT,
			resolved_at TIMESTAMPTZ,
			root_cause TEXT,
			resolution_notes TEXT,
			downtime_minutes INTEGER NOT NULL DEFAULT 0,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_machine_state ON alerts (machine_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at)`,
		// backs the at-most-one-active-alert invariant at the database level
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active
			ON alerts (machine_id, alert_type)
			WHERE state IN ('ACTIVE', 'ACKNOWLEDGED', 'IN_PROGRESS')`,
		`CREATE TABLE IF NOT EXISTS maintenance_logs (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			alert_id TEXT NOT NULL REFERENCES alerts (id),
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ NOT NULL,
			operator TEXT NOT NULL,
			root_cause TEXT NOT NULL,
			resolution_notes TEXT NOT NULL,
			downtime_minutes INTEGER NOT NULL DEFAULT 0,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_machine_created ON maintenance_logs (machine_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_resolved_at ON maintenance_logs (resolved_at)`,
		`CREATE TABLE IF NOT EXISTS sensor_history (
			id BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			sensors JSONB NOT NULL,
			health_score DOUBLE PRECISION NOT NULL,
			rul_hours DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_history_machine_ts ON sensor_history (machine_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

// isUniqueViolation reports whether err is the unique-index violation
// raised when a second active alert races the conditional insert.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) InsertAlert(ctx context.Context, a Alert) error {
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, machine_id, alert_type, severity, message, created_at, state, downtime_minutes, metadata)
		SELECT $1, $2, $3, $4, $5, $6, $7, 0, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE machine_id = $2 AND alert_type = $3
			  AND state = ANY($9)
		)`,
		a.ID, a.MachineID, a.AlertType, a.Severity, a.Message, a.CreatedAt, a.State, meta,
		pq.Array(ActiveStates))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

const alertColumns = `id, machine_id, alert_type, severity, message, created_at, state,
	COALESCE(acknowledged_by, ''), acknowledged_at, COALESCE(resolved_by, ''), resolved_at,
	COALESCE(root_cause, ''), COALESCE(resolution_notes, ''), downtime_minutes, metadata`

func scanAlert(row interface{ Scan(...any) error }) (Alert, error) {
	var a Alert
	var meta []byte
	err := row.Scan(&a.ID, &a.MachineID, &a.AlertType, &a.Severity, &a.Message, &a.CreatedAt, &a.State,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt,
		&a.RootCause, &a.ResolutionNotes, &a.DowntimeMinutes, &meta)
	if err != nil {
		return Alert{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &a.Metadata)
	}
	return a, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAlerts(ctx context.Context, machineID string) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE state = ANY($1)`
	args := []any{pq.Array(ActiveStates)}
	if machineID != "" {
		query += ` AND machine_id = $2`
		args = append(args, machineID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("list active alerts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, a Alert, expectState string) error {
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET state = $1, acknowledged_by = NULLIF($2, ''), acknowledged_at = $3,
			resolved_by = NULLIF($4, ''), resolved_at = $5, root_cause = NULLIF($6, ''),
			resolution_notes = NULLIF($7, ''), downtime_minutes = $8, metadata = $9
		WHERE id = $10 AND state = $11`,
		a.State, a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt,
		a.RootCause, a.ResolutionNotes, a.DowntimeMinutes, meta, a.ID, expectState)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetAlert(ctx, a.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, a Alert, log MaintenanceLog) error {
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	logMeta, err := marshalMeta(log.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE alerts SET state = $1, resolved_by = $2, resolved_at = $3,
			root_cause = $4, resolution_notes = $5, downtime_minutes = $6, metadata = $7
		WHERE id = $8 AND state IN ($9, $10)`,
		StateResolved, a.ResolvedBy, a.ResolvedAt, a.RootCause, a.ResolutionNotes,
		a.DowntimeMinutes, meta, a.ID, StateAcknowledged, StateInProgress)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_logs (id, machine_id, alert_id, created_at, resolved_at, operator,
			root_cause, resolution_notes, downtime_minutes, severity, alert_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ID, log.MachineID, log.AlertID, log.CreatedAt, log.ResolvedAt, log.Operator,
		log.RootCause, log.ResolutionNotes, log.DowntimeMinutes, log.Severity, log.AlertType, logMeta); err != nil {
		return fmt.Errorf("insert maintenance log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ArchiveResolved(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET state = $1 WHERE state = $2 AND resolved_at < $3`,
		StateLogged, StateResolved, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive resolved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive resolved: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) CountAlertsByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM alerts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count alerts: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) HasActiveAlert(ctx context.Context, machineID, alertType string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE machine_id = $1 AND alert_type = $2 AND state = ANY($3)
		)`, machineID, alertType, pq.Array(ActiveStates)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has active alert: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, machineID string, since time.Time) ([]MaintenanceLog, error) {
	query := `SELECT id, machine_id, alert_id, created_at, resolved_at, operator,
		root_cause, resolution_notes, downtime_minutes, severity, alert_type, metadata
		FROM maintenance_logs WHERE created_at >= $1`
	args := []any{since}
	if machineID != "" {
		query += ` AND machine_id = $2`
		args = append(args, machineID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []MaintenanceLog
	for rows.Next() {
		var l MaintenanceLog
		var meta []byte
		if err := rows.Scan(&l.ID, &l.MachineID, &l.AlertID, &l.CreatedAt, &l.ResolvedAt, &l.Operator,
			&l.RootCause, &l.ResolutionNotes, &l.DowntimeMinutes, &l.Severity, &l.AlertType, &meta); err != nil {
			return nil, fmt.Errorf("list logs: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &l.Metadata)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertSensorHistory(ctx context.Context, row SensorHistoryRow) error {
	sensors, err := json.Marshal(row.Sensors)
	if err != nil {
		return fmt.Errorf("marshal sensors: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_history (machine_id, ts, sensors, health_score, rul_hours)
		VALUES ($1, $2, $3, $4, $5)`,
		row.MachineID, row.Timestamp, sensors, row.HealthScore, row.RULHours); err != nil {
		return fmt.Errorf("insert sensor history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
