package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/observ"
	"github.com/plantops/maintwatch/internal/store"
)

// RateBucket records alert emission timestamps for one machine,
// truncated to the last minute on every use.
type RateBucket struct {
	emissions []time.Time
}

func (b *RateBucket) prune(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(b.emissions) && b.emissions[i].Before(cutoff) {
		i++
	}
	b.emissions = b.emissions[i:]
}

// Count returns the number of emissions in the last minute.
func (b *RateBucket) Count(now time.Time) int {
	b.prune(now)
	return len(b.emissions)
}

// EmitOutcome classifies what the gate did with a candidate alert.
type EmitOutcome int

const (
	OutcomeEmitted EmitOutcome = iota
	OutcomeSuppressed
	OutcomeFailed
)

// Suppression reasons observable by metrics and tests.
const (
	SuppressMultiSensor = "multi_sensor_not_confirmed"
	SuppressRateLimit   = "rate_limited"
	SuppressTotalRate   = "total_rate_limited"
	SuppressDuplicate   = "duplicate_active"
)

// EmitResult distinguishes an emitted alert from a deliberate
// suppression and from a storage failure.
type EmitResult struct {
	Outcome EmitOutcome
	ID      string
	Reason  string
	Err     error
}

func emitted(id string) EmitResult { return EmitResult{Outcome: OutcomeEmitted, ID: id} }

func suppressed(reason string) EmitResult {
	return EmitResult{Outcome: OutcomeSuppressed, Reason: reason}
}

func failed(err error) EmitResult { return EmitResult{Outcome: OutcomeFailed, Err: err} }

// EmitRequest is a candidate alert arriving at the gate.
type EmitRequest struct {
	MachineID string
	Type      AlertType
	Severity  Severity
	Message   string
	Sensors   map[string]float64
	Metadata  map[string]any
}

// AlertGate runs the final checks before an alert becomes a persisted
// row: multi-sensor confirmation for criticals, per-machine and
// system-wide rate limits, and dedup against active rows.
type AlertGate struct {
	store store.Store
	cfg   config.Root
	now   func() time.Time

	// system-wide bucket, only consulted when the total limit is on
	totalMu     sync.Mutex
	totalBucket RateBucket
}

func NewAlertGate(st store.Store, cfg config.Root, now func() time.Time) *AlertGate {
	if now == nil {
		now = time.Now
	}
	return &AlertGate{store: st, cfg: cfg, now: now}
}

// Emit runs the gate checks in order. The caller holds the machine lock
// guarding bucket, so check-and-emit is race-free per machine.
func (g *AlertGate) Emit(ctx context.Context, req EmitRequest, bucket *RateBucket) EmitResult {
	now := g.now()

	if req.Severity == SeverityCritical && g.cfg.MultiSensor.RequiredForCritical {
		degraded := g.degradedSensors(req.Sensors)
		if len(degraded) < g.cfg.MultiSensor.MinDegradedSensors {
			observ.Log("alert_suppressed", map[string]any{
				"machine_id": req.MachineID,
				"alert_type": string(req.Type),
				"reason":     SuppressMultiSensor,
				"degraded":   degraded,
			})
			return suppressed(SuppressMultiSensor)
		}
	}

	if bucket.Count(now) >= g.cfg.RateLimits.MaxAlertsPerMachinePerMinute {
		observ.IncCounter("alerts_rate_limited_total", map[string]string{"machine": req.MachineID})
		return suppressed(SuppressRateLimit)
	}

	if limit := g.cfg.RateLimits.MaxTotalAlertsPerMinute; limit > 0 {
		g.totalMu.Lock()
		overTotal := g.totalBucket.Count(now) >= limit
		g.totalMu.Unlock()
		if overTotal {
			return suppressed(SuppressTotalRate)
		}
	}

	exists, err := g.store.HasActiveAlert(ctx, req.MachineID, string(req.Type))
	if err != nil {
		return failed(fmt.Errorf("dedup check: %w", err))
	}
	if exists {
		return suppressed(SuppressDuplicate)
	}

	alert := store.Alert{
		ID:        newAlertID(),
		MachineID: req.MachineID,
		AlertType: string(req.Type),
		Severity:  string(req.Severity),
		Message:   req.Message,
		CreatedAt: now,
		State:     store.StateActive,
		Metadata:  req.Metadata,
	}

	if err := g.store.InsertAlert(ctx, alert); err != nil {
		// another writer won the race between check and insert
		if errors.Is(err, store.ErrDuplicate) {
			return suppressed(SuppressDuplicate)
		}
		return failed(fmt.Errorf("insert alert: %w", err))
	}

	bucket.emissions = append(bucket.emissions, now)
	if g.cfg.RateLimits.MaxTotalAlertsPerMinute > 0 {
		g.totalMu.Lock()
		g.totalBucket.emissions = append(g.totalBucket.emissions, now)
		g.totalMu.Unlock()
	}

	observ.IncCounter("alerts_emitted_total", map[string]string{
		"type":     string(req.Type),
		"severity": string(req.Severity),
	})
	observ.Log("alert_emitted", map[string]any{
		"alert_id":   alert.ID,
		"machine_id": req.MachineID,
		"alert_type": string(req.Type),
		"severity":   string(req.Severity),
	})
	return emitted(alert.ID)
}

// degradedSensors lists the sensors past their degradation threshold.
// Temperature and vibration degrade high, pressure and rpm degrade low.
func (g *AlertGate) degradedSensors(sensors map[string]float64) []string {
	th := g.cfg.MultiSensor.Degradation
	var degraded []string

	check := func(name string, bad bool) {
		if bad {
			degraded = append(degraded, name)
		}
	}
	if v, ok := sensors["vibration_x"]; ok {
		check("vibration_x", v > th["vibration_x"])
	}
	if v, ok := sensors["vibration_y"]; ok {
		check("vibration_y", v > th["vibration_y"])
	}
	if v, ok := sensors["temperature"]; ok {
		check("temperature", v > th["temperature"])
	}
	if v, ok := sensors["pressure"]; ok {
		check("pressure", v < th["pressure_low"])
	}
	if v, ok := sensors["rpm"]; ok {
		check("rpm", v < th["rpm_low"])
	}
	return degraded
}

// newAlertID returns "ALERT-" plus 8 uppercase hex characters.
func newAlertID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ALERT-" + id[:8]
}
