package alerting

import (
	"fmt"
	"time"

	"github.com/plantops/maintwatch/internal/config"
)

// AlertType tags one monitored condition.
type AlertType string

const (
	TypeWarningRUL        AlertType = "warning_rul"
	TypeCriticalRUL       AlertType = "critical_rul"
	TypeLowHealthWarning  AlertType = "low_health_warning"
	TypeLowHealthCritical AlertType = "low_health_critical"
	TypeAnomaly           AlertType = "anomaly_detected"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sample is one sensor reading set for a machine. The pipeline never
// mutates it.
type Sample struct {
	MachineID string             `json:"machine_id"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

// Reading is the stabilized model output a sample reduces to before the
// per-type checks run.
type Reading struct {
	RULHours     float64
	Health       float64
	AnomalyScore float64
	IsAnomaly    bool
}

// TypeSpec is the full per-type rule set: window parameters, hysteresis
// trigger/clear, persistence window, severity and message rendering.
// The pipeline iterates over the table uniformly instead of branching
// per type.
type TypeSpec struct {
	Type        AlertType
	Window      config.Window
	Persistence time.Duration

	// Triggered and Cleared implement hysteresis. Between the two
	// thresholds neither fires, so a pending alert survives readings
	// that hover just below the trigger.
	Triggered func(r Reading) bool
	Cleared   func(r Reading) bool

	Severity func(r Reading) Severity
	Message  func(r Reading) string
}

// BuildTypeTable derives the rule table from configuration. Clear
// thresholds are strict: a reading exactly at clear does not release a
// pending alert.
func BuildTypeTable(cfg config.Root) []TypeSpec {
	th := cfg.Thresholds

	fixed := func(s Severity) func(Reading) Severity {
		return func(Reading) Severity { return s }
	}

	persistence := func(t AlertType) time.Duration {
		return time.Duration(cfg.PersistenceWindows[string(t)]) * time.Second
	}

	return []TypeSpec{
		{
			Type:        TypeCriticalRUL,
			Window:      cfg.EvaluationWindows[string(TypeCriticalRUL)],
			Persistence: persistence(TypeCriticalRUL),
			Triggered:   func(r Reading) bool { return r.RULHours < th.RULCriticalTrigger },
			Cleared:     func(r Reading) bool { return r.RULHours > th.RULCriticalClear },
			Severity:    fixed(SeverityCritical),
			Message: func(r Reading) string {
				return fmt.Sprintf("RUL critically low: %.1f hours remaining", r.RULHours)
			},
		},
		{
			Type:        TypeWarningRUL,
			Window:      cfg.EvaluationWindows[string(TypeWarningRUL)],
			Persistence: persistence(TypeWarningRUL),
			Triggered:   func(r Reading) bool { return r.RULHours >= th.RULCriticalTrigger && r.RULHours < th.RULWarningTrigger },
			Cleared:     func(r Reading) bool { return r.RULHours > th.RULWarningClear },
			Severity:    fixed(SeverityWarning),
			Message: func(r Reading) string {
				return fmt.Sprintf("RUL below warning level: %.1f hours remaining", r.RULHours)
			},
		},
		{
			Type:        TypeLowHealthCritical,
			Window:      cfg.EvaluationWindows[string(TypeLowHealthCritical)],
			Persistence: persistence(TypeLowHealthCritical),
			Triggered:   func(r Reading) bool { return r.Health < th.HealthCriticalTrigger },
			Cleared:     func(r Reading) bool { return r.Health > th.HealthCriticalClear },
			Severity:    fixed(SeverityCritical),
			Message: func(r Reading) string {
				return fmt.Sprintf("Health score critically low: %.1f%%", r.Health)
			},
		},
		{
			Type:        TypeLowHealthWarning,
			Window:      cfg.EvaluationWindows[string(TypeLowHealthWarning)],
			Persistence: persistence(TypeLowHealthWarning),
			Triggered:   func(r Reading) bool { return r.Health >= th.HealthCriticalTrigger && r.Health < th.HealthWarningTrigger },
			Cleared:     func(r Reading) bool { return r.Health > th.HealthWarningClear },
			Severity:    fixed(SeverityWarning),
			Message: func(r Reading) string {
				return fmt.Sprintf("Health score degraded: %.1f%%", r.Health)
			},
		},
		{
			Type:        TypeAnomaly,
			Window:      cfg.EvaluationWindows[string(TypeAnomaly)],
			Persistence: persistence(TypeAnomaly),
			Triggered:   func(r Reading) bool { return r.IsAnomaly },
			Cleared:     func(r Reading) bool { return !r.IsAnomaly },
			Severity: func(r Reading) Severity {
				if r.AnomalyScore > th.AnomalyCriticalScore {
					return SeverityCritical
				}
				return SeverityWarning
			},
			Message: func(r Reading) string {
				return fmt.Sprintf("Anomalous sensor pattern detected (score %.2f)", r.AnomalyScore)
			},
		},
	}
}

// RiskScore folds a stabilized reading into a single [0,1] scalar.
// Weights favor RUL because it is the most direct failure signal;
// 1 is worst on every axis.
func RiskScore(r Reading, maxRULHours float64) float64 {
	rulRisk := 1 - r.RULHours/maxRULHours
	healthRisk := 1 - r.Health/100
	anomalyRisk := r.AnomalyScore / 10
	if anomalyRisk > 1 {
		anomalyRisk = 1
	}
	if anomalyRisk < 0 {
		anomalyRisk = 0
	}

	risk := 0.50*rulRisk + 0.35*healthRisk + 0.15*anomalyRisk
	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}
