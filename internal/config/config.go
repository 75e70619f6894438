package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds carries the trigger/clear pairs for RUL and health alerts.
// Clear is always looser than trigger so conditions hovering just below
// the trigger cannot flap.
type Thresholds struct {
	RULCriticalTrigger float64 `yaml:"rul_critical_trigger"` // hours
	RULCriticalClear   float64 `yaml:"rul_critical_clear"`
	RULWarningTrigger  float64 `yaml:"rul_warning_trigger"`
	RULWarningClear    float64 `yaml:"rul_warning_clear"`

	HealthCriticalTrigger float64 `yaml:"health_critical_trigger"` // percent
	HealthCriticalClear   float64 `yaml:"health_critical_clear"`
	HealthWarningTrigger  float64 `yaml:"health_warning_trigger"`
	HealthWarningClear    float64 `yaml:"health_warning_clear"`

	AnomalyCriticalScore float64 `yaml:"anomaly_critical_score"`
}

// Window configures one evaluation window.
type Window struct {
	DurationSeconds       int     `yaml:"duration_seconds"`
	RequiredPctAbove      float64 `yaml:"required_pct_above"`
	RequireWorseningTrend bool    `yaml:"require_worsening_trend"`
	RiskThreshold         float64 `yaml:"risk_threshold"`
}

// RateLimits bounds alert emission.
type RateLimits struct {
	MaxAlertsPerMachinePerMinute int `yaml:"max_alerts_per_machine_per_minute"`
	MaxTotalAlertsPerMinute      int `yaml:"max_total_alerts_per_minute"` // 0 disables the system-wide limit
}

// MultiSensor configures critical-alert confirmation.
type MultiSensor struct {
	RequiredForCritical bool               `yaml:"required_for_critical"`
	MinDegradedSensors  int                `yaml:"min_degraded_sensors"`
	Degradation         map[string]float64 `yaml:"degradation_thresholds"`
}

// Stabilization configures the prediction smoothing layer.
type Stabilization struct {
	EMAAlpha                     float64 `yaml:"ema_alpha"`
	MinPredictionIntervalSeconds int     `yaml:"min_prediction_interval_seconds"`
	MaxRULHours                  float64 `yaml:"max_rul_hours"`
}

// Retention controls how long resolved alerts stay before archival and
// how far back maintenance logs are kept.
type Retention struct {
	AlertRetentionDays int `yaml:"alert_retention_days"`
	LogRetentionDays   int `yaml:"log_retention_days"`
}

type Forecast struct {
	CriticalHealthThreshold float64 `yaml:"critical_health_threshold"`
	PredictionWindowHours   float64 `yaml:"prediction_window_hours"`
}

type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type Server struct {
	Addr               string   `yaml:"addr"`
	CORSOrigins        []string `yaml:"cors_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

type Root struct {
	Thresholds         Thresholds        `yaml:"thresholds"`
	PersistenceWindows map[string]int    `yaml:"persistence_windows"` // alert type -> seconds
	EvaluationWindows  map[string]Window `yaml:"evaluation_windows"`
	RateLimits         RateLimits        `yaml:"rate_limits"`
	MultiSensor        MultiSensor       `yaml:"multi_sensor"`
	Stabilization      Stabilization     `yaml:"stabilization"`
	Retention          Retention         `yaml:"retention"`
	Forecast           Forecast          `yaml:"forecast"`
	Database           Database          `yaml:"database"`
	Server             Server            `yaml:"server"`
}

// Default returns the production configuration. Load starts from this,
// so a partial YAML file only overrides what it names.
func Default() Root {
	return Root{
		Thresholds: Thresholds{
			RULCriticalTrigger:    24,
			RULCriticalClear:      28,
			RULWarningTrigger:     48,
			RULWarningClear:       52,
			HealthCriticalTrigger: 30,
			HealthCriticalClear:   35,
			HealthWarningTrigger:  50,
			HealthWarningClear:    55,
			AnomalyCriticalScore:  5.0,
		},
		PersistenceWindows: map[string]int{
			"critical_rul":        30,
			"warning_rul":         60,
			"low_health_critical": 30,
			"low_health_warning":  60,
			"anomaly_detected":    45,
		},
		EvaluationWindows: map[string]Window{
			"warning_rul":         {DurationSeconds: 60, RequiredPctAbove: 0.55, RequireWorseningTrend: true, RiskThreshold: 0.4},
			"critical_rul":        {DurationSeconds: 45, RequiredPctAbove: 0.65, RequireWorseningTrend: true, RiskThreshold: 0.6},
			"low_health_warning":  {DurationSeconds: 60, RequiredPctAbove: 0.55, RequireWorseningTrend: true, RiskThreshold: 0.4},
			"low_health_critical": {DurationSeconds: 45, RequiredPctAbove: 0.65, RequireWorseningTrend: true, RiskThreshold: 0.6},
			"anomaly_detected":    {DurationSeconds: 90, RequiredPctAbove: 0.50, RequireWorseningTrend: false, RiskThreshold: 0.3},
		},
		RateLimits: RateLimits{
			MaxAlertsPerMachinePerMinute: 3,
			MaxTotalAlertsPerMinute:      0,
		},
		MultiSensor: MultiSensor{
			RequiredForCritical: true,
			MinDegradedSensors:  2,
			Degradation: map[string]float64{
				"vibration_x":  1.5,
				"vibration_y":  1.5,
				"temperature":  85.0,
				"pressure_low": 90.0,
				"rpm_low":      1350,
			},
		},
		Stabilization: Stabilization{
			EMAAlpha:                     0.1,
			MinPredictionIntervalSeconds: 300,
			MaxRULHours:                  144,
		},
		Retention: Retention{
			AlertRetentionDays: 90,
			LogRetentionDays:   730,
		},
		Forecast: Forecast{
			CriticalHealthThreshold: 30,
			PredictionWindowHours:   48,
		},
		Database: Database{
			Host:    "localhost",
			Port:    "5432",
			User:    "maintwatch",
			Name:    "maintwatch",
			SSLMode: "disable",
		},
		Server: Server{
			Addr:               ":8080",
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 100,
		},
	}
}

func Load(path string) (Root, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

// DSN builds the Postgres connection string, preferring DATABASE_URL
// when set so hosted deployments need no config file edits.
func (d Database) DSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return "host=" + d.Host + " port=" + d.Port + " user=" + d.User +
		" password=" + d.Password + " dbname=" + d.Name + " sslmode=" + d.SSLMode
}
