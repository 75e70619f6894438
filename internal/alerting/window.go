package alerting

import (
	"strings"
	"time"

	"github.com/plantops/maintwatch/internal/config"
)

// WindowSample is one risk observation inside an evaluation window.
type WindowSample struct {
	Timestamp time.Time
	Risk      float64
	Health    float64
	RUL       float64
	Sensors   map[string]float64
}

// Evaluation is the verdict over the current window contents.
type Evaluation struct {
	MayProceed     bool    `json:"may_proceed"`
	MeanRisk       float64 `json:"mean_risk"`
	RiskTrend      float64 `json:"risk_trend"` // per minute
	PctAbove       float64 `json:"pct_above"`
	SampleCount    int     `json:"sample_count"`
	DurationActual float64 `json:"duration_actual_seconds"`
	Reason         string  `json:"reason"`
}

// EvaluationWindow aggregates risk over a sliding time window for one
// (machine, alert type) pair. A single spike cannot pass: the verdict
// needs at least 3 samples, a mean over the risk threshold, enough
// samples above it, and (usually) a worsening trend.
type EvaluationWindow struct {
	cfg     config.Window
	samples []WindowSample
	now     func() time.Time
}

func NewEvaluationWindow(cfg config.Window, now func() time.Time) *EvaluationWindow {
	if now == nil {
		now = time.Now
	}
	return &EvaluationWindow{cfg: cfg, now: now}
}

// AddSample appends an observation stamped with the current time.
func (w *EvaluationWindow) AddSample(risk, health, rul float64, sensors map[string]float64) {
	w.prune()
	w.samples = append(w.samples, WindowSample{
		Timestamp: w.now(),
		Risk:      risk,
		Health:    health,
		RUL:       rul,
		Sensors:   sensors,
	})
}

// prune drops samples older than the window duration.
func (w *EvaluationWindow) prune() {
	cutoff := w.now().Add(-time.Duration(w.cfg.DurationSeconds) * time.Second)
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	w.samples = w.samples[i:]
}

// Evaluate prunes and renders the verdict for the current contents.
func (w *EvaluationWindow) Evaluate() Evaluation {
	w.prune()

	n := len(w.samples)
	if n < 3 {
		return Evaluation{
			SampleCount: n,
			Reason:      "Insufficient samples",
		}
	}

	var sum float64
	above := 0
	for _, s := range w.samples {
		sum += s.Risk
		if s.Risk >= w.cfg.RiskThreshold {
			above++
		}
	}
	mean := sum / float64(n)
	pctAbove := float64(above) / float64(n)
	trend := w.trendPerMinute()
	span := w.samples[n-1].Timestamp.Sub(w.samples[0].Timestamp).Seconds()

	ev := Evaluation{
		MeanRisk:       mean,
		RiskTrend:      trend,
		PctAbove:       pctAbove,
		SampleCount:    n,
		DurationActual: span,
	}

	var failures []string
	if mean < w.cfg.RiskThreshold {
		failures = append(failures, "mean risk below threshold")
	}
	if w.cfg.RequireWorseningTrend && trend <= 0 {
		failures = append(failures, "trend not worsening")
	}
	if pctAbove < w.cfg.RequiredPctAbove {
		failures = append(failures, "too few samples above threshold")
	}

	if len(failures) == 0 {
		ev.MayProceed = true
		ev.Reason = "PROCEED"
	} else {
		ev.Reason = strings.Join(failures, "; ")
	}
	return ev
}

// trendPerMinute is the least-squares slope of risk against elapsed
// seconds, scaled to per-minute units. Spans under a second report 0.
func (w *EvaluationWindow) trendPerMinute() float64 {
	n := len(w.samples)
	base := w.samples[0].Timestamp
	if w.samples[n-1].Timestamp.Sub(base).Seconds() < 1 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range w.samples {
		x := s.Timestamp.Sub(base).Seconds()
		y := s.Risk
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	return slope * 60
}

// Clear empties the window. Used when hysteresis releases a condition.
func (w *EvaluationWindow) Clear() {
	w.samples = nil
}

// Len reports the live sample count after pruning.
func (w *EvaluationWindow) Len() int {
	w.prune()
	return len(w.samples)
}
