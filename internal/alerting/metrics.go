package alerting

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantops/maintwatch/internal/observ"
)

// Prediction outcomes.
const (
	OutcomePending       = "PENDING"
	OutcomeTruePositive  = "TRUE_POSITIVE"
	OutcomeFalsePositive = "FALSE_POSITIVE"
)

// PredictionRecord is one failure prediction awaiting its verdict.
type PredictionRecord struct {
	ID                   string     `json:"id"`
	MachineID            string     `json:"machine_id"`
	PredictedAt          time.Time  `json:"predicted_at"`
	PredictedFailureTime time.Time  `json:"predicted_failure_time"`
	TTFHours             float64    `json:"ttf_hours"`
	Health               float64    `json:"health_score"`
	AnomalyScore         float64    `json:"anomaly_score"`
	Confidence           float64    `json:"confidence"`
	Outcome              string     `json:"outcome"`
	LeadTimeHours        *float64   `json:"lead_time_hours,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
}

// FailureEvent is an observed machine failure reported from the field.
type FailureEvent struct {
	ID        string    `json:"id"`
	MachineID string    `json:"machine_id"`
	Kind      string    `json:"event_type"`
	At        time.Time `json:"occurred_at"`
	Matched   bool      `json:"matched_prediction"`
}

// MetricsTracker scores predictions against observed failures.
// A failure within the prediction window after a PENDING prediction
// makes it a true positive; predictions that outlive the window become
// false positives; failures nothing predicted are false negatives.
type MetricsTracker struct {
	mu          sync.Mutex
	predictions []*PredictionRecord
	failures    []FailureEvent
	window      time.Duration
	now         func() time.Time
}

func NewMetricsTracker(window time.Duration, now func() time.Time) *MetricsTracker {
	if now == nil {
		now = time.Now
	}
	return &MetricsTracker{window: window, now: now}
}

// RecordPrediction registers a pending failure prediction.
func (t *MetricsTracker) RecordPrediction(machineID string, ttfHours, health, anomalyScore, confidence float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := &PredictionRecord{
		ID:                   "PRED-" + uuid.NewString()[:8],
		MachineID:            machineID,
		PredictedAt:          now,
		PredictedFailureTime: now.Add(time.Duration(ttfHours * float64(time.Hour))),
		TTFHours:             ttfHours,
		Health:               health,
		AnomalyScore:         anomalyScore,
		Confidence:           confidence,
		Outcome:              OutcomePending,
	}
	t.predictions = append(t.predictions, rec)
	return rec.ID
}

// RecordFailure registers an observed failure and matches it against
// the earliest pending prediction for the machine inside the window.
// Returns the matched prediction id, or "" for a false negative.
func (t *MetricsTracker) RecordFailure(machineID, kind string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	event := FailureEvent{
		ID:        "FAIL-" + uuid.NewString()[:8],
		MachineID: machineID,
		Kind:      kind,
		At:        now,
	}

	var match *PredictionRecord
	for _, rec := range t.predictions {
		if rec.MachineID != machineID || rec.Outcome != OutcomePending {
			continue
		}
		age := now.Sub(rec.PredictedAt)
		if age <= 0 || age > t.window {
			continue
		}
		if match == nil || rec.PredictedAt.Before(match.PredictedAt) {
			match = rec
		}
	}

	matchedID := ""
	if match != nil {
		lead := now.Sub(match.PredictedAt).Hours()
		match.Outcome = OutcomeTruePositive
		match.LeadTimeHours = &lead
		match.ResolvedAt = &now
		event.Matched = true
		matchedID = match.ID
	}
	t.failures = append(t.failures, event)

	observ.Log("failure_recorded", map[string]any{
		"machine_id": machineID,
		"event_type": kind,
		"matched":    event.Matched,
	})
	return matchedID
}

// ExpirePending marks predictions older than the window as false
// positives and reports how many flipped. Idempotent.
func (t *MetricsTracker) ExpirePending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	expired := 0
	for _, rec := range t.predictions {
		if rec.Outcome == OutcomePending && now.Sub(rec.PredictedAt) > t.window {
			rec.Outcome = OutcomeFalsePositive
			at := now
			rec.ResolvedAt = &at
			expired++
		}
	}
	return expired
}

// Report is the computed accuracy summary. TrueNegativesApprox is a
// heuristic count, named so consumers treat it accordingly.
type Report struct {
	Predictions         int     `json:"predictions_total"`
	Pending             int     `json:"pending"`
	TruePositives       int     `json:"true_positives"`
	FalsePositives      int     `json:"false_positives"`
	FalseNegatives      int     `json:"false_negatives"`
	TrueNegativesApprox int     `json:"true_negatives_approx"`
	Precision           float64 `json:"precision"`
	Recall              float64 `json:"recall"`
	F1                  float64 `json:"f1_score"`
	FalseAlarmRate      float64 `json:"false_alarm_rate"`
	AvgLeadTimeHours    float64 `json:"avg_lead_time_hours"`
	MinLeadTimeHours    float64 `json:"min_lead_time_hours"`
	MaxLeadTimeHours    float64 `json:"max_lead_time_hours"`
}

// Compute derives precision, recall, F1 and lead-time statistics.
// Degenerate denominators yield 1.0 for precision/recall and 0.0 for
// the false-alarm rate.
func (t *MetricsTracker) Compute() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	var r Report
	r.Predictions = len(t.predictions)

	var leads []float64
	for _, rec := range t.predictions {
		switch rec.Outcome {
		case OutcomePending:
			r.Pending++
		case OutcomeTruePositive:
			r.TruePositives++
			if rec.LeadTimeHours != nil {
				leads = append(leads, *rec.LeadTimeHours)
			}
		case OutcomeFalsePositive:
			r.FalsePositives++
		}
	}
	for _, f := range t.failures {
		if !f.Matched {
			r.FalseNegatives++
		}
	}

	tn := r.Predictions - r.TruePositives - r.FalsePositives
	if tn < 0 {
		tn = 0
	}
	r.TrueNegativesApprox = tn

	r.Precision = ratioOr(float64(r.TruePositives), float64(r.TruePositives+r.FalsePositives), 1.0)
	r.Recall = ratioOr(float64(r.TruePositives), float64(r.TruePositives+r.FalseNegatives), 1.0)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.FalseAlarmRate = ratioOr(float64(r.FalsePositives), float64(r.FalsePositives+tn), 0.0)

	if len(leads) > 0 {
		minLead, maxLead, sum := leads[0], leads[0], 0.0
		for _, l := range leads {
			if l < minLead {
				minLead = l
			}
			if l > maxLead {
				maxLead = l
			}
			sum += l
		}
		r.AvgLeadTimeHours = sum / float64(len(leads))
		r.MinLeadTimeHours = minLead
		r.MaxLeadTimeHours = maxLead
	}
	return r
}

func ratioOr(num, den, fallback float64) float64 {
	if den == 0 {
		return fallback
	}
	return num / den
}
