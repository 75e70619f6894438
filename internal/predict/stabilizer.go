package predict

import (
	"sync"
	"time"
)

const predictionHistoryCap = 50

// StabilizerConfig tunes the smoothing layer.
type StabilizerConfig struct {
	EMAAlpha    float64
	MinInterval time.Duration
	MaxRULHours float64
}

// Prediction is one stabilized (rul, health) point.
type Prediction struct {
	Timestamp time.Time `json:"timestamp"`
	RULHours  float64   `json:"rul_hours"`
	Health    float64   `json:"health_score"`
}

type stabilizerState struct {
	history     []Prediction
	lastRefresh time.Time
	cached      Prediction
	hasCache    bool
}

// Stabilizer wraps the raw RUL model with EMA smoothing, monotonic RUL
// enforcement and refresh rate limiting. Without it raw predictions
// oscillate with sensor noise and alerts flap.
type Stabilizer struct {
	mu       sync.Mutex
	model    *RULModel
	cfg      StabilizerConfig
	machines map[string]*stabilizerState
	now      func() time.Time
}

func NewStabilizer(model *RULModel, cfg StabilizerConfig, now func() time.Time) *Stabilizer {
	if now == nil {
		now = time.Now
	}
	return &Stabilizer{
		model:    model,
		cfg:      cfg,
		machines: map[string]*stabilizerState{},
		now:      now,
	}
}

// StablePredict returns the smoothed (rul, health) for a machine.
// With bypass set it returns the raw model output and drops the
// machine's state, which is what scenario playback needs.
func (s *Stabilizer) StablePredict(sensors map[string]float64, machineID string, bypass bool) (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bypass {
		delete(s.machines, machineID)
		return s.model.Predict(sensors)
	}

	now := s.now()
	st, ok := s.machines[machineID]
	if !ok {
		st = &stabilizerState{}
		s.machines[machineID] = st
	}

	// within the refresh interval the cached value is authoritative
	if st.hasCache && now.Sub(st.lastRefresh) < s.cfg.MinInterval {
		return st.cached.RULHours, st.cached.Health
	}

	rawRUL, rawHealth := s.model.Predict(sensors)

	var stableRUL, stableHealth float64
	if len(st.history) == 0 {
		stableRUL, stableHealth = rawRUL, rawHealth
	} else {
		prev := st.history[len(st.history)-1]

		alpha := s.cfg.EMAAlpha
		emaRUL := alpha*rawRUL + (1-alpha)*prev.RULHours
		emaHealth := alpha*rawHealth + (1-alpha)*prev.Health

		// RUL never increases between maintenance events
		stableRUL = emaRUL
		if stableRUL > prev.RULHours {
			stableRUL = prev.RULHours
		}

		// health may drift up at most 5% over the previous value
		stableHealth = emaHealth
		if stableHealth > prev.Health*1.05 {
			stableHealth = prev.Health
		}

		stableRUL = clamp(stableRUL, 0, s.cfg.MaxRULHours)
		stableHealth = clamp(stableHealth, 0, 100)
	}

	p := Prediction{Timestamp: now, RULHours: stableRUL, Health: stableHealth}
	st.history = append(st.history, p)
	if len(st.history) > predictionHistoryCap {
		st.history = st.history[1:]
	}
	st.lastRefresh = now
	st.cached = p
	st.hasCache = true

	return stableRUL, stableHealth
}

// Reset drops all stabilizer state for a machine. Called after
// maintenance so the next prediction starts fresh.
func (s *Stabilizer) Reset(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, machineID)
}

// Trend summarizes the recent stabilized predictions for a machine.
type Trend struct {
	Status       string       `json:"status"`
	DataPoints   int          `json:"data_points"`
	RULChange    float64      `json:"rul_change"`
	HealthChange float64      `json:"health_change"`
	Trend        string       `json:"trend"`
	History      []Prediction `json:"history"`
}

// PredictionTrend reports how predictions moved over the last window.
func (s *Stabilizer) PredictionTrend(machineID string, window time.Duration) Trend {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.machines[machineID]
	if !ok {
		return Trend{Status: "no_data"}
	}

	cutoff := s.now().Add(-window)
	var recent []Prediction
	for _, p := range st.history {
		if !p.Timestamp.Before(cutoff) {
			recent = append(recent, p)
		}
	}
	if len(recent) == 0 {
		return Trend{Status: "no_recent_data"}
	}

	t := Trend{Status: "success", DataPoints: len(recent), History: recent, Trend: "stable"}
	if len(recent) >= 2 {
		t.RULChange = recent[len(recent)-1].RULHours - recent[0].RULHours
		t.HealthChange = recent[len(recent)-1].Health - recent[0].Health
		if t.RULChange < -5 {
			t.Trend = "degrading"
		}
	}
	return t
}
