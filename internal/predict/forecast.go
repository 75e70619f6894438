package predict

import (
	"math"
	"sync"
	"time"
)

const (
	healthHistoryCap = 100
	forecastMinData  = 10
)

// ForecastPoint is one projected hour of the health trajectory.
type ForecastPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Health     float64   `json:"health_score"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
}

// ForecastResult carries the projection and the estimated time to the
// critical threshold. TTFHours is nil when the trajectory never crosses
// it within the horizon.
type ForecastResult struct {
	Status   string          `json:"status"`
	Method   string          `json:"method,omitempty"`
	TTFHours *float64        `json:"ttf_hours"`
	Forecast []ForecastPoint `json:"forecast"`
}

type healthReading struct {
	at     time.Time
	health float64
}

// Forecaster projects per-machine health trajectories. The primary
// model is Holt's linear trend (double exponential smoothing); when it
// cannot fit, the forecaster degrades to a least-squares line. The call
// never fails.
type Forecaster struct {
	mu                sync.Mutex
	history           map[string][]healthReading
	criticalThreshold float64
	now               func() time.Time
}

func NewForecaster(criticalThreshold float64, now func() time.Time) *Forecaster {
	if now == nil {
		now = time.Now
	}
	return &Forecaster{
		history:           map[string][]healthReading{},
		criticalThreshold: criticalThreshold,
		now:               now,
	}
}

// AddHealthReading records a health data point for forecasting.
func (f *Forecaster) AddHealthReading(machineID string, health float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := append(f.history[machineID], healthReading{at: f.now(), health: health})
	if len(h) > healthHistoryCap {
		h = h[1:]
	}
	f.history[machineID] = h
}

// Forecast projects health per hour over the horizon.
func (f *Forecaster) Forecast(machineID string, horizonHours int) ForecastResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	history := f.history[machineID]
	if len(history) < forecastMinData {
		return ForecastResult{Status: "insufficient_data", Forecast: []ForecastPoint{}}
	}

	values := make([]float64, len(history))
	for i, r := range history {
		values[i] = r.health
	}

	level, trend, ok := holtFit(values)
	if ok {
		return f.project(values, level, trend, horizonHours, "holt")
	}

	slope := linearSlope(values)
	return f.project(values, values[len(values)-1], slope, horizonHours, "linear")
}

// project walks the horizon hour by hour from (level, perStepTrend).
func (f *Forecaster) project(values []float64, level, trend float64, horizonHours int, method string) ForecastResult {
	now := f.now()
	var points []ForecastPoint
	var ttf *float64

	for hour := 0; hour < horizonHours; hour++ {
		projected := clamp(level+trend*float64(hour), 0, 100)
		points = append(points, ForecastPoint{
			Timestamp:  now.Add(time.Duration(hour) * time.Hour),
			Health:     projected,
			LowerBound: clamp(projected-10, 0, 100),
			UpperBound: clamp(projected+10, 0, 100),
		})
		if ttf == nil && projected < f.criticalThreshold {
			h := float64(hour)
			ttf = &h
		}
	}

	return ForecastResult{Status: "success", Method: method, TTFHours: ttf, Forecast: points}
}

// holtFit runs double exponential smoothing and returns the final level
// and per-step trend. ok is false when the series is too short or the
// fit degenerates, in which case the caller must use the linear path.
func holtFit(values []float64) (level, trend float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}

	const alpha, beta = 0.5, 0.3

	level = values[0]
	trend = values[1] - values[0]
	for _, v := range values[1:] {
		prevLevel := level
		level = alpha*v + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	if math.IsNaN(level) || math.IsNaN(trend) || math.IsInf(level, 0) || math.IsInf(trend, 0) {
		return 0, 0, false
	}
	return level, trend, true
}

// linearSlope estimates the per-step drift over the last 10 values.
func linearSlope(values []float64) float64 {
	recent := values
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if len(recent) < 2 {
		return -0.5
	}
	return (recent[len(recent)-1] - recent[0]) / float64(len(recent))
}

// Reset drops forecast history for a machine.
func (f *Forecaster) Reset(machineID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, machineID)
}
