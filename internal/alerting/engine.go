package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/observ"
	"github.com/plantops/maintwatch/internal/predict"
	"github.com/plantops/maintwatch/internal/store"
)

// machineState bundles everything the pipeline mutates for one machine.
// All fields are guarded by mu; the engine's map lock only covers
// lookup and insertion of the struct itself.
type machineState struct {
	mu       sync.Mutex
	detector *predict.AnomalyDetector
	windows  map[AlertType]*EvaluationWindow
	pending  *PendingTracker
	bucket   RateBucket
}

// Engine drives a sample through anomaly detection, RUL estimation,
// stabilization, windowed evaluation, persistence timing and the alert
// gate. Distinct machines run concurrently; a single machine's samples
// are serialized by its lock.
type Engine struct {
	mu       sync.RWMutex
	machines map[string]*machineState

	cfg        config.Root
	store      store.Store
	stabilizer *predict.Stabilizer
	forecaster *predict.Forecaster
	gate       *AlertGate
	metrics    *MetricsTracker
	table      []TypeSpec
	now        func() time.Time
	bypass     bool

	sweepOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

type EngineOption func(*Engine)

// WithClock injects a time source. Tests use this to drive windows and
// persistence timers deterministically.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithStabilizerBypass makes every submit use the raw model output.
// Scenario playback needs this because scripted samples arrive far
// faster than the stabilizer refresh interval.
func WithStabilizerBypass() EngineOption {
	return func(e *Engine) { e.bypass = true }
}

func NewEngine(cfg config.Root, st store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		machines: map[string]*machineState{},
		cfg:      cfg,
		store:    st,
		table:    BuildTypeTable(cfg),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	model := predict.NewRULModel(cfg.Stabilization.MaxRULHours)
	e.stabilizer = predict.NewStabilizer(model, predict.StabilizerConfig{
		EMAAlpha:    cfg.Stabilization.EMAAlpha,
		MinInterval: time.Duration(cfg.Stabilization.MinPredictionIntervalSeconds) * time.Second,
		MaxRULHours: cfg.Stabilization.MaxRULHours,
	}, e.now)
	e.forecaster = predict.NewForecaster(cfg.Forecast.CriticalHealthThreshold, e.now)
	e.gate = NewAlertGate(st, cfg, e.now)
	e.metrics = NewMetricsTracker(time.Duration(cfg.Forecast.PredictionWindowHours)*time.Hour, e.now)
	return e
}

// machine returns the state for a machine, creating it on first use.
func (e *Engine) machine(machineID string) *machineState {
	e.mu.RLock()
	ms, ok := e.machines[machineID]
	e.mu.RUnlock()
	if ok {
		return ms
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ms, ok = e.machines[machineID]; ok {
		return ms
	}
	ms = &machineState{
		detector: predict.NewAnomalyDetector(),
		windows:  map[AlertType]*EvaluationWindow{},
		pending:  NewPendingTracker(e.now),
	}
	e.machines[machineID] = ms
	return ms
}

func (ms *machineState) window(spec TypeSpec, now func() time.Time) *EvaluationWindow {
	w, ok := ms.windows[spec.Type]
	if !ok {
		w = NewEvaluationWindow(spec.Window, now)
		ms.windows[spec.Type] = w
	}
	return w
}

// Submit runs one sample through the pipeline and returns the ids of
// any alerts emitted for it. Predictive failures degrade to fallbacks;
// only cancellation aborts the call.
func (e *Engine) Submit(ctx context.Context, sample Sample) ([]string, error) {
	start := time.Now()

	ms := e.machine(sample.MachineID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	isAnomaly, anomalyScore, _ := ms.detector.Detect(sample.Sensors)
	rul, health := e.stabilizer.StablePredict(sample.Sensors, sample.MachineID, e.bypass)
	e.forecaster.AddHealthReading(sample.MachineID, health)

	reading := Reading{
		RULHours:     rul,
		Health:       health,
		AnomalyScore: anomalyScore,
		IsAnomaly:    isAnomaly,
	}
	risk := RiskScore(reading, e.cfg.Stabilization.MaxRULHours)

	if err := e.store.InsertSensorHistory(ctx, store.SensorHistoryRow{
		MachineID:   sample.MachineID,
		Timestamp:   e.now(),
		Sensors:     sample.Sensors,
		HealthScore: health,
		RULHours:    rul,
	}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		observ.IncCounter("store_errors_total", nil)
		observ.LogError("sensor_history_write_failed", err, map[string]any{"machine_id": sample.MachineID})
	}

	var emittedIDs []string
	for _, spec := range e.table {
		switch {
		case spec.Cleared(reading):
			ms.pending.Clear(spec.Type)
			if w, ok := ms.windows[spec.Type]; ok {
				w.Clear()
			}

		case spec.Triggered(reading):
			w := ms.window(spec, e.now)
			w.AddSample(risk, health, rul, sample.Sensors)

			ev := w.Evaluate()
			if !ev.MayProceed {
				continue
			}

			severity := spec.Severity(reading)
			if !ms.pending.Process(spec.Type, severity, spec.Persistence) {
				continue
			}

			res := e.gate.Emit(ctx, EmitRequest{
				MachineID: sample.MachineID,
				Type:      spec.Type,
				Severity:  severity,
				Message:   spec.Message(reading),
				Sensors:   sample.Sensors,
				Metadata: map[string]any{
					"risk_score":    risk,
					"mean_risk":     ev.MeanRisk,
					"risk_trend":    ev.RiskTrend,
					"rul_hours":     rul,
					"health_score":  health,
					"anomaly_score": anomalyScore,
				},
			}, &ms.bucket)

			switch res.Outcome {
			case OutcomeEmitted:
				emittedIDs = append(emittedIDs, res.ID)
				e.metrics.RecordPrediction(sample.MachineID, rul, health, anomalyScore, risk)
			case OutcomeFailed:
				// the alert is dropped; pipeline state stays consistent
				observ.IncCounter("store_errors_total", nil)
				observ.LogError("alert_emit_failed", res.Err, map[string]any{
					"machine_id": sample.MachineID,
					"alert_type": string(spec.Type),
				})
			}
		}
	}

	observ.IncCounter("samples_submitted_total", nil)
	observ.RecordDuration("sample_submit", time.Since(start), nil)
	return emittedIDs, nil
}

// MachineWindowStatus is the introspection view for one machine.
type MachineWindowStatus struct {
	Windows map[string]Evaluation   `json:"windows"`
	Pending map[string]PendingAlert `json:"pending"`
}

// WindowStatus reports the live evaluation state of every window and
// pending entry for a machine.
func (e *Engine) WindowStatus(machineID string) MachineWindowStatus {
	ms := e.machine(machineID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	status := MachineWindowStatus{
		Windows: map[string]Evaluation{},
		Pending: map[string]PendingAlert{},
	}
	for alertType, w := range ms.windows {
		status.Windows[string(alertType)] = w.Evaluate()
	}
	for alertType, entry := range ms.pending.entries {
		status.Pending[string(alertType)] = *entry
	}
	return status
}

// ResetMachine clears prediction and window state after maintenance so
// the next samples are judged fresh. The rate bucket survives: the
// per-minute emission cap holds across maintenance.
func (e *Engine) ResetMachine(machineID string) {
	e.stabilizer.Reset(machineID)
	e.forecaster.Reset(machineID)

	e.mu.RLock()
	ms, ok := e.machines[machineID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.windows = map[AlertType]*EvaluationWindow{}
	ms.pending = NewPendingTracker(e.now)

	observ.Log("machine_reset", map[string]any{"machine_id": machineID})
}

// Forecast projects the machine's health trajectory.
func (e *Engine) Forecast(machineID string, horizonHours int) predict.ForecastResult {
	return e.forecaster.Forecast(machineID, horizonHours)
}

// PredictionTrend reports recent stabilized prediction movement.
func (e *Engine) PredictionTrend(machineID string, window time.Duration) predict.Trend {
	return e.stabilizer.PredictionTrend(machineID, window)
}

// Metrics exposes the prediction accuracy tracker.
func (e *Engine) Metrics() *MetricsTracker { return e.metrics }

const sweepInterval = 30 * time.Second

// StartSweeper launches the background maintenance loop: stale pending
// entries, rate bucket trims, prediction expiry and alert archival.
// Safe to call once; Stop shuts it down.
func (e *Engine) StartSweeper() {
	e.sweepOnce.Do(func() {
		go func() {
			defer close(e.done)
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					e.Sweep(context.Background())
				case <-e.stop:
					return
				}
			}
		}()
	})
}

// Stop terminates the sweeper and waits for it to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
	}
}

// Sweep runs one maintenance pass. Idempotent; also called directly by
// tests and the replay tool.
func (e *Engine) Sweep(ctx context.Context) {
	now := e.now()

	e.mu.RLock()
	machines := make([]*machineState, 0, len(e.machines))
	for _, ms := range e.machines {
		machines = append(machines, ms)
	}
	e.mu.RUnlock()

	staleDropped := 0
	for _, ms := range machines {
		ms.mu.Lock()
		staleDropped += ms.pending.SweepStale()
		ms.bucket.prune(now)
		ms.mu.Unlock()
	}
	if staleDropped > 0 {
		observ.Log("pending_swept", map[string]any{"dropped": staleDropped})
	}

	expired := e.metrics.ExpirePending()
	if expired > 0 {
		observ.Log("predictions_expired", map[string]any{"count": expired})
	}

	cutoff := now.AddDate(0, 0, -e.cfg.Retention.AlertRetentionDays)
	archived, err := e.store.ArchiveResolved(ctx, cutoff)
	if err != nil {
		observ.LogError("archive_sweep_failed", err, nil)
	} else if archived > 0 {
		observ.Log("alerts_archived", map[string]any{"count": archived})
	}
}
