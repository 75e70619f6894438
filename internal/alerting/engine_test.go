package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/store"
)

func newTestEngine(clk *fakeClock, st *store.MemStore) *Engine {
	return NewEngine(config.Default(), st, WithClock(clk.Now), WithStabilizerBypass())
}

func spikeSample(machineID string, clk *fakeClock) Sample {
	return Sample{
		MachineID: machineID,
		Timestamp: clk.Now(),
		Sensors: map[string]float64{
			"vibration_x": 2.6,
			"vibration_y": 2.55,
			"temperature": 92.0,
			"pressure":    95.0,
			"rpm":         1420,
		},
	}
}

func TestEngineSingleSpikeEmitsNothing(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	e := newTestEngine(clk, st)

	ids, err := e.Submit(context.Background(), spikeSample("M-A", clk))
	require.NoError(t, err)
	assert.Empty(t, ids)

	alerts, err := st.ListActiveAlerts(context.Background(), "M-A")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// the spike landed in a window but never reached the pending stage
	status := e.WindowStatus("M-A")
	assert.Empty(t, status.Pending)
}

func rampSample(machineID string, i int, clk *fakeClock) Sample {
	return Sample{
		MachineID: machineID,
		Timestamp: clk.Now(),
		Sensors: map[string]float64{
			"vibration_x": 1.3 + 0.02*float64(i),
			"vibration_y": 1.3 + 0.02*float64(i),
			"temperature": 72.0 + 0.25*float64(i),
			"pressure":    95.0,
			"rpm":         1400,
		},
	}
}

func TestEngineSustainedDegradationEmitsOneCritical(t *testing.T) {
	clk := newClock()
	start := clk.Now()
	st := store.NewMemStore()
	e := newTestEngine(clk, st)

	for i := 0; i < 120; i++ {
		_, err := e.Submit(context.Background(), rampSample("M-B", i, clk))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	alerts, err := st.ListActiveAlerts(context.Background(), "M-B")
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	byType := map[string][]store.Alert{}
	for _, a := range alerts {
		byType[a.AlertType] = append(byType[a.AlertType], a)
	}

	criticals := byType[string(TypeCriticalRUL)]
	require.Len(t, criticals, 1)
	assert.Equal(t, string(SeverityCritical), criticals[0].Severity)

	// the persistence window forces at least 30 s of sustained approval
	// after the critical band is entered, well past the first minute
	assert.False(t, criticals[0].CreatedAt.Before(start.Add(90*time.Second)))

	// dedup holds for every type
	for alertType, list := range byType {
		assert.Len(t, list, 1, alertType)
	}
}

func TestEngineWritesSensorHistoryPerSample(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	e := newTestEngine(clk, st)

	for i := 0; i < 5; i++ {
		_, err := e.Submit(context.Background(), rampSample("M-H", i, clk))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	rows := st.SensorHistory("M-H")
	require.Len(t, rows, 5)
	assert.Positive(t, rows[0].HealthScore)
	assert.Positive(t, rows[0].RULHours)
}

func TestEngineHonorsCancellation(t *testing.T) {
	clk := newClock()
	e := newTestEngine(clk, store.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Submit(ctx, spikeSample("M-A", clk))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineWindowStatusReportsLiveWindows(t *testing.T) {
	clk := newClock()
	e := newTestEngine(clk, store.NewMemStore())

	for i := 0; i < 5; i++ {
		_, err := e.Submit(context.Background(), spikeSample("M-W", clk))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	status := e.WindowStatus("M-W")
	require.Contains(t, status.Windows, string(TypeCriticalRUL))
	assert.Equal(t, 5, status.Windows[string(TypeCriticalRUL)].SampleCount)
}

func TestEngineResetMachineClearsWindows(t *testing.T) {
	clk := newClock()
	e := newTestEngine(clk, store.NewMemStore())

	for i := 0; i < 5; i++ {
		_, err := e.Submit(context.Background(), spikeSample("M-R", clk))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	require.NotEmpty(t, e.WindowStatus("M-R").Windows)

	e.ResetMachine("M-R")
	status := e.WindowStatus("M-R")
	assert.Empty(t, status.Windows)
	assert.Empty(t, status.Pending)
}

func TestEngineSweepArchivesOldResolvedAlerts(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	e := newTestEngine(clk, st)

	resolvedAt := clk.Now().Add(-91 * 24 * time.Hour)
	require.NoError(t, st.InsertAlert(context.Background(), store.Alert{
		ID:        "ALERT-OLD00001",
		MachineID: "M-Z",
		AlertType: string(TypeWarningRUL),
		Severity:  string(SeverityWarning),
		State:     store.StateActive,
		CreatedAt: resolvedAt.Add(-time.Hour),
	}))
	old, err := st.GetAlert(context.Background(), "ALERT-OLD00001")
	require.NoError(t, err)
	old.State = store.StateResolved
	old.ResolvedAt = &resolvedAt
	require.NoError(t, st.UpdateAlert(context.Background(), old, store.StateActive))

	e.Sweep(context.Background())

	archived, err := st.GetAlert(context.Background(), "ALERT-OLD00001")
	require.NoError(t, err)
	assert.Equal(t, store.StateLogged, archived.State)
}

func TestEngineSweepDropsStalePending(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	e := newTestEngine(clk, st)

	// drive a window into the pending stage without reaching emission
	for i := 60; i < 75; i++ {
		_, err := e.Submit(context.Background(), rampSample("M-P", i, clk))
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	require.NotEmpty(t, e.WindowStatus("M-P").Pending)

	clk.Advance(3 * time.Minute)
	e.Sweep(context.Background())

	assert.Empty(t, e.WindowStatus("M-P").Pending)
}
