package alerting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/maintwatch/internal/config"
	"github.com/plantops/maintwatch/internal/store"
)

var degradedCriticalSensors = map[string]float64{
	"vibration_x": 2.1,
	"vibration_y": 2.3,
	"temperature": 91.0,
	"pressure":    95.0,
	"rpm":         1400,
}

func warningRequest(alertType AlertType) EmitRequest {
	return EmitRequest{
		MachineID: "M-001",
		Type:      alertType,
		Severity:  SeverityWarning,
		Message:   "test condition",
		Sensors:   map[string]float64{"vibration_x": 0.9},
	}
}

func TestGateEmitsAndPersistsActiveAlert(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	g := NewAlertGate(st, config.Default(), clk.Now)
	var bucket RateBucket

	res := g.Emit(context.Background(), warningRequest(TypeWarningRUL), &bucket)
	require.Equal(t, OutcomeEmitted, res.Outcome)
	require.NotEmpty(t, res.ID)
	assert.True(t, strings.HasPrefix(res.ID, "ALERT-"))
	assert.Len(t, res.ID, len("ALERT-")+8)

	a, err := st.GetAlert(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, a.State)
	assert.Equal(t, string(TypeWarningRUL), a.AlertType)
}

func TestGateMultiSensorBlocksUnconfirmedCritical(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	// only vibration_x is degraded; a critical needs two sensors
	res := g.Emit(context.Background(), EmitRequest{
		MachineID: "M-001",
		Type:      TypeCriticalRUL,
		Severity:  SeverityCritical,
		Message:   "test condition",
		Sensors: map[string]float64{
			"vibration_x": 2.0,
			"vibration_y": 0.5,
			"temperature": 70.0,
			"pressure":    101.0,
			"rpm":         1480,
		},
	}, &bucket)

	assert.Equal(t, OutcomeSuppressed, res.Outcome)
	assert.Equal(t, SuppressMultiSensor, res.Reason)
}

func TestGateMultiSensorConfirmedCriticalEmits(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	res := g.Emit(context.Background(), EmitRequest{
		MachineID: "M-001",
		Type:      TypeCriticalRUL,
		Severity:  SeverityCritical,
		Message:   "test condition",
		Sensors:   degradedCriticalSensors,
	}, &bucket)

	assert.Equal(t, OutcomeEmitted, res.Outcome)
}

func TestGateLowPressureAndLowRPMCountAsDegraded(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	res := g.Emit(context.Background(), EmitRequest{
		MachineID: "M-001",
		Type:      TypeCriticalRUL,
		Severity:  SeverityCritical,
		Message:   "test condition",
		Sensors: map[string]float64{
			"vibration_x": 0.5,
			"vibration_y": 0.5,
			"temperature": 70.0,
			"pressure":    80.0,
			"rpm":         1200,
		},
	}, &bucket)

	assert.Equal(t, OutcomeEmitted, res.Outcome)
}

func TestGateWarningSkipsMultiSensorCheck(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	res := g.Emit(context.Background(), warningRequest(TypeWarningRUL), &bucket)
	assert.Equal(t, OutcomeEmitted, res.Outcome)
}

func TestGateRateLimitPerMachine(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	types := []AlertType{TypeWarningRUL, TypeLowHealthWarning, TypeAnomaly, TypeCriticalRUL, TypeLowHealthCritical}

	emittedCount := 0
	var last EmitResult
	for _, alertType := range types {
		last = g.Emit(context.Background(), warningRequest(alertType), &bucket)
		if last.Outcome == OutcomeEmitted {
			emittedCount++
		}
		clk.Advance(5 * time.Second)
	}

	assert.Equal(t, 3, emittedCount)
	assert.Equal(t, OutcomeSuppressed, last.Outcome)
	assert.Equal(t, SuppressRateLimit, last.Reason)
}

func TestGateRateLimitReleasesAfterAMinute(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	for _, alertType := range []AlertType{TypeWarningRUL, TypeLowHealthWarning, TypeAnomaly} {
		res := g.Emit(context.Background(), warningRequest(alertType), &bucket)
		require.Equal(t, OutcomeEmitted, res.Outcome)
	}

	res := g.Emit(context.Background(), warningRequest(TypeCriticalRUL), &bucket)
	require.Equal(t, OutcomeSuppressed, res.Outcome)

	clk.Advance(61 * time.Second)
	res = g.Emit(context.Background(), warningRequest(TypeCriticalRUL), &bucket)
	assert.Equal(t, OutcomeEmitted, res.Outcome)
}

func TestGateDedupSuppressesSecondActiveAlert(t *testing.T) {
	clk := newClock()
	g := NewAlertGate(store.NewMemStore(), config.Default(), clk.Now)
	var bucket RateBucket

	first := g.Emit(context.Background(), warningRequest(TypeWarningRUL), &bucket)
	require.Equal(t, OutcomeEmitted, first.Outcome)

	clk.Advance(5 * time.Second)
	second := g.Emit(context.Background(), warningRequest(TypeWarningRUL), &bucket)
	assert.Equal(t, OutcomeSuppressed, second.Outcome)
	assert.Equal(t, SuppressDuplicate, second.Reason)
}

func TestGateDedupIsPerMachineAndType(t *testing.T) {
	clk := newClock()
	st := store.NewMemStore()
	g := NewAlertGate(st, config.Default(), clk.Now)
	var bucketA, bucketB RateBucket

	reqA := warningRequest(TypeWarningRUL)
	res := g.Emit(context.Background(), reqA, &bucketA)
	require.Equal(t, OutcomeEmitted, res.Outcome)

	// same type on a different machine is not a duplicate
	reqB := reqA
	reqB.MachineID = "M-002"
	res = g.Emit(context.Background(), reqB, &bucketB)
	assert.Equal(t, OutcomeEmitted, res.Outcome)
}

func TestGateTotalRateLimitWhenEnabled(t *testing.T) {
	clk := newClock()
	cfg := config.Default()
	cfg.RateLimits.MaxTotalAlertsPerMinute = 2
	g := NewAlertGate(store.NewMemStore(), cfg, clk.Now)

	machines := []string{"M-001", "M-002", "M-003"}
	var last EmitResult
	emittedCount := 0
	for _, machine := range machines {
		req := warningRequest(TypeWarningRUL)
		req.MachineID = machine
		var bucket RateBucket
		last = g.Emit(context.Background(), req, &bucket)
		if last.Outcome == OutcomeEmitted {
			emittedCount++
		}
	}

	assert.Equal(t, 2, emittedCount)
	assert.Equal(t, SuppressTotalRate, last.Reason)
}

func TestGateEmissionCapMatchesStoreContents(t *testing.T) {
	// at most 3 emissions per machine in any 60 s window, and the store
	// holds exactly the emitted rows
	clk := newClock()
	st := store.NewMemStore()
	g := NewAlertGate(st, config.Default(), clk.Now)
	var bucket RateBucket

	types := []AlertType{TypeWarningRUL, TypeLowHealthWarning, TypeAnomaly, TypeCriticalRUL, TypeLowHealthCritical}
	emittedCount := 0
	for _, alertType := range types {
		req := warningRequest(alertType)
		if res := g.Emit(context.Background(), req, &bucket); res.Outcome == OutcomeEmitted {
			emittedCount++
		}
	}

	alerts, err := st.ListActiveAlerts(context.Background(), "M-001")
	require.NoError(t, err)
	assert.Equal(t, 3, emittedCount)
	assert.Len(t, alerts, 3)
}
