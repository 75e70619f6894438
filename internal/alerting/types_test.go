package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/maintwatch/internal/config"
)

func specFor(t *testing.T, table []TypeSpec, alertType AlertType) TypeSpec {
	t.Helper()
	for _, spec := range table {
		if spec.Type == alertType {
			return spec
		}
	}
	t.Fatalf("type %s missing from table", alertType)
	return TypeSpec{}
}

func TestTypeTableCoversAllTypes(t *testing.T) {
	table := BuildTypeTable(config.Default())
	require.Len(t, table, 5)

	seen := map[AlertType]bool{}
	for _, spec := range table {
		seen[spec.Type] = true
		require.NotNil(t, spec.Triggered)
		require.NotNil(t, spec.Cleared)
		require.NotNil(t, spec.Severity)
		require.NotNil(t, spec.Message)
		require.Positive(t, spec.Persistence)
	}
	for _, alertType := range []AlertType{TypeWarningRUL, TypeCriticalRUL, TypeLowHealthWarning, TypeLowHealthCritical, TypeAnomaly} {
		assert.True(t, seen[alertType], string(alertType))
	}
}

func TestWarningRULHysteresis(t *testing.T) {
	spec := specFor(t, BuildTypeTable(config.Default()), TypeWarningRUL)

	// trigger 48, clear 52
	assert.True(t, spec.Triggered(Reading{RULHours: 47}))
	assert.False(t, spec.Triggered(Reading{RULHours: 49}))

	// between trigger and clear nothing fires, so a pending alert survives
	assert.False(t, spec.Cleared(Reading{RULHours: 49}))

	// exactly at the clear threshold does not clear; strictly above does
	assert.False(t, spec.Cleared(Reading{RULHours: 52}))
	assert.True(t, spec.Cleared(Reading{RULHours: 52.1}))
}

func TestCriticalRULExcludesWarningBand(t *testing.T) {
	table := BuildTypeTable(config.Default())
	critical := specFor(t, table, TypeCriticalRUL)
	warning := specFor(t, table, TypeWarningRUL)

	// 20 h is critical territory, not warning
	assert.True(t, critical.Triggered(Reading{RULHours: 20}))
	assert.False(t, warning.Triggered(Reading{RULHours: 20}))

	// 40 h is warning territory only
	assert.False(t, critical.Triggered(Reading{RULHours: 40}))
	assert.True(t, warning.Triggered(Reading{RULHours: 40}))
}

func TestHealthHysteresis(t *testing.T) {
	table := BuildTypeTable(config.Default())
	critical := specFor(t, table, TypeLowHealthCritical)
	warning := specFor(t, table, TypeLowHealthWarning)

	assert.True(t, critical.Triggered(Reading{Health: 25}))
	assert.False(t, critical.Cleared(Reading{Health: 35}))
	assert.True(t, critical.Cleared(Reading{Health: 36}))

	assert.True(t, warning.Triggered(Reading{Health: 45}))
	assert.False(t, warning.Triggered(Reading{Health: 25}))
	assert.False(t, warning.Cleared(Reading{Health: 55}))
	assert.True(t, warning.Cleared(Reading{Health: 56}))
}

func TestAnomalySeveritySplitsOnScore(t *testing.T) {
	spec := specFor(t, BuildTypeTable(config.Default()), TypeAnomaly)

	assert.Equal(t, SeverityWarning, spec.Severity(Reading{AnomalyScore: 4.2, IsAnomaly: true}))
	assert.Equal(t, SeverityWarning, spec.Severity(Reading{AnomalyScore: 5.0, IsAnomaly: true}))
	assert.Equal(t, SeverityCritical, spec.Severity(Reading{AnomalyScore: 5.1, IsAnomaly: true}))

	assert.True(t, spec.Triggered(Reading{IsAnomaly: true}))
	assert.True(t, spec.Cleared(Reading{IsAnomaly: false}))
}

func TestNoFlapBetweenTriggerAndClear(t *testing.T) {
	// alternating 47/49 h readings: 47 triggers, 49 neither triggers nor
	// clears, so a single pending entry rides through the oscillation
	clk := newClock()
	spec := specFor(t, BuildTypeTable(config.Default()), TypeWarningRUL)
	tr := NewPendingTracker(clk.Now)

	released := 0
	for i := 0; i < 120; i++ {
		rul := 47.0
		if i%2 == 1 {
			rul = 49.0
		}
		r := Reading{RULHours: rul}
		switch {
		case spec.Cleared(r):
			tr.Clear(spec.Type)
		case spec.Triggered(r):
			if tr.Process(spec.Type, SeverityWarning, spec.Persistence) {
				released++
			}
		}
		clk.Advance(time.Second)
	}

	assert.Equal(t, 1, released)
}
