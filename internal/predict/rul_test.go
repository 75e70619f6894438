package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRULModelHealthyMachine(t *testing.T) {
	m := NewRULModel(144)

	rul, health := m.Predict(map[string]float64{
		"vibration_x": 0.45,
		"vibration_y": 0.42,
		"temperature": 65.0,
		"pressure":    101.3,
		"rpm":         1480,
	})

	assert.InDelta(t, 100.0, health, 0.01)
	assert.InDelta(t, 144.0, rul, 0.01)
}

func TestRULModelDegradedMachine(t *testing.T) {
	m := NewRULModel(144)

	rul, health := m.Predict(map[string]float64{
		"vibration_x": 2.1,
		"vibration_y": 1.9,
		"temperature": 92.0,
		"pressure":    95.0,
		"rpm":         1400,
	})

	assert.Less(t, health, 60.0)
	assert.Greater(t, health, 30.0)
	assert.Less(t, rul, 72.0)
	assert.Greater(t, rul, 0.0)
}

func TestRULModelSevereVibrationFloorsRUL(t *testing.T) {
	m := NewRULModel(144)

	rul, health := m.Predict(map[string]float64{
		"vibration_x": 4.0,
		"vibration_y": 4.2,
		"temperature": 98.0,
	})

	assert.Less(t, health, 40.0)
	assert.Less(t, rul, 24.0)
}

func TestRULModelBoundsHold(t *testing.T) {
	m := NewRULModel(144)

	cases := []map[string]float64{
		{},
		{"vibration_x": 0, "vibration_y": 0, "temperature": -40},
		{"vibration_x": 100, "vibration_y": 100, "temperature": 500},
		{"temperature": 5.0},
	}
	for _, sensors := range cases {
		rul, health := m.Predict(sensors)
		require.GreaterOrEqual(t, rul, 0.0)
		require.LessOrEqual(t, rul, 144.0)
		require.GreaterOrEqual(t, health, 0.0)
		require.LessOrEqual(t, health, 100.0)
	}
}

func TestRULModelChillerProfile(t *testing.T) {
	m := NewRULModel(144)

	// 6C on a chiller is healthy, 18C is near failure
	_, cold := m.Predict(map[string]float64{"vibration_x": 0.4, "vibration_y": 0.4, "temperature": 6.0})
	_, warm := m.Predict(map[string]float64{"vibration_x": 0.4, "vibration_y": 0.4, "temperature": 18.0})

	assert.Greater(t, cold, warm)
}

func TestFailureRiskBuckets(t *testing.T) {
	assert.Equal(t, "low", FailureRisk(100))
	assert.Equal(t, "medium", FailureRisk(48))
	assert.Equal(t, "high", FailureRisk(24))
	assert.Equal(t, "high", FailureRisk(2))
}
