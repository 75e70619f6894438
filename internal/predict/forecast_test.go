package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastInsufficientData(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := NewForecaster(30, clk.Now)

	for i := 0; i < 9; i++ {
		f.AddHealthReading("M-001", 80)
	}

	res := f.Forecast("M-001", 48)
	assert.Equal(t, "insufficient_data", res.Status)
	assert.Empty(t, res.Forecast)
}

func TestForecastDecliningHealthHasTTF(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := NewForecaster(30, clk.Now)

	health := 100.0
	for i := 0; i < 20; i++ {
		f.AddHealthReading("M-001", health)
		health -= 2
		clk.Advance(time.Minute)
	}

	res := f.Forecast("M-001", 48)
	require.Equal(t, "success", res.Status)
	require.Len(t, res.Forecast, 48)
	require.NotNil(t, res.TTFHours)

	// projection keeps falling toward the critical threshold
	assert.Greater(t, res.Forecast[0].Health, res.Forecast[20].Health)
	assert.Greater(t, *res.TTFHours, 0.0)
	assert.Less(t, *res.TTFHours, 48.0)

	for _, p := range res.Forecast {
		require.GreaterOrEqual(t, p.LowerBound, 0.0)
		require.LessOrEqual(t, p.UpperBound, 100.0)
		require.LessOrEqual(t, p.LowerBound, p.Health)
		require.GreaterOrEqual(t, p.UpperBound, p.Health)
	}
}

func TestForecastStableHealthHasNoTTF(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := NewForecaster(30, clk.Now)

	for i := 0; i < 20; i++ {
		f.AddHealthReading("M-001", 82)
		clk.Advance(time.Minute)
	}

	res := f.Forecast("M-001", 48)
	require.Equal(t, "success", res.Status)
	assert.Nil(t, res.TTFHours)
	assert.InDelta(t, 82, res.Forecast[0].Health, 1.0)
}

func TestForecastHistoryBounded(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := NewForecaster(30, clk.Now)

	for i := 0; i < healthHistoryCap+25; i++ {
		f.AddHealthReading("M-001", 80)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.history["M-001"], healthHistoryCap)
}

func TestForecastResetDropsHistory(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f := NewForecaster(30, clk.Now)

	for i := 0; i < 20; i++ {
		f.AddHealthReading("M-001", 70)
	}
	f.Reset("M-001")

	assert.Equal(t, "insufficient_data", f.Forecast("M-001", 24).Status)
}
