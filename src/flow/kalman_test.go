package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKalman_ConsistentMeasurementKeepsEstimate(t *testing.T) {
	cfg := DefaultConfig()
	cal := cfg.Calibration
	k := NewKalman(cfg.Kalman, cal.MinRate, cal.MaxRate)
	k.Reset(3)

	h, ok := cal.Conversion(3)
	assert.True(t, ok)

	k.Predict(3)
	k.Update(3*h, h)

	assert.InDelta(t, 3.0, k.X, 1e-9)
	assert.Less(t, k.P, cfg.Kalman.InitialCovariance+cfg.Kalman.ProcessNoise)
}

func TestKalman_MovesTowardMeasurement(t *testing.T) {
	cfg := DefaultConfig()
	cal := cfg.Calibration
	k := NewKalman(cfg.Kalman, cal.MinRate, cal.MaxRate)
	k.Reset(3)

	h, _ := cal.Conversion(3)
	k.Predict(3)
	k.Update(4*h, h)

	assert.Greater(t, k.X, 3.0)
	assert.LessOrEqual(t, k.X, 4.0)
}

func TestKalman_StaysInBandUnderGarbage(t *testing.T) {
	cfg := DefaultConfig()
	cal := cfg.Calibration
	k := NewKalman(cfg.Kalman, cal.MinRate, cal.MaxRate)
	k.Reset(3)

	for _, z := range []float64{1e9, -1e9, 0, math.MaxFloat64 / 4, 12345} {
		k.Predict(k.X)
		k.Update(z, 2)
		assert.GreaterOrEqual(t, k.X, cal.MinRate)
		assert.LessOrEqual(t, k.X, cal.MaxRate)
	}
}

func TestKalman_CovarianceHasFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kalman.ProcessNoise = 0
	cfg.Kalman.MeasurementNoise = 1e-12
	k := NewKalman(cfg.Kalman, 1, 8)
	k.Reset(2)

	for _n := 0; _n < 50; _n++ {
		k.Predict(2)
		k.Update(4, 2)
	}

	assert.GreaterOrEqual(t, k.P, cfg.Kalman.CovarianceFloor)
}

func TestKalman_ZeroInnovationVarianceSkipsUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kalman.MeasurementNoise = 0
	k := NewKalman(cfg.Kalman, 1, 8)
	k.Reset(2)

	k.Update(100, 0)

	assert.Equal(t, 2.0, k.X)
}
