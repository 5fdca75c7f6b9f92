package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticSamples(cal Calibration, rates ...float64) []Sample {
	const seconds = 60
	var samples []Sample
	for _, r := range rates {
		ml := r * seconds
		samples = append(samples, Sample{
			Duty:        cal.Feedforward(r),
			Seconds:     seconds,
			Pulses:      cal.PulsesPerML.At(r) * ml,
			Millilitres: ml,
		})
	}
	return samples
}

func TestFit_RecoversKnownCoefficients(t *testing.T) {
	want := DefaultCalibration()
	base := want
	base.FeedforwardSlope = 1
	base.FeedforwardIntercept = 0
	base.PulsesPerML = Polynomial{}

	got, err := Fit(syntheticSamples(want, 1.5, 2.5, 4, 6, 7.5), base)

	require.NoError(t, err)
	assert.InDelta(t, want.FeedforwardSlope, got.FeedforwardSlope, 1e-6)
	assert.InDelta(t, want.FeedforwardIntercept, got.FeedforwardIntercept, 1e-6)
	assert.InDelta(t, want.PulsesPerML.A, got.PulsesPerML.A, 1e-6)
	assert.InDelta(t, want.PulsesPerML.B, got.PulsesPerML.B, 1e-6)
	assert.InDelta(t, want.PulsesPerML.C, got.PulsesPerML.C, 1e-6)
	assert.Equal(t, base.MinRate, got.MinRate)
	assert.Equal(t, base.DefaultPulsesPerML, got.DefaultPulsesPerML)
}

func TestFit_NeedsThreeDistinctRates(t *testing.T) {
	cal := DefaultCalibration()

	_, err := Fit(syntheticSamples(cal, 2, 2, 4), cal)

	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestFit_RejectsEmptySample(t *testing.T) {
	cal := DefaultCalibration()
	samples := syntheticSamples(cal, 2, 3, 4)
	samples[1].Millilitres = 0

	_, err := Fit(samples, cal)

	assert.Error(t, err)
}

func TestCalibration_ConversionFallsBackOutsideBand(t *testing.T) {
	cal := DefaultCalibration()

	v, ok := cal.Conversion(0.5)
	assert.False(t, ok)
	assert.Equal(t, cal.DefaultPulsesPerML, v)

	v, ok = cal.Conversion(2.5)
	assert.True(t, ok)
	assert.InDelta(t, 2.81135, v, 1e-9)
}

func TestCalibration_FeedforwardInverts(t *testing.T) {
	cal := DefaultCalibration()

	assert.InDelta(t, 3.3, cal.RateForOutput(cal.Feedforward(3.3)), 1e-12)
}
