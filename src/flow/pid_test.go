package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPID_ZeroErrorOutputsFeedforward(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)

	out := pid.Update(0, 1.5, 120)

	assert.Equal(t, 120.0, out)
	assert.Equal(t, 0.0, pid.Integral())
}

func TestPID_IntegratesUnsaturatedError(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)

	pid.Update(0.5, 1.5, 100)

	assert.InDelta(t, 0.2*0.5*1.5, pid.Integral(), 1e-12)
}

func TestPID_FreezesIntegralWhenSaturatedHigh(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)

	for _n := 0; _n < 10; _n++ {
		out := pid.Update(5, 1.5, 250)
		assert.Equal(t, 255.0, out)
	}
	assert.Equal(t, 0.0, pid.Integral())
}

func TestPID_FreezesIntegralWhenSaturatedLow(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)

	for _n := 0; _n < 10; _n++ {
		out := pid.Update(-5, 1.5, 2)
		assert.Equal(t, 0.0, out)
	}
	assert.Equal(t, 0.0, pid.Integral())
}

func TestPID_UnwindsWhenErrorOpposesSaturation(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)

	out := pid.Update(-0.1, 1.5, 300)

	assert.Equal(t, 255.0, out)
	assert.InDelta(t, 0.2*-0.1*1.5, pid.Integral(), 1e-12)
}

func TestPID_ResetClearsState(t *testing.T) {
	pid := NewPID(DefaultConfig().PID)
	pid.Update(1, 1.5, 100)

	pid.Reset()

	assert.Equal(t, 0.0, pid.Integral())
	assert.Equal(t, 100.0, pid.Update(0, 1.5, 100))
}
