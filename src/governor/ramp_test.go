package governor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRamp_FirstUpdateOnlyAnchors(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	r.SetTarget(1000)

	v, changed := r.Update(time.Unix(0, 0))

	assert.False(t, changed)
	assert.Equal(t, 0.0, v)
}

func TestRamp_OneStepPerInterval(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	start := time.Unix(0, 0)
	r.Update(start)
	r.SetTarget(1000)

	v, changed := r.Update(start.Add(50 * time.Microsecond))
	assert.False(t, changed, "less than one interval elapsed")
	assert.Equal(t, 0.0, v)

	v, changed = r.Update(start.Add(100 * time.Microsecond))
	assert.True(t, changed)
	assert.Equal(t, 7.0, v)
}

func TestRamp_CatchesUpOnCoarseTicks(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	start := time.Unix(0, 0)
	r.Update(start)
	r.SetTarget(1000)

	// A 1ms loop tick covers ten 100µs intervals.
	v, _ := r.Update(start.Add(time.Millisecond))
	assert.Equal(t, 70.0, v)

	// Leftover partial interval is carried to the next tick.
	r.Update(start.Add(1050 * time.Microsecond))
	v, _ = r.Update(start.Add(1100 * time.Microsecond))
	assert.Equal(t, 77.0, v)
}

func TestRamp_NeverOvershoots(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	now := time.Unix(0, 0)
	r.Update(now)
	r.SetTarget(1000)

	lastDist := math.Inf(1)
	for _n := 0; _n < 200; _n++ {
		now = now.Add(time.Millisecond)
		v, _ := r.Update(now)
		assert.LessOrEqual(t, v, 1000.0)
		dist := math.Abs(r.Target - v)
		assert.LessOrEqual(t, dist, lastDist)
		lastDist = dist
	}
	assert.True(t, r.Settled())
	assert.Equal(t, 1000.0, r.Current)
}

func TestRamp_SnapsWithinOneStep(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	start := time.Unix(0, 0)
	r.Update(start)
	r.SetTarget(3)

	v, _ := r.Update(start.Add(100 * time.Microsecond))
	assert.Equal(t, 3.0, v)
}

func TestRamp_RampsDownThroughZero(t *testing.T) {
	r := NewRamp(DefaultGrinderRampConfig())
	now := time.Unix(0, 0)
	r.Reset(0.05)
	r.Update(now)
	r.SetTarget(-0.05)

	for _n := 0; _n < 60; _n++ {
		now = now.Add(time.Millisecond)
		r.Update(now)
	}
	assert.InDelta(t, -0.05, r.Current, 1e-12)
}

func TestRamp_ClampsTarget(t *testing.T) {
	r := NewRamp(DefaultGrinderRampConfig())

	r.SetTarget(0.5)
	assert.Equal(t, 0.12, r.Target)

	r.SetTarget(-0.5)
	assert.Equal(t, -0.12, r.Target)
}

func TestRamp_StallDoesNotJump(t *testing.T) {
	r := NewRamp(DefaultDrumRampConfig())
	start := time.Unix(0, 0)
	r.Update(start)
	r.SetTarget(10000)

	v, _ := r.Update(start.Add(5 * time.Second))

	steps := float64(maxCatchUp / DefaultDrumRampConfig().Interval)
	assert.Equal(t, 7*steps, v)
}
