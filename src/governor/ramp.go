// Package governor provides setpoint smoothing and rate limiting for the
// machine's actuators.
package governor

import (
	"math"
	"time"
)

// maxCatchUp bounds how much elapsed time a single Update will step through.
// A stalled loop resumes ramping from where it was instead of jumping.
const maxCatchUp = 20 * time.Millisecond

// RampConfig holds the slew limits of one actuator.
type RampConfig struct {
	Step     float64       `yaml:"step"`     // Change per interval (e.g. 7 RPM)
	Interval time.Duration `yaml:"interval"` // Time between steps (e.g. 100µs)
	Min      float64       `yaml:"min"`      // Lowest allowed output
	Max      float64       `yaml:"max"`      // Highest allowed output
}

// DefaultDrumRampConfig ramps the drum at 7 RPM per 100µs (70k RPM/s).
func DefaultDrumRampConfig() RampConfig {
	return RampConfig{Step: 7, Interval: 100 * time.Microsecond, Min: -20000, Max: 20000}
}

// DefaultGrinderRampConfig ramps the grinder duty at 0.001 per 500µs.
func DefaultGrinderRampConfig() RampConfig {
	return RampConfig{Step: 0.001, Interval: 500 * time.Microsecond, Min: -0.12, Max: 0.12}
}

// Ramp is a slew-rate-limited setpoint follower. Current moves toward Target
// by at most Step per elapsed Interval, never overshoots, and snaps to Target
// once within one step.
type Ramp struct {
	Current float64
	Target  float64

	config   RampConfig
	lastStep time.Time
}

func NewRamp(config RampConfig) *Ramp {
	return &Ramp{config: config}
}

func (r *Ramp) Config() RampConfig { return r.config }

// SetTarget changes the setpoint, clamped to the output range. Current is
// untouched; Update walks it there.
func (r *Ramp) SetTarget(target float64) {
	r.Target = r.clamp(target)
}

// Settled reports whether Current has reached Target.
func (r *Ramp) Settled() bool { return r.Current == r.Target }

// Update steps Current once per Interval elapsed since the previous step and
// reports whether it changed. The first call only anchors the step clock.
func (r *Ramp) Update(now time.Time) (float64, bool) {
	if r.lastStep.IsZero() {
		r.lastStep = now
		return r.Current, false
	}

	elapsed := now.Sub(r.lastStep)
	if elapsed > maxCatchUp {
		r.lastStep = now.Add(-maxCatchUp)
		elapsed = maxCatchUp
	}

	steps := int64(1)
	if r.config.Interval > 0 {
		if elapsed < r.config.Interval {
			return r.Current, false
		}
		steps = int64(elapsed / r.config.Interval)
		r.lastStep = r.lastStep.Add(time.Duration(steps) * r.config.Interval)
	} else {
		r.lastStep = now
	}

	prev := r.Current
	diff := r.Target - r.Current
	maxMove := r.config.Step * float64(steps)
	if math.Abs(diff) <= maxMove {
		r.Current = r.Target
	} else {
		r.Current += math.Copysign(maxMove, diff)
	}
	r.Current = r.clamp(r.Current)

	return r.Current, r.Current != prev
}

// Reset forces both Current and Target to v without ramping.
func (r *Ramp) Reset(v float64) {
	r.Current = r.clamp(v)
	r.Target = r.Current
}

func (r *Ramp) clamp(v float64) float64 {
	return max(r.config.Min, min(r.config.Max, v))
}
