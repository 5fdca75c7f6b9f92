package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/governor"
)

// Motor is a speed-controlled motor output (drum RPM or grinder duty).
type Motor interface {
	SetSpeed(value float64) error
}

// rampedMotor pairs a ramp with its output. The output is written when the
// ramp moves, after a failed write, and every refresh interval so the motor
// controller's command timeout never lapses.
type rampedMotor struct {
	name      string
	ramp      *governor.Ramp
	out       Motor
	refresh   time.Duration
	lastWrite time.Time
	dirty     bool
	log       *zap.SugaredLogger
}

func newRampedMotor(name string, config governor.RampConfig, out Motor, refresh time.Duration, log *zap.SugaredLogger) *rampedMotor {
	return &rampedMotor{name: name, ramp: governor.NewRamp(config), out: out, refresh: refresh, log: log}
}

func (m *rampedMotor) tick(now time.Time) {
	v, changed := m.ramp.Update(now)
	due := m.refresh > 0 && now.Sub(m.lastWrite) >= m.refresh
	if !changed && !m.dirty && !due {
		return
	}
	m.write(v, now)
}

func (m *rampedMotor) write(v float64, now time.Time) {
	m.lastWrite = now
	if err := m.out.SetSpeed(v); err != nil {
		if !m.dirty {
			m.log.Warnf("%s: failed to set speed %v: %v", m.name, v, err)
		}
		m.dirty = true
		return
	}
	m.dirty = false
}

// stop zeroes the motor immediately, bypassing the ramp.
func (m *rampedMotor) stop(now time.Time) {
	m.ramp.Reset(0)
	m.write(0, now)
}

func (m *rampedMotor) state() MotorState {
	return MotorState{Current: m.ramp.Current, Target: m.ramp.Target}
}
