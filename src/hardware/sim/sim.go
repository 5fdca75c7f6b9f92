// Package sim provides simulated actuators and a simulated water circuit for
// dry runs and tests.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brewlab/brewctl/src/flow"
)

var ErrInjected = errors.New("simulated write failure")

// historyLimit bounds the writes an Output keeps.
const historyLimit = 4096

// Output records every value written to it. It satisfies the motor, servo,
// heater and pump interfaces.
type Output struct {
	mu     sync.Mutex
	writes []float64
	fail   bool
}

func (o *Output) set(v float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return ErrInjected
	}
	if len(o.writes) == historyLimit {
		o.writes = append(o.writes[:0], o.writes[historyLimit/2:]...)
	}
	o.writes = append(o.writes, v)
	return nil
}

func (o *Output) SetSpeed(v float64) error     { return o.set(v) }
func (o *Output) SetPower(v float64) error     { return o.set(v) }
func (o *Output) SetOutput(duty float64) error { return o.set(duty) }

// Fail makes subsequent writes return ErrInjected until called with false.
func (o *Output) Fail(fail bool) {
	o.mu.Lock()
	o.fail = fail
	o.mu.Unlock()
}

// Last returns the most recent value written, or 0.
func (o *Output) Last() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.writes) == 0 {
		return 0
	}
	return o.writes[len(o.writes)-1]
}

func (o *Output) Writes() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.writes...)
}

// Plant simulates the pump and flow sensor: pump output is converted to a
// flow rate through the calibration, and the flow rate into sensor pulses.
type Plant struct {
	Output

	cal      flow.Calibration
	pulses   *flow.PulseCounter
	mu       sync.Mutex
	last     time.Time
	residual float64
	volume   float64
	// Scales the true flow relative to the calibration, e.g. 0.8 for a
	// partially blocked line.
	efficiency float64
}

func NewPlant(cal flow.Calibration, pulses *flow.PulseCounter) *Plant {
	return &Plant{cal: cal, pulses: pulses, efficiency: 1}
}

// SetEfficiency scales the simulated flow.
func (p *Plant) SetEfficiency(e float64) {
	p.mu.Lock()
	p.efficiency = e
	p.mu.Unlock()
}

// Rate is the true flow in mL/s at the current pump output.
func (p *Plant) Rate() float64 {
	duty := p.Output.Last()
	if duty <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return max(p.cal.RateForOutput(duty), 0) * p.efficiency
}

// Advance emits the pulses produced since the previous call.
func (p *Plant) Advance(now time.Time) {
	rate := p.Rate()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last.IsZero() {
		p.last = now
		return
	}
	dt := now.Sub(p.last).Seconds()
	p.last = now
	if dt <= 0 || rate <= 0 {
		return
	}

	ml := rate * dt
	perML, _ := p.cal.Conversion(min(max(rate, p.cal.MinRate), p.cal.MaxRate))
	p.volume += ml
	p.residual += ml * perML
	whole := uint64(p.residual)
	p.residual -= float64(whole)
	if whole > 0 {
		p.pulses.Add(whole)
	}
}

// Volume is the total simulated volume pumped, in mL.
func (p *Plant) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Run advances the plant on a timer until ctx is cancelled.
func (p *Plant) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.Advance(now)
		}
	}
}
