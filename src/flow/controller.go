package flow

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	ErrBusy           = errors.New("dispense already in progress")
	ErrInvalidRequest = errors.New("invalid dispense request")
)

// Pump is the PWM output driving the dispensing pump.
type Pump interface {
	SetOutput(duty float64) error
}

// State is the read-only view of the controller for telemetry.
type State struct {
	Active        bool    `json:"active"`
	TargetVolume  float64 `json:"target_volume_ml"`
	TargetRate    float64 `json:"target_rate_mls"`
	EstimatedRate float64 `json:"estimated_rate_mls"`
	Covariance    float64 `json:"covariance"`
	Dispensed     float64 `json:"dispensed_ml"`
	Pulses        uint64  `json:"pulses"`
	PulseRate     float64 `json:"pulse_rate"`
	Output        float64 `json:"output"`
}

// Result describes what a Tick did.
type Result struct {
	Sampled   bool // a sample period elapsed
	Completed bool // the active dispense reached its target volume
}

type Controller struct {
	config Config
	pump   Pump
	pulses *PulseCounter
	log    *zap.SugaredLogger

	kalman Kalman
	pid    PID

	active       bool
	targetVolume float64
	targetRate   float64
	dispensed    float64
	dispPulses   uint64
	pulseRate    float64
	output       float64
	lastSample   time.Time
}

func NewController(config Config, pump Pump, pulses *PulseCounter, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cal := config.Calibration
	return &Controller{
		config: config,
		pump:   pump,
		pulses: pulses,
		log:    log,
		kalman: NewKalman(config.Kalman, cal.MinRate, cal.MaxRate),
		pid:    NewPID(config.PID),
	}
}

func (c *Controller) Active() bool { return c.active }

// Start begins dispensing volume mL at rate mL/s. The feedforward output is
// applied immediately; closed-loop correction starts at the first sample.
func (c *Controller) Start(volume, rate float64, now time.Time) error {
	if c.active {
		return ErrBusy
	}
	cal := c.config.Calibration
	if volume <= 0 || rate < cal.MinRate || rate > cal.MaxRate {
		return fmt.Errorf("%v mL at %v mL/s: %w", volume, rate, ErrInvalidRequest)
	}

	c.active = true
	c.targetVolume = volume
	c.targetRate = rate
	c.dispensed = 0
	c.dispPulses = 0
	c.pulseRate = 0
	c.pid.Reset()
	c.kalman.Reset(rate)
	c.pulses.Take()
	c.lastSample = now

	c.setOutput(c.clampOutput(cal.Feedforward(rate)))
	c.log.Infof("Flow: dispensing %.1fmL at %.2fmL/s (feedforward %.1f)", volume, rate, c.output)
	return nil
}

// Tick runs one sample when SampleTime has elapsed since the last one.
func (c *Controller) Tick(now time.Time) Result {
	if c.lastSample.IsZero() {
		c.lastSample = now
		return Result{}
	}
	elapsed := now.Sub(c.lastSample)
	if elapsed < c.config.SampleTime {
		return Result{}
	}
	c.lastSample = now

	pulses := c.pulses.Take()
	if !c.active {
		c.pulseRate = 0
		c.setOutput(0)
		return Result{Sampled: true}
	}

	dt := elapsed.Seconds()
	cal := c.config.Calibration
	c.pulseRate = float64(pulses) / dt

	prior := cal.ClampRate(cal.RateForOutput(c.output))
	c.kalman.Predict(prior)
	h, _ := cal.Conversion(c.kalman.X)
	c.kalman.Update(c.pulseRate, h)

	perML, ok := cal.Conversion(c.kalman.X)
	if !ok {
		c.log.Warnf("Flow: pulses-per-mL invalid at %.2fmL/s, using %.2f", c.kalman.X, perML)
	}
	c.dispensed += float64(pulses) / perML
	c.dispPulses += pulses

	if c.dispensed >= c.targetVolume {
		c.active = false
		c.setOutput(0)
		c.log.Infof("Flow: dispensed %.1fmL of %.1fmL (%d pulses)", c.dispensed, c.targetVolume, c.dispPulses)
		return Result{Sampled: true, Completed: true}
	}

	e := c.targetRate - c.kalman.X
	c.setOutput(c.pid.Update(e, dt, cal.Feedforward(c.targetRate)))
	return Result{Sampled: true}
}

// Stop aborts any dispense and turns the pump off.
func (c *Controller) Stop() {
	c.active = false
	c.setOutput(0)
}

func (c *Controller) State() State {
	return State{
		Active:        c.active,
		TargetVolume:  c.targetVolume,
		TargetRate:    c.targetRate,
		EstimatedRate: c.kalman.X,
		Covariance:    c.kalman.P,
		Dispensed:     c.dispensed,
		Pulses:        c.dispPulses,
		PulseRate:     c.pulseRate,
		Output:        c.output,
	}
}

func (c *Controller) clampOutput(v float64) float64 {
	return max(c.config.PID.OutputMin, min(c.config.PID.OutputMax, v))
}

func (c *Controller) setOutput(v float64) {
	c.output = v
	if err := c.pump.SetOutput(v); err != nil {
		c.log.Warnf("Flow: failed to set pump output %.1f: %v", v, err)
	}
}
