// Package flow implements closed-loop liquid dispensing: flow-sensor pulse
// counting, a scalar Kalman estimate of the flow rate, and PID with
// feedforward driving the pump.
package flow

import (
	"fmt"
	"time"
)

// Polynomial is A·x² + B·x + C.
type Polynomial struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
}

func (p Polynomial) At(x float64) float64 {
	return p.A*x*x + p.B*x + p.C
}

// Calibration maps between pump output, flow rate and sensor pulses.
type Calibration struct {
	MinRate              float64    `yaml:"min_rate"`
	MaxRate              float64    `yaml:"max_rate"`
	FeedforwardSlope     float64    `yaml:"feedforward_slope"`
	FeedforwardIntercept float64    `yaml:"feedforward_intercept"`
	PulsesPerML          Polynomial `yaml:"pulses_per_ml"`
	DefaultPulsesPerML   float64    `yaml:"default_pulses_per_ml"`
}

func DefaultCalibration() Calibration {
	return Calibration{
		MinRate:              1,
		MaxRate:              8,
		FeedforwardSlope:     46.5116,
		FeedforwardIntercept: 4.2186,
		PulsesPerML:          Polynomial{A: -0.127, B: 1.7044, C: -0.6559},
		DefaultPulsesPerML:   2.0,
	}
}

// ClampRate limits a rate to the physically valid band.
func (c Calibration) ClampRate(rate float64) float64 {
	return max(c.MinRate, min(c.MaxRate, rate))
}

// Feedforward is the pump output expected to produce the given rate.
func (c Calibration) Feedforward(rate float64) float64 {
	return c.FeedforwardSlope*rate + c.FeedforwardIntercept
}

// RateForOutput inverts Feedforward.
func (c Calibration) RateForOutput(output float64) float64 {
	if c.FeedforwardSlope == 0 {
		return c.MinRate
	}
	return (output - c.FeedforwardIntercept) / c.FeedforwardSlope
}

// Conversion returns the sensor pulses per mL at the given rate. Outside the
// calibrated band, or where the curve is non-positive, the fixed default is
// used and ok is false.
func (c Calibration) Conversion(rate float64) (pulsesPerML float64, ok bool) {
	if rate < c.MinRate || rate > c.MaxRate {
		return c.DefaultPulsesPerML, false
	}
	v := c.PulsesPerML.At(rate)
	if v <= 0 {
		return c.DefaultPulsesPerML, false
	}
	return v, true
}

func (c Calibration) Validate() error {
	if c.MinRate <= 0 || c.MaxRate <= c.MinRate {
		return fmt.Errorf("flow rate band %v-%v is invalid", c.MinRate, c.MaxRate)
	}
	if c.FeedforwardSlope <= 0 {
		return fmt.Errorf("feedforward slope must be positive")
	}
	if c.DefaultPulsesPerML <= 0 {
		return fmt.Errorf("default pulses per mL must be positive")
	}
	return nil
}

type KalmanConfig struct {
	ProcessNoise      float64 `yaml:"process_noise"`
	MeasurementNoise  float64 `yaml:"measurement_noise"`
	InitialCovariance float64 `yaml:"initial_covariance"`
	CovarianceFloor   float64 `yaml:"covariance_floor"`
}

type PIDConfig struct {
	Kp        float64 `yaml:"kp"`
	Ki        float64 `yaml:"ki"`
	Kd        float64 `yaml:"kd"`
	Gain      float64 `yaml:"gain"`
	OutputMin float64 `yaml:"output_min"`
	OutputMax float64 `yaml:"output_max"`
}

type Config struct {
	SampleTime  time.Duration `yaml:"sample_time"`
	Calibration Calibration   `yaml:"calibration"`
	Kalman      KalmanConfig  `yaml:"kalman"`
	PID         PIDConfig     `yaml:"pid"`
}

func DefaultConfig() Config {
	return Config{
		SampleTime:  1500 * time.Millisecond,
		Calibration: DefaultCalibration(),
		Kalman: KalmanConfig{
			ProcessNoise:      0.01,
			MeasurementNoise:  0.1,
			InitialCovariance: 1,
			CovarianceFloor:   1e-6,
		},
		PID: PIDConfig{Kp: 0.4, Ki: 0.2, Kd: 0.4, Gain: 10, OutputMin: 0, OutputMax: 255},
	}
}

func (c Config) Validate() error {
	if c.SampleTime <= 0 {
		return fmt.Errorf("flow sample_time must be positive")
	}
	if err := c.Calibration.Validate(); err != nil {
		return err
	}
	if c.Kalman.MeasurementNoise <= 0 || c.Kalman.ProcessNoise < 0 {
		return fmt.Errorf("kalman noise terms must be positive")
	}
	if c.PID.OutputMax <= c.PID.OutputMin {
		return fmt.Errorf("pid output range %v-%v is invalid", c.PID.OutputMin, c.PID.OutputMax)
	}
	return nil
}
