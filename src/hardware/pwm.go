package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// PWM is one Linux sysfs PWM channel (/sys/class/pwm/pwmchipN/pwmM).
type PWM struct {
	dir    string
	period time.Duration
}

// OpenPWM exports channel on chip if needed, sets the period and enables it.
func OpenPWM(chip string, channel int, period time.Duration) (*PWM, error) {
	dir := filepath.Join(chip, "pwm"+strconv.Itoa(channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeFile(filepath.Join(chip, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm %d: %w", channel, err)
		}
	}

	p := &PWM{dir: dir, period: period}
	// duty_cycle must not exceed period, so zero it before changing period.
	_ = p.SetDutyCycle(0)
	if err := writeFile(filepath.Join(dir, "period"), strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, fmt.Errorf("set pwm period: %w", err)
	}
	if err := writeFile(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("enable pwm: %w", err)
	}
	return p, nil
}

func (p *PWM) Period() time.Duration { return p.period }

func (p *PWM) SetDutyCycle(d time.Duration) error {
	d = max(0, min(p.period, d))
	return writeFile(filepath.Join(p.dir, "duty_cycle"), strconv.FormatInt(d.Nanoseconds(), 10))
}

func (p *PWM) Close() error {
	_ = p.SetDutyCycle(0)
	return writeFile(filepath.Join(p.dir, "enable"), "0")
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// ScaledOutput maps a value in [Lo, Hi] linearly onto a duty cycle in
// [MinDuty, MaxDuty]. It serves as pump (0-255), heater (0-100 %) or servo
// (0-180 with 0.5-2.5 ms pulses) output.
type ScaledOutput struct {
	PWM     *PWM
	Lo, Hi  float64
	MinDuty time.Duration
	MaxDuty time.Duration
}

// PumpOutput drives the pump with the controller's 8-bit output range.
func PumpOutput(p *PWM) *ScaledOutput {
	return &ScaledOutput{PWM: p, Lo: 0, Hi: 255, MinDuty: 0, MaxDuty: p.Period()}
}

// HeaterOutput drives the heater in percent of full power.
func HeaterOutput(p *PWM) *ScaledOutput {
	return &ScaledOutput{PWM: p, Lo: 0, Hi: 100, MinDuty: 0, MaxDuty: p.Period()}
}

// ServoOutput drives a continuous-rotation servo; 90 is stopped.
func ServoOutput(p *PWM) *ScaledOutput {
	return &ScaledOutput{PWM: p, Lo: 0, Hi: 180, MinDuty: 500 * time.Microsecond, MaxDuty: 2500 * time.Microsecond}
}

func (o *ScaledOutput) Duty(v float64) time.Duration {
	v = max(o.Lo, min(o.Hi, v))
	frac := (v - o.Lo) / (o.Hi - o.Lo)
	return o.MinDuty + time.Duration(frac*float64(o.MaxDuty-o.MinDuty))
}

func (o *ScaledOutput) set(v float64) error { return o.PWM.SetDutyCycle(o.Duty(v)) }

func (o *ScaledOutput) SetOutput(duty float64) error   { return o.set(duty) }
func (o *ScaledOutput) SetPower(percent float64) error { return o.set(percent) }
func (o *ScaledOutput) SetSpeed(speed float64) error   { return o.set(speed) }
