package flow

// PID is a PID controller with conditional integration: the integral is
// frozen while the output is saturated and the error would push it further
// into saturation.
type PID struct {
	config    PIDConfig
	integral  float64
	lastError float64
}

func NewPID(config PIDConfig) PID {
	return PID{config: config}
}

func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
}

func (p *PID) Integral() float64 { return p.integral }

// Update returns the clamped output for error e over dt seconds, added to the
// feedforward term ff.
func (p *PID) Update(e, dt, ff float64) float64 {
	derivative := 0.0
	if dt > 0 {
		derivative = (e - p.lastError) / dt
	}
	p.lastError = e

	c := p.config
	unclamped := ff + c.Gain*(c.Kp*e+p.integral+c.Kd*derivative)

	saturatedHigh := unclamped >= c.OutputMax && e > 0
	saturatedLow := unclamped <= c.OutputMin && e < 0
	if !saturatedHigh && !saturatedLow {
		p.integral += c.Ki * e * dt
	}

	out := ff + c.Gain*(c.Kp*e+p.integral+c.Kd*derivative)
	return max(c.OutputMin, min(c.OutputMax, out))
}
