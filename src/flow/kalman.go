package flow

// Kalman is a scalar filter estimating the flow rate in mL/s. The estimate is
// always clamped to [lo, hi].
type Kalman struct {
	X float64 // estimated rate
	P float64 // estimate covariance

	config KalmanConfig
	lo, hi float64
}

func NewKalman(config KalmanConfig, lo, hi float64) Kalman {
	return Kalman{X: lo, P: config.InitialCovariance, config: config, lo: lo, hi: hi}
}

// Reset starts a new estimate at x.
func (k *Kalman) Reset(x float64) {
	k.X = k.clamp(x)
	k.P = k.config.InitialCovariance
}

// Predict replaces the estimate with the model prior and grows the
// covariance by the process noise.
func (k *Kalman) Predict(prior float64) {
	k.X = k.clamp(prior)
	k.P += k.config.ProcessNoise
}

// Update folds in measurement z observed through gain h (z ≈ h·X).
func (k *Kalman) Update(z, h float64) {
	innovation := z - h*k.X
	s := h*k.P*h + k.config.MeasurementNoise
	gain := 0.0
	if s != 0 {
		gain = k.P * h / s
	}
	k.X = k.clamp(k.X + gain*innovation)
	k.P = max((1-gain*h)*k.P, k.config.CovarianceFloor)
}

func (k *Kalman) clamp(x float64) float64 {
	return max(k.lo, min(k.hi, x))
}
