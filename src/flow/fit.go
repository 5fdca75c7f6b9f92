package flow

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrInsufficientSamples = errors.New("need at least 3 calibration samples at distinct rates")

// Sample is one recorded calibration run: the pump held at Duty for Seconds,
// counting Pulses while Millilitres were collected and weighed.
type Sample struct {
	Duty        float64 `yaml:"duty"`
	Seconds     float64 `yaml:"seconds"`
	Pulses      float64 `yaml:"pulses"`
	Millilitres float64 `yaml:"millilitres"`
}

// Fit returns base with the feedforward line and pulses-per-mL curve replaced
// by least-squares fits over samples. The rate band and fallback are kept.
func Fit(samples []Sample, base Calibration) (Calibration, error) {
	var rates, duties, perML []float64
	for i, s := range samples {
		if s.Seconds <= 0 || s.Millilitres <= 0 || s.Pulses <= 0 {
			return base, fmt.Errorf("sample %d: seconds, pulses and millilitres must be positive", i)
		}
		rates = append(rates, s.Millilitres/s.Seconds)
		duties = append(duties, s.Duty)
		perML = append(perML, s.Pulses/s.Millilitres)
	}
	if distinct(rates) < 3 {
		return base, ErrInsufficientSamples
	}

	line, err := leastSquares(rates, duties, 1)
	if err != nil {
		return base, fmt.Errorf("feedforward fit: %w", err)
	}
	curve, err := leastSquares(rates, perML, 2)
	if err != nil {
		return base, fmt.Errorf("pulses-per-mL fit: %w", err)
	}

	out := base
	out.FeedforwardSlope = line[0]
	out.FeedforwardIntercept = line[1]
	out.PulsesPerML = Polynomial{A: curve[0], B: curve[1], C: curve[2]}
	return out, nil
}

// leastSquares fits ys ≈ poly(xs) of the given degree, returning coefficients
// from the highest power down.
func leastSquares(xs, ys []float64, degree int) ([]float64, error) {
	cols := degree + 1
	a := mat.NewDense(len(xs), cols, nil)
	for i, x := range xs {
		p := 1.0
		for j := cols - 1; j >= 0; j-- {
			a.Set(i, j, p)
			p *= x
		}
	}
	b := mat.NewVecDense(len(ys), append([]float64(nil), ys...))

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return nil, err
	}
	out := make([]float64, cols)
	for j := range out {
		out[j] = coef.AtVec(j)
	}
	return out, nil
}

func distinct(xs []float64) int {
	seen := map[float64]bool{}
	for _, x := range xs {
		seen[x] = true
	}
	return len(seen)
}
