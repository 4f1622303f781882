package control

import (
	"time"
)

// DefaultPolarityMagnitude is the step taken by a PolarityStep controller with no configured
// magnitude.
const DefaultPolarityMagnitude = 0.25

// PolarityStep returns a fixed step with the sign opposite the error, or zero for a zero error.
type PolarityStep struct {
	Magnitude float64
}

// Step implements Controller.
func (p *PolarityStep) Step(err float64, _ time.Time) (float64, error) {
	switch {
	case err < 0:
		return p.Magnitude, nil
	case err > 0:
		return -p.Magnitude, nil
	default:
		return 0, nil
	}
}

// Reset is a no-op.
func (p *PolarityStep) Reset() {}

// Proportional returns Kp times the negated error.
type Proportional struct {
	Kp float64
}

// Step implements Controller.
func (p *Proportional) Step(err float64, _ time.Time) (float64, error) {
	return p.Kp * -err, nil
}

// Reset is a no-op.
func (p *Proportional) Reset() {}
