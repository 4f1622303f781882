package control

import (
	"time"

	"github.com/pkg/errors"
)

// maxHistory bounds the error samples kept by the integrating controllers.
const maxHistory = 128

type sample struct {
	err float64
	at  time.Time
}

// errorHistory keeps the recent error samples and the running trapezoidal integral.
type errorHistory struct {
	samples  []sample
	integral float64
}

// advance records a sample and returns the backward-difference derivative. When the previous and
// current errors have opposite signs the integral gains nothing for this step.
func (h *errorHistory) advance(err float64, now time.Time) (float64, error) {
	if len(h.samples) == 0 {
		h.samples = append(h.samples, sample{err, now})
		return 0, nil
	}

	prev := h.samples[len(h.samples)-1]
	if !now.After(prev.at) {
		return 0, errors.Wrapf(ErrNonMonotonicTime, "previous %s, got %s", prev.at, now)
	}
	dt := now.Sub(prev.at).Seconds()
	derivative := (err - prev.err) / dt

	if (prev.err >= 0 && err >= 0) || (prev.err <= 0 && err <= 0) {
		h.integral += dt * (prev.err + err) / 2
	}

	h.samples = append(h.samples, sample{err, now})
	if len(h.samples) > maxHistory {
		h.samples = h.samples[len(h.samples)-maxHistory:]
	}
	return derivative, nil
}

func (h *errorHistory) reset() {
	h.samples = nil
	h.integral = 0
}

// PD is a proportional-derivative controller acting on the negated error.
type PD struct {
	Kp, Kd float64

	prevErr  float64
	prevTime time.Time
	started  bool
}

// NewPD returns a PD controller.
func NewPD(kp, kd float64) *PD {
	return &PD{Kp: kp, Kd: kd}
}

// Step implements Controller.
func (p *PD) Step(err float64, now time.Time) (float64, error) {
	var derivative float64
	if p.started {
		if !now.After(p.prevTime) {
			return 0, errors.Wrapf(ErrNonMonotonicTime, "previous %s, got %s", p.prevTime, now)
		}
		derivative = (err - p.prevErr) / now.Sub(p.prevTime).Seconds()
	}
	p.prevErr, p.prevTime, p.started = err, now, true
	return p.Kp*-err + p.Kd*-derivative, nil
}

// Reset implements Controller.
func (p *PD) Reset() {
	p.prevErr, p.prevTime, p.started = 0, time.Time{}, false
}

// PID integrates the error with trapezoids between consecutive samples.
type PID struct {
	Gains
	history errorHistory
}

// NewPID returns a PID controller.
func NewPID(gains Gains) *PID {
	return &PID{Gains: gains}
}

// Step implements Controller.
func (p *PID) Step(err float64, now time.Time) (float64, error) {
	derivative, stepErr := p.history.advance(err, now)
	if stepErr != nil {
		return 0, stepErr
	}
	return p.Kp*err + p.Ki*p.history.integral + p.Kd*derivative, nil
}

// Integral returns the accumulated error integral.
func (p *PID) Integral() float64 {
	return p.history.integral
}

// Reset implements Controller.
func (p *PID) Reset() {
	p.history.reset()
}

// PHPID is a PID controller with two gain sets. Hi gains apply while the error exceeds the
// threshold, Lo gains otherwise.
type PHPID struct {
	Threshold float64
	Hi, Lo    Gains
	history   errorHistory
}

// NewPHPID returns a PH-PID controller.
func NewPHPID(threshold float64, hi, lo Gains) *PHPID {
	return &PHPID{Threshold: threshold, Hi: hi, Lo: lo}
}

// Step implements Controller.
func (p *PHPID) Step(err float64, now time.Time) (float64, error) {
	derivative, stepErr := p.history.advance(err, now)
	if stepErr != nil {
		return 0, stepErr
	}
	gains := p.Lo
	if err > p.Threshold {
		gains = p.Hi
	}
	return gains.Kp*err + gains.Ki*p.history.integral + gains.Kd*derivative, nil
}

// Integral returns the accumulated error integral.
func (p *PHPID) Integral() float64 {
	return p.history.integral
}

// Reset implements Controller.
func (p *PHPID) Reset() {
	p.history.reset()
}
