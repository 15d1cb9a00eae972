package motion

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// minDt stands in for a zero or negative clock delta.
const minDt = 1e-16

// PIDParams holds the controller gains.
type PIDParams struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultPIDParams are the gains tuned on the 60cm column.
func DefaultPIDParams() PIDParams {
	return PIDParams{
		Kp: 0.02,
		Ki: 0.001,
		Kd: 0.01,
	}
}

// PIDConfig configures a PID controller.
type PIDConfig struct {
	PIDParams
	// Setpoint is the target height in cm.
	Setpoint float64
	// Min and Max bound the output. Zero values select the defaults.
	Min time.Duration
	Max time.Duration
	// Now is the clock used for dt. Defaults to time.Now.
	Now func() time.Time
}

// PID is a feedback controller evaluated on the raw measured height. Its
// output, in seconds, is the duration of the next step. The integral term is
// clamped to the output bounds and the derivative acts on the measurement, so
// a setpoint never kicks the output.
type PID struct {
	params   PIDParams
	setpoint float64
	min, max float64
	now      func() time.Time

	mu        sync.Mutex
	integral  float64
	lastInput *float64
	lastTime  time.Time
	lastTerms Terms
}

var _ Controller = &PID{}

// Terms are the three contributions of the last Compute call.
type Terms struct {
	P, I, D float64
}

// NewPID returns a controller with zeroed state. The first dt is measured from
// this call.
func NewPID(c PIDConfig) *PID {
	if c.Min <= 0 {
		c.Min = DefaultMinDuration
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxDuration
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &PID{
		params:   c.PIDParams,
		setpoint: c.Setpoint,
		min:      c.Min.Seconds(),
		max:      c.Max.Seconds(),
		now:      c.Now,
		lastTime: c.Now(),
	}
}

func (p *PID) Compute(current float64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if math.IsNaN(current) || math.IsInf(current, 0) {
		logrus.WithField("input", current).Warn("non-finite pid input, using the minimum duration")
		return time.Duration(p.min * float64(time.Second))
	}

	now := p.now()
	dt := now.Sub(p.lastTime).Seconds()
	if dt <= 0 {
		dt = minDt
	}

	e := p.setpoint - current
	dInput := 0.0
	if p.lastInput != nil {
		dInput = current - *p.lastInput
	}

	prop := p.params.Kp * e
	p.integral = p.clamp(p.integral + p.params.Ki*e*dt)
	deriv := -p.params.Kd * dInput / dt

	out := p.clamp(prop + p.integral + deriv)

	p.lastInput = &current
	p.lastTime = now
	p.lastTerms = Terms{P: prop, I: p.integral, D: deriv}

	logrus.WithFields(logrus.Fields{
		"input":  current,
		"error":  e,
		"dt":     dt,
		"p":      prop,
		"i":      p.integral,
		"d":      deriv,
		"output": out,
	}).Trace("pid update")

	return time.Duration(out * float64(time.Second))
}

func (p *PID) clamp(v float64) float64 {
	if v > p.max {
		return p.max
	}
	if v < p.min {
		return p.min
	}
	return v
}

// Terms returns the contributions of the most recent Compute call.
func (p *PID) Terms() Terms {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTerms
}

// Reset zeroes the accumulated state and restarts the clock.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.integral = 0
	p.lastInput = nil
	p.lastTime = p.now()
	p.lastTerms = Terms{}
}
