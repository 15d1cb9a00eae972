package sonar

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TriggerPulse is the width of the HC-SR04 trigger pulse.
const TriggerPulse = 10 * time.Microsecond

// DefaultEchoTimeout bounds each wait on the echo line.
const DefaultEchoTimeout = 100 * time.Millisecond

// Lines is the pin access an HC-SR04 needs.
type Lines interface {
	SetLine(pin int, high bool)
	ReadLine(pin int) bool
}

// HCSR04 is an ultrasonic time-of-flight sensor on a trigger and echo pin.
type HCSR04 struct {
	lines   Lines
	trigger int
	echo    int
	timeout time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

var _ Sensor = &HCSR04{}

// NewHCSR04 returns a sensor polling echo after pulsing trigger. A zero
// timeout selects DefaultEchoTimeout.
func NewHCSR04(lines Lines, trigger, echo int, timeout time.Duration) *HCSR04 {
	if timeout <= 0 {
		timeout = DefaultEchoTimeout
	}
	return &HCSR04{
		lines:   lines,
		trigger: trigger,
		echo:    echo,
		timeout: timeout,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Measure fires one pulse and times the echo.
func (s *HCSR04) Measure() (float64, error) {
	s.lines.SetLine(s.trigger, true)
	s.sleep(TriggerPulse)
	s.lines.SetLine(s.trigger, false)

	start, err := s.waitFor(true)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "echo never rose")
	}
	end, err := s.waitFor(false)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "echo never fell")
	}

	d := EchoDistance(end.Sub(start))
	logrus.WithFields(logrus.Fields{
		"echo":     end.Sub(start),
		"distance": d,
	}).Trace("hc-sr04 measurement")
	return d, nil
}

// waitFor polls the echo line until it reads level and returns the time it did.
func (s *HCSR04) waitFor(level bool) (time.Time, error) {
	deadline := s.now().Add(s.timeout)
	for {
		t := s.now()
		if s.lines.ReadLine(s.echo) == level {
			return t, nil
		}
		if t.After(deadline) {
			return time.Time{}, ErrTimeout
		}
	}
}

// EchoDistance converts a round-trip echo time into a one-way distance in cm.
func EchoDistance(echo time.Duration) float64 {
	return Round2(echo.Seconds() * SpeedOfSound / 2)
}
