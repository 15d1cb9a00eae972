package sonar

import "sync"

// Reading is one scripted sensor result.
type Reading struct {
	Distance float64
	Err      error
}

// Scripted replays a fixed list of readings, then keeps returning the last one.
// It is used for dry runs and tests.
type Scripted struct {
	mu       sync.Mutex
	readings []Reading
	calls    int
}

var _ Sensor = &Scripted{}

// NewScripted returns a sensor replaying readings in order.
func NewScripted(readings ...Reading) *Scripted {
	return &Scripted{readings: readings}
}

// Distances is a shorthand for readings without errors.
func Distances(cm ...float64) []Reading {
	rs := make([]Reading, len(cm))
	for i, d := range cm {
		rs[i] = Reading{Distance: d}
	}
	return rs
}

func (s *Scripted) Measure() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readings) == 0 {
		return 0, ErrTimeout
	}
	i := s.calls
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	}
	s.calls++
	r := s.readings[i]
	return r.Distance, r.Err
}

// Calls returns how many measurements were taken.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
