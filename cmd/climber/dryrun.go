package main

import (
	"sync"
	"time"

	"github.com/polebot/climber/pkg/hardware"
	"github.com/polebot/climber/pkg/sonar"
)

// simSensor is the distance sensor of a dry run. The height follows the
// vertical drives of the mock bank at a constant rate.
type simSensor struct {
	mu     sync.Mutex
	height float64
	rate   float64
}

var _ sonar.Sensor = &simSensor{}

func newSimRig(start, rate float64) (*hardware.Mock, *simSensor) {
	m := hardware.NewMock()
	s := &simSensor{height: start, rate: rate}
	m.OnDrive = s.onDrive
	return m, s
}

func (s *simSensor) onDrive(ch hardware.Channel, sense hardware.Sense, d time.Duration) {
	if ch != hardware.Vertical {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := s.rate * d.Seconds()
	if sense == hardware.Retract {
		delta = -delta
	}
	s.height += delta
	if s.height < 0 {
		s.height = 0
	}
}

func (s *simSensor) Measure() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sonar.Round2(s.height), nil
}
