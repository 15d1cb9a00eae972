// Package gait runs the five-phase gait cycle that moves the robot one step
// along the column, alternating between the upper and lower assemblies.
package gait

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/polebot/climber/pkg/hardware"
)

// DefaultBiasDegrees is the grip-bias offset applied during vertical motion.
const DefaultBiasDegrees = 5.0

// Direction is the sense of travel along the column.
type Direction int

const (
	Ascend Direction = iota
	Descend
)

func (d Direction) String() string {
	if d == Descend {
		return "descend"
	}
	return "ascend"
}

// ParseDirection parses "ascend"/"up" or "descend"/"down".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "ascend", "up":
		return Ascend, nil
	case "descend", "down":
		return Descend, nil
	default:
		return Ascend, fmt.Errorf("unknown direction %q", s)
	}
}

// VerticalSense is the vertical channel drive line that moves the robot in d.
func (d Direction) VerticalSense() hardware.Sense {
	if d == Descend {
		return hardware.Retract
	}
	return hardware.Extend
}

// BiasRotation is the servo rotation that unloads the grip before vertical
// motion. The rotation back uses its reverse.
func (d Direction) BiasRotation() hardware.Rotation {
	if d == Descend {
		return hardware.CW
	}
	return hardware.CCW
}

// ActiveAssembly maps a step count to the assembly that performs the next
// cycle. Ascend starts on the upper assembly, Descend on the lower one.
func ActiveAssembly(stepCount int, d Direction) hardware.Assembly {
	even := stepCount%2 == 0
	switch {
	case d == Ascend && even, d == Descend && !even:
		return hardware.Upper
	default:
		return hardware.Lower
	}
}

// Options tunes the gait.
type Options struct {
	// Bias enables the two grip-bias rotate phases. Disabling it gives the
	// reduced three-phase gait.
	Bias bool
	// BiasDegrees is the rotate offset. Zero selects DefaultBiasDegrees.
	BiasDegrees float64
}

// Sequencer executes gait cycles and owns the step counter.
type Sequencer struct {
	bank hardware.Bank
	dir  Direction
	opts Options

	steps int
}

// NewSequencer returns a Sequencer with a step count of zero.
func NewSequencer(bank hardware.Bank, dir Direction, opts Options) *Sequencer {
	if opts.BiasDegrees == 0 {
		opts.BiasDegrees = DefaultBiasDegrees
	}
	return &Sequencer{
		bank: bank,
		dir:  dir,
		opts: opts,
	}
}

// StepCount returns the number of completed cycles.
func (s *Sequencer) StepCount() int {
	return s.steps
}

// Next returns the assembly the next cycle will run on.
func (s *Sequencer) Next() hardware.Assembly {
	return ActiveAssembly(s.steps, s.dir)
}

type phase struct {
	name string
	run  func() error
}

func (s *Sequencer) phases(a hardware.Assembly, d time.Duration) []phase {
	bias := s.dir.BiasRotation()

	ps := []phase{
		{"grip", func() error { return s.bank.Drive(a.Radial(), hardware.Extend, d) }},
	}
	if s.opts.Bias {
		ps = append(ps, phase{"bias", func() error { return s.bank.Rotate(a.Servo(), s.opts.BiasDegrees, bias) }})
	}
	ps = append(ps, phase{"move", func() error { return s.bank.Drive(hardware.Vertical, s.dir.VerticalSense(), d) }})
	if s.opts.Bias {
		ps = append(ps, phase{"unbias", func() error { return s.bank.Rotate(a.Servo(), s.opts.BiasDegrees, bias.Reverse()) }})
	}
	ps = append(ps, phase{"release", func() error { return s.bank.Drive(a.Radial(), hardware.Retract, d) }})
	return ps
}

// Step runs one gait cycle of duration d on the active assembly and returns
// that assembly. The step count only advances when every phase succeeds.
func (s *Sequencer) Step(d time.Duration) (hardware.Assembly, error) {
	a := s.Next()
	logger := logrus.WithFields(logrus.Fields{
		"step":      s.steps + 1,
		"assembly":  a,
		"direction": s.dir,
		"duration":  d,
	})
	logger.Debug("starting gait cycle")

	for _, p := range s.phases(a, d) {
		logger.WithField("phase", p.name).Trace("gait phase")
		if err := p.run(); err != nil {
			return a, pkgerrors.Wrapf(err, "%s phase failed on %s assembly", p.name, a)
		}
	}

	s.steps++
	logger.Debug("gait cycle complete")
	return a, nil
}
