package climb

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/polebot/climber/pkg/gait"
)

// State is a supervisor state.
type State string

const (
	StateInit       State = "Init"
	StateGripSetup  State = "GripSetup"
	StateStepping   State = "Stepping"
	StateConverged  State = "Converged"
	StateExhausted  State = "Exhausted"
	StateAborted    State = "Aborted"
	StateFinalizing State = "Finalizing"
	StateDone       State = "Done"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeConverged Outcome = "Converged"
	OutcomeExhausted Outcome = "Exhausted"
	OutcomeAborted   Outcome = "Aborted"
	// OutcomeGripSet ends a grip-setup-only session.
	OutcomeGripSet Outcome = "GripSet"
)

func (o Outcome) state() State {
	switch o {
	case OutcomeConverged:
		return StateConverged
	case OutcomeExhausted:
		return StateExhausted
	case OutcomeAborted:
		return StateAborted
	default:
		return StateFinalizing
	}
}

// Diameter selects a grip-setup profile. NoDiameter runs a climb instead.
type Diameter int

const (
	NoDiameter Diameter = 0
	Diameter30 Diameter = 30
	Diameter60 Diameter = 60
)

func (d Diameter) String() string {
	if d == NoDiameter {
		return "none"
	}
	return fmt.Sprintf("%dcm", int(d))
}

// ParseDiameter accepts 0 (none), 30 or 60.
func ParseDiameter(cm int) (Diameter, error) {
	switch Diameter(cm) {
	case NoDiameter, Diameter30, Diameter60:
		return Diameter(cm), nil
	default:
		return NoDiameter, fmt.Errorf("unsupported column diameter %dcm (want 30 or 60)", cm)
	}
}

// GripProfile holds the retraction durations for one column diameter. A zero
// Horizontal skips the horizontal phase.
type GripProfile struct {
	Radial     time.Duration
	Horizontal time.Duration
}

// Profile returns the grip-setup durations of d.
func (d Diameter) Profile() (GripProfile, bool) {
	switch d {
	case Diameter30:
		// Horizontal retraction is left out on the 30cm column.
		return GripProfile{Radial: 3 * time.Second}, true
	case Diameter60:
		return GripProfile{Radial: 10 * time.Second, Horizontal: time.Second}, true
	default:
		return GripProfile{}, false
	}
}

// Params configures one session. It is not changed once the session starts.
type Params struct {
	// Target height in cm.
	Target    float64
	Direction gait.Direction
	// Diameter, when set, turns the session into grip setup only.
	Diameter Diameter

	MaxSteps        int
	Tolerance       float64
	HeightThreshold float64
	// StartMargin ends a descent with zero steps when the first reading is no
	// more than this above the target. Negative disables it.
	StartMargin float64
	// FixedSteps makes the step count the only stop condition.
	FixedSteps bool

	SettleInterval     time.Duration
	ForcedStepDuration time.Duration

	// Final release and teardown.
	FinalPause             time.Duration
	FinalRadialRelease     time.Duration
	FinalHorizontalRelease time.Duration

	// MaxSensorFailures is how many consecutive timeouts abort the session.
	MaxSensorFailures int

	Gait gait.Options
}

// DefaultParams returns the parameters of a feedback ascent to target.
func DefaultParams(target float64, d gait.Direction) Params {
	return Params{
		Target:                 target,
		Direction:              d,
		MaxSteps:               50,
		Tolerance:              2.0,
		HeightThreshold:        2.0,
		StartMargin:            5.0,
		SettleInterval:         time.Second,
		ForcedStepDuration:     3 * time.Second,
		FinalPause:             time.Second,
		FinalRadialRelease:     20 * time.Second,
		FinalHorizontalRelease: 6 * time.Second,
		MaxSensorFailures:      3,
		Gait:                   gait.Options{Bias: true, BiasDegrees: gait.DefaultBiasDegrees},
	}
}

// Validate rejects parameters a session cannot run with.
func (p Params) Validate() error {
	if _, err := ParseDiameter(int(p.Diameter)); err != nil {
		return err
	}
	if p.Diameter != NoDiameter {
		return nil
	}
	switch {
	case p.MaxSteps <= 0:
		return pkgerrors.Errorf("maxSteps must be positive, got %d", p.MaxSteps)
	case p.Tolerance < 0:
		return pkgerrors.Errorf("tolerance must not be negative, got %v", p.Tolerance)
	case p.HeightThreshold < 0:
		return pkgerrors.Errorf("heightThreshold must not be negative, got %v", p.HeightThreshold)
	case p.MaxSensorFailures <= 0:
		return pkgerrors.Errorf("maxSensorFailures must be positive, got %d", p.MaxSensorFailures)
	case p.SettleInterval < 0 || p.ForcedStepDuration < 0:
		return pkgerrors.New("durations must not be negative")
	}
	return nil
}

// StepRecord is the progress record of one gait cycle. Before is the reading
// the duration was computed from, Height the reading after the cycle.
type StepRecord struct {
	Step         int           `json:"step"`
	Assembly     string        `json:"assembly"`
	Duration     time.Duration `json:"duration"`
	Forced       bool          `json:"forced,omitempty"`
	Before       float64       `json:"before"`
	Height       float64       `json:"height"`
	Degraded     bool          `json:"degraded,omitempty"`
	SignedError  float64       `json:"signedError"`
	Displacement float64       `json:"displacement"`
}

// Summary is emitted at the end of every session.
type Summary struct {
	Direction     string       `json:"direction"`
	Target        float64      `json:"target"`
	InitialHeight float64      `json:"initialHeight"`
	FinalHeight   float64      `json:"finalHeight"`
	Displacement  float64      `json:"displacement"`
	Steps         int          `json:"steps"`
	Stalls        int          `json:"stalls"`
	Outcome       Outcome      `json:"outcome"`
	Error         string       `json:"error,omitempty"`
	Elapsed       string       `json:"elapsed"`
	Records       []StepRecord `json:"records,omitempty"`
}

// Status is the live view of a session served by the monitor.
type Status struct {
	State         State       `json:"state"`
	Direction     string      `json:"direction"`
	Target        float64     `json:"target"`
	Steps         int         `json:"steps"`
	MaxSteps      int         `json:"maxSteps"`
	InitialHeight float64     `json:"initialHeight"`
	Height        float64     `json:"height"`
	Degraded      bool        `json:"degraded"`
	SignedError   float64     `json:"signedError"`
	StartedAt     time.Time   `json:"startedAt"`
	LastStep      *StepRecord `json:"lastStep,omitempty"`
	Summary       *Summary    `json:"summary,omitempty"`
	Message       string      `json:"message,omitempty"`
}
