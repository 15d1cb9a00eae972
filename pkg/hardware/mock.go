package hardware

import (
	"fmt"
	"sync"
	"time"
)

// OpKind names a bank operation recorded by Mock.
type OpKind string

const (
	OpDrive         OpKind = "drive"
	OpRotate        OpKind = "rotate"
	OpResetServos   OpKind = "reset-servos"
	OpAllOff        OpKind = "all-off"
	OpEmergencyStop OpKind = "emergency-stop"
	OpPowerOff      OpKind = "power-off"
)

// Op is one operation issued to a Mock.
type Op struct {
	Kind     OpKind
	Channel  Channel
	Sense    Sense
	Servo    Servo
	Degrees  float64
	Rotation Rotation
	Duration time.Duration
}

func (o Op) String() string {
	switch o.Kind {
	case OpDrive:
		return fmt.Sprintf("%s %s %s %s", o.Kind, o.Channel, o.Sense, o.Duration)
	case OpRotate:
		return fmt.Sprintf("%s %s %s %.1f", o.Kind, o.Servo, o.Rotation, o.Degrees)
	default:
		return string(o.Kind)
	}
}

// Mock is an in-memory Bank. It tracks the level of every simulated relay
// line, never sleeps, and can be told to fail.
type Mock struct {
	mu sync.Mutex

	ops      []Op
	levels   map[Channel][2]bool
	overlaps int
	released int
	elapsed  time.Duration
	servo    ServoConfig

	// FailDrive, if set, is consulted before each drive; a non-nil error is
	// returned without touching the lines.
	FailDrive func(n int, ch Channel, s Sense) error
	// OnDrive, if set, is called after each successful drive.
	OnDrive func(ch Channel, s Sense, d time.Duration)

	drives int
}

var _ Bank = &Mock{}

// NewMock returns a Mock with the default servo model.
func NewMock() *Mock {
	return &Mock{
		levels: make(map[Channel][2]bool),
		servo:  DefaultServoConfig(),
	}
}

func (m *Mock) record(op Op) {
	m.ops = append(m.ops, op)
}

func (m *Mock) setLevel(ch Channel, s Sense, high bool) {
	l := m.levels[ch]
	l[s] = high
	m.levels[ch] = l
	if l[Extend] && l[Retract] {
		m.overlaps++
	}
}

func (m *Mock) Drive(ch Channel, s Sense, d time.Duration) error {
	m.mu.Lock()
	if m.released > 0 {
		m.mu.Unlock()
		return ErrReleased
	}
	m.drives++
	if m.FailDrive != nil {
		if err := m.FailDrive(m.drives, ch, s); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if d < 0 {
		m.mu.Unlock()
		return ErrNegativeDuration
	}

	m.record(Op{Kind: OpDrive, Channel: ch, Sense: s, Duration: d})
	m.setLevel(ch, s.Opposite(), false)
	m.setLevel(ch, s, true)
	m.elapsed += d
	m.setLevel(ch, s, false)
	hook := m.OnDrive
	m.mu.Unlock()

	if hook != nil {
		hook(ch, s, d)
	}
	return nil
}

func (m *Mock) Rotate(sv Servo, degrees float64, r Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released > 0 {
		return ErrReleased
	}
	if _, err := m.servo.Duty(degrees, r); err != nil {
		return err
	}
	m.record(Op{Kind: OpRotate, Servo: sv, Degrees: degrees, Rotation: r, Duration: m.servo.Settle})
	m.elapsed += m.servo.Settle
	return nil
}

func (m *Mock) ResetServos() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released > 0 {
		return ErrReleased
	}
	m.record(Op{Kind: OpResetServos, Duration: m.servo.Settle})
	m.elapsed += m.servo.Settle
	return nil
}

func (m *Mock) AllOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released > 0 {
		return ErrReleased
	}
	m.record(Op{Kind: OpAllOff})
	m.levels = make(map[Channel][2]bool)
	return nil
}

func (m *Mock) EmergencyStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Op{Kind: OpEmergencyStop})
	m.levels = make(map[Channel][2]bool)
	m.released++
	return nil
}

func (m *Mock) PowerOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record(Op{Kind: OpPowerOff})
	m.released++
	return nil
}

// Ops returns a copy of the recorded operations.
func (m *Mock) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]Op, len(m.ops))
	copy(ops, m.ops)
	return ops
}

// Drives returns only the drive operations.
func (m *Mock) Drives() []Op {
	var drives []Op
	for _, op := range m.Ops() {
		if op.Kind == OpDrive {
			drives = append(drives, op)
		}
	}
	return drives
}

// Count returns how many operations of kind k were recorded.
func (m *Mock) Count(k OpKind) int {
	n := 0
	for _, op := range m.Ops() {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// Overlaps returns how many times both lines of one channel were high together.
func (m *Mock) Overlaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps
}

// Releases returns how many times the handle was released.
func (m *Mock) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Energized reports whether any line is still high.
func (m *Mock) Energized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.levels {
		if l[Extend] || l[Retract] {
			return true
		}
	}
	return false
}

// Elapsed returns the simulated time spent in blocking commands.
func (m *Mock) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}
