package hardware

import (
	"errors"
	"math"
	"testing"
	"time"
)

// fakeLines records line writes and checks the relay pair invariant on each one.
type fakeLines struct {
	t      *testing.T
	pins   PinMap
	levels map[int]bool
	duty   map[int]float64
	writes []int
	closed int
}

func newFakeLines(t *testing.T, pins PinMap) *fakeLines {
	return &fakeLines{
		t:      t,
		pins:   pins,
		levels: make(map[int]bool),
		duty:   make(map[int]float64),
	}
}

func (f *fakeLines) SetLine(pin int, high bool) {
	f.levels[pin] = high
	f.writes = append(f.writes, pin)
	for ch, pair := range f.pins.Channels {
		if f.levels[pair.Extend] && f.levels[pair.Retract] {
			f.t.Errorf("both lines of %s are high", ch)
		}
	}
}

func (f *fakeLines) SetDuty(pin int, percent float64) { f.duty[pin] = percent }

func (f *fakeLines) StopPWM(pin int) { f.duty[pin] = 0 }

func (f *fakeLines) Close() error {
	f.closed++
	return nil
}

func (f *fakeLines) anyHigh() bool {
	for _, high := range f.levels {
		if high {
			return true
		}
	}
	return false
}

func newTestBank(t *testing.T) (*GPIOBank, *fakeLines, *[]time.Duration) {
	pins := DefaultPinMap()
	lines := newFakeLines(t, pins)
	b := NewGPIOBank(lines, pins, DefaultServoConfig())
	var slept []time.Duration
	b.SetSleep(func(d time.Duration) { slept = append(slept, d) })
	return b, lines, &slept
}

func TestDriveForcesOppositeLineOff(t *testing.T) {
	b, lines, slept := newTestBank(t)

	for _, ch := range Channels {
		pair := DefaultPinMap().Channels[ch]
		// Leave the retract line stuck high, then ask for extend.
		lines.levels[pair.Retract] = true

		if err := b.Drive(ch, Extend, 2*time.Second); err != nil {
			t.Fatalf("Drive(%s) failed: %v", ch, err)
		}
		if lines.levels[pair.Extend] || lines.levels[pair.Retract] {
			t.Fatalf("%s left energized", ch)
		}
		n := len(lines.writes)
		want := []int{pair.Retract, pair.Extend, pair.Extend}
		got := lines.writes[n-3:]
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s write order = %v, want %v", ch, got, want)
			}
		}
	}
	if len(*slept) != len(Channels) {
		t.Fatalf("expected %d holds, got %d", len(Channels), len(*slept))
	}
}

func TestDriveRejectsBadInput(t *testing.T) {
	b, _, _ := newTestBank(t)

	if err := b.Drive(Channel(42), Extend, time.Second); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if err := b.Drive(Vertical, Retract, -time.Second); !errors.Is(err, ErrNegativeDuration) {
		t.Fatalf("expected ErrNegativeDuration, got %v", err)
	}
}

func TestRotateDuty(t *testing.T) {
	tests := []struct {
		servo   Servo
		degrees float64
		rot     Rotation
		want    float64
	}{
		{UpperServo, 5, CCW, 7.5 - 5.0/18},
		{UpperServo, 5, CW, 7.5 + 5.0/18},
		{LowerServo, 18, CW, 8.5},
		{LowerServo, 0, CCW, 7.5},
	}
	for _, tt := range tests {
		b, lines, slept := newTestBank(t)
		if err := b.Rotate(tt.servo, tt.degrees, tt.rot); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
		pin := DefaultPinMap().ServoPin(tt.servo)
		if got := lines.duty[pin]; math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Rotate(%s, %v, %s) duty = %v, want %v", tt.servo, tt.degrees, tt.rot, got, tt.want)
		}
		if len(*slept) != 1 || (*slept)[0] != DefaultServoConfig().Settle {
			t.Errorf("expected one settle hold, got %v", *slept)
		}
	}
}

func TestRotateOutOfRange(t *testing.T) {
	b, lines, _ := newTestBank(t)

	for _, deg := range []float64{-1, 46, 180} {
		if err := b.Rotate(UpperServo, deg, CW); !errors.Is(err, ErrServoRange) {
			t.Errorf("Rotate(%v) expected ErrServoRange, got %v", deg, err)
		}
	}
	if len(lines.duty) != 0 {
		t.Fatalf("no duty should be written on rejected rotations, got %v", lines.duty)
	}
}

func TestEmergencyStopReleasesOnce(t *testing.T) {
	b, lines, _ := newTestBank(t)
	pins := DefaultPinMap()

	// Simulate an in-flight drive by raising a line directly.
	lines.levels[pins.Channels[Vertical].Extend] = true

	if err := b.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop failed: %v", err)
	}
	if lines.anyHigh() {
		t.Fatalf("lines still energized after emergency stop: %v", lines.levels)
	}
	if lines.closed != 1 || !b.Released() {
		t.Fatalf("expected handle released once, closed=%d", lines.closed)
	}

	if err := b.EmergencyStop(); err != nil {
		t.Fatalf("second EmergencyStop failed: %v", err)
	}
	if err := b.PowerOff(); err != nil {
		t.Fatalf("PowerOff after release failed: %v", err)
	}
	if lines.closed != 1 {
		t.Fatalf("handle released %d times", lines.closed)
	}
	if err := b.Drive(Vertical, Extend, time.Second); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestPowerOff(t *testing.T) {
	b, lines, _ := newTestBank(t)
	pins := DefaultPinMap()

	if err := b.Rotate(LowerServo, 5, CCW); err != nil {
		t.Fatal(err)
	}
	if err := b.PowerOff(); err != nil {
		t.Fatalf("PowerOff failed: %v", err)
	}
	if lines.duty[pins.UpperServo] != 0 || lines.duty[pins.LowerServo] != 0 {
		t.Fatalf("servo PWM should be stopped, got %v", lines.duty)
	}
	if lines.closed != 1 {
		t.Fatalf("expected one close, got %d", lines.closed)
	}
	if err := b.ResetServos(); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestMockTracksLines(t *testing.T) {
	m := NewMock()

	if err := m.Drive(UpperRadial, Extend, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := m.Drive(UpperRadial, Retract, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := m.Rotate(UpperServo, 5, CCW); err != nil {
		t.Fatal(err)
	}
	if m.Overlaps() != 0 || m.Energized() {
		t.Fatalf("mock lines should be idle, overlaps=%d", m.Overlaps())
	}
	if m.Elapsed() != 2*time.Second+DefaultServoConfig().Settle {
		t.Fatalf("unexpected elapsed %s", m.Elapsed())
	}
	if err := m.PowerOff(); err != nil {
		t.Fatal(err)
	}
	if err := m.Drive(Vertical, Extend, time.Second); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestAssemblyMapping(t *testing.T) {
	if Upper.Radial() != UpperRadial || Upper.Horizontal() != UpperHorizontal || Upper.Servo() != UpperServo {
		t.Fatal("upper assembly mapping is wrong")
	}
	if Lower.Radial() != LowerRadial || Lower.Horizontal() != LowerHorizontal || Lower.Servo() != LowerServo {
		t.Fatal("lower assembly mapping is wrong")
	}
}
