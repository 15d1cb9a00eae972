package motion

import (
	"math"
	"testing"
	"time"

	"github.com/polebot/climber/pkg/gait"
)

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestPID(setpoint float64) *PID {
	return NewPID(PIDConfig{
		PIDParams: DefaultPIDParams(),
		Setpoint:  setpoint,
		Now:       stepClock(time.Second),
	})
}

func near(a, b time.Duration) bool {
	return math.Abs(float64(a-b)) < float64(time.Millisecond)
}

func TestFixed(t *testing.T) {
	f := Fixed(2 * time.Second)
	for _, h := range []float64{0, 50, -10, 1e6} {
		if got := f.Compute(h); got != 2*time.Second {
			t.Fatalf("Fixed.Compute(%v) = %s", h, got)
		}
	}
}

func TestPIDClamp(t *testing.T) {
	tests := []struct {
		name     string
		setpoint float64
		input    float64
		want     time.Duration
	}{
		{"far below target", 1000, 0, DefaultMaxDuration},
		{"far above target", 0, 1000, DefaultMinDuration},
		{"within range", 100, 0, 2500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPID(tt.setpoint)
			if got := p.Compute(tt.input); !near(got, tt.want) {
				t.Fatalf("Compute(%v) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestPIDOutputBounded(t *testing.T) {
	p := newTestPID(100)
	inputs := []float64{0, -500, 500, 99, 101, 1e9, -1e9, 100, 3, 250}
	for _, in := range inputs {
		d := p.Compute(in)
		if d < DefaultMinDuration || d > DefaultMaxDuration {
			t.Fatalf("Compute(%v) = %s outside [%s, %s]", in, d, DefaultMinDuration, DefaultMaxDuration)
		}
	}
}

func TestPIDNonFiniteInput(t *testing.T) {
	p := newTestPID(100)
	for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := p.Compute(in); got != DefaultMinDuration {
			t.Fatalf("Compute(%v) = %s, want %s", in, got, DefaultMinDuration)
		}
	}
	// The state is untouched, so the next real reading behaves like the first.
	if got := p.Compute(50); !near(got, 1500*time.Millisecond) {
		t.Fatalf("Compute(50) after non-finite input = %s", got)
	}
}

func TestPIDIntegralPersists(t *testing.T) {
	p := newTestPID(100)

	// P stays at 1.0 while the integral ramps by Ki*error*dt per call.
	want := []time.Duration{1500 * time.Millisecond, 1550 * time.Millisecond, 1600 * time.Millisecond}
	for i, w := range want {
		if got := p.Compute(50); !near(got, w) {
			t.Fatalf("call %d = %s, want %s", i, got, w)
		}
	}

	fresh := newTestPID(100)
	if got := fresh.Compute(50); !near(got, want[0]) {
		t.Fatalf("a new controller must start from zeroed state, got %s", got)
	}

	p.Reset()
	if got := p.Compute(50); !near(got, want[0]) {
		t.Fatalf("Reset must zero the state, got %s", got)
	}
}

func TestPIDDerivativeOnMeasurement(t *testing.T) {
	p := newTestPID(100)
	p.Compute(50)
	p.Compute(60)

	terms := p.Terms()
	// Kd * -(60-50) / 1s
	if math.Abs(terms.D-(-0.1)) > 1e-9 {
		t.Fatalf("derivative term = %v, want -0.1", terms.D)
	}
	if math.Abs(terms.P-0.8) > 1e-9 {
		t.Fatalf("proportional term = %v, want 0.8", terms.P)
	}
}

func TestSignedError(t *testing.T) {
	tests := []struct {
		dir     gait.Direction
		target  float64
		current float64
		want    float64
	}{
		{gait.Ascend, 100, 40, 60},
		{gait.Ascend, 100, 120, -20},
		{gait.Descend, 20, 80, 60},
		{gait.Descend, 20, 10, -10},
	}
	for _, tt := range tests {
		if got := SignedError(tt.dir, tt.target, tt.current); got != tt.want {
			t.Errorf("SignedError(%s, %v, %v) = %v, want %v", tt.dir, tt.target, tt.current, got, tt.want)
		}
	}
}
