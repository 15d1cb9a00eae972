package gait

import (
	"errors"
	"testing"
	"time"

	"github.com/polebot/climber/pkg/hardware"
)

func TestActiveAssembly(t *testing.T) {
	tests := []struct {
		steps int
		dir   Direction
		want  hardware.Assembly
	}{
		{0, Ascend, hardware.Upper},
		{1, Ascend, hardware.Lower},
		{2, Ascend, hardware.Upper},
		{7, Ascend, hardware.Lower},
		{0, Descend, hardware.Lower},
		{1, Descend, hardware.Upper},
		{4, Descend, hardware.Lower},
		{9, Descend, hardware.Upper},
	}
	for _, tt := range tests {
		if got := ActiveAssembly(tt.steps, tt.dir); got != tt.want {
			t.Errorf("ActiveAssembly(%d, %s) = %s, want %s", tt.steps, tt.dir, got, tt.want)
		}
	}
}

func TestStepPhases(t *testing.T) {
	tests := []struct {
		name string
		dir  Direction
		bias bool
		want []string
	}{
		{
			name: "ascend with bias",
			dir:  Ascend,
			bias: true,
			want: []string{
				"drive upper-radial extend 2s",
				"rotate upper-servo ccw 5.0",
				"drive vertical extend 2s",
				"rotate upper-servo cw 5.0",
				"drive upper-radial retract 2s",
			},
		},
		{
			name: "descend with bias",
			dir:  Descend,
			bias: true,
			want: []string{
				"drive lower-radial extend 2s",
				"rotate lower-servo cw 5.0",
				"drive vertical retract 2s",
				"rotate lower-servo ccw 5.0",
				"drive lower-radial retract 2s",
			},
		},
		{
			name: "reduced descend",
			dir:  Descend,
			want: []string{
				"drive lower-radial extend 2s",
				"drive vertical retract 2s",
				"drive lower-radial retract 2s",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := hardware.NewMock()
			s := NewSequencer(m, tt.dir, Options{Bias: tt.bias})

			if _, err := s.Step(2 * time.Second); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			ops := m.Ops()
			if len(ops) != len(tt.want) {
				t.Fatalf("expected %d ops, got %v", len(tt.want), ops)
			}
			for i, op := range ops {
				if op.String() != tt.want[i] {
					t.Errorf("op %d = %q, want %q", i, op.String(), tt.want[i])
				}
			}
			if s.StepCount() != 1 {
				t.Fatalf("expected step count 1, got %d", s.StepCount())
			}
		})
	}
}

func TestStepAlternates(t *testing.T) {
	m := hardware.NewMock()
	s := NewSequencer(m, Ascend, Options{})

	want := []hardware.Assembly{hardware.Upper, hardware.Lower, hardware.Upper, hardware.Lower}
	for i, w := range want {
		a, err := s.Step(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if a != w {
			t.Fatalf("step %d ran on %s, want %s", i, a, w)
		}
		if s.StepCount() != i+1 {
			t.Fatalf("step count = %d after %d cycles", s.StepCount(), i+1)
		}
	}
	if m.Overlaps() != 0 {
		t.Fatalf("extend and retract overlapped %d times", m.Overlaps())
	}
}

func TestStepFailureKeepsCount(t *testing.T) {
	errRelay := errors.New("relay stuck")
	m := hardware.NewMock()
	m.FailDrive = func(n int, ch hardware.Channel, s hardware.Sense) error {
		if ch == hardware.Vertical {
			return errRelay
		}
		return nil
	}
	s := NewSequencer(m, Descend, Options{Bias: true})

	_, err := s.Step(time.Second)
	if !errors.Is(err, errRelay) {
		t.Fatalf("expected wrapped relay error, got %v", err)
	}
	if s.StepCount() != 0 {
		t.Fatalf("failed cycle must not count, got %d", s.StepCount())
	}
	// The cycle stops at the failing phase.
	if n := len(m.Ops()); n != 2 {
		t.Fatalf("expected 2 ops before the fault, got %d", n)
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"up": Ascend, "ascend": Ascend, "down": Descend, "descend": Descend} {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected an error for an unknown direction")
	}
}
