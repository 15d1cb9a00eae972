package sonar

import (
	"errors"
	"testing"
	"time"
)

type fakeEcho struct {
	lows  int // reads returning low before the echo rises
	highs int // reads returning high before it falls; <0 never falls
	reads int
	trig  []bool
}

func (f *fakeEcho) SetLine(_ int, high bool) { f.trig = append(f.trig, high) }

func (f *fakeEcho) ReadLine(_ int) bool {
	f.reads++
	if f.lows < 0 {
		return false
	}
	if f.reads <= f.lows {
		return false
	}
	if f.highs < 0 {
		return true
	}
	return f.reads <= f.lows+f.highs
}

// tickingClock advances by step on every call.
func tickingClock(step time.Duration) func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestHCSR04(echo *fakeEcho, timeout time.Duration) *HCSR04 {
	s := NewHCSR04(echo, 27, 17, timeout)
	s.now = tickingClock(10 * time.Microsecond)
	s.sleep = func(time.Duration) {}
	return s
}

func TestEchoDistance(t *testing.T) {
	tests := []struct {
		echo time.Duration
		want float64
	}{
		{0, 0},
		{time.Millisecond, 17.15},
		{5831 * time.Microsecond, 100.0},
		{1010 * time.Microsecond, 17.32},
	}
	for _, tt := range tests {
		if got := EchoDistance(tt.echo); got != tt.want {
			t.Errorf("EchoDistance(%s) = %v, want %v", tt.echo, got, tt.want)
		}
	}
}

func TestHCSR04Measure(t *testing.T) {
	echo := &fakeEcho{lows: 2, highs: 100}
	s := newTestHCSR04(echo, 10*time.Millisecond)

	d, err := s.Measure()
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if d != 17.32 {
		t.Fatalf("expected 17.32cm, got %v", d)
	}
	if len(echo.trig) != 2 || !echo.trig[0] || echo.trig[1] {
		t.Fatalf("expected high then low trigger pulse, got %v", echo.trig)
	}
}

func TestHCSR04Timeout(t *testing.T) {
	tests := []struct {
		name string
		echo *fakeEcho
	}{
		{name: "never rises", echo: &fakeEcho{lows: -1}},
		{name: "never falls", echo: &fakeEcho{lows: 1, highs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestHCSR04(tt.echo, time.Millisecond)
			d, err := s.Measure()
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v (distance %v)", err, d)
			}
		})
	}
}

type fakePort struct {
	data []byte
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, nil
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) ResetInputBuffer() error { return nil }

func TestSerialMeasure(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    float64
		wantErr error
	}{
		{name: "clean frame", data: "R1234\r", want: 123.4},
		{name: "partial frame first", data: "34\rR0500\r", want: 50},
		{name: "no data", data: "", wantErr: ErrTimeout},
		{name: "incomplete frame", data: "R12", wantErr: ErrTimeout},
		{name: "garbage digits", data: "R12x4\r", wantErr: ErrMalformed},
		{name: "overlong frame", data: "R1234567\r", wantErr: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSerial(&fakePort{data: []byte(tt.data)}, time.Second)
			got, err := s.Measure()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Measure failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted(Reading{Distance: 10}, Reading{Err: ErrTimeout}, Reading{Distance: 12})

	if d, err := s.Measure(); err != nil || d != 10 {
		t.Fatalf("first reading = %v, %v", d, err)
	}
	if _, err := s.Measure(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if d, err := s.Measure(); err != nil || d != 12 {
			t.Fatalf("expected last reading to repeat, got %v, %v", d, err)
		}
	}
	if s.Calls() != 5 {
		t.Fatalf("expected 5 calls, got %d", s.Calls())
	}
}
