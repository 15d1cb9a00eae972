package client

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
	"github.com/polebot/climber/pkg/monitor"
)

type fakeSession struct {
	mu sync.Mutex
	st climb.Status
}

func (f *fakeSession) Status() climb.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func startMonitor(t *testing.T, opts monitor.Options) (*Client, *monitor.Server) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "m.sock")
	srv := monitor.New(opts)
	if err := srv.Start(sock); err != nil {
		t.Fatalf("failed to start monitor: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return NewClient(sock), srv
}

func TestStatusAndAbort(t *testing.T) {
	sess := &fakeSession{st: climb.Status{State: climb.StateStepping, Direction: "ascend", Steps: 2, Target: 100}}
	aborted := make(chan struct{}, 1)
	c, _ := startMonitor(t, monitor.Options{
		Session: sess,
		Config:  config.NewFileFromConfig(nil, ""),
		Abort:   func() { aborted <- struct{}{} },
	})

	st, err := c.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != climb.StateStepping || st.Steps != 2 {
		t.Fatalf("unexpected status %+v", st)
	}

	if _, err := c.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	select {
	case <-aborted:
	default:
		t.Fatal("abort function was not called")
	}

	sess.mu.Lock()
	sess.st.State = climb.StateDone
	sess.mu.Unlock()
	if _, err := c.Abort(); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after the session finished, got %v", err)
	}

	conf, err := c.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if conf.Kp == nil || *conf.Kp != 0.02 {
		t.Fatalf("unexpected config %+v", conf)
	}

	if _, err := c.GetVersion(); err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
}

func TestNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	_, err := c.GetStatus()
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	c, _ := startMonitor(t, monitor.Options{Session: &fakeSession{}})
	if _, err := c.GetConfig(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a config, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	hub := events.NewHub()
	c, _ := startMonitor(t, monitor.Options{Session: &fakeSession{}, Hub: hub})

	var got []events.Event
	done := make(chan error, 1)
	go func() {
		done <- c.Events(context.Background(), func(ev events.Event) error {
			got = append(got, ev)
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	hub.Publish(events.ClimbStep, events.StepEvent{Step: 3, Height: 20})
	hub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Events returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end")
	}

	if len(got) != 1 || got[0].Name != events.ClimbStep {
		t.Fatalf("unexpected events %+v", got)
	}
	step, err := events.DecodeAs[events.StepEvent](got[0])
	if err != nil {
		t.Fatal(err)
	}
	if step.Step != 3 || step.Height != 20 {
		t.Fatalf("unexpected step event %+v", step)
	}
}

func TestEventsCancelled(t *testing.T) {
	hub := events.NewHub()
	c, _ := startMonitor(t, monitor.Options{Hub: hub})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Events(ctx, func(events.Event) error { return nil })
	}()
	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not stop on cancel")
	}
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive",
		"event:climb.state",
		`data:{"from":"Init","to":"Stepping"}`,
		"",
		"",
		"event: climb.step",
		`data: {"step":1,`,
		`data: "height":3}`,
		"",
		"",
	}, "\n")

	var got []events.Event
	err := readEvents(strings.NewReader(stream), func(ev events.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Name != events.ClimbState || got[1].Name != events.ClimbStep {
		t.Fatalf("unexpected names %q %q", got[0].Name, got[1].Name)
	}
	if string(got[1].Data) != "{\"step\":1,\n\"height\":3}" {
		t.Fatalf("unexpected multi-line data %q", got[1].Data)
	}

	stop := errors.New("stop")
	err = readEvents(strings.NewReader(stream), func(events.Event) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error to end the stream, got %v", err)
	}
}

func TestReadEventsDropsUnterminated(t *testing.T) {
	stream := strings.Join([]string{
		"event:climb.state",
		`data:{"from":"Init","to":"Stepping"}`,
		"",
		"event:climb.step",
		`data:{"step":1}`,
	}, "\n")

	var got []events.Event
	_ = readEvents(strings.NewReader(stream), func(ev events.Event) error {
		got = append(got, ev)
		return nil
	})
	if len(got) != 1 || got[0].Name != events.ClimbState {
		t.Fatalf("expected only the terminated event, got %+v", got)
	}
}
