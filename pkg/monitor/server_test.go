package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
)

type fakeSession struct {
	st climb.Status
}

func (f *fakeSession) Status() climb.Status { return f.st }

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	sess := &fakeSession{st: climb.Status{State: climb.StateStepping, Steps: 4, Height: 41.5, Target: 100}}
	s := New(Options{Session: sess})

	w := serve(t, s, http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got climb.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if got.State != climb.StateStepping || got.Steps != 4 || got.Height != 41.5 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestGetStatusWithoutSession(t *testing.T) {
	w := serve(t, New(Options{}), http.MethodGet, "/status")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	conf := config.NewFileFromConfig(nil, "")
	w := serve(t, New(Options{Config: conf}), http.MethodGet, "/config")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var raw config.RawFileConfig
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if raw.MaxSteps == nil || *raw.MaxSteps != 50 {
		t.Fatalf("unexpected config %s", w.Body.String())
	}

	w = serve(t, New(Options{}), http.MethodGet, "/config")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a config, got %d", w.Code)
	}
}

func TestPutAbort(t *testing.T) {
	tests := []struct {
		name      string
		state     climb.State
		wantCode  int
		wantCalls int
	}{
		{"stepping", climb.StateStepping, http.StatusCreated, 1},
		{"init", climb.StateInit, http.StatusCreated, 1},
		{"finalizing", climb.StateFinalizing, http.StatusConflict, 0},
		{"done", climb.StateDone, http.StatusConflict, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			s := New(Options{
				Session: &fakeSession{st: climb.Status{State: tt.state}},
				Abort:   func() { calls++ },
			})
			w := serve(t, s, http.MethodPut, "/abort")
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if calls != tt.wantCalls {
				t.Fatalf("expected %d abort calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub()
	s := New(Options{Hub: hub})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish(events.ClimbStep, events.StepEvent{Step: 1, Assembly: "upper", Height: 12.5})
	hub.Publish(events.ClimbState, events.StateEvent{From: "Stepping", To: "Converged"})
	hub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the hub closed")
	}

	body := w.Body.String()
	if !strings.Contains(body, "event:"+events.ClimbStep) || !strings.Contains(body, "event:"+events.ClimbState) {
		t.Fatalf("missing events in stream:\n%s", body)
	}
	if !strings.Contains(body, `"height":12.5`) {
		t.Fatalf("missing step payload in stream:\n%s", body)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestGetVersion(t *testing.T) {
	w := serve(t, New(Options{}), http.MethodGet, "/version")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), `"`) {
		t.Fatalf("unexpected version response %d %s", w.Code, w.Body.String())
	}
}

func TestStartShutdown(t *testing.T) {
	sock := t.TempDir() + "/climber.sock"
	s := New(Options{Session: &fakeSession{}, Hub: events.NewHub()})
	if err := s.Start(sock); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
