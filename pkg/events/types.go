package events

import "encoding/json"

// Event names
const (
	ClimbStep  = "climb.step"
	ClimbState = "climb.state"
)

// Event is one SSE event published during a session.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StepEvent is the payload of climb.step, one per completed gait cycle.
type StepEvent struct {
	Step         int     `json:"step"`
	Assembly     string  `json:"assembly"`
	Height       float64 `json:"height"`
	Degraded     bool    `json:"degraded,omitempty"`
	SignedError  float64 `json:"signedError"`
	DurationMs   int64   `json:"durationMs"`
	Displacement float64 `json:"displacement"`
	Forced       bool    `json:"forced,omitempty"`
	Ts           int64   `json:"ts"`
}

// StateEvent is the payload of climb.state, one per state transition.
type StateEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into T, ignoring the event name. Empty
// data yields the zero value of T.
//
// Example:
//
//	step, err := events.DecodeAs[events.StepEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(step.Step, step.Height)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
