package climb

import (
	"errors"
	"fmt"
)

// Failure kinds. Only some of them end a session; see Fault.
var (
	// ErrSensorTimeout is a single missing reading. It only aborts once
	// Params.MaxSensorFailures readings in a row have timed out.
	ErrSensorTimeout = errors.New("sensor timeout")
	// ErrProgressStalled is advisory and never aborts.
	ErrProgressStalled = errors.New("progress stalled")
	// ErrMaxStepsExhausted marks the Exhausted outcome. It is not returned
	// from Run.
	ErrMaxStepsExhausted = errors.New("max steps exhausted")
	ErrUserAbort         = errors.New("aborted by operator")
	ErrActuatorFault     = errors.New("actuator fault")
	ErrUnhandledFault    = errors.New("unhandled fault")
)

// Fault is the error returned by an aborted session.
type Fault struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// State is where the fault happened.
	State State
	// Step is the step count when it happened.
	Step  int
	Cause error
}

func (f *Fault) Error() string {
	if f.Cause == nil || f.Cause == f.Kind {
		return fmt.Sprintf("%s in %s at step %d", f.Kind, f.State, f.Step)
	}
	return fmt.Sprintf("%s in %s at step %d: %v", f.Kind, f.State, f.Step, f.Cause)
}

// Is matches the fault kind, so errors.Is(err, ErrActuatorFault) works.
func (f *Fault) Is(target error) bool {
	return target == f.Kind
}

func (f *Fault) Unwrap() error {
	return f.Cause
}
