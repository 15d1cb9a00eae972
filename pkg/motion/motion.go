// Package motion turns a measured height into the duration of the next gait
// cycle.
package motion

import (
	"time"

	"github.com/polebot/climber/pkg/gait"
)

// Default duration bounds of the feedback strategy.
const (
	DefaultMinDuration = 500 * time.Millisecond
	DefaultMaxDuration = 3 * time.Second
)

// Controller computes the duration of the next step from the current height.
type Controller interface {
	Compute(current float64) time.Duration
}

// Fixed returns the same duration on every call.
type Fixed time.Duration

var _ Controller = Fixed(0)

func (f Fixed) Compute(float64) time.Duration {
	return time.Duration(f)
}

// SignedError is the distance still to travel, positive while the target lies
// ahead in the direction of travel. It is reported for diagnostics only.
func SignedError(d gait.Direction, target, current float64) float64 {
	if d == gait.Descend {
		return current - target
	}
	return target - current
}
