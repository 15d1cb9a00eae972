// Package sonar measures the distance from the robot to a fixed reference.
// A failed measurement is always an error, never a zero distance.
package sonar

import (
	"errors"
	"math"
)

var (
	// ErrTimeout is returned when no echo (or no frame) arrives in time.
	ErrTimeout = errors.New("sonar: measurement timed out")
	// ErrMalformed is returned for a frame that cannot be parsed.
	ErrMalformed = errors.New("sonar: malformed reading")
)

// SpeedOfSound in cm/s at room temperature.
const SpeedOfSound = 34300.0

// Sensor is a one-shot distance sensor.
type Sensor interface {
	// Measure returns the distance in cm, or ErrTimeout.
	Measure() (float64, error)
}

// Round2 rounds a distance to two decimals.
func Round2(cm float64) float64 {
	return math.Round(cm*100) / 100
}
