package config

import "time"

// Sensor kinds.
const (
	SensorHCSR04 = "hcsr04"
	SensorSerial = "serial"
)

type Config interface {
	Tolerance() float64
	HeightThreshold() float64
	MaxSteps() int
	StartMargin() float64
	MaxSensorFailures() int

	Kp() float64
	Ki() float64
	Kd() float64
	MinDuration() time.Duration
	MaxDuration() time.Duration

	SettleInterval() time.Duration
	ForcedStepDuration() time.Duration
	BiasDegrees() float64
	ServoSettle() time.Duration
	FinalRadialRelease() time.Duration
	FinalHorizontalRelease() time.Duration

	Sensor() string
	SerialPort() string
	SerialBaud() int
	SerialTimeout() time.Duration
	EchoTimeout() time.Duration

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
