package hardware

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrReleased is returned when the bank is used after PowerOff or EmergencyStop.
	ErrReleased = errors.New("hardware: handle already released")
	// ErrUnknownChannel is returned for a channel missing from the pin map.
	ErrUnknownChannel = errors.New("hardware: unknown channel")
	// ErrServoRange is returned when a rotation exceeds the physical range of the grip servo.
	ErrServoRange = errors.New("hardware: servo offset out of range")
	// ErrNegativeDuration is returned for drive durations below zero.
	ErrNegativeDuration = errors.New("hardware: negative drive duration")
)

// Bank drives the five actuator channels and the two grip servos. Every call
// blocks for the full physical duration of the command.
type Bank interface {
	// Drive energizes one line of a channel for d, forcing the opposite line off first.
	Drive(ch Channel, s Sense, d time.Duration) error
	// Rotate offsets a servo from neutral and holds for the settle time.
	Rotate(sv Servo, degrees float64, r Rotation) error
	// ResetServos returns both servos to neutral.
	ResetServos() error
	// AllOff de-energizes every drive line without releasing the handle.
	AllOff() error
	// EmergencyStop zeroes every line, resets the servos and releases the handle.
	EmergencyStop() error
	// PowerOff resets the servos, stops the servo signal and releases the handle.
	PowerOff() error
}

// LineDriver is the pin-level I/O used by GPIOBank.
type LineDriver interface {
	SetLine(pin int, high bool)
	SetDuty(pin int, percent float64)
	StopPWM(pin int)
	Close() error
}

// ServoConfig holds the duty-cycle model of the grip servos.
type ServoConfig struct {
	// NeutralDuty is the duty cycle (percent) of the centered servo.
	NeutralDuty float64
	// DegreeRatio converts degrees of offset into percent duty.
	DegreeRatio float64
	// MaxDegrees is the largest offset the grip linkage tolerates.
	MaxDegrees float64
	// Settle is how long a servo command is held before returning.
	Settle time.Duration
}

// DefaultServoConfig models a 50 Hz hobby servo centered at 7.5% duty.
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		NeutralDuty: 7.5,
		DegreeRatio: 18.0,
		MaxDegrees:  45,
		Settle:      500 * time.Millisecond,
	}
}

// Duty returns the duty cycle for an offset of degrees in rotation r.
func (c ServoConfig) Duty(degrees float64, r Rotation) (float64, error) {
	if degrees < 0 || degrees > c.MaxDegrees {
		return 0, pkgerrors.Wrapf(ErrServoRange, "%.1f degrees (max %.1f)", degrees, c.MaxDegrees)
	}
	return c.NeutralDuty + float64(r)*degrees/c.DegreeRatio, nil
}

// GPIOBank is a Bank backed by relay and PWM lines.
type GPIOBank struct {
	lines LineDriver
	pins  PinMap
	servo ServoConfig
	sleep func(time.Duration)

	// mu guards line writes and the released flag. It is never held while
	// sleeping, so EmergencyStop can cut lines under an in-flight Drive.
	mu       sync.Mutex
	released bool
	onClose  func()
}

// NewGPIOBank returns a bank that drives lines through the given driver.
func NewGPIOBank(lines LineDriver, pins PinMap, servo ServoConfig) *GPIOBank {
	return &GPIOBank{
		lines: lines,
		pins:  pins,
		servo: servo,
		sleep: time.Sleep,
	}
}

// SetSleep replaces the blocking wait used to hold commands.
func (b *GPIOBank) SetSleep(fn func(time.Duration)) {
	b.sleep = fn
}

func (b *GPIOBank) setLine(pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	logrus.WithFields(logrus.Fields{
		"pin":  pin,
		"high": high,
	}).Trace("set line")
	b.lines.SetLine(pin, high)
	return nil
}

func (b *GPIOBank) setDuty(pin int, duty float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	logrus.WithFields(logrus.Fields{
		"pin":  pin,
		"duty": duty,
	}).Trace("set duty")
	b.lines.SetDuty(pin, duty)
	return nil
}

func (b *GPIOBank) Drive(ch Channel, s Sense, d time.Duration) error {
	pair, ok := b.pins.Channels[ch]
	if !ok {
		return pkgerrors.Wrapf(ErrUnknownChannel, "%s", ch)
	}
	if d < 0 {
		return pkgerrors.Wrapf(ErrNegativeDuration, "%s %s %s", ch, s, d)
	}

	logrus.WithFields(logrus.Fields{
		"channel":  ch,
		"sense":    s,
		"duration": d,
	}).Debug("drive")

	if err := b.setLine(pair.Pin(s.Opposite()), false); err != nil {
		return err
	}
	if err := b.setLine(pair.Pin(s), true); err != nil {
		return err
	}
	b.sleep(d)
	return b.setLine(pair.Pin(s), false)
}

func (b *GPIOBank) Rotate(sv Servo, degrees float64, r Rotation) error {
	duty, err := b.servo.Duty(degrees, r)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"servo":    sv,
		"degrees":  degrees,
		"rotation": r,
		"duty":     duty,
	}).Debug("rotate")

	if err := b.setDuty(b.pins.ServoPin(sv), duty); err != nil {
		return err
	}
	b.sleep(b.servo.Settle)
	return nil
}

func (b *GPIOBank) ResetServos() error {
	logrus.Debug("reset servos to neutral")

	if err := b.setDuty(b.pins.UpperServo, b.servo.NeutralDuty); err != nil {
		return err
	}
	if err := b.setDuty(b.pins.LowerServo, b.servo.NeutralDuty); err != nil {
		return err
	}
	b.sleep(b.servo.Settle)
	return nil
}

func (b *GPIOBank) AllOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrReleased
	}
	b.allLow()
	return nil
}

// allLow must be called with mu held.
func (b *GPIOBank) allLow() {
	for _, ch := range Channels {
		pair, ok := b.pins.Channels[ch]
		if !ok {
			continue
		}
		b.lines.SetLine(pair.Extend, false)
		b.lines.SetLine(pair.Retract, false)
	}
}

func (b *GPIOBank) EmergencyStop() error {
	logrus.Warn("emergency stop")

	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.allLow()
	b.lines.SetDuty(b.pins.UpperServo, b.servo.NeutralDuty)
	b.lines.SetDuty(b.pins.LowerServo, b.servo.NeutralDuty)
	b.mu.Unlock()

	b.sleep(b.servo.Settle)
	return b.release()
}

func (b *GPIOBank) PowerOff() error {
	logrus.Info("powering off actuators")

	if err := b.ResetServos(); err != nil {
		if errors.Is(err, ErrReleased) {
			return nil
		}
		return err
	}
	return b.release()
}

func (b *GPIOBank) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.allLow()
	b.lines.StopPWM(b.pins.UpperServo)
	b.lines.StopPWM(b.pins.LowerServo)
	b.released = true

	err := b.lines.Close()
	if b.onClose != nil {
		b.onClose()
	}
	if err != nil {
		return pkgerrors.Wrap(err, "failed to release gpio")
	}
	logrus.Debug("gpio released")
	return nil
}

// Released reports whether the hardware handle has been released.
func (b *GPIOBank) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
