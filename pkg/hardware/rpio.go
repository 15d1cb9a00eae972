package hardware

import (
	"errors"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/polebot/climber/pkg/sonar"
)

const (
	servoHertz = 50
	// servoCycle is the PWM range per period, 1 µs resolution at 50 Hz.
	servoCycle = 20000
)

// ErrBusy is returned when the GPIO board is already owned by another session.
var ErrBusy = errors.New("hardware: gpio board already in use")

var boardInUse atomic.Bool

// rpioLines drives BCM pins through /dev/gpiomem.
type rpioLines struct{}

func (rpioLines) SetLine(pin int, high bool) {
	p := rpio.Pin(pin)
	if high {
		p.High()
	} else {
		p.Low()
	}
}

func (rpioLines) ReadLine(pin int) bool {
	return rpio.Pin(pin).Read() == rpio.High
}

func (rpioLines) SetDuty(pin int, percent float64) {
	rpio.Pin(pin).DutyCycle(uint32(percent/100*servoCycle), servoCycle)
}

func (rpioLines) StopPWM(pin int) {
	rpio.Pin(pin).DutyCycle(0, servoCycle)
}

func (rpioLines) Close() error {
	rpio.StopPwm()
	return rpio.Close()
}

// Board is the process-wide GPIO handle. It owns the actuator bank and the
// ultrasonic sensor lines and is released by the bank's PowerOff or
// EmergencyStop.
type Board struct {
	bank  *GPIOBank
	lines rpioLines
	pins  PinMap
}

// OpenBoard maps the GPIO registers and puts every line in its idle state.
// Only one board can be open at a time.
func OpenBoard(pins PinMap, servo ServoConfig) (*Board, error) {
	if !boardInUse.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	if err := rpio.Open(); err != nil {
		boardInUse.Store(false)
		return nil, pkgerrors.Wrap(err, "failed to open gpio")
	}

	for _, ch := range Channels {
		pair, ok := pins.Channels[ch]
		if !ok {
			continue
		}
		for _, pin := range []int{pair.Extend, pair.Retract} {
			p := rpio.Pin(pin)
			p.Output()
			p.Low()
		}
	}

	for _, pin := range []int{pins.UpperServo, pins.LowerServo} {
		p := rpio.Pin(pin)
		p.Mode(rpio.Pwm)
		p.Freq(servoHertz * servoCycle)
	}
	rpio.StartPwm()

	trig := rpio.Pin(pins.Trigger)
	trig.Output()
	trig.Low()
	rpio.Pin(pins.Echo).Input()

	lines := rpioLines{}
	bank := NewGPIOBank(lines, pins, servo)
	bank.onClose = func() { boardInUse.Store(false) }

	lines.SetDuty(pins.UpperServo, servo.NeutralDuty)
	lines.SetDuty(pins.LowerServo, servo.NeutralDuty)

	logrus.WithFields(logrus.Fields{
		"upperServo": pins.UpperServo,
		"lowerServo": pins.LowerServo,
		"trigger":    pins.Trigger,
		"echo":       pins.Echo,
	}).Info("gpio board opened")

	// Let the ultrasonic sensor settle after the trigger goes low.
	time.Sleep(100 * time.Millisecond)

	return &Board{bank: bank, lines: lines, pins: pins}, nil
}

// Bank returns the actuator bank of the board.
func (b *Board) Bank() *GPIOBank {
	return b.bank
}

// Sensor returns an HC-SR04 driver on the board's trigger and echo pins.
func (b *Board) Sensor(timeout time.Duration) *sonar.HCSR04 {
	return sonar.NewHCSR04(guardedLines{bank: b.bank, lines: b.lines}, b.pins.Trigger, b.pins.Echo, timeout)
}

// guardedLines refuses access once the bank has released the registers.
type guardedLines struct {
	bank  *GPIOBank
	lines rpioLines
}

func (g guardedLines) SetLine(pin int, high bool) {
	_ = g.bank.setLine(pin, high)
}

func (g guardedLines) ReadLine(pin int) bool {
	g.bank.mu.Lock()
	defer g.bank.mu.Unlock()

	if g.bank.released {
		return false
	}
	return g.lines.ReadLine(pin)
}
