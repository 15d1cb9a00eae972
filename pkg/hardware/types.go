package hardware

import "fmt"

// Channel is one bidirectional linear actuator, driven by a pair of relays.
type Channel int

const (
	UpperRadial Channel = iota
	LowerRadial
	UpperHorizontal
	LowerHorizontal
	Vertical
)

// Channels lists every drive channel, in pin-map order.
var Channels = []Channel{UpperRadial, LowerRadial, UpperHorizontal, LowerHorizontal, Vertical}

func (c Channel) String() string {
	switch c {
	case UpperRadial:
		return "upper-radial"
	case LowerRadial:
		return "lower-radial"
	case UpperHorizontal:
		return "upper-horizontal"
	case LowerHorizontal:
		return "lower-horizontal"
	case Vertical:
		return "vertical"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Sense selects which of the two relay lines of a channel is energized.
type Sense int

const (
	Extend Sense = iota
	Retract
)

func (s Sense) String() string {
	if s == Retract {
		return "retract"
	}
	return "extend"
}

// Opposite returns the other drive line of the same channel.
func (s Sense) Opposite() Sense {
	if s == Retract {
		return Extend
	}
	return Retract
}

// Servo is one of the two rotary grip servos.
type Servo int

const (
	UpperServo Servo = iota
	LowerServo
)

func (s Servo) String() string {
	if s == LowerServo {
		return "lower-servo"
	}
	return "upper-servo"
}

// Rotation is the sense of a servo offset from neutral. CCW lowers the duty
// cycle, CW raises it.
type Rotation int

const (
	CCW Rotation = -1
	CW  Rotation = +1
)

func (r Rotation) String() string {
	if r == CCW {
		return "ccw"
	}
	return "cw"
}

// Reverse returns the opposite rotation.
func (r Rotation) Reverse() Rotation {
	return -r
}

// Assembly is the upper or lower set of radial and horizontal actuators plus
// its grip servo.
type Assembly int

const (
	Upper Assembly = iota
	Lower
)

func (a Assembly) String() string {
	if a == Lower {
		return "lower"
	}
	return "upper"
}

// Radial returns the radial (gripping) channel of the assembly.
func (a Assembly) Radial() Channel {
	if a == Lower {
		return LowerRadial
	}
	return UpperRadial
}

// Horizontal returns the horizontal channel of the assembly.
func (a Assembly) Horizontal() Channel {
	if a == Lower {
		return LowerHorizontal
	}
	return UpperHorizontal
}

// Servo returns the grip servo of the assembly.
func (a Assembly) Servo() Servo {
	if a == Lower {
		return LowerServo
	}
	return UpperServo
}
