package hardware

// LinePair is the extend/retract relay pair of one channel (BCM numbering).
type LinePair struct {
	Extend  int `json:"extend"`
	Retract int `json:"retract"`
}

// Pin returns the line for sense s.
func (p LinePair) Pin(s Sense) int {
	if s == Retract {
		return p.Retract
	}
	return p.Extend
}

// PinMap wires channels, servos and the ultrasonic sensor to BCM pins.
type PinMap struct {
	Channels   map[Channel]LinePair
	UpperServo int
	LowerServo int
	Trigger    int
	Echo       int
}

// ServoPin returns the PWM pin of a servo.
func (m PinMap) ServoPin(sv Servo) int {
	if sv == LowerServo {
		return m.LowerServo
	}
	return m.UpperServo
}

// DefaultPinMap is the wiring of the reference robot. Servos sit on the two
// hardware PWM pins.
func DefaultPinMap() PinMap {
	return PinMap{
		Channels: map[Channel]LinePair{
			UpperRadial:     {Extend: 18, Retract: 19},
			LowerRadial:     {Extend: 20, Retract: 21},
			UpperHorizontal: {Extend: 22, Retract: 23},
			LowerHorizontal: {Extend: 24, Retract: 25},
			Vertical:        {Extend: 26, Retract: 16},
		},
		UpperServo: 12,
		LowerServo: 13,
		Trigger:    27,
		Echo:       17,
	}
}
