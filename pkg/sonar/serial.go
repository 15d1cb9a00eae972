package sonar

import (
	"io"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// maxFrame is the longest frame accepted: 'R', up to five digits, '\r'.
const maxFrame = 7

// DefaultSerialTimeout covers one frame period of a unit streaming at 6 Hz
// or faster.
const DefaultSerialTimeout = 300 * time.Millisecond

// Port is the subset of a serial port the rangefinder uses.
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Serial is a MaxBotix-style rangefinder streaming "R####\r" frames in
// millimetres.
type Serial struct {
	port    Port
	timeout time.Duration
	now     func() time.Time
}

var _ Sensor = &Serial{}

// OpenSerial opens the rangefinder on a serial device.
func OpenSerial(name string, baud int, timeout time.Duration) (*Serial, error) {
	if timeout <= 0 {
		timeout = DefaultSerialTimeout
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", name)
	}

	s := NewSerial(p, timeout)
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, pkgerrors.Wrapf(err, "failed to set read timeout on %s", name)
	}

	logrus.WithFields(logrus.Fields{
		"port": name,
		"baud": baud,
	}).Info("serial rangefinder opened")
	return s, nil
}

// NewSerial wraps an already configured port.
func NewSerial(port Port, timeout time.Duration) *Serial {
	return &Serial{
		port:    port,
		timeout: timeout,
		now:     time.Now,
	}
}

// Measure discards buffered frames and waits for the next complete one.
func (s *Serial) Measure() (float64, error) {
	if err := s.port.ResetInputBuffer(); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to flush serial input")
	}

	deadline := s.now().Add(s.timeout)
	var frame []byte
	b := make([]byte, 1)
	for {
		n, err := s.port.Read(b)
		if err != nil {
			return 0, pkgerrors.Wrap(err, "failed to read serial frame")
		}
		if n == 0 || s.now().After(deadline) {
			return 0, ErrTimeout
		}

		switch {
		case b[0] == 'R':
			frame = append(frame[:0], b[0])
		case len(frame) == 0:
			// Mid-frame garbage before the first header.
		case b[0] == '\r':
			frame = append(frame, b[0])
			return ParseFrame(frame)
		default:
			frame = append(frame, b[0])
			if len(frame) >= maxFrame {
				return 0, pkgerrors.Wrapf(ErrMalformed, "frame too long: %q", frame)
			}
		}
	}
}

// ParseFrame converts an "R####\r" millimetre frame into centimetres.
func ParseFrame(frame []byte) (float64, error) {
	if len(frame) < 3 || frame[0] != 'R' || frame[len(frame)-1] != '\r' {
		return 0, pkgerrors.Wrapf(ErrMalformed, "%q", frame)
	}
	mm, err := strconv.Atoi(string(frame[1 : len(frame)-1]))
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrMalformed, "%q", frame)
	}
	return Round2(float64(mm) / 10), nil
}

// Close closes the serial port.
func (s *Serial) Close() error {
	return s.port.Close()
}
