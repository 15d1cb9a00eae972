package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/polebot/climber/pkg/utils/ptr"
)

var (
	// Durations are in seconds, lengths in cm.
	defaultFileConfig = &RawFileConfig{
		Tolerance:         ptr.To(2.0),
		HeightThreshold:   ptr.To(2.0),
		MaxSteps:          ptr.To(50),
		StartMargin:       ptr.To(5.0),
		MaxSensorFailures: ptr.To(3),

		Kp:          ptr.To(0.02),
		Ki:          ptr.To(0.001),
		Kd:          ptr.To(0.01),
		MinDuration: ptr.To(0.5),
		MaxDuration: ptr.To(3.0),

		SettleInterval:         ptr.To(1.0),
		ForcedStepDuration:     ptr.To(3.0),
		BiasDegrees:            ptr.To(5.0),
		ServoSettle:            ptr.To(0.5),
		FinalRadialRelease:     ptr.To(20.0),
		FinalHorizontalRelease: ptr.To(6.0),

		Sensor:        ptr.To(SensorHCSR04),
		SerialPort:    ptr.To("/dev/ttyAMA0"),
		SerialBaud:    ptr.To(9600),
		SerialTimeout: ptr.To(0.3),
		EchoTimeout:   ptr.To(0.1),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewFileFromConfig wraps c without reading configPath. A nil c selects a
// copy of the defaults.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		d := *defaultFileConfig
		c = &d
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Tolerance         *float64 `json:"tolerance,omitempty"`
	HeightThreshold   *float64 `json:"heightThreshold,omitempty"`
	MaxSteps          *int     `json:"maxSteps,omitempty"`
	StartMargin       *float64 `json:"startMargin,omitempty"`
	MaxSensorFailures *int     `json:"maxSensorFailures,omitempty"`

	Kp          *float64 `json:"kp,omitempty"`
	Ki          *float64 `json:"ki,omitempty"`
	Kd          *float64 `json:"kd,omitempty"`
	MinDuration *float64 `json:"minDuration,omitempty"`
	MaxDuration *float64 `json:"maxDuration,omitempty"`

	SettleInterval         *float64 `json:"settleInterval,omitempty"`
	ForcedStepDuration     *float64 `json:"forcedStepDuration,omitempty"`
	BiasDegrees            *float64 `json:"biasDegrees,omitempty"`
	ServoSettle            *float64 `json:"servoSettle,omitempty"`
	FinalRadialRelease     *float64 `json:"finalRadialRelease,omitempty"`
	FinalHorizontalRelease *float64 `json:"finalHorizontalRelease,omitempty"`

	Sensor        *string  `json:"sensor,omitempty"`
	SerialPort    *string  `json:"serialPort,omitempty"`
	SerialBaud    *int     `json:"serialBaud,omitempty"`
	SerialTimeout *float64 `json:"serialTimeout,omitempty"`
	EchoTimeout   *float64 `json:"echoTimeout,omitempty"`
}

// DefaultRawFileConfig returns a copy of the defaults, every field set.
func DefaultRawFileConfig() *RawFileConfig {
	d := *defaultFileConfig
	return &d
}

// value returns the field selected by v, falling back to the default when unset.
func value[T any](f *File, v func(c *RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if p := v(f.c); p != nil {
		return *p
	}
	return *v(defaultFileConfig)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (f *File) Tolerance() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Tolerance })
}

func (f *File) HeightThreshold() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.HeightThreshold })
}

func (f *File) MaxSteps() int {
	return value(f, func(c *RawFileConfig) *int { return c.MaxSteps })
}

func (f *File) StartMargin() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.StartMargin })
}

func (f *File) MaxSensorFailures() int {
	return value(f, func(c *RawFileConfig) *int { return c.MaxSensorFailures })
}

func (f *File) Kp() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Kp })
}

func (f *File) Ki() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Ki })
}

func (f *File) Kd() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Kd })
}

func (f *File) MinDuration() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.MinDuration }))
}

func (f *File) MaxDuration() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.MaxDuration }))
}

func (f *File) SettleInterval() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.SettleInterval }))
}

func (f *File) ForcedStepDuration() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.ForcedStepDuration }))
}

func (f *File) BiasDegrees() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.BiasDegrees })
}

func (f *File) ServoSettle() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.ServoSettle }))
}

func (f *File) FinalRadialRelease() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.FinalRadialRelease }))
}

func (f *File) FinalHorizontalRelease() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.FinalHorizontalRelease }))
}

func (f *File) Sensor() string {
	return value(f, func(c *RawFileConfig) *string { return c.Sensor })
}

func (f *File) SerialPort() string {
	return value(f, func(c *RawFileConfig) *string { return c.SerialPort })
}

func (f *File) SerialBaud() int {
	return value(f, func(c *RawFileConfig) *int { return c.SerialBaud })
}

// SerialTimeout bounds the wait for one rangefinder frame.
func (f *File) SerialTimeout() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.SerialTimeout }))
}

func (f *File) EchoTimeout() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *float64 { return c.EchoTimeout }))
}

// Validate checks the values a session depends on.
func (f *File) Validate() error {
	switch {
	case f.MinDuration() <= 0 || f.MaxDuration() < f.MinDuration():
		return pkgerrors.Errorf("invalid duration bounds [%s, %s]", f.MinDuration(), f.MaxDuration())
	case f.MaxSteps() <= 0:
		return pkgerrors.Errorf("maxSteps must be positive, got %d", f.MaxSteps())
	case f.Sensor() != SensorHCSR04 && f.Sensor() != SensorSerial:
		return pkgerrors.Errorf("unknown sensor %q (want %s or %s)", f.Sensor(), SensorHCSR04, SensorSerial)
	case f.Tolerance() < 0 || f.HeightThreshold() < 0:
		return pkgerrors.New("tolerance and heightThreshold must not be negative")
	}
	return nil
}

// Raw returns a copy of the configuration as read from the file.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return RawFileConfig{}
	}
	return *f.c
}

// Effective returns the configuration with every unset key taken from the
// defaults. Durations stay in seconds.
func (f *File) Effective() (RawFileConfig, error) {
	var eff RawFileConfig

	b, err := json.Marshal(defaultFileConfig)
	if err != nil {
		return eff, pkgerrors.Wrap(err, "failed to encode defaults")
	}
	if err := json.Unmarshal(b, &eff); err != nil {
		return eff, pkgerrors.Wrap(err, "failed to decode defaults")
	}

	raw := f.Raw()
	b, err = json.Marshal(&raw)
	if err != nil {
		return eff, pkgerrors.Wrap(err, "failed to encode config")
	}
	if err := json.Unmarshal(b, &eff); err != nil {
		return eff, pkgerrors.Wrap(err, "failed to merge config")
	}
	return eff, nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"tolerance":              f.Tolerance(),
		"heightThreshold":        f.HeightThreshold(),
		"maxSteps":               f.MaxSteps(),
		"startMargin":            f.StartMargin(),
		"maxSensorFailures":      f.MaxSensorFailures(),
		"kp":                     f.Kp(),
		"ki":                     f.Ki(),
		"kd":                     f.Kd(),
		"minDuration":            f.MinDuration(),
		"maxDuration":            f.MaxDuration(),
		"settleInterval":         f.SettleInterval(),
		"forcedStepDuration":     f.ForcedStepDuration(),
		"biasDegrees":            f.BiasDegrees(),
		"servoSettle":            f.ServoSettle(),
		"finalRadialRelease":     f.FinalRadialRelease(),
		"finalHorizontalRelease": f.FinalHorizontalRelease(),
		"sensor":                 f.Sensor(),
		"serialPort":             f.SerialPort(),
		"serialBaud":             f.SerialBaud(),
		"serialTimeout":          f.SerialTimeout(),
		"echoTimeout":            f.EchoTimeout(),
	}
}
