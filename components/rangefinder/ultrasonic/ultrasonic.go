// Package ultrasonic implements an HC-SR04 style ultrasonic range finder driven over two GPIO
// lines: a trigger output and an echo input.
package ultrasonic

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/logging"
)

const (
	triggerSettle = 3 * time.Microsecond
	triggerPulse  = 10 * time.Microsecond
)

// Config is used for converting config attributes.
type Config struct {
	TriggerPin string `json:"trigger_pin"`
	EchoPin    string `json:"echo_pin"`
	TimeoutMs  uint   `json:"timeout_ms,omitempty"`
	MaxRangeCm int    `json:"max_range_cm,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.TriggerPin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "trigger_pin")
	}
	if cfg.EchoPin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "echo_pin")
	}
	if cfg.MaxRangeCm < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_range_cm cannot be negative"))
	}
	return nil
}

// TriggerPin is the output line that starts a measurement. A periph gpio.PinOut satisfies it.
type TriggerPin interface {
	Out(l gpio.Level) error
}

// EchoPin is the input line the sensor holds high for the duration of the echo. A periph
// gpio.PinIn satisfies it.
type EchoPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Sensor is an ultrasonic range finder.
type Sensor struct {
	mu         sync.Mutex
	name       string
	trigger    TriggerPin
	echo       EchoPin
	timeout    time.Duration
	maxRangeCm int
	clock      clock.Clock
	logger     logging.Logger
}

var _ = rangefinder.RangeFinder(&Sensor{})

// NewSensor sets up the pins and returns a ready sensor. clk is used to time the echo; pass
// clock.New() outside of tests.
func NewSensor(
	name string,
	cfg Config,
	trigger TriggerPin,
	echo EchoPin,
	clk clock.Clock,
	logger logging.Logger,
) (*Sensor, error) {
	s := &Sensor{
		name:       name,
		trigger:    trigger,
		echo:       echo,
		timeout:    rangefinder.DefaultEchoTimeout,
		maxRangeCm: rangefinder.DefaultMaxRangeCm,
		clock:      clk,
		logger:     logger,
	}
	if cfg.TimeoutMs > 0 {
		s.timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if cfg.MaxRangeCm > 0 {
		s.maxRangeCm = cfg.MaxRangeCm
	}

	if err := s.trigger.Out(gpio.Low); err != nil {
		return nil, s.namedError(errors.Wrap(err, "cannot set trigger pin to low"))
	}
	if err := s.echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, s.namedError(errors.Wrap(err, "cannot configure echo pin for edge detection"))
	}
	return s, nil
}

func (s *Sensor) namedError(err error) error {
	return errors.Wrapf(err, "error in ultrasonic sensor with name %s", s.name)
}

// Distance pulses the trigger pin and times the echo. A missing echo or a target beyond the
// maximum range yields rangefinder.Invalid. Nothing is retried.
func (s *Sensor) Distance(ctx context.Context) (rangefinder.Reading, error) {
	if err := ctx.Err(); err != nil {
		return rangefinder.Invalid, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pulseTrigger(); err != nil {
		return rangefinder.Invalid, s.namedError(err)
	}
	echo, ok := s.timeEcho()
	if !ok {
		s.logger.Debugw("no echo before timeout", "sensor", s.name, "timeout", s.timeout)
		return rangefinder.Invalid, nil
	}
	return rangefinder.FromEcho(echo, s.maxRangeCm), nil
}

// pulseTrigger sends a low, a high and a low to the trigger pin 10 microseconds apart to signal
// the sensor to begin sending the sonic pulse.
func (s *Sensor) pulseTrigger() error {
	if err := s.trigger.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "cannot set trigger pin to low")
	}
	time.Sleep(triggerSettle)
	if err := s.trigger.Out(gpio.High); err != nil {
		return errors.Wrap(err, "cannot set trigger pin to high")
	}
	time.Sleep(triggerPulse)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "cannot set trigger pin to low")
	}
	return nil
}

// timeEcho waits for the echo line to rise and returns how long it stayed high. Both waits
// share the one timeout.
func (s *Sensor) timeEcho() (time.Duration, bool) {
	deadline := s.clock.Now().Add(s.timeout)
	if !s.waitForLevel(gpio.High, deadline) {
		return 0, false
	}
	start := s.clock.Now()
	if !s.waitForLevel(gpio.Low, deadline) {
		return 0, false
	}
	return s.clock.Now().Sub(start), true
}

func (s *Sensor) waitForLevel(level gpio.Level, deadline time.Time) bool {
	for s.echo.Read() != level {
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 || !s.echo.WaitForEdge(remaining) {
			return false
		}
	}
	return true
}
