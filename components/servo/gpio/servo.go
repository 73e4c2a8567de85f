// Package gpio implements a pin based servo
package gpio

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/hexapod/rangemapper/components/servo"
	"github.com/hexapod/rangemapper/logging"
)

const (
	defaultFrequencyHz uint = 50
	minWidthUs         uint = 500  // absolute minimum pwm width
	maxWidthUs         uint = 2500 // absolute maximum pwm width
)

// Config describes a servo on a PWM capable pin.
type Config struct {
	Pin string `json:"pin"`
	// StartPos starting position of the servo in degree
	StartPos *float64 `json:"starting_position_deg,omitempty"`
	// Frequency when set the servo driver will attempt to change the GPIO pin's Frequency
	Frequency *uint `json:"frequency_hz,omitempty"`
	// MinWidthUS override the safe minimum width in us this affect PWM calculation
	MinWidthUS *uint `json:"min_width_us,omitempty"`
	// MaxWidthUS Override the safe maximum width in us this affect PWM calculation
	MaxWidthUS *uint `json:"max_width_us,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if cfg.StartPos != nil && (*cfg.StartPos < servo.MinAngleDeg || *cfg.StartPos > servo.MaxAngleDeg) {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("starting_position_deg should be between %d and %d", servo.MinAngleDeg, servo.MaxAngleDeg))
	}
	if cfg.Frequency != nil && (*cfg.Frequency == 0 || *cfg.Frequency > 450) {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("PWM frequencies should not be above 450Hz or 0, have %d", *cfg.Frequency))
	}
	if cfg.MinWidthUS != nil && *cfg.MinWidthUS < minWidthUs {
		return goutils.NewConfigValidationError(path, errors.Errorf("min_width_us cannot be lower than %d", minWidthUs))
	}
	if cfg.MaxWidthUS != nil && *cfg.MaxWidthUS > maxWidthUs {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_width_us cannot be higher than %d", maxWidthUs))
	}
	return nil
}

// PWMPin is a pin able to produce a PWM signal. A periph gpio.PinOut satisfies it.
type PWMPin interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
}

type servoGPIO struct {
	mu        sync.Mutex
	name      string
	pin       PWMPin
	logger    logging.Logger
	frequency uint
	minUs     uint
	maxUs     uint
	current   uint32
}

var _ = servo.Servo(&servoGPIO{})

// NewServo returns a servo driving the given pin and moves it to its starting position.
func NewServo(ctx context.Context, name string, cfg Config, pin PWMPin, logger logging.Logger) (servo.Servo, error) {
	s := &servoGPIO{
		name:      name,
		pin:       pin,
		logger:    logger,
		frequency: defaultFrequencyHz,
		minUs:     minWidthUs,
		maxUs:     maxWidthUs,
	}
	if cfg.Frequency != nil {
		s.frequency = *cfg.Frequency
	}
	if cfg.MinWidthUS != nil {
		s.minUs = *cfg.MinWidthUS
	}
	if cfg.MaxWidthUS != nil {
		s.maxUs = *cfg.MaxWidthUS
	}
	startPos := 0.0
	if cfg.StartPos != nil {
		startPos = *cfg.StartPos
	}
	if err := s.Move(ctx, uint32(startPos)); err != nil {
		return nil, errors.Wrap(err, "couldn't move servo to start position")
	}
	return s, nil
}

// Given minUs, maxUs, deg and frequency attempt to calculate the corresponding duty cycle pct.
func mapDegToDutyCylePct(minUs, maxUs uint, deg float64, frequency uint) float64 {
	period := 1.0 / float64(frequency) // dutyCycle in s
	degRange := float64(servo.MaxAngleDeg - servo.MinAngleDeg)
	uSRange := float64(maxUs - minUs) // pulse width between minUs to maxUs

	scale := uSRange / degRange

	pwmWidthUs := float64(minUs) + (deg-servo.MinAngleDeg)*scale
	return (pwmWidthUs / (1000 * 1000)) / period
}

// Move moves the servo to the given angle (0-180 degrees). Angles outside that range are
// rejected rather than clamped; clamping is the caller's decision.
func (s *servoGPIO) Move(ctx context.Context, ang uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ang > servo.MaxAngleDeg {
		return errors.Errorf("servo %s cannot move to %d degrees, range is %d-%d",
			s.name, ang, servo.MinAngleDeg, servo.MaxAngleDeg)
	}
	pct := mapDegToDutyCylePct(s.minUs, s.maxUs, float64(ang), s.frequency)
	duty := gpio.Duty(pct * float64(gpio.DutyMax))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pin.PWM(duty, physic.Frequency(s.frequency)*physic.Hertz); err != nil {
		return errors.Wrapf(err, "couldn't move servo %s", s.name)
	}
	s.current = ang
	return nil
}

// Position returns the current set angle (degrees) of the servo.
func (s *servoGPIO) Position(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Stop stops the servo. It is assumed the servo stops immediately.
func (s *servoGPIO) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pin.PWM(0, physic.Frequency(s.frequency)*physic.Hertz); err != nil {
		return errors.Wrapf(err, "couldn't stop servo %s", s.name)
	}
	return nil
}
