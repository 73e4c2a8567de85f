package main

import (
	"context"
	"math"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/hexapod/rangemapper/components/board"
	"github.com/hexapod/rangemapper/components/board/periph"
	"github.com/hexapod/rangemapper/components/rangefinder"
	fakerangefinder "github.com/hexapod/rangemapper/components/rangefinder/fake"
	"github.com/hexapod/rangemapper/components/rangefinder/ultrasonic"
	"github.com/hexapod/rangemapper/components/servo"
	fakeservo "github.com/hexapod/rangemapper/components/servo/fake"
	gpioservo "github.com/hexapod/rangemapper/components/servo/gpio"
	"github.com/hexapod/rangemapper/config"
	"github.com/hexapod/rangemapper/logging"
)

// hardware is everything the control loop reads from or moves.
type hardware struct {
	front, back, left, right rangefinder.RangeFinder
	leftServo, rightServo    servo.Servo

	board board.Board
}

func newHardware(ctx context.Context, cfg *config.Config, fake bool, logger logging.Logger) (*hardware, error) {
	if fake {
		return newFakeHardware(cfg), nil
	}

	b, err := periph.Init(logger.Sublogger("board"))
	if err != nil {
		return nil, err
	}
	hw := &hardware{board: b}
	clk := clock.New()

	for _, s := range []struct {
		name string
		cfg  ultrasonic.Config
		dst  *rangefinder.RangeFinder
	}{
		{"front", cfg.Sensors.Front, &hw.front},
		{"back", cfg.Sensors.Back, &hw.back},
		{"left", cfg.Sensors.Left, &hw.left},
		{"right", cfg.Sensors.Right, &hw.right},
	} {
		trigger, err := b.GPIOPinByName(s.cfg.TriggerPin)
		if err != nil {
			return nil, multierr.Combine(err, hw.Close(ctx))
		}
		echo, err := b.GPIOPinByName(s.cfg.EchoPin)
		if err != nil {
			return nil, multierr.Combine(err, hw.Close(ctx))
		}
		sensor, err := ultrasonic.NewSensor(s.name, s.cfg, trigger, echo, clk, logger.Sublogger(s.name))
		if err != nil {
			return nil, multierr.Combine(err, hw.Close(ctx))
		}
		*s.dst = sensor
	}

	for _, s := range []struct {
		name string
		cfg  gpioservo.Config
		dst  *servo.Servo
	}{
		{"left_servo", cfg.Servos.Left, &hw.leftServo},
		{"right_servo", cfg.Servos.Right, &hw.rightServo},
	} {
		pin, err := b.GPIOPinByName(s.cfg.Pin)
		if err != nil {
			return nil, multierr.Combine(err, hw.Close(ctx))
		}
		sv, err := gpioservo.NewServo(ctx, s.name, s.cfg, pin, logger.Sublogger(s.name))
		if err != nil {
			return nil, multierr.Combine(err, hw.Close(ctx))
		}
		*s.dst = sv
	}
	return hw, nil
}

// fakeRoomHalfWidthCm and fakeRoomHalfDepthCm size the room simulated sensors look into.
const (
	fakeRoomHalfWidthCm = 150.0
	fakeRoomHalfDepthCm = 250.0
)

func newFakeHardware(cfg *config.Config) *hardware {
	homeLeft, homeRight := uint32(servo.MaxAngleDeg), uint32(servo.MinAngleDeg)
	if cfg.Servos.Left.StartPos != nil {
		homeLeft = servo.ClampAngle(int(*cfg.Servos.Left.StartPos))
	}
	if cfg.Servos.Right.StartPos != nil {
		homeRight = servo.ClampAngle(int(*cfg.Servos.Right.StartPos))
	}
	leftServo := fakeservo.NewServo(homeLeft)
	rightServo := fakeservo.NewServo(homeRight)

	return &hardware{
		front:      fakerangefinder.NewRangeFinder(rangefinder.Reading(fakeRoomHalfDepthCm)),
		back:       fakerangefinder.NewRangeFinder(rangefinder.Reading(fakeRoomHalfDepthCm)),
		left:       servoTrackingRangeFinder(leftServo, 90),
		right:      servoTrackingRangeFinder(rightServo, -90),
		leftServo:  leftServo,
		rightServo: rightServo,
	}
}

// servoTrackingRangeFinder returns a fake that measures the distance to the walls of a
// rectangular room along the direction its servo is pointing. offsetDeg rotates the servo's
// frame into the robot's.
func servoTrackingRangeFinder(s servo.Servo, offsetDeg float64) *fakerangefinder.RangeFinder {
	rf := &fakerangefinder.RangeFinder{}
	rf.DistanceFunc = func(ctx context.Context) (rangefinder.Reading, error) {
		angle, err := s.Position(ctx)
		if err != nil {
			return rangefinder.Invalid, err
		}
		rad := (float64(angle) + offsetDeg) * math.Pi / 180
		return distanceToWalls(math.Cos(rad), math.Sin(rad)), nil
	}
	return rf
}

func distanceToWalls(dx, dy float64) rangefinder.Reading {
	d := math.Inf(1)
	if math.Abs(dx) > 1e-9 {
		d = math.Min(d, fakeRoomHalfWidthCm/math.Abs(dx))
	}
	if math.Abs(dy) > 1e-9 {
		d = math.Min(d, fakeRoomHalfDepthCm/math.Abs(dy))
	}
	if d > rangefinder.DefaultMaxRangeCm {
		return rangefinder.Invalid
	}
	return rangefinder.Reading(math.Round(d))
}

// Close parks the servos and releases the board.
func (hw *hardware) Close(ctx context.Context) error {
	var errs error
	for _, s := range []servo.Servo{hw.leftServo, hw.rightServo} {
		if s != nil {
			errs = multierr.Append(errs, s.Stop(ctx))
		}
	}
	if hw.board != nil {
		errs = multierr.Append(errs, hw.board.Close())
	}
	return errs
}
