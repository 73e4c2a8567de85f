// Package servo defines a positional servo used to sweep a sensor.
package servo

import "context"

const (
	// MinAngleDeg is the lowest angle a servo can be commanded to.
	MinAngleDeg = 0
	// MaxAngleDeg is the highest angle a servo can be commanded to.
	MaxAngleDeg = 180
)

// A Servo represents a physical servo connected to a board.
type Servo interface {
	// Move moves the servo to the given angle (0-180 degrees). It does not wait for the servo
	// to arrive; callers wait their own settle time before trusting the position.
	Move(ctx context.Context, angleDeg uint32) error

	// Position returns the last commanded angle (degrees) of the servo.
	Position(ctx context.Context) (uint32, error)

	// Stop stops driving the servo.
	Stop(ctx context.Context) error
}

// ClampAngle limits a logical angle to the physical range of a servo.
func ClampAngle(angleDeg int) uint32 {
	if angleDeg < MinAngleDeg {
		return MinAngleDeg
	}
	if angleDeg > MaxAngleDeg {
		return MaxAngleDeg
	}
	return uint32(angleDeg)
}
