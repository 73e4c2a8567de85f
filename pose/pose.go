// Package pose estimates where the robot is in the mapping frame.
package pose

import (
	"fmt"

	"github.com/golang/geo/r2"
)

// DefaultGain is how many centimeters the open loop estimator moves per speed level per cycle.
const DefaultGain = 2.0

// Pose is the position (cm) and heading (radians) of the robot origin in the mapping frame.
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// Point returns the position of the pose.
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Translate moves a point expressed relative to the robot into the mapping frame. Only the
// position is applied; heading is not.
func (p Pose) Translate(local r2.Point) r2.Point {
	return p.Point().Add(local)
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.2f)", p.X, p.Y, p.Theta)
}

// An Estimator tracks the robot pose.
type Estimator interface {
	// Pose returns the current estimate.
	Pose() Pose
	// Advance moves the estimate forward for one cycle at the given speed level.
	Advance(speedLevel int)
	// Reset returns the estimate to the origin.
	Reset()
}

// OpenLoop advances the pose by a fixed gain per speed level without any feedback. It is
// owned by the control loop and not safe for concurrent use.
type OpenLoop struct {
	gain float64
	pose Pose
}

var _ = Estimator(&OpenLoop{})

// NewOpenLoop returns an estimator at the origin. A non positive gain selects DefaultGain.
func NewOpenLoop(gain float64) *OpenLoop {
	if gain <= 0 {
		gain = DefaultGain
	}
	return &OpenLoop{gain: gain}
}

// Pose returns the current estimate.
func (o *OpenLoop) Pose() Pose {
	return o.pose
}

// Advance moves Y forward by speedLevel * gain. Non positive speeds do nothing and the heading
// never changes.
func (o *OpenLoop) Advance(speedLevel int) {
	if speedLevel <= 0 {
		return
	}
	o.pose.Y += float64(speedLevel) * o.gain
}

// Reset returns the estimate to (0, 0, 0).
func (o *OpenLoop) Reset() {
	o.pose = Pose{}
}
