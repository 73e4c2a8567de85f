// Package rangefinder defines a distance sensor that returns a single range reading.
package rangefinder

import (
	"context"
	"strconv"
	"time"
)

// Reading is a distance in whole centimeters. Valid readings are never negative.
type Reading int

// Invalid is the sentinel for "no reading": the echo timed out or the target was beyond the
// maximum plausible range.
const Invalid Reading = -1

const (
	// SpeedOfSoundCmPerUs is the speed of sound used to convert echo time into distance.
	SpeedOfSoundCmPerUs = 0.034
	// DefaultMaxRangeCm is the farthest distance considered a real target.
	DefaultMaxRangeCm = 400
	// DefaultEchoTimeout covers a round trip of roughly four meters.
	DefaultEchoTimeout = 25 * time.Millisecond
)

// A RangeFinder measures the distance to the nearest object in front of it.
type RangeFinder interface {
	// Distance triggers a single measurement. Timeouts and out of range targets are reported as
	// Invalid, not as errors; an error means the hardware could not be driven at all.
	Distance(ctx context.Context) (Reading, error)
}

// Valid reports whether r is an actual measurement.
func (r Reading) Valid() bool {
	return r >= 0
}

// String returns the distance in centimeters or "invalid".
func (r Reading) String() string {
	if !r.Valid() {
		return "invalid"
	}
	return strconv.Itoa(int(r)) + "cm"
}

// FromEcho converts the duration of an echo pulse into a reading. The sound travels to the
// target and back so the distance is halved. Distances beyond maxRangeCm are Invalid, as is a
// zero length echo.
func FromEcho(echo time.Duration, maxRangeCm int) Reading {
	if echo <= 0 {
		return Invalid
	}
	micros := float64(echo) / float64(time.Microsecond)
	distance := int(micros * SpeedOfSoundCmPerUs / 2.0)
	if distance > maxRangeCm {
		return Invalid
	}
	return Reading(distance)
}

// Min returns the smaller of two readings, ignoring invalid ones. If both are invalid the
// result is Invalid.
func Min(a, b Reading) Reading {
	switch {
	case !a.Valid():
		return b
	case !b.Valid():
		return a
	case b < a:
		return b
	default:
		return a
	}
}
