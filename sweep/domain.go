// Package sweep drives a servo mounted range finder through an arc and turns the readings into
// points in the mapping frame.
package sweep

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/components/servo"
)

// Remap selects how a logical sweep angle becomes a physical servo angle.
type Remap string

const (
	// RemapModulo commands the logical angle modulo 180.
	RemapModulo Remap = "modulo"
	// RemapFold normalizes the logical angle into 0..359 and then folds anything above 180
	// down by 180. Bearings in 181..359 share a command angle with bearings in 1..179, so
	// this is an approximation of the real mounting geometry.
	RemapFold Remap = "fold"
)

// Defaults shared by both sweeps.
const (
	DefaultStepDeg      = 15
	DefaultSettle       = 70 * time.Millisecond
	DefaultReadingDelay = 8 * time.Millisecond
)

// Domain is the arc a single servo sweeps, in logical (bearing) degrees.
type Domain struct {
	StartDeg     int           `json:"start_deg"`
	EndDeg       int           `json:"end_deg"`
	StepDeg      int           `json:"step_deg"`
	Settle       time.Duration `json:"settle"`
	ReadingDelay time.Duration `json:"reading_delay"`
	Remap        Remap         `json:"remap"`
}

// DefaultLeft is the left mounted sweep, 120..240 degrees.
func DefaultLeft() Domain {
	return Domain{
		StartDeg:     120,
		EndDeg:       240,
		StepDeg:      DefaultStepDeg,
		Settle:       DefaultSettle,
		ReadingDelay: DefaultReadingDelay,
		Remap:        RemapModulo,
	}
}

// DefaultRight is the right mounted sweep, which wraps through 0 (300..360..60).
func DefaultRight() Domain {
	return Domain{
		StartDeg:     -60,
		EndDeg:       60,
		StepDeg:      DefaultStepDeg,
		Settle:       DefaultSettle,
		ReadingDelay: DefaultReadingDelay,
		Remap:        RemapFold,
	}
}

// Validate ensures all parts of the domain are valid.
func (d *Domain) Validate(path string) error {
	if d.StepDeg <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("step_deg must be positive"))
	}
	if d.EndDeg < d.StartDeg {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("end_deg (%d) must not be less than start_deg (%d)", d.EndDeg, d.StartDeg))
	}
	if d.Settle < 0 || d.ReadingDelay < 0 {
		return goutils.NewConfigValidationError(path, errors.New("delays cannot be negative"))
	}
	switch d.Remap {
	case RemapModulo, RemapFold:
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "remap")
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown remap %q", d.Remap))
	}
	return nil
}

// Angles returns every logical angle of the sweep, start to end inclusive.
func (d Domain) Angles() []int {
	if d.StepDeg <= 0 || d.EndDeg < d.StartDeg {
		return nil
	}
	angles := make([]int, 0, (d.EndDeg-d.StartDeg)/d.StepDeg+1)
	for a := d.StartDeg; a <= d.EndDeg; a += d.StepDeg {
		angles = append(angles, a)
	}
	return angles
}

// PhysicalAngle converts a logical angle into the angle the servo is commanded to.
func (d Domain) PhysicalAngle(logicalDeg int) uint32 {
	var cmd int
	switch d.Remap {
	case RemapFold:
		n := logicalDeg
		if n < 0 {
			n += 360
		}
		if n > 180 {
			n -= 180
		}
		cmd = n
	default:
		cmd = mod(logicalDeg, 180)
	}
	return servo.ClampAngle(cmd)
}

// Bearing normalizes a logical angle into 0..359.
func Bearing(logicalDeg int) int {
	return mod(logicalDeg, 360)
}

// PolarToLocal converts a distance along a bearing into an offset from the robot. The bearing
// is rotated back by 90 degrees before projecting, so 90 lands on +X and 180 on +Y.
func PolarToLocal(distance rangefinder.Reading, bearingDeg int) r2.Point {
	rad := float64(bearingDeg-90) * math.Pi / 180
	d := float64(distance)
	return r2.Point{X: d * math.Cos(rad), Y: d * math.Sin(rad)}
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
