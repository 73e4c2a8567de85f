package sweep

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/components/servo"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
	"github.com/hexapod/rangemapper/pose"
	"github.com/hexapod/rangemapper/utils"
)

// Summary describes one completed sweep.
type Summary struct {
	// Min is the closest valid reading of the sweep, or rangefinder.Invalid.
	Min     rangefinder.Reading
	Steps   int
	Points  int
	Invalid int
	Evicted int
}

// A Sequencer sweeps one servo and its paired range finder through a Domain.
type Sequencer struct {
	name        string
	domain      Domain
	servo       servo.Servo
	rangeFinder rangefinder.RangeFinder
	clock       clock.Clock
	logger      logging.Logger
}

// NewSequencer returns a sequencer for the given side.
func NewSequencer(
	name string,
	domain Domain,
	s servo.Servo,
	rf rangefinder.RangeFinder,
	clk clock.Clock,
	logger logging.Logger,
) *Sequencer {
	return &Sequencer{
		name:        name,
		domain:      domain,
		servo:       s,
		rangeFinder: rf,
		clock:       clk,
		logger:      logger,
	}
}

// Name returns the side this sequencer sweeps.
func (s *Sequencer) Name() string {
	return s.name
}

// Domain returns the arc this sequencer sweeps.
func (s *Sequencer) Domain() Domain {
	return s.domain
}

// Run performs one full sweep, adding a point to cloud for every positive reading. Points are
// translated by origin into the mapping frame. Hardware failures are logged and count as
// invalid steps; the sweep only ends early when ctx is done, in which case the partial summary
// is returned with ctx's error.
func (s *Sequencer) Run(ctx context.Context, cloud *pointcloud.Cloud, origin pose.Pose) (Summary, error) {
	summary := Summary{Min: rangefinder.Invalid}
	for _, logical := range s.domain.Angles() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Steps++

		reading, err := s.step(ctx, logical)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			s.logger.Debugw("sweep step failed", "angle", logical, "error", err)
		}
		// a zero echo would land on the sensor itself
		if !reading.Valid() || reading == 0 {
			summary.Invalid++
			continue
		}

		summary.Min = rangefinder.Min(summary.Min, reading)
		local := PolarToLocal(reading, Bearing(logical))
		if _, evicted := cloud.Add(origin.Translate(local)); evicted {
			summary.Evicted++
		}
		summary.Points++
	}
	s.logger.Debugw("sweep done",
		"min", summary.Min, "points", summary.Points, "invalid", summary.Invalid, "evicted", summary.Evicted)
	return summary, nil
}

// step moves to the physical angle for logical, waits for the servo to settle, measures, and
// waits the inter reading delay.
func (s *Sequencer) step(ctx context.Context, logical int) (rangefinder.Reading, error) {
	if err := s.servo.Move(ctx, s.domain.PhysicalAngle(logical)); err != nil {
		return rangefinder.Invalid, err
	}
	if !utils.SelectContextOrWait(ctx, s.clock, s.domain.Settle) {
		return rangefinder.Invalid, ctx.Err()
	}
	reading, err := s.rangeFinder.Distance(ctx)
	if err != nil {
		reading = rangefinder.Invalid
	}
	if !utils.SelectContextOrWait(ctx, s.clock, s.domain.ReadingDelay) {
		return reading, ctx.Err()
	}
	return reading, err
}
