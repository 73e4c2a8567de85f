package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/utils"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
	"github.com/hexapod/rangemapper/pose"
	"github.com/hexapod/rangemapper/sweep"
	rutils "github.com/hexapod/rangemapper/utils"
)

// Default cycle timings.
const (
	DefaultStaticReadDelay = 20 * time.Millisecond
	DefaultIdle            = 50 * time.Millisecond
	DefaultPacing          = 15 * time.Millisecond
)

// Timing holds the fixed waits of a cycle.
type Timing struct {
	// StaticReadDelay follows each read of a fixed sensor.
	StaticReadDelay time.Duration
	// Idle is how long a paused cycle waits.
	Idle time.Duration
	// Pacing ends every active cycle.
	Pacing time.Duration
}

// DefaultTiming returns the standard cycle timings.
func DefaultTiming() Timing {
	return Timing{
		StaticReadDelay: DefaultStaticReadDelay,
		Idle:            DefaultIdle,
		Pacing:          DefaultPacing,
	}
}

// Config is everything a Driver needs.
type Config struct {
	State *State
	// Inbox carries raw command messages from clients. It may be nil.
	Inbox <-chan []byte

	Front rangefinder.RangeFinder
	Back  rangefinder.RangeFinder
	Left  *sweep.Sequencer
	Right *sweep.Sequencer

	Cloud     *pointcloud.Cloud
	Estimator pose.Estimator
	Telemetry *Broadcaster

	Timing Timing
	Clock  clock.Clock
}

// Validate ensures the config can drive a cycle.
func (cfg *Config) Validate() error {
	switch {
	case cfg.State == nil:
		return errors.New("control state is required")
	case cfg.Front == nil || cfg.Back == nil:
		return errors.New("front and back range finders are required")
	case cfg.Left == nil || cfg.Right == nil:
		return errors.New("left and right sweeps are required")
	case cfg.Cloud == nil:
		return errors.New("point cloud is required")
	case cfg.Estimator == nil:
		return errors.New("pose estimator is required")
	case cfg.Telemetry == nil:
		return errors.New("telemetry broadcaster is required")
	}
	return nil
}

// CycleResult describes what one cycle did.
type CycleResult struct {
	Mode      Mode
	Reset     bool
	Commands  int
	Telemetry Telemetry
	Broadcast bool
	Left      sweep.Summary
	Right     sweep.Summary
}

// Driver runs control cycles. The cloud and pose are only touched from the goroutine running
// cycles; clients reach the driver through State and the inbox.
type Driver struct {
	cfg    Config
	inbox  <-chan []byte
	clock  clock.Clock
	logger logging.Logger

	cycles atomic.Uint64

	mu                      sync.Mutex
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewDriver returns a driver for the given components.
func NewDriver(cfg Config, logger logging.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{
		cfg:    cfg,
		inbox:  cfg.Inbox,
		clock:  clk,
		logger: logger,
	}, nil
}

// State returns the shared control state.
func (d *Driver) State() *State {
	return d.cfg.State
}

// Cloud returns the map. Only read it while no cycle is running.
func (d *Driver) Cloud() *pointcloud.Cloud {
	return d.cfg.Cloud
}

// Pose returns the current pose estimate.
func (d *Driver) Pose() pose.Pose {
	return d.cfg.Estimator.Pose()
}

// Cycles returns how many cycles have completed.
func (d *Driver) Cycles() uint64 {
	return d.cycles.Load()
}

// Cycle runs one control cycle. Once a sweep starts it runs to the end; only ctx being done cuts
// a cycle short, in which case ctx's error is returned.
func (d *Driver) Cycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Telemetry: EmptyTelemetry()}
	defer d.cycles.Inc()

	res.Commands = d.drainInbox()

	if d.cfg.State.ConsumeReset() {
		d.reset()
		res.Reset = true
	}

	res.Mode = d.cfg.State.Mode()
	if res.Mode == ModePaused {
		if !rutils.SelectContextOrWait(ctx, d.clock, d.cfg.Timing.Idle) {
			return res, ctx.Err()
		}
		return res, nil
	}

	var err error
	if res.Telemetry.Front, err = d.readStatic(ctx, "front", d.cfg.Front); err != nil {
		return res, err
	}
	if res.Telemetry.Back, err = d.readStatic(ctx, "back", d.cfg.Back); err != nil {
		return res, err
	}

	origin := d.cfg.Estimator.Pose()
	if res.Left, err = d.cfg.Left.Run(ctx, d.cfg.Cloud, origin); err != nil {
		return res, err
	}
	res.Telemetry.Left = res.Left.Min
	if res.Right, err = d.cfg.Right.Run(ctx, d.cfg.Cloud, origin); err != nil {
		return res, err
	}
	res.Telemetry.Right = res.Right.Min

	if speed := d.cfg.State.Speed(); speed > 0 {
		d.cfg.Estimator.Advance(speed)
	}

	res.Broadcast = d.cfg.Telemetry.Offer(res.Telemetry)

	if !rutils.SelectContextOrWait(ctx, d.clock, d.cfg.Timing.Pacing) {
		return res, ctx.Err()
	}
	return res, nil
}

// drainInbox applies every message waiting in the inbox without blocking.
func (d *Driver) drainInbox() int {
	if d.inbox == nil {
		return 0
	}
	n := 0
	for {
		select {
		case msg, ok := <-d.inbox:
			if !ok {
				d.inbox = nil
				return n
			}
			cmd := ParseCommand(msg)
			if cmd.Empty() {
				d.logger.Debugw("ignoring message", "msg", string(msg))
				continue
			}
			cmd.Apply(d.cfg.State)
			n++
			d.logger.Debugw("command", "directive", cmd.Directive, "speed", cmd.Speed, "has_speed", cmd.HasSpeed)
		default:
			return n
		}
	}
}

func (d *Driver) reset() {
	d.logger.Infow("map reset requested",
		"points", d.cfg.Cloud.Len(), "bounds", d.cfg.Cloud.Bounds(), "pose", d.cfg.Estimator.Pose())
	d.cfg.Cloud.Clear()
	d.cfg.Estimator.Reset()
}

// readStatic reads a fixed sensor and waits the static read delay. Sensor failures are logged
// and read as invalid.
func (d *Driver) readStatic(ctx context.Context, name string, rf rangefinder.RangeFinder) (rangefinder.Reading, error) {
	reading, err := rf.Distance(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return rangefinder.Invalid, ctx.Err()
		}
		d.logger.Debugw("static sensor read failed", "sensor", name, "error", err)
		reading = rangefinder.Invalid
	}
	if !rutils.SelectContextOrWait(ctx, d.clock, d.cfg.Timing.StaticReadDelay) {
		return reading, ctx.Err()
	}
	return reading, nil
}

// Run repeats cycles until ctx is done. It only returns once the cycle in flight has finished.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Infow("control loop running", "mode", d.cfg.State.Mode(), "speed", d.cfg.State.Speed())
	var lastMode Mode = -1
	for ctx.Err() == nil {
		res, err := d.Cycle(ctx)
		if err != nil {
			break
		}
		if res.Mode != lastMode {
			d.logger.Infow("control mode", "mode", res.Mode)
			lastMode = res.Mode
		}
	}
	d.logger.Infow("control loop stopped", "cycles", d.Cycles(), "points", d.cfg.Cloud.Len())
	return nil
}

// Start runs the loop in the background until Stop is called.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return errors.New("control loop already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		if err := d.Run(ctx); err != nil {
			d.logger.Errorw("control loop failed", "error", err)
		}
	}, d.activeBackgroundWorkers.Done)
	return nil
}

// Stop ends the background loop and waits for the current cycle to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.activeBackgroundWorkers.Wait()
}
