package control

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/hexapod/rangemapper/components/rangefinder"
	fakerf "github.com/hexapod/rangemapper/components/rangefinder/fake"
	fakeservo "github.com/hexapod/rangemapper/components/servo/fake"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
	"github.com/hexapod/rangemapper/pose"
	"github.com/hexapod/rangemapper/sweep"
)

type testRig struct {
	driver     *Driver
	state      *State
	inbox      chan []byte
	clk        *clock.Mock
	pub        *fakePublisher
	front      *fakerf.RangeFinder
	back       *fakerf.RangeFinder
	leftRF     *fakerf.RangeFinder
	rightRF    *fakerf.RangeFinder
	leftServo  *fakeservo.Servo
	rightServo *fakeservo.Servo
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	pub := &fakePublisher{}
	r := newTestRigWithPublisher(t, pub)
	r.pub = pub
	return r
}

func newTestRigWithPublisher(t *testing.T, pub Publisher) *testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	r := &testRig{
		state:      NewState(),
		inbox:      make(chan []byte, 16),
		clk:        clock.NewMock(),
		front:      fakerf.NewRangeFinder(10),
		back:       fakerf.NewRangeFinder(20),
		leftRF:     fakerf.NewRangeFinder(30),
		rightRF:    fakerf.NewRangeFinder(40),
		leftServo:  fakeservo.NewServo(180),
		rightServo: fakeservo.NewServo(0),
	}
	left := sweep.DefaultLeft()
	left.Settle, left.ReadingDelay = 0, 0
	right := sweep.DefaultRight()
	right.Settle, right.ReadingDelay = 0, 0

	telemetry := NewBroadcaster(pub, DefaultTelemetryInterval, r.clk, logger)
	t.Cleanup(telemetry.Close)
	d, err := NewDriver(Config{
		State:     r.state,
		Inbox:     r.inbox,
		Front:     r.front,
		Back:      r.back,
		Left:      sweep.NewSequencer("left", left, r.leftServo, r.leftRF, r.clk, logger.Sublogger("left")),
		Right:     sweep.NewSequencer("right", right, r.rightServo, r.rightRF, r.clk, logger.Sublogger("right")),
		Cloud:     pointcloud.New(pointcloud.DefaultCapacity),
		Estimator: pose.NewOpenLoop(pose.DefaultGain),
		Telemetry: telemetry,
		Clock:     r.clk,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	r.driver = d
	return r
}

func (r *testRig) send(msg string) {
	r.inbox <- []byte(msg)
}

func TestNewDriverValidates(t *testing.T) {
	_, err := NewDriver(Config{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "state")
}

func TestActiveCycle(t *testing.T) {
	r := newTestRig(t)
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mode, test.ShouldEqual, ModeActive)
	test.That(t, res.Broadcast, test.ShouldBeTrue)
	test.That(t, res.Telemetry, test.ShouldResemble, Telemetry{Front: 10, Right: 40, Back: 20, Left: 30})

	test.That(t, waitForMessages(t, r.pub, 1), test.ShouldResemble,
		[]string{`{"front":10,"right":40,"back":20,"left":30}`})
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 18)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{Y: 2})
	test.That(t, r.leftServo.Moves(), test.ShouldResemble, []uint32{120, 135, 150, 165, 0, 15, 30, 45, 60})
	test.That(t, r.rightServo.Moves(), test.ShouldResemble, []uint32{120, 135, 150, 165, 0, 15, 30, 45, 60})
	test.That(t, r.front.Calls(), test.ShouldEqual, 1)
	test.That(t, r.back.Calls(), test.ShouldEqual, 1)
	test.That(t, r.driver.Cycles(), test.ShouldEqual, uint64(1))

	// points of the first cycle were placed from the origin
	first, _ := r.driver.Cloud().At(0)
	want := sweep.PolarToLocal(30, 120)
	test.That(t, first.X, test.ShouldAlmostEqual, want.X)
	test.That(t, first.Y, test.ShouldAlmostEqual, want.Y)

	// the second cycle sweeps from the advanced pose
	_, err = r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	p, _ := r.driver.Cloud().At(18)
	want = sweep.PolarToLocal(30, 120).Add(r2.Point{Y: 2})
	test.That(t, p.X, test.ShouldAlmostEqual, want.X)
	test.That(t, p.Y, test.ShouldAlmostEqual, want.Y)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{Y: 4})
}

func TestTelemetryThrottledAcrossCycles(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.driver.Cycle(ctx)
		test.That(t, err, test.ShouldBeNil)
	}
	// the mock clock never moved so only the first cycle broadcast
	waitForMessages(t, r.pub, 1)

	r.clk.Add(DefaultTelemetryInterval)
	res, err := r.driver.Cycle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Broadcast, test.ShouldBeTrue)
	waitForMessages(t, r.pub, 2)
}

func TestMissingReadingsAreSentinel(t *testing.T) {
	r := newTestRig(t)
	r.front.Fixed = rangefinder.Invalid
	r.leftRF.Fixed = rangefinder.Invalid
	r.back.DistanceFunc = func(context.Context) (rangefinder.Reading, error) {
		return rangefinder.Invalid, errors.New("echo stuck")
	}
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Telemetry, test.ShouldResemble, Telemetry{Front: -1, Right: 40, Back: -1, Left: -1})
	test.That(t, res.Left.Points, test.ShouldEqual, 0)
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 9)
	waitForMessages(t, r.pub, 1)

	// a valid reading in one cycle never leaks into the next
	r.clk.Add(DefaultTelemetryInterval)
	r.rightRF.Fixed = rangefinder.Invalid
	res, err = r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Telemetry.Right, test.ShouldEqual, rangefinder.Invalid)
	msgs := waitForMessages(t, r.pub, 2)
	test.That(t, msgs[1], test.ShouldEqual, `{"front":-1,"right":-1,"back":-1,"left":-1}`)
}

func TestStalledPublisherDoesNotDelayCycle(t *testing.T) {
	pub := newBlockingPublisher()
	r := newTestRigWithPublisher(t, pub)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		res, err := r.driver.Cycle(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Broadcast, test.ShouldBeTrue)
		r.clk.Add(DefaultTelemetryInterval)
	}
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
	test.That(t, r.driver.Cycles(), test.ShouldEqual, uint64(5))
	test.That(t, r.driver.cfg.Telemetry.Count(), test.ShouldEqual, 5)
	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry never reached the publisher")
	}
}

func TestPausedCycle(t *testing.T) {
	r := newTestRig(t)
	r.send(`{"cmd":"stop"}`)
	r.send(`{"speed":4}`)
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mode, test.ShouldEqual, ModePaused)
	test.That(t, res.Commands, test.ShouldEqual, 2)
	test.That(t, r.state.Speed(), test.ShouldEqual, 4)

	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 0)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{})
	test.That(t, len(r.leftServo.Moves()), test.ShouldEqual, 0)
	test.That(t, len(r.rightServo.Moves()), test.ShouldEqual, 0)
	test.That(t, r.front.Calls(), test.ShouldEqual, 0)
	test.That(t, len(r.pub.Messages()), test.ShouldEqual, 0)

	r.send(`{"cmd":"start"}`)
	res, err = r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mode, test.ShouldEqual, ModeActive)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{Y: 8})
}

func TestSpeedZeroHoldsPose(t *testing.T) {
	r := newTestRig(t)
	r.send(`{"speed":-3}`)
	_, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.state.Speed(), test.ShouldEqual, 0)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{})
}

func TestResetWhilePaused(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.driver.Cycle(ctx)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 54)
	test.That(t, r.driver.Pose().Y, test.ShouldEqual, 6.0)

	r.send(`{"cmd":"stop"}`)
	_, err := r.driver.Cycle(ctx)
	test.That(t, err, test.ShouldBeNil)

	r.send(`{"cmd":"reset"}`)
	res, err := r.driver.Cycle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reset, test.ShouldBeTrue)
	test.That(t, res.Mode, test.ShouldEqual, ModePaused)
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 0)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{})
	test.That(t, r.state.ResetPending(), test.ShouldBeFalse)
	test.That(t, r.state.MappingActive(), test.ShouldBeFalse)
}

func TestResetWhileActive(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	_, err := r.driver.Cycle(ctx)
	test.That(t, err, test.ShouldBeNil)

	// a reset set directly on the state, as a transport callback would
	r.state.RequestReset()
	res, err := r.driver.Cycle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Reset, test.ShouldBeTrue)
	test.That(t, res.Mode, test.ShouldEqual, ModeActive)
	// only this cycle's points, swept from the origin
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 18)
	first, _ := r.driver.Cloud().At(0)
	want := sweep.PolarToLocal(30, 120)
	test.That(t, first.X, test.ShouldAlmostEqual, want.X)
	test.That(t, first.Y, test.ShouldAlmostEqual, want.Y)
	test.That(t, r.driver.Pose(), test.ShouldResemble, pose.Pose{Y: 2})
}

func TestStopDoesNotAbortSweep(t *testing.T) {
	r := newTestRig(t)
	calls := 0
	r.leftRF.DistanceFunc = func(context.Context) (rangefinder.Reading, error) {
		calls++
		if calls == 1 {
			r.send(`{"cmd":"stop"}`)
			r.state.SetMappingActive(false)
		}
		return 30, nil
	}
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mode, test.ShouldEqual, ModeActive)
	test.That(t, res.Left.Steps, test.ShouldEqual, 9)
	test.That(t, res.Right.Steps, test.ShouldEqual, 9)
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 18)

	res, err = r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mode, test.ShouldEqual, ModePaused)
	test.That(t, res.Commands, test.ShouldEqual, 1)
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 18)
}

func TestIgnoredMessages(t *testing.T) {
	r := newTestRig(t)
	r.send(`hello`)
	r.send(`{"cmd":"dance"}`)
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Commands, test.ShouldEqual, 0)
	test.That(t, res.Mode, test.ShouldEqual, ModeActive)
	test.That(t, r.state.Speed(), test.ShouldEqual, DefaultSpeed)
}

func TestClosedInbox(t *testing.T) {
	r := newTestRig(t)
	r.send(`{"speed":3}`)
	close(r.inbox)
	res, err := r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Commands, test.ShouldEqual, 1)
	_, err = r.driver.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.state.Speed(), test.ShouldEqual, 3)
}

func TestCycleCanceled(t *testing.T) {
	r := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.driver.Cycle(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, r.driver.Cloud().Len(), test.ShouldEqual, 0)
}

func TestStartStop(t *testing.T) {
	r := newTestRig(t)
	test.That(t, r.driver.Start(), test.ShouldBeNil)
	test.That(t, r.driver.Start(), test.ShouldNotBeNil)
	testutils.WaitForAssertionWithSleep(t, time.Millisecond, 1000, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, r.driver.Cycles(), test.ShouldBeGreaterThan, 2)
	})
	r.driver.Stop()
	cycles := r.driver.Cycles()
	test.That(t, r.driver.Cycles(), test.ShouldEqual, cycles)
	r.driver.Stop()
}
