package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/config"
	"github.com/hexapod/rangemapper/control"
	"github.com/hexapod/rangemapper/logging"
)

func TestDistanceToWalls(t *testing.T) {
	test.That(t, distanceToWalls(1, 0), test.ShouldEqual, rangefinder.Reading(150))
	test.That(t, distanceToWalls(-1, 0), test.ShouldEqual, rangefinder.Reading(150))
	test.That(t, distanceToWalls(0, 1), test.ShouldEqual, rangefinder.Reading(250))
	test.That(t, distanceToWalls(0.6, 0.8), test.ShouldEqual, rangefinder.Reading(250))
	test.That(t, distanceToWalls(0, 0), test.ShouldEqual, rangefinder.Invalid)
}

func TestFakeHardwareHomesServos(t *testing.T) {
	hw, err := newHardware(context.Background(), config.Default(), true, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	left, err := hw.leftServo.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left, test.ShouldEqual, uint32(180))
	right, err := hw.rightServo.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, right, test.ShouldEqual, uint32(0))

	// the left servo at 180 looks along -Y in the robot's frame
	d, err := hw.left.Distance(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, rangefinder.Reading(250))

	test.That(t, hw.Close(context.Background()), test.ShouldBeNil)
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Sweeps.Left.Settle = 0
	cfg.Sweeps.Left.ReadingDelay = 0
	cfg.Sweeps.Right.Settle = 0
	cfg.Sweeps.Right.ReadingDelay = 0
	cfg.Timing = config.Timing{}
	cfg.Transport.Listen = "127.0.0.1:0"
	return cfg
}

func TestMapperEndToEnd(t *testing.T) {
	// connection handlers may outlive the test, so nothing logs to t
	logger := logging.NewBlankLogger("mapper")
	cfg := fastConfig()
	hw := newFakeHardware(cfg)
	m, err := newMapper(cfg, hw, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Start(), test.ShouldBeNil)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.server.Addr().String()+"/", nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	testutils.WaitForAssertionWithSleep(t, 5*time.Millisecond, 200, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, m.hub.Clients(), test.ShouldEqual, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)
	_, msg, err := conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	var telemetry control.Telemetry
	test.That(t, json.Unmarshal(msg, &telemetry), test.ShouldBeNil)
	test.That(t, telemetry.Front, test.ShouldEqual, rangefinder.Reading(250))
	test.That(t, telemetry.Back, test.ShouldEqual, rangefinder.Reading(250))

	st, ok := m.status().(status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.Mode, test.ShouldEqual, "ACTIVE")
	test.That(t, st.Clients, test.ShouldEqual, 1)
	test.That(t, st.Channels, test.ShouldResemble, []string{"websocket"})

	test.That(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"stop","speed":4}`)), test.ShouldBeNil)
	testutils.WaitForAssertionWithSleep(t, 5*time.Millisecond, 400, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, m.driver.State().Mode(), test.ShouldEqual, control.ModePaused)
	})
	test.That(t, m.driver.State().Speed(), test.ShouldEqual, 4)

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("control loop did not stop")
	}

	test.That(t, m.driver.Cloud().Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, m.Bounds().IsEmpty(), test.ShouldBeFalse)

	path := filepath.Join(t.TempDir(), "map.pcd")
	test.That(t, writePCD(m.driver.Cloud(), path, false), test.ShouldBeNil)
	//nolint:gosec
	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(string(contents), "VERSION .7\n"), test.ShouldBeTrue)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	test.That(t, m.Close(closeCtx), test.ShouldBeNil)
	test.That(t, hw.Close(closeCtx), test.ShouldBeNil)
}

func TestMainWithArgsBadFlags(t *testing.T) {
	err := mainWithArgs(context.Background(), []string{"rangemapper", "--unknown"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatchLogLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapper.json")
	test.That(t, os.WriteFile(path, []byte(`{}`), 0o600), test.ShouldBeNil)

	root := logging.NewLogger("rangemapper")
	sweepLogger := root.Sublogger("sweep")
	watcher, err := config.NewWatcher(path, 20*time.Millisecond, logging.NewBlankLogger("config"))
	test.That(t, err, test.ShouldBeNil)
	stop := watchLogLevels(context.Background(), watcher, root)

	test.That(t, os.WriteFile(path, []byte(`{"log": [{"pattern": "rangemapper.sweep", "level": "error"}]}`), 0o600),
		test.ShouldBeNil)
	testutils.WaitForAssertionWithSleep(t, 10*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sweepLogger.GetLevel(), test.ShouldEqual, logging.ERROR)
	})
	test.That(t, root.GetLevel(), test.ShouldEqual, logging.INFO)
	test.That(t, stop(), test.ShouldBeNil)
}
