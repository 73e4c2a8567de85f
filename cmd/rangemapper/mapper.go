package main

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"go.uber.org/multierr"

	"github.com/hexapod/rangemapper/config"
	"github.com/hexapod/rangemapper/control"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
	"github.com/hexapod/rangemapper/pose"
	"github.com/hexapod/rangemapper/sweep"
	"github.com/hexapod/rangemapper/transport"
)

// mapper ties the control loop to its clients.
type mapper struct {
	driver    *control.Driver
	telemetry *control.Broadcaster
	hub       *transport.Hub
	channel   transport.Channel
	server    *transport.Server
	logger    logging.Logger
}

// status is served at /status.
// The point cloud is left out since only the control loop may read it while running.
type status struct {
	Mode     string   `json:"mode"`
	Speed    int      `json:"speed"`
	Cycles   uint64   `json:"cycles"`
	Clients  int      `json:"clients"`
	Channels []string `json:"channels"`
}

func newMapper(cfg *config.Config, hw *hardware, logger logging.Logger) (*mapper, error) {
	clk := clock.New()
	hub := transport.NewHub(cfg.Transport.InboxSize, logger.Sublogger("websocket"))
	channels := []transport.Channel{hub}
	if cfg.Transport.MQTT.Enabled() {
		mq, err := transport.NewMQTTChannel(cfg.Transport.MQTT, cfg.Transport.InboxSize, logger.Sublogger("mqtt"))
		if err != nil {
			return nil, multierr.Combine(err, hub.Close())
		}
		channels = append(channels, mq)
	}
	fanout := transport.NewFanout(cfg.Transport.InboxSize, logger.Sublogger("transport"), channels...)

	telemetry := control.NewBroadcaster(fanout, cfg.Timing.TelemetryInterval, clk, logger.Sublogger("telemetry"))
	state := control.NewState()
	driver, err := control.NewDriver(control.Config{
		State: state,
		Inbox: fanout.Messages(),
		Front: hw.front,
		Back:  hw.back,
		Left: sweep.NewSequencer("left", cfg.Sweeps.Left, hw.leftServo, hw.left, clk,
			logger.Sublogger("sweep.left")),
		Right: sweep.NewSequencer("right", cfg.Sweeps.Right, hw.rightServo, hw.right, clk,
			logger.Sublogger("sweep.right")),
		Cloud:     pointcloud.New(cfg.Map.Capacity),
		Estimator: pose.NewOpenLoop(cfg.Map.PoseGain),
		Telemetry: telemetry,
		Timing:    cfg.Timing.Control(),
		Clock:     clk,
	}, logger.Sublogger("control"))
	if err != nil {
		telemetry.Close()
		return nil, multierr.Combine(err, fanout.Close())
	}

	m := &mapper{
		driver:    driver,
		telemetry: telemetry,
		hub:       hub,
		channel:   fanout,
		logger:    logger,
	}
	router := transport.NewRouter(hub, cfg.Transport.WebSocketPath, m.status, logger.Sublogger("http"))
	m.server = transport.NewServer(cfg.Transport.Listen, router, logger.Sublogger("http"))
	return m, nil
}

func (m *mapper) status() interface{} {
	state := m.driver.State()
	var channels []string
	if f, ok := m.channel.(*transport.Fanout); ok {
		for _, t := range f.Channels() {
			channels = append(channels, string(t))
		}
	}
	return status{
		Mode:     state.Mode().String(),
		Speed:    state.Speed(),
		Cycles:   m.driver.Cycles(),
		Clients:  m.hub.Clients(),
		Channels: channels,
	}
}

// Start begins serving clients.
func (m *mapper) Start() error {
	return m.server.Start()
}

// Run drives the control loop until ctx is done.
func (m *mapper) Run(ctx context.Context) error {
	return m.driver.Run(ctx)
}

// Bounds returns the extent of the map. Only call it once Run has returned.
func (m *mapper) Bounds() r2.Rect {
	return m.driver.Cloud().Bounds()
}

// Close stops telemetry delivery, stops serving and disconnects every client.
func (m *mapper) Close(ctx context.Context) error {
	m.telemetry.Close()
	return multierr.Combine(m.server.Shutdown(ctx), m.channel.Close())
}
