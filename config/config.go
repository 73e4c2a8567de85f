// Package config defines the wiring and tuning of a range mapper: which pins every sensor and
// servo is on, the sweep arcs, cycle timings and how clients reach the controller.
package config

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/hexapod/rangemapper/components/rangefinder/ultrasonic"
	"github.com/hexapod/rangemapper/components/servo/gpio"
	"github.com/hexapod/rangemapper/control"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
	"github.com/hexapod/rangemapper/pose"
	"github.com/hexapod/rangemapper/sweep"
	"github.com/hexapod/rangemapper/transport"
)

// DefaultListen is the address the websocket and status endpoints are served on.
const DefaultListen = ":81"

// Config describes a whole range mapper.
type Config struct {
	Sensors   Sensors   `json:"sensors"`
	Servos    Servos    `json:"servos"`
	Sweeps    Sweeps    `json:"sweeps"`
	Timing    Timing    `json:"timing"`
	Map       Map       `json:"map"`
	Transport Transport `json:"transport"`

	// Log sets logger levels by name pattern, e.g. "rangemapper.sweep.*" at "debug".
	Log []logging.LoggerPatternConfig `json:"log,omitempty"`

	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`
}

// Sensors are the four ultrasonic range finders.
type Sensors struct {
	Front ultrasonic.Config `json:"front"`
	Back  ultrasonic.Config `json:"back"`
	Left  ultrasonic.Config `json:"left"`
	Right ultrasonic.Config `json:"right"`
}

// Servos carry the left and right sensors.
type Servos struct {
	Left  gpio.Config `json:"left"`
	Right gpio.Config `json:"right"`
}

// Sweeps are the arcs the servos cover.
type Sweeps struct {
	Left  sweep.Domain `json:"left"`
	Right sweep.Domain `json:"right"`
}

// Timing holds the fixed waits of a control cycle and the telemetry throttle.
type Timing struct {
	StaticReadDelay   time.Duration `json:"static_read_delay"`
	Idle              time.Duration `json:"idle"`
	Pacing            time.Duration `json:"pacing"`
	TelemetryInterval time.Duration `json:"telemetry_interval"`
}

// Control returns the cycle timings.
func (t Timing) Control() control.Timing {
	return control.Timing{
		StaticReadDelay: t.StaticReadDelay,
		Idle:            t.Idle,
		Pacing:          t.Pacing,
	}
}

// Map sizes the point cloud and scales the pose estimate.
type Map struct {
	Capacity int     `json:"capacity"`
	PoseGain float64 `json:"pose_gain"`
}

// Transport describes how clients connect.
type Transport struct {
	Listen        string               `json:"listen"`
	WebSocketPath string               `json:"websocket_path"`
	InboxSize     int                  `json:"inbox_size"`
	MQTT          transport.MQTTConfig `json:"mqtt"`
}

func float64Ptr(v float64) *float64 {
	return &v
}

// Default returns the stock wiring: four sensors on fixed pins and two servos homed facing
// outwards.
func Default() *Config {
	return &Config{
		Sensors: Sensors{
			Front: ultrasonic.Config{TriggerPin: "4", EchoPin: "15"},
			Back:  ultrasonic.Config{TriggerPin: "19", EchoPin: "21"},
			Left:  ultrasonic.Config{TriggerPin: "22", EchoPin: "23"},
			Right: ultrasonic.Config{TriggerPin: "5", EchoPin: "18"},
		},
		Servos: Servos{
			Left:  gpio.Config{Pin: "12", StartPos: float64Ptr(180)},
			Right: gpio.Config{Pin: "13", StartPos: float64Ptr(0)},
		},
		Sweeps: Sweeps{
			Left:  sweep.DefaultLeft(),
			Right: sweep.DefaultRight(),
		},
		Timing: Timing{
			StaticReadDelay:   control.DefaultStaticReadDelay,
			Idle:              control.DefaultIdle,
			Pacing:            control.DefaultPacing,
			TelemetryInterval: control.DefaultTelemetryInterval,
		},
		Map: Map{
			Capacity: pointcloud.DefaultCapacity,
			PoseGain: pose.DefaultGain,
		},
		Transport: Transport{
			Listen:        DefaultListen,
			WebSocketPath: transport.DefaultWebSocketPath,
			InboxSize:     transport.DefaultInboxSize,
			// disabled until a broker is set; an empty client id gets a unique one on connect
			MQTT: transport.MQTTConfig{
				CommandTopic:   transport.DefaultMQTTCommandTopic,
				TelemetryTopic: transport.DefaultMQTTTelemetryTopic,
				Timeout:        transport.DefaultMQTTTimeout,
			},
		},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	for _, s := range []struct {
		path string
		cfg  *ultrasonic.Config
	}{
		{"sensors.front", &cfg.Sensors.Front},
		{"sensors.back", &cfg.Sensors.Back},
		{"sensors.left", &cfg.Sensors.Left},
		{"sensors.right", &cfg.Sensors.Right},
	} {
		if err := s.cfg.Validate(s.path); err != nil {
			return err
		}
	}
	if err := cfg.Servos.Left.Validate("servos.left"); err != nil {
		return err
	}
	if err := cfg.Servos.Right.Validate("servos.right"); err != nil {
		return err
	}
	if err := cfg.Sweeps.Left.Validate("sweeps.left"); err != nil {
		return err
	}
	if err := cfg.Sweeps.Right.Validate("sweeps.right"); err != nil {
		return err
	}

	t := cfg.Timing
	if t.StaticReadDelay < 0 || t.Idle < 0 || t.Pacing < 0 || t.TelemetryInterval < 0 {
		return goutils.NewConfigValidationError("timing", errors.New("durations cannot be negative"))
	}
	if cfg.Map.Capacity <= 0 {
		return goutils.NewConfigValidationError("map", errors.New("capacity must be positive"))
	}
	if cfg.Map.PoseGain < 0 {
		return goutils.NewConfigValidationError("map", errors.New("pose_gain cannot be negative"))
	}
	if cfg.Transport.Listen == "" {
		return goutils.NewConfigValidationFieldRequiredError("transport", "listen")
	}
	if cfg.Transport.InboxSize < 0 {
		return goutils.NewConfigValidationError("transport", errors.New("inbox_size cannot be negative"))
	}
	if err := cfg.Transport.MQTT.Validate("transport.mqtt"); err != nil {
		return err
	}
	for _, lpc := range cfg.Log {
		if err := lpc.Validate(); err != nil {
			return goutils.NewConfigValidationError("log", err)
		}
	}
	return nil
}
