package transport

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/hexapod/rangemapper/logging"
)

// MQTT defaults.
const (
	DefaultMQTTClientID       = "rangemapper"
	DefaultMQTTCommandTopic   = "rangemapper/cmd"
	DefaultMQTTTelemetryTopic = "rangemapper/telemetry"
	DefaultMQTTTimeout        = 2 * time.Second
)

// MQTTConfig describes the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker         string        `json:"broker"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	CommandTopic   string        `json:"command_topic"`
	TelemetryTopic string        `json:"telemetry_topic"`
	QoS            byte          `json:"qos"`
	Timeout        time.Duration `json:"timeout"`
}

// Enabled reports whether a broker is configured.
func (cfg *MQTTConfig) Enabled() bool {
	return cfg.Broker != ""
}

// Validate ensures all parts of the config are valid.
func (cfg *MQTTConfig) Validate(path string) error {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.CommandTopic == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "command_topic")
	}
	if cfg.TelemetryTopic == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "telemetry_topic")
	}
	if cfg.QoS > 2 {
		return goutils.NewConfigValidationError(path, errors.Errorf("qos must be 0, 1 or 2, got %d", cfg.QoS))
	}
	return nil
}

// MQTTChannel publishes telemetry to a topic and takes commands from another.
type MQTTChannel struct {
	client mqtt.Client
	cfg    MQTTConfig
	inbox  *inbox
	logger logging.Logger
}

var _ = Channel(&MQTTChannel{})

// NewMQTTChannel connects to the broker and subscribes to the command topic. The subscription is
// renewed on every reconnect.
func NewMQTTChannel(cfg MQTTConfig, inboxSize int, logger logging.Logger) (*MQTTChannel, error) {
	cfg.ClientID = clientID(cfg.ClientID)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMQTTTimeout
	}
	m := &MQTTChannel{cfg: cfg, inbox: newInbox(inboxSize, logger), logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(1 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetCleanSession(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)
	m.client = mqtt.NewClient(opts)

	token := m.client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MQTT broker %s", cfg.Broker)
	}
	return m, nil
}

// clientID returns id, or a fresh id under DefaultMQTTClientID so that several mappers can
// share a broker without taking over each other's session.
func clientID(id string) string {
	if id != "" {
		return id
	}
	return DefaultMQTTClientID + "-" + uuid.NewString()[:8]
}

// newMQTTChannelWithClient wraps an already configured client.
func newMQTTChannelWithClient(client mqtt.Client, cfg MQTTConfig, inboxSize int, logger logging.Logger) *MQTTChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMQTTTimeout
	}
	return &MQTTChannel{client: client, cfg: cfg, inbox: newInbox(inboxSize, logger), logger: logger}
}

func (m *MQTTChannel) onConnect(client mqtt.Client) {
	m.logger.Infow("connected to MQTT broker", "broker", m.cfg.Broker)
	token := client.Subscribe(m.cfg.CommandTopic, m.cfg.QoS, m.handleMessage)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Errorw("timed out subscribing", "topic", m.cfg.CommandTopic, "timeout", m.cfg.Timeout)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Errorw("failed to subscribe", "topic", m.cfg.CommandTopic, "error", err)
		return
	}
	m.logger.Infow("subscribed", "topic", m.cfg.CommandTopic)
}

func (m *MQTTChannel) onConnectionLost(client mqtt.Client, err error) {
	m.logger.Warnw("MQTT connection lost, reconnecting", "error", err)
}

func (m *MQTTChannel) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	m.inbox.deliver(payload)
}

// Broadcast publishes msg to the telemetry topic.
func (m *MQTTChannel) Broadcast(ctx context.Context, msg []byte) error {
	if !m.client.IsConnected() {
		return errors.New("MQTT client is not connected")
	}
	token := m.client.Publish(m.cfg.TelemetryTopic, m.cfg.QoS, false, msg)

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "MQTT publish cancelled")
	case <-timer.C:
		return errors.Errorf("MQTT publish timed out after %v", m.cfg.Timeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.Wrap(err, "MQTT publish failed")
		}
	}
	return nil
}

// Messages returns the commands received on the command topic.
func (m *MQTTChannel) Messages() <-chan []byte {
	return m.inbox.ch
}

// Type returns TypeMQTT.
func (m *MQTTChannel) Type() Type {
	return TypeMQTT
}

// Close disconnects from the broker.
func (m *MQTTChannel) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("MQTT client disconnected")
	}
	return nil
}
