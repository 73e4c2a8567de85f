package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/hexapod/rangemapper/logging"
)

// Environment variables that override the file.
const (
	EnvListen     = "RANGEMAPPER_LISTEN"
	EnvMQTTBroker = "RANGEMAPPER_MQTT_BROKER"
	EnvMQTTUser   = "RANGEMAPPER_MQTT_USERNAME"
	EnvMQTTPass   = "RANGEMAPPER_MQTT_PASSWORD"
)

// Read reads a config from the given file. An empty path yields the defaults. Environment
// overrides, including those in a .env file in the working directory, are applied last.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnw("cannot load .env file", "error", err)
	}

	if filePath == "" {
		cfg := Default()
		applyEnv(cfg, os.Getenv)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return readFile(filePath)
}

// readFile reads, overrides and validates the config at filePath. ${VAR} references in the
// file are expanded from the environment first.
func readFile(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	cfg, err := FromReader(filePath, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromReader decodes a config on top of the defaults, so a file only needs the fields it
// changes. Durations may be given as strings ("70ms") or as nanoseconds.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "failed to process Config %q", originalPath)
	}
	cfg.ConfigFilePath = originalPath
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvListen); v != "" {
		cfg.Transport.Listen = v
	}
	if v := getenv(EnvMQTTBroker); v != "" {
		cfg.Transport.MQTT.Broker = v
	}
	if v := getenv(EnvMQTTUser); v != "" {
		cfg.Transport.MQTT.Username = v
	}
	if v := getenv(EnvMQTTPass); v != "" {
		cfg.Transport.MQTT.Password = v
	}
}
