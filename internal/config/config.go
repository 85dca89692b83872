package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dyson2mqtt/pkg/dyson"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Devices  []DeviceConfig `mapstructure:"devices"`
	Session  SessionConfig  `mapstructure:"session"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

// MQTTConfig is the host-side broker the bridge publishes to, not the
// device brokers.
type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// DeviceConfig describes one appliance. Either the WiFi sticker pair
// (ssid + password) or the cloud triple (serial + device_type + credential)
// must be present.
type DeviceConfig struct {
	Host       string
	SSID       string `mapstructure:"ssid"`
	Password   string `mapstructure:"password"`
	Serial     string `mapstructure:"serial"`
	DeviceType string `mapstructure:"device_type"`
	Credential string `mapstructure:"credential"`
}

type SessionConfig struct {
	ConnectTimeoutMillis  uint32 `mapstructure:"connect_timeout_millis"`
	CommandTimeoutMillis  uint32 `mapstructure:"command_timeout_millis"`
	MaxConnectAttempts    uint   `mapstructure:"max_connect_attempts"`
	BackoffMinMillis      uint32 `mapstructure:"backoff_min_millis"`
	BackoffMaxMillis      uint32 `mapstructure:"backoff_max_millis"`
	PollIntervalMillis    uint32 `mapstructure:"poll_interval_millis"`
	RefreshIntervalMillis uint32 `mapstructure:"refresh_interval_millis"`
}

// Resolve turns a device entry into a DeviceIdentity using the credential
// resolver. Pure, no network access.
func (d DeviceConfig) Resolve() (dyson.DeviceIdentity, error) {
	if d.SSID != "" {
		return dyson.ResolveWiFi(d.SSID, d.Password)
	}
	return dyson.ResolveCloud(d.Serial, dyson.DeviceType(d.DeviceType), d.Credential)
}

func (d DeviceConfig) Validate() error {
	if d.Host == "" {
		return errors.New("device host is required")
	}
	hasWiFi := d.SSID != "" && d.Password != ""
	hasCloud := d.Serial != "" && d.DeviceType != "" && d.Credential != ""
	if !hasWiFi && !hasCloud {
		return fmt.Errorf("device %s: either ssid+password or serial+device_type+credential required", d.Host)
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
