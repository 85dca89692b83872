package util

import (
	"dyson2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "dyson2mqtt",
		},
		Devices: []config.DeviceConfig{
			{
				Host:     "-.-.-.-",
				SSID:     "DYSON-AB12CD-TP07",
				Password: "testWiFiPassword",
			},
		},
		Session: config.SessionConfig{
			ConnectTimeoutMillis:  1000,
			CommandTimeoutMillis:  1000,
			MaxConnectAttempts:    5,
			BackoffMinMillis:      20,
			BackoffMaxMillis:      100,
			PollIntervalMillis:    0,
			RefreshIntervalMillis: 0,
		},
		Port: 8080,
	}
}
