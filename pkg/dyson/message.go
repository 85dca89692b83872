package dyson

import (
	"encoding/json"
	"time"
)

// Wire message types, as sent by the device firmware. Parsing on the device
// side is strict, so these are matched byte for byte.
const (
	MessageCurrentState         = "CURRENT-STATE"
	MessageStateChange          = "STATE-CHANGE"
	MessageEnvironmental        = "ENVIRONMENTAL-CURRENT-SENSOR-DATA"
	MessageStateSet             = "STATE-SET"
	MessageRequestState         = "REQUEST-CURRENT-STATE"
	MessageRequestEnvironmental = "REQUEST-PRODUCT-ENVIRONMENT-CURRENT-SENSOR-DATA"
)

const mqttTimeLayout = "2006-01-02T15:04:05Z"

// Event is a decoded inbound message: either a StateEvent or a
// TelemetryEvent.
type Event interface {
	EventTime() time.Time
	FieldValues() map[FeatureFlag]Value
}

// StateEvent is a decoded CURRENT-STATE or STATE-CHANGE message.
type StateEvent struct {
	At     time.Time
	Fields map[FeatureFlag]Value
	// Dropped lists wire fields outside the device's capability profile,
	// kept for diagnostics instead of failing the decode.
	Dropped []string
	// Unknown preserves unrecognized top-level payload fields opaquely.
	Unknown map[string]json.RawMessage
}

func (e StateEvent) EventTime() time.Time               { return e.At }
func (e StateEvent) FieldValues() map[FeatureFlag]Value { return e.Fields }

// TelemetryEvent is a decoded ENVIRONMENTAL-CURRENT-SENSOR-DATA message.
type TelemetryEvent struct {
	At       time.Time
	Readings map[FeatureFlag]Value
	Dropped  []string
	// Unavailable lists sensors reporting OFF/INIT/FAIL instead of a value.
	Unavailable map[FeatureFlag]SensorStatus
}

func (e TelemetryEvent) EventTime() time.Time               { return e.At }
func (e TelemetryEvent) FieldValues() map[FeatureFlag]Value { return e.Readings }

// SensorStatus is a sentinel reported by a sensor in place of a reading.
type SensorStatus string

const (
	SensorOff          SensorStatus = "OFF"
	SensorInitializing SensorStatus = "INIT"
	SensorFailed       SensorStatus = "FAIL"
)

// CommandRequest is one outbound feature/value write. Transient: encoded,
// published, discarded.
type CommandRequest struct {
	Feature FeatureFlag
	Value   Value
}

type envelope struct {
	Message string `json:"msg"`
	Time    string `json:"time"`
}

// MQTTTime formats a timestamp the way device firmware expects it.
func MQTTTime(t time.Time) string {
	return t.UTC().Format(mqttTimeLayout)
}
