package domain

import (
	"fmt"
	"time"

	"dyson2mqtt/pkg/dyson"
)

// SessionStatus is the lifecycle state of one device session.
type SessionStatus int

const (
	SessionDisconnected SessionStatus = iota
	SessionConnecting
	SessionConnected
	SessionReconnecting
	SessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionReconnecting:
		return "reconnecting"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionStatusChangedEvent is published on the event stream whenever a
// device session transitions between lifecycle states.
type SessionStatusChangedEvent struct {
	Serial   string
	Previous SessionStatus
	Current  SessionStatus
	At       time.Time
}

// DeviceStateChangedEvent carries the merged snapshot after a device
// report changed at least one field.
type DeviceStateChangedEvent struct {
	Serial   string
	Type     dyson.DeviceType
	Changed  []dyson.FeatureFlag
	Snapshot dyson.Snapshot
}

// DeviceTelemetryEvent carries one environmental sensor report.
type DeviceTelemetryEvent struct {
	Serial      string
	Type        dyson.DeviceType
	At          time.Time
	Readings    map[dyson.FeatureFlag]dyson.Value
	Unavailable map[dyson.FeatureFlag]dyson.SensorStatus
}

// Sensor update events consumed by the host MQTT publisher.

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type SelectSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// DeviceAvailabilityUpdateEvent maps a session status to the per-device
// availability topic.
type DeviceAvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	Serial string
	Online bool
}
