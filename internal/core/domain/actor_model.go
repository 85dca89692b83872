package domain

import (
	"fmt"

	"dyson2mqtt/pkg/dyson"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_HOST_MQTT    = "hostmqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"

	actorIdDevicePrefix = "device"
)

// DeviceActorId returns the actor id of the session actor for a serial.
func DeviceActorId(serial string) string {
	return fmt.Sprintf("%s_%s", actorIdDevicePrefix, serial)
}

// Device session messages

type DeviceCommandRequest struct {
	ActorRequestMixIn
	Serial  string
	Feature dyson.FeatureFlag
	Value   dyson.Value
}

type DeviceCommandResponse struct {
	ActorResponseMixIn
	Serial  string
	Feature dyson.FeatureFlag
}

type GetDeviceStateRequest struct {
	ActorRequestMixIn
	Serial string
}

type GetDeviceStateResponse struct {
	ActorResponseMixIn
	Serial   string
	Type     dyson.DeviceType
	Status   SessionStatus
	Snapshot dyson.Snapshot
}

type ListDevicesRequest struct {
	ActorRequestMixIn
}

type DeviceSummary struct {
	Serial string
	Type   dyson.DeviceType
	Status SessionStatus
}

type ListDevicesResponse struct {
	ActorResponseMixIn
	Devices []DeviceSummary
}

// RefreshDeviceStateRequest asks a session to re-request full state and
// environmental data from the device.
type RefreshDeviceStateRequest struct {
	ActorRequestMixIn
}

// ResetSessionRequest moves a Failed session back to Connecting with a
// cleared attempt counter.
type ResetSessionRequest struct {
	ActorRequestMixIn
	Serial string
}

type ResetSessionResponse struct {
	ActorResponseMixIn
	Serial string
}

// Host broker messages

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	Selects      []GenericSelect
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
