package events

import (
	. "dyson2mqtt/internal/core/domain"
	"dyson2mqtt/pkg/dyson"
)

// SnapshotToUpdateEvents maps every field of a merged snapshot to host
// broker update events.
func SnapshotToUpdateEvents(serial string, profile dyson.CapabilityProfile, snapshot dyson.Snapshot) []any {
	var events []any
	for flag, value := range snapshot.Fields() {
		if ev := fieldToUpdateEvent(serial, profile, flag, value); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// ChangedFieldsToUpdateEvents maps only the fields a merge reported as
// changed.
func ChangedFieldsToUpdateEvents(serial string, profile dyson.CapabilityProfile, snapshot dyson.Snapshot, changed []dyson.FeatureFlag) []any {
	var events []any
	for _, flag := range changed {
		value, ok := snapshot.Field(flag)
		if !ok {
			continue
		}
		if ev := fieldToUpdateEvent(serial, profile, flag, value); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

func fieldToUpdateEvent(serial string, profile dyson.CapabilityProfile, flag dyson.FeatureFlag, value dyson.Value) any {
	spec, ok := profile.Features[flag]
	if !ok {
		return nil
	}
	id := SensorId(serial, flag)
	switch {
	case spec.Kind == dyson.KindBool && spec.Writable:
		return SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value.AsBool(),
		}
	case spec.Kind == dyson.KindBool:
		return BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value.AsBool(),
		}
	case spec.Kind == dyson.KindInt && spec.Writable:
		return InputNumberSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  float64(value.AsInt()),
		}
	case spec.Kind == dyson.KindInt && flag == dyson.FeatureTemperature:
		// reported in decikelvin
		return FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  float64(value.AsInt())/10 - 273.15,
			Decimals:               1,
		}
	case spec.Kind == dyson.KindInt:
		return FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  float64(value.AsInt()),
		}
	case spec.Kind == dyson.KindEnum && spec.Writable:
		return SelectSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value.AsEnum(),
		}
	default:
		return TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id},
			Value:                  value.AsEnum(),
		}
	}
}

// TelemetryToUpdateEvents maps an environmental report, marking sensors
// that answered with a status sentinel as unknown.
func TelemetryToUpdateEvents(serial string, profile dyson.CapabilityProfile, event DeviceTelemetryEvent) []any {
	var events []any
	for flag, value := range event.Readings {
		if ev := fieldToUpdateEvent(serial, profile, flag, value); ev != nil {
			events = append(events, ev)
		}
	}
	for flag := range event.Unavailable {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SensorId(serial, flag)},
			Value:                  "unknown",
		})
	}
	return events
}

// SessionStatusToUpdateEvents maps a session transition to the device's
// availability and status entities.
func SessionStatusToUpdateEvents(serial string, status SessionStatus) []any {
	return []any{
		DeviceAvailabilityUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SensorIdRaw(serial, SENSOR_ID_AVAILABILITY)},
			Serial:                 serial,
			Online:                 status == SessionConnected,
		},
		TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SensorIdRaw(serial, SENSOR_ID_SESSION_STATUS)},
			Value:                  status.String(),
		},
	}
}
