package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	. "dyson2mqtt/internal/core/domain"
	"dyson2mqtt/pkg/dyson"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE      = "bridge"
	SENSOR_ID_SESSION_STATUS    = "session_status"
	SENSOR_ID_AVAILABILITY      = "availability"
	STATE_CLASS_MEASUREMENT     = "measurement"
	DEVICE_CLASS_BATTERY        = "battery"
	DEVICE_CLASS_HUMIDITY       = "humidity"
	DEVICE_CLASS_PM25           = "pm25"
	DEVICE_CLASS_PM10           = "pm10"
	DEVICE_CLASS_TEMPERATURE    = "temperature"
	DEVICE_CLASS_DURATION       = "duration"
	DEVICE_CLASS_CONNECTIVITY   = "connectivity"
	DEVICE_CLASS_RUNNING        = "running"
	DEVICE_CLASS_HEAT           = "heat"
	ENTITY_CLASS_DIAGNOSTIC     = "diagnostic"
	ENTITY_CLASS_CONFIG         = "config"
	SENSOR_TYPE_SENSOR          = "sensor"
	SENSOR_TYPE_BINARY          = "binary_sensor"
	INPUT_NUMBER_MODE_BOX       = "box"
	INPUT_NUMBER_MODE_SLIDER    = "slider"
)

// entityMeta is presentation metadata for one feature. Features without an
// entry fall back to a humanized name and no unit.
type entityMeta struct {
	Name             string
	Unit             string
	StateClass       string
	DeviceClass      string
	EntityCategory   string
	Icon             string
	Step             float64
	EnabledByDefault *bool
}

var featureMeta = map[dyson.FeatureFlag]entityMeta{
	dyson.FeaturePower:                {Name: "Power", Icon: "mdi:power"},
	dyson.FeatureFanSpeed:             {Name: "Fan speed", Icon: "mdi:fan", Step: 1},
	dyson.FeatureFanState:             {Name: "Fan running", DeviceClass: DEVICE_CLASS_RUNNING},
	dyson.FeatureAutoMode:             {Name: "Auto mode", Icon: "mdi:fan-auto"},
	dyson.FeatureNightMode:            {Name: "Night mode", Icon: "mdi:weather-night"},
	dyson.FeatureNightModeSpeed:       {Name: "Night mode speed", Icon: "mdi:fan", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureOscillation:          {Name: "Oscillation", Icon: "mdi:rotate-3d-variant"},
	dyson.FeatureOscillationAngleLow:  {Name: "Oscillation angle low", Unit: "°", Icon: "mdi:angle-acute", Step: 5},
	dyson.FeatureOscillationAngleHigh: {Name: "Oscillation angle high", Unit: "°", Icon: "mdi:angle-obtuse", Step: 5},
	dyson.FeatureContinuousMonitoring: {Name: "Continuous monitoring", Icon: "mdi:eye", EntityCategory: ENTITY_CLASS_CONFIG},
	dyson.FeatureSleepTimer:           {Name: "Sleep timer", Unit: "min", Icon: "mdi:timer-outline", Step: 15},
	dyson.FeatureFrontAirflow:         {Name: "Front airflow", Icon: "mdi:weather-windy"},
	dyson.FeatureAirQualityTarget:     {Name: "Air quality target", Icon: "mdi:target", EntityCategory: ENTITY_CLASS_CONFIG},
	dyson.FeatureErrorCode:            {Name: "Error code", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureWarningCode:          {Name: "Warning code", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureHeatMode:             {Name: "Heating", Icon: "mdi:radiator"},
	dyson.FeatureHeatTarget:           {Name: "Heat target", Unit: "dK", Icon: "mdi:thermometer", Step: 5},
	dyson.FeatureHeatState:            {Name: "Heating active", DeviceClass: DEVICE_CLASS_HEAT},
	dyson.FeatureFocusMode:            {Name: "Focus mode", Icon: "mdi:image-filter-center-focus"},
	dyson.FeatureHumidification:       {Name: "Humidification", Icon: "mdi:air-humidifier"},
	dyson.FeatureHumidificationAuto:   {Name: "Humidification auto", Icon: "mdi:air-humidifier"},
	dyson.FeatureTargetHumidity:       {Name: "Target humidity", Unit: "%", Icon: "mdi:water-percent", Step: 5},
	dyson.FeatureWaterHardness:        {Name: "Water hardness", Icon: "mdi:water", EntityCategory: ENTITY_CLASS_CONFIG},
	dyson.FeatureTimeUntilClean:       {Name: "Time until clean cycle", Unit: "h", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureCombinedFilterLife:   {Name: "Filter life", Unit: "h", Icon: "mdi:air-filter", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureHEPAFilterLife:       {Name: "HEPA filter life", Unit: "%", Icon: "mdi:air-filter", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureCarbonFilterLife:     {Name: "Carbon filter life", Unit: "%", Icon: "mdi:air-filter", EntityCategory: ENTITY_CLASS_DIAGNOSTIC},
	dyson.FeatureTemperature:          {Name: "Temperature", Unit: "°C", StateClass: STATE_CLASS_MEASUREMENT, DeviceClass: DEVICE_CLASS_TEMPERATURE},
	dyson.FeatureHumidity:             {Name: "Humidity", Unit: "%", StateClass: STATE_CLASS_MEASUREMENT, DeviceClass: DEVICE_CLASS_HUMIDITY},
	dyson.FeaturePM25:                 {Name: "PM2.5", Unit: "µg/m³", StateClass: STATE_CLASS_MEASUREMENT, DeviceClass: DEVICE_CLASS_PM25},
	dyson.FeaturePM10:                 {Name: "PM10", Unit: "µg/m³", StateClass: STATE_CLASS_MEASUREMENT, DeviceClass: DEVICE_CLASS_PM10},
	dyson.FeatureVOC:                  {Name: "VOC index", StateClass: STATE_CLASS_MEASUREMENT, Icon: "mdi:molecule"},
	dyson.FeatureNO2:                  {Name: "NO2 index", StateClass: STATE_CLASS_MEASUREMENT, Icon: "mdi:molecule"},
	dyson.FeatureParticulates:         {Name: "Particulates", StateClass: STATE_CLASS_MEASUREMENT, Icon: "mdi:blur"},
	dyson.FeatureVacuumState:          {Name: "State"},
	dyson.FeatureBatteryLevel:         {Name: "Battery", Unit: "%", StateClass: STATE_CLASS_MEASUREMENT, DeviceClass: DEVICE_CLASS_BATTERY},
	dyson.FeaturePowerMode:            {Name: "Power mode", Icon: "mdi:speedometer"},
}

func metaFor(flag dyson.FeatureFlag) entityMeta {
	if meta, ok := featureMeta[flag]; ok {
		return meta
	}
	return entityMeta{Name: humanize(string(flag))}
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("dyson2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "dyson2mqtt",
		Model:        "Bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Dyson bridge %s", md5HashShort(baseTopic)),
	}
}

func DysonDevice(identity dyson.DeviceIdentity, bridge Device) Device {
	return Device{
		Id:           deviceId(identity.Serial),
		Manufacturer: "Dyson",
		Model:        string(identity.Type),
		Name:         fmt.Sprintf("Dyson %s %s", identity.Type, identity.Serial),
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

// DeviceEntities derives the entity set for one appliance from its
// capability profile: writable bools become switches, writable ints input
// numbers, writable enums selects, everything else sensors.
func DeviceEntities(device Device, serial string, profile dyson.CapabilityProfile) ([]GenericSensor, []GenericSwitch, []GenericSelect, []GenericInputNumber) {

	var sensors []GenericSensor
	var switches []GenericSwitch
	var selects []GenericSelect
	var inputNumbers []GenericInputNumber

	flags := make([]dyson.FeatureFlag, 0, len(profile.Features))
	for flag := range profile.Features {
		flags = append(flags, flag)
	}
	slices.Sort(flags)

	for _, flag := range flags {
		spec := profile.Features[flag]
		meta := metaFor(flag)
		id := SensorId(serial, flag)

		switch {
		case spec.Kind == dyson.KindBool && spec.Writable:
			switches = append(switches, GenericSwitch{
				Device:   device,
				Id:       id,
				Name:     meta.Name,
				UniqueId: uniqueId(device.Id, id),
				Icon:     meta.Icon,
			})
		case spec.Kind == dyson.KindBool:
			sensors = append(sensors, GenericSensor{
				Device:         device,
				Id:             id,
				SensorType:     SENSOR_TYPE_BINARY,
				Name:           meta.Name,
				DeviceClass:    meta.DeviceClass,
				EntityCategory: meta.EntityCategory,
				Icon:           meta.Icon,
				UniqueId:       uniqueId(device.Id, id),
			})
		case spec.Kind == dyson.KindInt && spec.Writable:
			step := meta.Step
			if step == 0 {
				step = 1
			}
			inputNumbers = append(inputNumbers, GenericInputNumber{
				Device:       device,
				Id:           id,
				Name:         meta.Name,
				UniqueId:     uniqueId(device.Id, id),
				Icon:         meta.Icon,
				Min:          float64(spec.Min),
				Max:          float64(spec.Max),
				Step:         step,
				Mode:         INPUT_NUMBER_MODE_SLIDER,
				InitialValue: float64(spec.Min),
			})
		case spec.Kind == dyson.KindInt:
			sensors = append(sensors, GenericSensor{
				Device:            device,
				Id:                id,
				SensorType:        SENSOR_TYPE_SENSOR,
				Name:              meta.Name,
				StateClass:        meta.StateClass,
				DeviceClass:       meta.DeviceClass,
				UnitOfMeasurement: meta.Unit,
				EntityCategory:    meta.EntityCategory,
				EnabledByDefault:  meta.EnabledByDefault,
				Icon:              meta.Icon,
				UniqueId:          uniqueId(device.Id, id),
			})
		case spec.Kind == dyson.KindEnum && spec.Writable:
			selects = append(selects, GenericSelect{
				Device:   device,
				Id:       id,
				Name:     meta.Name,
				UniqueId: uniqueId(device.Id, id),
				Icon:     meta.Icon,
				Options:  slices.Clone(spec.Enum),
			})
		default:
			sensors = append(sensors, GenericSensor{
				Device:         device,
				Id:             id,
				SensorType:     SENSOR_TYPE_SENSOR,
				Name:           meta.Name,
				EntityCategory: meta.EntityCategory,
				Icon:           meta.Icon,
				UniqueId:       uniqueId(device.Id, id),
			})
		}
	}

	// Session status, always present
	sensors = append(sensors, GenericSensor{
		Device:         device,
		Id:             SensorIdRaw(serial, SENSOR_ID_SESSION_STATUS),
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Session status",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, SensorIdRaw(serial, SENSOR_ID_SESSION_STATUS)),
	})
	sensors = append(sensors, GenericSensor{
		Device:         device,
		Id:             SensorIdRaw(serial, SENSOR_ID_AVAILABILITY),
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Reachable",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, SensorIdRaw(serial, SENSOR_ID_AVAILABILITY)),
	})

	return sensors, switches, selects, inputNumbers
}

// SensorId scopes a feature id to a device. Multiple appliances share the
// host broker, so ids carry the serial.
func SensorId(serial string, flag dyson.FeatureFlag) string {
	return SensorIdRaw(serial, string(flag))
}

func SensorIdRaw(serial, id string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(serial), id)
}

func deviceId(serial string) string {
	return fmt.Sprintf("dyson_%s", strings.ToLower(serial))
}

func humanize(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) == 0 {
		return id
	}
	parts[0] = strings.ToUpper(parts[0][:1]) + parts[0][1:]
	return strings.Join(parts, " ")
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
