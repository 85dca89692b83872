package dyson

import (
	"fmt"
	"slices"
)

// Family groups device models sharing an identical or near-identical wire
// schema. The codec is versioned per family, not globally.
type Family string

const (
	FamilyPureCoolLink    Family = "pure_cool_link"
	FamilyPureCool        Family = "pure_cool"
	FamilyPureHotCoolLink Family = "pure_hot_cool_link"
	FamilyPureHotCool     Family = "pure_hot_cool"
	FamilyHumidifyCool    Family = "humidify_cool"
	FamilyVacuum          Family = "vacuum"
)

// FeatureFlag identifies one controllable or observable device attribute.
type FeatureFlag string

const (
	FeaturePower                FeatureFlag = "power"
	FeatureFanSpeed             FeatureFlag = "fan_speed"
	FeatureFanState             FeatureFlag = "fan_state"
	FeatureAutoMode             FeatureFlag = "auto_mode"
	FeatureNightMode            FeatureFlag = "night_mode"
	FeatureNightModeSpeed       FeatureFlag = "night_mode_speed"
	FeatureOscillation          FeatureFlag = "oscillation"
	FeatureOscillationAngleLow  FeatureFlag = "oscillation_angle_low"
	FeatureOscillationAngleHigh FeatureFlag = "oscillation_angle_high"
	FeatureContinuousMonitoring FeatureFlag = "continuous_monitoring"
	FeatureSleepTimer           FeatureFlag = "sleep_timer"
	FeatureFrontAirflow         FeatureFlag = "front_airflow"
	FeatureAirQualityTarget     FeatureFlag = "air_quality_target"
	FeatureErrorCode            FeatureFlag = "error_code"
	FeatureWarningCode          FeatureFlag = "warning_code"

	FeatureHeatMode   FeatureFlag = "heat_mode"
	FeatureHeatTarget FeatureFlag = "heat_target"
	FeatureHeatState  FeatureFlag = "heat_state"
	FeatureFocusMode  FeatureFlag = "focus_mode"

	FeatureHumidification     FeatureFlag = "humidification"
	FeatureHumidificationAuto FeatureFlag = "humidification_auto"
	FeatureTargetHumidity     FeatureFlag = "target_humidity"
	FeatureWaterHardness      FeatureFlag = "water_hardness"
	FeatureTimeUntilClean     FeatureFlag = "time_until_clean"

	FeatureCombinedFilterLife FeatureFlag = "filter_life"
	FeatureHEPAFilterLife     FeatureFlag = "hepa_filter_life"
	FeatureCarbonFilterLife   FeatureFlag = "carbon_filter_life"

	FeatureTemperature  FeatureFlag = "temperature"
	FeatureHumidity     FeatureFlag = "humidity"
	FeaturePM25         FeatureFlag = "pm25"
	FeaturePM10         FeatureFlag = "pm10"
	FeatureVOC          FeatureFlag = "voc"
	FeatureNO2          FeatureFlag = "no2"
	FeatureParticulates FeatureFlag = "particulates"

	FeatureVacuumState  FeatureFlag = "vacuum_state"
	FeatureBatteryLevel FeatureFlag = "battery_level"
	FeaturePowerMode    FeatureFlag = "power_mode"
)

// FeatureSpec declares the value domain of a feature. Min/Max bound KindInt
// values, Enum lists the accepted KindEnum values, Writable marks features
// accepted in commands.
type FeatureSpec struct {
	Kind     ValueKind
	Min      int
	Max      int
	Enum     []string
	Writable bool
}

// CapabilityProfile is the static capability table entry for a device type.
// Shared read-only by codec and state machine.
type CapabilityProfile struct {
	Type     DeviceType
	Family   Family
	Features map[FeatureFlag]FeatureSpec
}

func (p CapabilityProfile) Supports(flag FeatureFlag) bool {
	_, ok := p.Features[flag]
	return ok
}

// Validate checks a feature/value pair against the profile before it gets
// anywhere near the transport.
func (p CapabilityProfile) Validate(flag FeatureFlag, value Value) error {
	spec, ok := p.Features[flag]
	if !ok || !spec.Writable {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedFeature, flag, p.Type)
	}
	if spec.Kind != value.Kind() {
		return fmt.Errorf("%w: %s expects a different value kind", ErrValueOutOfRange, flag)
	}
	switch spec.Kind {
	case KindInt:
		if value.AsInt() < spec.Min || value.AsInt() > spec.Max {
			return fmt.Errorf("%w: %s=%d outside [%d,%d]", ErrValueOutOfRange, flag, value.AsInt(), spec.Min, spec.Max)
		}
	case KindEnum:
		if !slices.Contains(spec.Enum, value.AsEnum()) {
			return fmt.Errorf("%w: %s=%q not in %v", ErrValueOutOfRange, flag, value.AsEnum(), spec.Enum)
		}
	}
	return nil
}

func boolFeature(writable bool) FeatureSpec {
	return FeatureSpec{Kind: KindBool, Writable: writable}
}

func intFeature(minValue, maxValue int, writable bool) FeatureSpec {
	return FeatureSpec{Kind: KindInt, Min: minValue, Max: maxValue, Writable: writable}
}

func enumFeature(writable bool, values ...string) FeatureSpec {
	return FeatureSpec{Kind: KindEnum, Enum: values, Writable: writable}
}

func fanBaseFeatures() map[FeatureFlag]FeatureSpec {
	return map[FeatureFlag]FeatureSpec{
		FeaturePower:                boolFeature(true),
		FeatureFanSpeed:             intFeature(1, 10, true),
		FeatureFanState:             boolFeature(false),
		FeatureAutoMode:             boolFeature(true),
		FeatureNightMode:            boolFeature(true),
		FeatureContinuousMonitoring: boolFeature(true),
		FeatureSleepTimer:           intFeature(0, 540, true),
		FeatureOscillation:          boolFeature(true),
		FeatureErrorCode:            enumFeature(false),
		FeatureWarningCode:          enumFeature(false),
		FeatureTemperature:          intFeature(0, 5000, false),
		FeatureHumidity:             intFeature(0, 100, false),
	}
}

func linkFeatures() map[FeatureFlag]FeatureSpec {
	features := fanBaseFeatures()
	features[FeatureAirQualityTarget] = enumFeature(true, "0001", "0003", "0004")
	features[FeatureCombinedFilterLife] = intFeature(0, 4300, false)
	features[FeatureParticulates] = intFeature(0, 9999, false)
	features[FeatureVOC] = intFeature(0, 9999, false)
	return features
}

func pureCoolFeatures() map[FeatureFlag]FeatureSpec {
	features := fanBaseFeatures()
	features[FeatureFrontAirflow] = boolFeature(true)
	features[FeatureOscillationAngleLow] = intFeature(5, 355, true)
	features[FeatureOscillationAngleHigh] = intFeature(5, 355, true)
	features[FeatureNightModeSpeed] = intFeature(0, 10, false)
	features[FeatureHEPAFilterLife] = intFeature(0, 100, false)
	features[FeatureCarbonFilterLife] = intFeature(0, 100, false)
	features[FeaturePM25] = intFeature(0, 9999, false)
	features[FeaturePM10] = intFeature(0, 9999, false)
	features[FeatureVOC] = intFeature(0, 9999, false)
	features[FeatureNO2] = intFeature(0, 9999, false)
	return features
}

func withHeating(features map[FeatureFlag]FeatureSpec) map[FeatureFlag]FeatureSpec {
	features[FeatureHeatMode] = boolFeature(true)
	// heat target in decikelvin, 274.0K to 310.0K
	features[FeatureHeatTarget] = intFeature(2740, 3100, true)
	features[FeatureHeatState] = boolFeature(false)
	return features
}

func humidifyCoolFeatures() map[FeatureFlag]FeatureSpec {
	features := pureCoolFeatures()
	delete(features, FeatureOscillationAngleLow)
	delete(features, FeatureOscillationAngleHigh)
	features[FeatureHumidification] = boolFeature(true)
	features[FeatureHumidificationAuto] = boolFeature(true)
	features[FeatureTargetHumidity] = intFeature(30, 70, true)
	features[FeatureWaterHardness] = enumFeature(true, "0675", "1350", "2025")
	features[FeatureTimeUntilClean] = intFeature(0, 9999, false)
	return features
}

func vacuumFeatures() map[FeatureFlag]FeatureSpec {
	return map[FeatureFlag]FeatureSpec{
		FeatureVacuumState:  enumFeature(false),
		FeatureBatteryLevel: intFeature(0, 100, false),
		FeaturePowerMode:    enumFeature(true, "halfPower", "fullPower"),
	}
}

var capabilityTable = buildCapabilityTable()

func buildCapabilityTable() map[DeviceType]CapabilityProfile {
	table := make(map[DeviceType]CapabilityProfile)
	register := func(family Family, features func() map[FeatureFlag]FeatureSpec, types ...DeviceType) {
		for _, t := range types {
			table[t] = CapabilityProfile{Type: t, Family: family, Features: features()}
		}
	}
	register(FamilyVacuum, vacuumFeatures, DeviceType360Eye, DeviceType360Heurist)
	register(FamilyPureCoolLink, linkFeatures, DeviceTypePureCoolLink, DeviceTypePureCoolLinkDesk)
	register(FamilyPureCool, pureCoolFeatures,
		DeviceTypePureCool, DeviceTypePureCoolE, DeviceTypePureCoolK, DeviceTypePureCoolDesk,
		DeviceTypeTP04, DeviceTypeTP07, DeviceTypeTP09)
	register(FamilyPureHotCoolLink, func() map[FeatureFlag]FeatureSpec {
		features := withHeating(linkFeatures())
		features[FeatureFocusMode] = boolFeature(true)
		return features
	}, DeviceTypePureHotCoolLink)
	register(FamilyPureHotCool, func() map[FeatureFlag]FeatureSpec {
		return withHeating(pureCoolFeatures())
	}, DeviceTypePureHotCool, DeviceTypePureHotCoolE, DeviceTypePureHotCoolK,
		DeviceTypeHP04, DeviceTypeHP07)
	register(FamilyHumidifyCool, humidifyCoolFeatures,
		DeviceTypeHumidifyCool, DeviceTypeHumidifyCoolE, DeviceTypeHumidifyCoolK,
		DeviceTypePH01, DeviceTypePH03, DeviceTypePH04)
	return table
}

// Lookup returns the capability profile for a device type. Adding a model
// here is the single extension point for new device support.
func Lookup(deviceType DeviceType) (CapabilityProfile, error) {
	profile, ok := capabilityTable[deviceType]
	if !ok {
		return CapabilityProfile{}, fmt.Errorf("%w: %s", ErrUnknownDeviceType, deviceType)
	}
	return profile, nil
}

// SupportedDeviceTypes lists every registered type, sorted.
func SupportedDeviceTypes() []DeviceType {
	types := make([]DeviceType, 0, len(capabilityTable))
	for t := range capabilityTable {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
