package dyson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Codec translates between raw device payloads and typed events for one
// device. Schemas are per family: the same logical feature can live on a
// different wire field from one family to another.
type Codec struct {
	profile CapabilityProfile
	schema  familySchema
	now     func() time.Time
}

func NewCodec(deviceType DeviceType) (*Codec, error) {
	profile, err := Lookup(deviceType)
	if err != nil {
		return nil, err
	}
	return &Codec{
		profile: profile,
		schema:  schemaForFamily(profile.Family),
		now:     time.Now,
	}, nil
}

func (c *Codec) Profile() CapabilityProfile { return c.profile }

// Decode parses an inbound payload into a StateEvent or TelemetryEvent.
// Unknown top-level fields are preserved opaquely; fields outside the
// device's capability profile are dropped with a diagnostic, never an error.
func (c *Codec) Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	at, err := time.Parse(mqttTimeLayout, env.Time)
	if err != nil {
		at = c.now().UTC().Truncate(time.Second)
	}
	switch env.Message {
	case MessageCurrentState, MessageStateChange:
		return c.decodeState(top, at)
	case MessageEnvironmental:
		return c.decodeTelemetry(top, at)
	default:
		return nil, fmt.Errorf("%w: message type %q", ErrDecode, env.Message)
	}
}

var knownTopLevelFields = map[string]bool{
	"msg":           true,
	"time":          true,
	"product-state": true,
	"data":          true,
	"mode-reason":   true,
	"state-reason":  true,
}

func (c *Codec) decodeState(top map[string]json.RawMessage, at time.Time) (StateEvent, error) {
	event := StateEvent{
		At:      at,
		Fields:  make(map[FeatureFlag]Value),
		Unknown: make(map[string]json.RawMessage),
	}

	var container map[string]json.RawMessage
	if c.schema.stateAtRoot {
		container = make(map[string]json.RawMessage)
		for key, raw := range top {
			if !knownTopLevelFields[key] {
				container[key] = raw
			}
		}
	} else {
		if rawState, ok := top["product-state"]; ok {
			if err := json.Unmarshal(rawState, &container); err != nil {
				return StateEvent{}, fmt.Errorf("%w: product-state: %s", ErrDecode, err)
			}
		}
		for key, raw := range top {
			if !knownTopLevelFields[key] {
				event.Unknown[key] = raw
			}
		}
	}

	for wireField, raw := range container {
		value, ok := fieldString(raw)
		if !ok {
			event.Dropped = append(event.Dropped, wireField)
			continue
		}
		codecs, ok := c.schema.state[wireField]
		if !ok {
			if c.schema.stateAtRoot {
				event.Unknown[wireField] = raw
			} else {
				event.Dropped = append(event.Dropped, wireField)
			}
			continue
		}
		decoded := false
		for _, fc := range codecs {
			if !c.profile.Supports(fc.flag) {
				continue
			}
			if v, ok := fc.decode(value); ok {
				event.Fields[fc.flag] = v
				decoded = true
			}
		}
		if !decoded {
			event.Dropped = append(event.Dropped, wireField)
		}
	}
	return event, nil
}

func (c *Codec) decodeTelemetry(top map[string]json.RawMessage, at time.Time) (TelemetryEvent, error) {
	event := TelemetryEvent{
		At:          at,
		Readings:    make(map[FeatureFlag]Value),
		Unavailable: make(map[FeatureFlag]SensorStatus),
	}
	var container map[string]json.RawMessage
	if rawData, ok := top["data"]; ok {
		if err := json.Unmarshal(rawData, &container); err != nil {
			return TelemetryEvent{}, fmt.Errorf("%w: data: %s", ErrDecode, err)
		}
	}
	for wireField, raw := range container {
		value, ok := fieldString(raw)
		if !ok {
			event.Dropped = append(event.Dropped, wireField)
			continue
		}
		codecs, ok := c.schema.telemetry[wireField]
		if !ok {
			event.Dropped = append(event.Dropped, wireField)
			continue
		}
		decoded := false
		for _, fc := range codecs {
			if !c.profile.Supports(fc.flag) {
				continue
			}
			// the field decoder wins over the sentinel mapping, so a
			// disabled sleep timer reads as 0 instead of sensor-off
			if v, ok := fc.decode(value); ok {
				event.Readings[fc.flag] = v
				decoded = true
				continue
			}
			switch value {
			case "OFF", "off":
				event.Unavailable[fc.flag] = SensorOff
				decoded = true
			case "INIT":
				event.Unavailable[fc.flag] = SensorInitializing
				decoded = true
			case "FAIL":
				event.Unavailable[fc.flag] = SensorFailed
				decoded = true
			case "NONE":
				decoded = true
			}
		}
		if !decoded {
			event.Dropped = append(event.Dropped, wireField)
		}
	}
	return event, nil
}

// Encode serializes a command into a STATE-SET payload, validating the
// feature/value pair against the capability profile first. No transport
// write happens for invalid commands.
func (c *Codec) Encode(cmd CommandRequest) ([]byte, error) {
	if err := c.profile.Validate(cmd.Feature, cmd.Value); err != nil {
		return nil, err
	}
	encodeFn, ok := c.schema.commands[cmd.Feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no wire encoding for family %s", ErrUnsupportedFeature, cmd.Feature, c.profile.Family)
	}
	return json.Marshal(map[string]any{
		"msg":         MessageStateSet,
		"time":        MQTTTime(c.now()),
		"mode-reason": "LAPP",
		"data":        encodeFn(cmd.Value),
	})
}

// EncodeStateRequest builds the payload asking the device for a full
// CURRENT-STATE report.
func (c *Codec) EncodeStateRequest() []byte {
	payload, _ := json.Marshal(map[string]string{
		"msg":  MessageRequestState,
		"time": MQTTTime(c.now()),
	})
	return payload
}

// EncodeTelemetryRequest builds the payload asking the device for current
// environmental sensor data.
func (c *Codec) EncodeTelemetryRequest() []byte {
	payload, _ := json.Marshal(map[string]string{
		"msg":  MessageRequestEnvironmental,
		"time": MQTTTime(c.now()),
	})
	return payload
}

// fieldString extracts the scalar value of a wire field. STATE-CHANGE
// reports [previous, current] pairs, in which case the current value wins.
func fieldString(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	var pair []json.RawMessage
	if json.Unmarshal(raw, &pair) == nil && len(pair) > 0 {
		return fieldString(pair[len(pair)-1])
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return strconv.Itoa(int(n)), true
	}
	return "", false
}

type fieldCodec struct {
	flag   FeatureFlag
	decode func(string) (Value, bool)
}

type familySchema struct {
	// Vacuums report state at the payload root instead of a product-state block.
	stateAtRoot bool
	state       map[string][]fieldCodec
	telemetry   map[string][]fieldCodec
	commands    map[FeatureFlag]func(Value) map[string]string
}

func decodeOnOff(value string) (Value, bool) {
	switch value {
	case "ON", "OION", "HEAT", "HUMD", "FAN":
		return Bool(true), true
	case "OFF", "OIOF", "FAULT":
		return Bool(false), true
	}
	return Value{}, false
}

func decodeInt(value string) (Value, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return Value{}, false
	}
	return Int(n), true
}

func decodeSleepTimer(value string) (Value, bool) {
	if value == "OFF" || value == "off" {
		return Int(0), true
	}
	return decodeInt(value)
}

func decodeEnum(value string) (Value, bool) {
	return Enum(value), true
}

func onOff(v Value) string {
	if v.AsBool() {
		return "ON"
	}
	return "OFF"
}

func pad4(v Value) string {
	return fmt.Sprintf("%04d", v.AsInt())
}

func boolField(flag FeatureFlag) []fieldCodec {
	return []fieldCodec{{flag: flag, decode: decodeOnOff}}
}

func intField(flag FeatureFlag) []fieldCodec {
	return []fieldCodec{{flag: flag, decode: decodeInt}}
}

func enumField(flag FeatureFlag) []fieldCodec {
	return []fieldCodec{{flag: flag, decode: decodeEnum}}
}

func fanBaseStateFields() map[string][]fieldCodec {
	return map[string][]fieldCodec{
		"fnst": boolField(FeatureFanState),
		"fnsp": intField(FeatureFanSpeed), // "AUTO" is dropped, speed unknown
		"nmod": boolField(FeatureNightMode),
		"rhtm": boolField(FeatureContinuousMonitoring),
		"ercd": enumField(FeatureErrorCode),
		"wacd": enumField(FeatureWarningCode),
	}
}

func fanBaseTelemetryFields() map[string][]fieldCodec {
	return map[string][]fieldCodec{
		"hact": intField(FeatureHumidity),
		"tact": intField(FeatureTemperature), // decikelvin, kept in wire units
		"sltm": {{flag: FeatureSleepTimer, decode: decodeSleepTimer}},
	}
}

func fanBaseCommands() map[FeatureFlag]func(Value) map[string]string {
	return map[FeatureFlag]func(Value) map[string]string{
		FeatureNightMode: func(v Value) map[string]string {
			return map[string]string{"nmod": onOff(v)}
		},
		FeatureContinuousMonitoring: func(v Value) map[string]string {
			return map[string]string{"rhtm": onOff(v)}
		},
		FeatureSleepTimer: func(v Value) map[string]string {
			if v.AsInt() == 0 {
				return map[string]string{"sltm": "OFF"}
			}
			return map[string]string{"sltm": pad4(v)}
		},
	}
}

func linkSchema() familySchema {
	state := fanBaseStateFields()
	state["fmod"] = []fieldCodec{
		{flag: FeaturePower, decode: func(value string) (Value, bool) {
			switch value {
			case "FAN", "AUTO":
				return Bool(true), true
			case "OFF":
				return Bool(false), true
			}
			return Value{}, false
		}},
		{flag: FeatureAutoMode, decode: func(value string) (Value, bool) {
			return Bool(value == "AUTO"), true
		}},
	}
	state["oson"] = boolField(FeatureOscillation)
	state["qtar"] = enumField(FeatureAirQualityTarget)
	state["filf"] = intField(FeatureCombinedFilterLife)

	telemetry := fanBaseTelemetryFields()
	telemetry["pact"] = intField(FeatureParticulates)
	telemetry["vact"] = intField(FeatureVOC)

	commands := fanBaseCommands()
	commands[FeaturePower] = func(v Value) map[string]string {
		if v.AsBool() {
			return map[string]string{"fmod": "FAN"}
		}
		return map[string]string{"fmod": "OFF"}
	}
	commands[FeatureAutoMode] = func(v Value) map[string]string {
		if v.AsBool() {
			return map[string]string{"fmod": "AUTO"}
		}
		return map[string]string{"fmod": "FAN"}
	}
	commands[FeatureFanSpeed] = func(v Value) map[string]string {
		return map[string]string{"fmod": "FAN", "fnsp": pad4(v)}
	}
	commands[FeatureOscillation] = func(v Value) map[string]string {
		return map[string]string{"oson": onOff(v)}
	}
	commands[FeatureAirQualityTarget] = func(v Value) map[string]string {
		return map[string]string{"qtar": v.AsEnum()}
	}

	return familySchema{state: state, telemetry: telemetry, commands: commands}
}

func pureCoolSchema() familySchema {
	state := fanBaseStateFields()
	state["fpwr"] = boolField(FeaturePower)
	state["auto"] = boolField(FeatureAutoMode)
	state["oson"] = boolField(FeatureOscillation)
	state["fdir"] = boolField(FeatureFrontAirflow)
	state["nmdv"] = intField(FeatureNightModeSpeed)
	state["osal"] = intField(FeatureOscillationAngleLow)
	state["osau"] = intField(FeatureOscillationAngleHigh)
	state["cflr"] = intField(FeatureCarbonFilterLife) // "INV" drops: no carbon filter installed
	state["hflr"] = intField(FeatureHEPAFilterLife)

	telemetry := fanBaseTelemetryFields()
	telemetry["pm25"] = intField(FeaturePM25)
	telemetry["pm10"] = intField(FeaturePM10)
	telemetry["va10"] = intField(FeatureVOC)
	telemetry["noxl"] = intField(FeatureNO2)

	commands := fanBaseCommands()
	commands[FeaturePower] = func(v Value) map[string]string {
		return map[string]string{"fpwr": onOff(v)}
	}
	commands[FeatureAutoMode] = func(v Value) map[string]string {
		return map[string]string{"auto": onOff(v)}
	}
	commands[FeatureFanSpeed] = func(v Value) map[string]string {
		return map[string]string{"fpwr": "ON", "fnsp": pad4(v)}
	}
	commands[FeatureOscillation] = func(v Value) map[string]string {
		if v.AsBool() {
			return map[string]string{"oson": "ON", "fpwr": "ON"}
		}
		return map[string]string{"oson": "OFF"}
	}
	commands[FeatureOscillationAngleLow] = func(v Value) map[string]string {
		return map[string]string{"oson": "ON", "ancp": "CUST", "osal": pad4(v)}
	}
	commands[FeatureOscillationAngleHigh] = func(v Value) map[string]string {
		return map[string]string{"oson": "ON", "ancp": "CUST", "osau": pad4(v)}
	}
	commands[FeatureFrontAirflow] = func(v Value) map[string]string {
		return map[string]string{"fdir": onOff(v)}
	}

	return familySchema{state: state, telemetry: telemetry, commands: commands}
}

func withHeatingSchema(schema familySchema) familySchema {
	schema.state["hmod"] = boolField(FeatureHeatMode)
	schema.state["hmax"] = intField(FeatureHeatTarget)
	schema.state["hsta"] = boolField(FeatureHeatState)
	schema.commands[FeatureHeatMode] = func(v Value) map[string]string {
		if v.AsBool() {
			return map[string]string{"hmod": "HEAT"}
		}
		return map[string]string{"hmod": "OFF"}
	}
	schema.commands[FeatureHeatTarget] = func(v Value) map[string]string {
		return map[string]string{"hmod": "HEAT", "hmax": pad4(v)}
	}
	return schema
}

func hotCoolLinkSchema() familySchema {
	schema := withHeatingSchema(linkSchema())
	schema.state["ffoc"] = boolField(FeatureFocusMode)
	schema.commands[FeatureFocusMode] = func(v Value) map[string]string {
		return map[string]string{"ffoc": onOff(v)}
	}
	return schema
}

func humidifyCoolSchema() familySchema {
	schema := pureCoolSchema()
	delete(schema.state, "osal")
	delete(schema.state, "osau")
	delete(schema.commands, FeatureOscillationAngleLow)
	delete(schema.commands, FeatureOscillationAngleHigh)
	schema.state["hume"] = boolField(FeatureHumidification)
	schema.state["haut"] = boolField(FeatureHumidificationAuto)
	schema.state["humt"] = intField(FeatureTargetHumidity)
	schema.state["wath"] = enumField(FeatureWaterHardness)
	schema.state["cltr"] = intField(FeatureTimeUntilClean)
	schema.commands[FeatureHumidification] = func(v Value) map[string]string {
		if v.AsBool() {
			return map[string]string{"hume": "HUMD"}
		}
		return map[string]string{"hume": "OFF"}
	}
	schema.commands[FeatureHumidificationAuto] = func(v Value) map[string]string {
		return map[string]string{"haut": onOff(v)}
	}
	schema.commands[FeatureTargetHumidity] = func(v Value) map[string]string {
		return map[string]string{"humt": pad4(v), "haut": "OFF"}
	}
	schema.commands[FeatureWaterHardness] = func(v Value) map[string]string {
		return map[string]string{"wath": v.AsEnum()}
	}
	return schema
}

func vacuumSchema() familySchema {
	return familySchema{
		stateAtRoot: true,
		state: map[string][]fieldCodec{
			"state":                  enumField(FeatureVacuumState),
			"newstate":               enumField(FeatureVacuumState),
			"batteryChargeLevel":     intField(FeatureBatteryLevel),
			"currentVacuumPowerMode": enumField(FeaturePowerMode),
		},
		telemetry: map[string][]fieldCodec{},
		commands: map[FeatureFlag]func(Value) map[string]string{
			FeaturePowerMode: func(v Value) map[string]string {
				return map[string]string{"defaultVacuumPowerMode": v.AsEnum()}
			},
		},
	}
}

var familySchemas = map[Family]familySchema{
	FamilyPureCoolLink:    linkSchema(),
	FamilyPureCool:        pureCoolSchema(),
	FamilyPureHotCoolLink: hotCoolLinkSchema(),
	FamilyPureHotCool:     withHeatingSchema(pureCoolSchema()),
	FamilyHumidifyCool:    humidifyCoolSchema(),
	FamilyVacuum:          vacuumSchema(),
}

func schemaForFamily(family Family) familySchema {
	return familySchemas[family]
}
