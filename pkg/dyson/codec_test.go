package dyson

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodecDecodeCurrentState(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	payload := []byte(`{
		"msg": "CURRENT-STATE",
		"time": "2024-05-01T10:00:00Z",
		"mode-reason": "RAPP",
		"product-state": {
			"fpwr": "ON",
			"fnst": "FAN",
			"fnsp": "0004",
			"auto": "OFF",
			"nmod": "OFF",
			"oson": "OION",
			"rssi": "-29"
		}
	}`)

	event, err := codec.Decode(payload)
	assert.NoError(err)
	state, ok := event.(StateEvent)
	assert.True(ok)

	assert.Equal(Bool(true), state.Fields[FeaturePower])
	assert.Equal(Bool(true), state.Fields[FeatureFanState])
	assert.Equal(Int(4), state.Fields[FeatureFanSpeed])
	assert.Equal(Bool(false), state.Fields[FeatureAutoMode])
	assert.Equal(Bool(true), state.Fields[FeatureOscillation])
	// fields outside the schema drop with a diagnostic
	assert.Contains(state.Dropped, "rssi")
	assert.Equal("2024-05-01T10:00:00Z", MQTTTime(state.At))
}

func TestCodecDecodeStateChangePairs(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	payload := []byte(`{
		"msg": "STATE-CHANGE",
		"time": "2024-05-01T10:00:05Z",
		"product-state": {
			"fpwr": ["OFF", "ON"],
			"fnsp": ["0004", "0007"]
		}
	}`)

	event, err := codec.Decode(payload)
	assert.NoError(err)
	state, ok := event.(StateEvent)
	assert.True(ok)

	// [previous, current] pairs resolve to the current value
	assert.Equal(Bool(true), state.Fields[FeaturePower])
	assert.Equal(Int(7), state.Fields[FeatureFanSpeed])
}

func TestCodecDecodeTelemetry(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	payload := []byte(`{
		"msg": "ENVIRONMENTAL-CURRENT-SENSOR-DATA",
		"time": "2024-05-01T10:00:10Z",
		"data": {
			"tact": "2950",
			"hact": "0042",
			"pm25": "0003",
			"pm10": "INIT",
			"va10": "FAIL",
			"noxl": "OFF",
			"sltm": "OFF"
		}
	}`)

	event, err := codec.Decode(payload)
	assert.NoError(err)
	telemetry, ok := event.(TelemetryEvent)
	assert.True(ok)

	assert.Equal(Int(2950), telemetry.Readings[FeatureTemperature])
	assert.Equal(Int(42), telemetry.Readings[FeatureHumidity])
	assert.Equal(Int(3), telemetry.Readings[FeaturePM25])
	assert.Equal(SensorInitializing, telemetry.Unavailable[FeaturePM10])
	assert.Equal(SensorFailed, telemetry.Unavailable[FeatureVOC])
	assert.Equal(SensorOff, telemetry.Unavailable[FeatureNO2])
	// a disabled sleep timer is a reading of 0, not a sensor outage
	assert.Equal(Int(0), telemetry.Readings[FeatureSleepTimer])
	assert.NotContains(telemetry.Unavailable, FeatureSleepTimer)
}

func TestCodecDecodeVacuumRootState(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceType360Eye)
	assert.NoError(err)

	// vacuums report state fields at the payload root
	payload := []byte(`{
		"msg": "STATE-CHANGE",
		"time": "2024-05-01T10:00:00Z",
		"newstate": "FULL_CLEAN_RUNNING",
		"batteryChargeLevel": 74,
		"currentVacuumPowerMode": "fullPower"
	}`)

	event, err := codec.Decode(payload)
	assert.NoError(err)
	state, ok := event.(StateEvent)
	assert.True(ok)

	assert.Equal(Enum("FULL_CLEAN_RUNNING"), state.Fields[FeatureVacuumState])
	assert.Equal(Int(74), state.Fields[FeatureBatteryLevel])
	assert.Equal(Enum("fullPower"), state.Fields[FeaturePowerMode])
}

func TestCodecDecodeErrors(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	_, err = codec.Decode([]byte(`not json`))
	assert.ErrorIs(err, ErrDecode)

	_, err = codec.Decode([]byte(`{"msg": "LOCATION", "time": "2024-05-01T10:00:00Z"}`))
	assert.ErrorIs(err, ErrDecode)
}

func TestCodecEncodeCommand(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	payload, err := codec.Encode(CommandRequest{Feature: FeatureFanSpeed, Value: Int(5)})
	assert.NoError(err)
	assert.Contains(string(payload), `"STATE-SET"`)
	assert.Contains(string(payload), `"LAPP"`)
	assert.Contains(string(payload), `"fnsp":"0005"`)
	assert.Contains(string(payload), `"fpwr":"ON"`)
}

func TestCodecEncodeValidation(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	_, err = codec.Encode(CommandRequest{Feature: FeatureFanSpeed, Value: Int(11)})
	assert.ErrorIs(err, ErrValueOutOfRange)

	_, err = codec.Encode(CommandRequest{Feature: FeatureHeatTarget, Value: Int(2900)})
	assert.ErrorIs(err, ErrUnsupportedFeature)

	// read-only features are not commandable
	_, err = codec.Encode(CommandRequest{Feature: FeatureFanState, Value: Bool(true)})
	assert.ErrorIs(err, ErrUnsupportedFeature)
}

func TestCodecEncodeRequests(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeTP07)
	assert.NoError(err)

	assert.Contains(string(codec.EncodeStateRequest()), MessageRequestState)
	assert.Contains(string(codec.EncodeTelemetryRequest()), MessageRequestEnvironmental)
}

// decodeCommandEcho feeds the data block of an encoded command back through
// the codec as a device report and returns the decoded value for the feature.
func decodeCommandEcho(t *testing.T, codec *Codec, payload []byte, flag FeatureFlag) (Value, bool) {
	var stateSet struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(payload, &stateSet); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(stateSet.Data)
	if err != nil {
		t.Fatal(err)
	}

	report := fmt.Sprintf(`{"msg":"CURRENT-STATE","time":"2024-05-01T10:00:00Z","product-state":%s}`, data)
	event, err := codec.Decode([]byte(report))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := event.(StateEvent).Fields[flag]; ok {
		return v, true
	}

	// sensor-side fields, like the sleep timer, echo on the telemetry path
	environmental := fmt.Sprintf(`{"msg":"ENVIRONMENTAL-CURRENT-SENSOR-DATA","time":"2024-05-01T10:00:00Z","data":%s}`, data)
	event, err = codec.Decode([]byte(environmental))
	if err != nil {
		t.Fatal(err)
	}
	v, ok := event.(TelemetryEvent).Readings[flag]
	return v, ok
}

func TestCodecIntCommandRoundTrip(t *testing.T) {
	assert := assert.New(t)

	types := []DeviceType{
		DeviceTypeTP07, DeviceTypeHP07, DeviceTypePH01,
		DeviceTypePureCoolLink, DeviceTypePureHotCoolLink,
	}
	for _, deviceType := range types {
		codec, err := NewCodec(deviceType)
		assert.NoError(err)
		profile, err := Lookup(deviceType)
		assert.NoError(err)

		// every value of every writable int feature survives encode/decode
		for flag, spec := range profile.Features {
			if !spec.Writable || spec.Kind != KindInt {
				continue
			}
			for v := spec.Min; v <= spec.Max; v++ {
				payload, err := codec.Encode(CommandRequest{Feature: flag, Value: Int(v)})
				if !assert.NoError(err, "%s %s=%d encodes", deviceType, flag, v) {
					continue
				}
				got, ok := decodeCommandEcho(t, codec, payload, flag)
				if assert.True(ok, "%s %s=%d decodes", deviceType, flag, v) {
					assert.Equal(Int(v), got, "%s %s=%d round trip", deviceType, flag, v)
				}
			}
		}
	}
}

func TestCodecHeatCommands(t *testing.T) {
	assert := assert.New(t)

	codec, err := NewCodec(DeviceTypeHP07)
	assert.NoError(err)

	payload, err := codec.Encode(CommandRequest{Feature: FeatureHeatTarget, Value: Int(2950)})
	assert.NoError(err)
	assert.Contains(string(payload), `"hmax":"2950"`)
	assert.Contains(string(payload), `"hmod":"HEAT"`)

	_, err = codec.Encode(CommandRequest{Feature: FeatureHeatTarget, Value: Int(3200)})
	assert.ErrorIs(err, ErrValueOutOfRange)
}
