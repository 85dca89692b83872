package dyson

import (
	"crypto/sha512"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveWiFiProductSSID(t *testing.T) {
	assert := assert.New(t)

	identity, err := ResolveWiFi("DYSON-AB12CD-TP07", "abc123XYZ")
	assert.NoError(err)
	assert.Equal("AB12CD", identity.Serial)
	assert.Equal(DeviceTypeTP07, identity.Type)

	hash := sha512.Sum512([]byte("abc123XYZ"))
	assert.Equal(base64.StdEncoding.EncodeToString(hash[:]), identity.Credential)

	// resolution is deterministic
	again, err := ResolveWiFi("DYSON-AB12CD-TP07", "abc123XYZ")
	assert.NoError(err)
	assert.Equal(identity, again)
}

func TestResolveWiFiClassicSSID(t *testing.T) {
	assert := assert.New(t)

	identity, err := ResolveWiFi("DYSON-NK6-EU-MHA0000A-455A", "loremPassword")
	assert.NoError(err)
	assert.Equal("NK6-EU-MHA0000A", identity.Serial)
	// 455A on the sticker, 455 on MQTT
	assert.Equal(DeviceTypePureHotCoolLink, identity.Type)
}

func TestResolveWiFiVacuumSSID(t *testing.T) {
	assert := assert.New(t)

	identity, err := ResolveWiFi("360EYE-GB5-US-ABC1234A", "loremPassword")
	assert.NoError(err)
	assert.Equal("GB5-US-ABC1234A", identity.Serial)
	assert.Equal(DeviceType360Eye, identity.Type)
}

func TestResolveWiFiErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := ResolveWiFi("MYHOMEWIFI", "loremPassword")
	assert.ErrorIs(err, ErrInvalidFormat)

	_, err = ResolveWiFi("DYSON-AB12CD-ZZ99", "loremPassword")
	assert.ErrorIs(err, ErrUnsupportedDeviceType)
}

func TestResolveCloud(t *testing.T) {
	assert := assert.New(t)

	identity, err := ResolveCloud("NK6-EU-MHA0000A", "455A", "cloudCredential")
	assert.NoError(err)
	assert.Equal(DeviceType("455"), identity.Type)
	assert.Equal("cloudCredential", identity.Credential)

	_, err = ResolveCloud("", "455", "cloudCredential")
	assert.ErrorIs(err, ErrInvalidFormat)

	_, err = ResolveCloud("NK6-EU-MHA0000A", "455", "")
	assert.ErrorIs(err, ErrInvalidFormat)

	_, err = ResolveCloud("NK6-EU-MHA0000A", "999", "cloudCredential")
	assert.ErrorIs(err, ErrUnsupportedDeviceType)
}

func TestDeviceTopics(t *testing.T) {
	assert := assert.New(t)

	fan := DeviceIdentity{Serial: "AB12CD", Type: DeviceTypeTP07}
	assert.Equal("TP07/AB12CD/command", fan.CommandTopic())
	assert.Equal("TP07/AB12CD/status/current", fan.StatusTopic())

	vacuum := DeviceIdentity{Serial: "GB5-US-ABC1234A", Type: DeviceType360Eye}
	assert.Equal("276/GB5-US-ABC1234A/command", vacuum.CommandTopic())
	assert.Equal("276/GB5-US-ABC1234A/status", vacuum.StatusTopic())
}
