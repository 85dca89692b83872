package dyson

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"regexp"
)

type DeviceType string

const (
	DeviceType360Eye           DeviceType = "276"
	DeviceType360Heurist       DeviceType = "277"
	DeviceTypePureCoolLinkDesk DeviceType = "469"
	DeviceTypePureCoolLink     DeviceType = "475"
	DeviceTypePureCool         DeviceType = "438"
	DeviceTypePureCoolE        DeviceType = "438E"
	DeviceTypePureCoolK        DeviceType = "438K"
	DeviceTypePureCoolDesk     DeviceType = "520"
	DeviceTypePureHotCoolLink  DeviceType = "455"
	DeviceTypePureHotCool      DeviceType = "527"
	DeviceTypePureHotCoolE     DeviceType = "527E"
	DeviceTypePureHotCoolK     DeviceType = "527K"
	DeviceTypeHumidifyCool     DeviceType = "358"
	DeviceTypeHumidifyCoolE    DeviceType = "358E"
	DeviceTypeHumidifyCoolK    DeviceType = "358K"

	// Newer devices broadcast the product code instead of the numeric type.
	DeviceTypeTP04 DeviceType = "TP04"
	DeviceTypeTP07 DeviceType = "TP07"
	DeviceTypeTP09 DeviceType = "TP09"
	DeviceTypeHP04 DeviceType = "HP04"
	DeviceTypeHP07 DeviceType = "HP07"
	DeviceTypePH01 DeviceType = "PH01"
	DeviceTypePH03 DeviceType = "PH03"
	DeviceTypePH04 DeviceType = "PH04"
)

// Some devices use a different type in the WiFi SSID than on MQTT.
// The MQTT one is authoritative.
var deviceTypeAliases = map[DeviceType]DeviceType{
	"455A": "455",
}

// DeviceIdentity holds everything needed to authenticate against a device's
// embedded broker. Immutable once resolved.
type DeviceIdentity struct {
	Serial     string
	Type       DeviceType
	Credential string
}

var (
	vacuumSSIDRegexp  = regexp.MustCompile(`^(?:360EYE-)?([0-9A-Z]{3}-[A-Z]{2}-[0-9A-Z]{8,})$`)
	classicSSIDRegexp = regexp.MustCompile(`^DYSON-([0-9A-Z]{3}-[A-Z]{2}-[0-9A-Z]{8,})-([0-9]{3}[A-Z]?)$`)
	// Product-code form, e.g. DYSON-AB12CD-TP07
	productSSIDRegexp = regexp.MustCompile(`^DYSON-([0-9A-Z]+)-([A-Z]{2}[0-9]{2})$`)
)

// ResolveWiFi derives a DeviceIdentity from the values printed on the WiFi
// sticker. The transform is deterministic and performs no network access:
// serial and device type come from the SSID, the MQTT credential is the
// base64-encoded SHA-512 digest of the WiFi password.
func ResolveWiFi(ssid, password string) (DeviceIdentity, error) {
	serial, deviceType, err := parseSSID(ssid)
	if err != nil {
		return DeviceIdentity{}, err
	}
	if _, err := Lookup(deviceType); err != nil {
		return DeviceIdentity{}, fmt.Errorf("%w: %s", ErrUnsupportedDeviceType, deviceType)
	}
	return DeviceIdentity{
		Serial:     serial,
		Type:       deviceType,
		Credential: CredentialFromWiFiPassword(password),
	}, nil
}

// ResolveCloud wraps an already-fetched cloud credential verbatim.
func ResolveCloud(serial string, deviceType DeviceType, credential string) (DeviceIdentity, error) {
	if serial == "" || credential == "" {
		return DeviceIdentity{}, fmt.Errorf("%w: serial and credential required", ErrInvalidFormat)
	}
	if alias, ok := deviceTypeAliases[deviceType]; ok {
		deviceType = alias
	}
	if _, err := Lookup(deviceType); err != nil {
		return DeviceIdentity{}, fmt.Errorf("%w: %s", ErrUnsupportedDeviceType, deviceType)
	}
	return DeviceIdentity{
		Serial:     serial,
		Type:       deviceType,
		Credential: credential,
	}, nil
}

// CredentialFromWiFiPassword computes the local MQTT password from the WiFi
// password on the device sticker.
func CredentialFromWiFiPassword(password string) string {
	hash := sha512.Sum512([]byte(password))
	return base64.StdEncoding.EncodeToString(hash[:])
}

func parseSSID(ssid string) (string, DeviceType, error) {
	if matches := vacuumSSIDRegexp.FindStringSubmatch(ssid); matches != nil {
		return matches[1], DeviceType360Eye, nil
	}
	if matches := classicSSIDRegexp.FindStringSubmatch(ssid); matches != nil {
		deviceType := DeviceType(matches[2])
		if alias, ok := deviceTypeAliases[deviceType]; ok {
			deviceType = alias
		}
		return matches[1], deviceType, nil
	}
	if matches := productSSIDRegexp.FindStringSubmatch(ssid); matches != nil {
		return matches[1], DeviceType(matches[2]), nil
	}
	return "", "", fmt.Errorf("%w: SSID %q does not match any device family", ErrInvalidFormat, ssid)
}

// CommandTopic is the topic the device accepts commands on.
func (id DeviceIdentity) CommandTopic() string {
	return fmt.Sprintf("%s/%s/command", id.Type, id.Serial)
}

// StatusTopic is the topic the device reports state and telemetry on.
// Vacuums use a shorter topic than the fan families.
func (id DeviceIdentity) StatusTopic() string {
	if profile, err := Lookup(id.Type); err == nil && profile.Family == FamilyVacuum {
		return fmt.Sprintf("%s/%s/status", id.Type, id.Serial)
	}
	return fmt.Sprintf("%s/%s/status/current", id.Type, id.Serial)
}
