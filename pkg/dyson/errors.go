package dyson

import "errors"

var (
	// ErrInvalidFormat is returned when WiFi sticker values or cloud
	// credentials do not match any known device family pattern.
	ErrInvalidFormat = errors.New("dyson: invalid format")

	// ErrUnknownDeviceType is returned by the capability registry for
	// unregistered device types.
	ErrUnknownDeviceType = errors.New("dyson: unknown device type")

	// ErrUnsupportedDeviceType is returned when a resolved or supplied
	// device type has no capability profile.
	ErrUnsupportedDeviceType = errors.New("dyson: unsupported device type")

	// ErrAuthRejected is terminal: the credential is wrong and retrying
	// cannot help.
	ErrAuthRejected = errors.New("dyson: authentication rejected")

	// ErrUnreachable is transient: network or device broker unavailable.
	ErrUnreachable = errors.New("dyson: device unreachable")

	ErrTimeout      = errors.New("dyson: timeout")
	ErrNotConnected = errors.New("dyson: not connected")

	ErrUnsupportedFeature = errors.New("dyson: unsupported feature")
	ErrValueOutOfRange    = errors.New("dyson: value out of range")

	ErrDecode = errors.New("dyson: undecodable message")
)
