package dyson

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	assert := assert.New(t)

	profile, err := Lookup(DeviceTypeTP07)
	assert.NoError(err)
	assert.Equal(DeviceTypeTP07, profile.Type)
	assert.Equal(FamilyPureCool, profile.Family)
	assert.True(profile.Supports(FeaturePower))
	assert.False(profile.Supports(FeatureHeatMode))

	_, err = Lookup("999")
	assert.ErrorIs(err, ErrUnknownDeviceType)
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	profile, err := Lookup(DeviceTypeTP07)
	assert.NoError(err)

	assert.NoError(profile.Validate(FeaturePower, Bool(true)))
	assert.NoError(profile.Validate(FeatureFanSpeed, Int(1)))
	assert.NoError(profile.Validate(FeatureFanSpeed, Int(10)))

	// out of range
	assert.ErrorIs(profile.Validate(FeatureFanSpeed, Int(0)), ErrValueOutOfRange)
	assert.ErrorIs(profile.Validate(FeatureFanSpeed, Int(11)), ErrValueOutOfRange)

	// wrong value kind
	assert.ErrorIs(profile.Validate(FeaturePower, Int(1)), ErrValueOutOfRange)

	// read-only feature
	assert.ErrorIs(profile.Validate(FeatureFanState, Bool(true)), ErrUnsupportedFeature)

	// feature not on this model
	assert.ErrorIs(profile.Validate(FeatureHeatTarget, Int(2950)), ErrUnsupportedFeature)
}

func TestValidateEnum(t *testing.T) {
	assert := assert.New(t)

	profile, err := Lookup(DeviceTypePH01)
	assert.NoError(err)

	assert.NoError(profile.Validate(FeatureWaterHardness, Enum("1350")))
	assert.ErrorIs(profile.Validate(FeatureWaterHardness, Enum("9999")), ErrValueOutOfRange)
}

func TestSupportedDeviceTypes(t *testing.T) {
	assert := assert.New(t)

	types := SupportedDeviceTypes()
	assert.True(slices.IsSorted(types))
	assert.Contains(types, DeviceTypeTP07)
	assert.Contains(types, DeviceType360Eye)
	assert.Contains(types, DeviceTypePH04)
	assert.NotContains(types, DeviceType("455A"))
}
