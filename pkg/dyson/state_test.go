package dyson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tp07Profile(t *testing.T) CapabilityProfile {
	profile, err := Lookup(DeviceTypeTP07)
	if err != nil {
		t.Fatal(err)
	}
	return profile
}

func TestMergeAddsAndChanges(t *testing.T) {
	assert := assert.New(t)

	profile := tp07Profile(t)
	snapshot := NewSnapshot("AB12CD")
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	snapshot, changed := Merge(profile, snapshot, StateEvent{
		At: t0,
		Fields: map[FeatureFlag]Value{
			FeaturePower:    Bool(true),
			FeatureFanSpeed: Int(4),
		},
	})
	assert.Len(changed, 2)
	assert.Equal(2, snapshot.Len())
	assert.Equal(t0, snapshot.LastUpdated())

	// a later event changing one field reports only that field
	snapshot, changed = Merge(profile, snapshot, StateEvent{
		At: t0.Add(5 * time.Second),
		Fields: map[FeatureFlag]Value{
			FeaturePower:    Bool(true),
			FeatureFanSpeed: Int(7),
		},
	})
	assert.Equal([]FeatureFlag{FeatureFanSpeed}, changed)
	speed, ok := snapshot.Field(FeatureFanSpeed)
	assert.True(ok)
	assert.Equal(Int(7), speed)
	assert.Equal(t0.Add(5*time.Second), snapshot.LastUpdated())
}

func TestMergeOutOfOrderEvent(t *testing.T) {
	assert := assert.New(t)

	profile := tp07Profile(t)
	snapshot := NewSnapshot("AB12CD")
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	snapshot, _ = Merge(profile, snapshot, StateEvent{
		At:     t0,
		Fields: map[FeatureFlag]Value{FeaturePower: Bool(true)},
	})

	// an event older than the field's last update never changes it
	snapshot, changed := Merge(profile, snapshot, StateEvent{
		At:     t0.Add(-10 * time.Second),
		Fields: map[FeatureFlag]Value{FeaturePower: Bool(false)},
	})
	assert.Empty(changed)
	power, ok := snapshot.Field(FeaturePower)
	assert.True(ok)
	assert.Equal(Bool(true), power)
	assert.Equal(t0, snapshot.LastUpdated())
}

func TestMergeIdempotent(t *testing.T) {
	assert := assert.New(t)

	profile := tp07Profile(t)
	snapshot := NewSnapshot("AB12CD")
	event := StateEvent{
		At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Fields: map[FeatureFlag]Value{
			FeaturePower:    Bool(true),
			FeatureFanSpeed: Int(4),
		},
	}

	snapshot, changed := Merge(profile, snapshot, event)
	assert.Len(changed, 2)

	// applying the same event twice is a no-op the second time
	snapshot, changed = Merge(profile, snapshot, event)
	assert.Empty(changed)
	assert.Equal(2, snapshot.Len())
}

func TestMergeDropsUnsupportedFields(t *testing.T) {
	assert := assert.New(t)

	profile := tp07Profile(t)
	snapshot := NewSnapshot("AB12CD")

	snapshot, changed := Merge(profile, snapshot, StateEvent{
		At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Fields: map[FeatureFlag]Value{
			FeaturePower:    Bool(true),
			FeatureHeatMode: Bool(true),
		},
	})
	assert.Equal([]FeatureFlag{FeaturePower}, changed)
	_, ok := snapshot.Field(FeatureHeatMode)
	assert.False(ok)
}

func TestMergeReturnsNewSnapshot(t *testing.T) {
	assert := assert.New(t)

	profile := tp07Profile(t)
	original := NewSnapshot("AB12CD")

	merged, _ := Merge(profile, original, StateEvent{
		At:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Fields: map[FeatureFlag]Value{FeaturePower: Bool(true)},
	})
	assert.Equal(0, original.Len())
	assert.Equal(1, merged.Len())
}
