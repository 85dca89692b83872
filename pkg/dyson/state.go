package dyson

import (
	"time"
)

type fieldState struct {
	value     Value
	updatedAt time.Time
}

// Snapshot is the merged view of a device's observable state. Value
// semantics: Merge returns a new Snapshot, callers can hand out copies
// freely. Per the capability invariant, a snapshot never contains a field
// absent from the device's profile.
type Snapshot struct {
	Serial      string
	fields      map[FeatureFlag]fieldState
	lastUpdated time.Time
}

func NewSnapshot(serial string) Snapshot {
	return Snapshot{
		Serial: serial,
		fields: make(map[FeatureFlag]fieldState),
	}
}

// Field returns a field's current value.
func (s Snapshot) Field(flag FeatureFlag) (Value, bool) {
	fs, ok := s.fields[flag]
	return fs.value, ok
}

// Fields returns a copy of all current field values.
func (s Snapshot) Fields() map[FeatureFlag]Value {
	out := make(map[FeatureFlag]Value, len(s.fields))
	for flag, fs := range s.fields {
		out[flag] = fs.value
	}
	return out
}

func (s Snapshot) LastUpdated() time.Time { return s.lastUpdated }

func (s Snapshot) Len() int { return len(s.fields) }

// Merge applies a decoded event, returning the updated snapshot and the set
// of fields whose value actually changed. Merge is monotonic per field: an
// event older than a field's last update never changes it, which guards
// against out-of-order delivery. Applying the same event twice is a no-op
// the second time.
func Merge(profile CapabilityProfile, snapshot Snapshot, event Event) (Snapshot, []FeatureFlag) {
	merged := Snapshot{
		Serial:      snapshot.Serial,
		fields:      make(map[FeatureFlag]fieldState, len(snapshot.fields)),
		lastUpdated: snapshot.lastUpdated,
	}
	for flag, fs := range snapshot.fields {
		merged.fields[flag] = fs
	}

	at := event.EventTime()
	var changed []FeatureFlag
	for flag, value := range event.FieldValues() {
		if !profile.Supports(flag) {
			continue
		}
		current, exists := merged.fields[flag]
		if exists && at.Before(current.updatedAt) {
			continue
		}
		if !exists || !current.value.Equal(value) {
			changed = append(changed, flag)
		}
		merged.fields[flag] = fieldState{value: value, updatedAt: at}
	}
	if at.After(merged.lastUpdated) {
		merged.lastUpdated = at
	}
	return merged, changed
}
