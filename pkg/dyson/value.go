package dyson

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ValueKind int

const (
	KindBool ValueKind = iota
	KindInt
	KindEnum
)

// Value is a typed field value. Fields on the wire are strings; Value keeps
// the normalized form so encode/decode round-trips exactly.
type Value struct {
	kind ValueKind
	b    bool
	i    int
	s    string
}

func Bool(v bool) Value   { return Value{kind: KindBool, b: v} }
func Int(v int) Value     { return Value{kind: KindInt, i: v} }
func Enum(v string) Value { return Value{kind: KindEnum, s: v} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) AsBool() bool    { return v.b }
func (v Value) AsInt() int      { return v.i }
func (v Value) AsEnum() string  { return v.s }

func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.b == other.b && v.i == other.i && v.s == other.s
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.Itoa(v.i)
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	default:
		return json.Marshal(v.s)
	}
}

// ParseValue converts an external representation (HTTP API, MQTT command
// payload) into a Value of the feature's kind.
func ParseValue(spec FeatureSpec, raw string) (Value, error) {
	switch spec.Kind {
	case KindBool:
		switch raw {
		case "true", "on", "ON", "1":
			return Bool(true), nil
		case "false", "off", "OFF", "0":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrValueOutOfRange, raw)
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrValueOutOfRange, raw)
		}
		return Int(n), nil
	default:
		return Enum(raw), nil
	}
}
