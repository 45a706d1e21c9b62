package lambda

import (
	"encoding/json"
	"fmt"
)

// Kind is the JavaScript typeof of a Value.
type Kind string

const (
	KindUndefined Kind = "undefined"
	KindObject    Kind = "object"
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindFunction  Kind = "function"
)

// Value is a JavaScript value carried across the process boundary. JSON holds
// the JSON.stringify text of the value; it is empty for undefined values and
// for values JSON cannot represent.
type Value struct {
	Kind Kind            `json:"kind"`
	JSON json.RawMessage `json:"json,omitempty"`
}

// Undefined is the zero-information value.
var Undefined = Value{Kind: KindUndefined}

// ValueOf encodes a Go value the way the bootstrap encodes JavaScript values.
// nil becomes the JavaScript null.
func ValueOf(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("encode value: %w", err)
	}
	kind := KindObject
	switch v.(type) {
	case string:
		kind = KindString
	case bool:
		kind = KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		kind = KindNumber
	}
	return Value{Kind: kind, JSON: data}, nil
}

// MustValue is ValueOf for values known to be encodable.
func MustValue(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

// IsUndefined reports whether the value was never provided.
func (v Value) IsUndefined() bool {
	return v.Kind == "" || v.Kind == KindUndefined
}

// IsNullish reports whether the value is null or undefined.
func (v Value) IsNullish() bool {
	if v.IsUndefined() {
		return true
	}
	return v.Kind == KindObject && string(v.JSON) == "null"
}

// Format renders the value for log and error messages: objects as JSON text,
// strings raw, everything else as its literal. placeholder is used when the
// value is undefined.
func (v Value) Format(placeholder string) string {
	if v.IsUndefined() {
		return placeholder
	}
	switch v.Kind {
	case KindString:
		var s string
		if err := json.Unmarshal(v.JSON, &s); err == nil {
			return s
		}
	case KindFunction:
		return "[Function]"
	}
	if len(v.JSON) == 0 {
		return placeholder
	}
	return string(v.JSON)
}
