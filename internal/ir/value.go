package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Value is a sealed interface over key values.
// Only String, Int and Tuple implement it.
type Value interface {
	keyValue() // Sealed - only these types implement it
}

// String is a string key.
type String string

func (String) keyValue() {}

// Int is an integer key. Always int64, never float.
type Int int64

func (Int) keyValue() {}

// Tuple is an ordered compound key.
type Tuple []Value

func (Tuple) keyValue() {}

// Native converts a key to plain Go values: string, int64 or []any.
func Native(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Tuple:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Native(elem)
		}
		return out
	default:
		return nil
	}
}

// FromAny converts a Go value into a key.
//
// Strings, every integer kind, json.Number and integral float64 values are
// accepted as scalars; []any and []Value become tuples. Anything else is
// round-tripped through encoding/json, so typed keys like [2]string or a
// named string type work too.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a valid key")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return uintKey(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return uintKey(val)
	case float64:
		return floatKey(val)
	case float32:
		return floatKey(float64(val))
	case json.Number:
		return numberKey(val)
	case bool:
		return nil, fmt.Errorf("booleans are not valid keys")
	case []any:
		tuple := make(Tuple, len(val))
		for i, elem := range val {
			k, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("key[%d]: %w", i, err)
			}
			tuple[i] = k
		}
		return tuple, nil
	case map[string]any:
		return nil, fmt.Errorf("objects are not valid keys")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("key of type %T: %w", v, err)
	}
	return Decode(data)
}

// Decode parses JSON into a key. Numbers keep full int64 precision.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if _, isMap := raw.(map[string]any); isMap {
		return nil, fmt.Errorf("objects are not valid keys")
	}
	return FromAny(raw)
}

func uintKey(n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("key %d out of int64 range", n)
	}
	return Int(n), nil
}

func floatKey(f float64) (Value, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("floats are not valid keys: %v", f)
	}
	return Int(int64(f)), nil
}

func numberKey(n json.Number) (Value, error) {
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		return nil, fmt.Errorf("floats are not valid keys: %s", s)
	}
	i, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("key %s out of int64 range", s)
	}
	return Int(i), nil
}
