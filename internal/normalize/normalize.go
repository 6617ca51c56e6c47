// Package normalize produces the canonical byte representation of a
// Message (spec.md §4.1): stable key order, volatile fields stripped, no
// insignificant whitespace, numbers in their shortest round-trip form.
//
// Canonicalization is what makes small per-topic dictionaries effective —
// any non-determinism in key order, whitespace, or number formatting
// directly erodes the compression ratio the Compressor can achieve.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pilot-net/edgecompress/internal/errs"
)

// VolatileSet is the per-topic set of keys stripped before serialization
// (e.g. trace identifiers that would otherwise defeat the dictionary).
type VolatileSet map[string]struct{}

// NewVolatileSet builds a VolatileSet from a list of keys.
func NewVolatileSet(keys ...string) VolatileSet {
	vs := make(VolatileSet, len(keys))
	for _, k := range keys {
		vs[k] = struct{}{}
	}
	return vs
}

// Canonicalize renders msg's fields as deterministic UTF-8 JSON: keys sorted
// lexicographically at every level, volatile keys removed, no trailing or
// leading whitespace. Decoding the result yields a Message equal to msg
// modulo the removed volatile keys.
func Canonicalize(fields map[string]any, volatile VolatileSet) ([]byte, error) {
	cleaned := stripVolatile(fields, volatile)
	v, err := canonicalValue(cleaned)
	if err != nil {
		return nil, errs.New(errs.BadMessage, "normalize", err)
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, errs.New(errs.BadMessage, "normalize", err)
	}
	return buf.Bytes(), nil
}

func stripVolatile(fields map[string]any, volatile VolatileSet) map[string]any {
	if len(volatile) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, drop := volatile[k]; drop {
			continue
		}
		out[k] = v
	}
	return out
}

// canonicalValue round-trips v through encoding/json so that any
// JSON-incompatible input (channels, funcs, cyclic structures) surfaces as
// a BadMessage rather than panicking deep inside writeValue.
func canonicalValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("input is not JSON-compatible: %w", err)
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("re-decoding input: %w", err)
	}
	return decoded, nil
}

// writeValue serializes v with sorted object keys and no insignificant
// whitespace. json.Number values are written verbatim, which gives the
// "shortest round-trip form" spec.md §3 asks for: encoding/json already
// produces the shortest representation that round-trips, and re-parsing
// with UseNumber preserves it unchanged instead of reformatting through
// float64.
func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}
	return nil
}
