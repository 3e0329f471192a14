// Package record defines the structured log record that flows once
// through the pipeline: an order-preserving mapping from string keys to
// null/boolean/integer/floating/string/nested-map/sequence values, plus
// the Bindings fragment a logger instance merges into every record it
// emits.
//
// A plain Go map cannot satisfy the spec's "insertion order of metadata
// keys must be preserved through the pipeline" requirement — map
// iteration order is not insertion order. Map and Bindings are therefore
// backed by an ordered slice of key/value pairs with an index for O(1)
// lookup, the same shape the teacher's LabelsCOW used for its label set.
package record

import (
	"bytes"
	"encoding/json"
)

// Field is one caller-supplied key/value pair. Field, not a map literal,
// is how callers attach metadata to a log call, because argument order
// is the only order Go guarantees to preserve.
type Field struct {
	Key   string
	Value any
}

// F constructs a Field. Typical use: logger.Info("login", record.F("userId", 42)).
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Reserved keys are always present after assembly (spec §3).
const (
	KeyLevel     = "level"
	KeyTimestamp = "timestamp"
	KeyService   = "service"
	KeyMessage   = "message"
)

// Map is an order-preserving string-keyed record. The zero value is an
// empty, ready-to-use Map.
type Map struct {
	keys  []string
	index map[string]int
	vals  []any
}

// NewMap builds a Map from an ordered list of fields.
func NewMap(fields ...Field) *Map {
	m := &Map{}
	for _, f := range fields {
		m.Set(f.Key, f.Value)
	}
	return m
}

// Set inserts or overwrites a key. Overwriting an existing key keeps its
// original position — this is what lets bindings/context/metadata overlay
// in §4.7's assembly order while preserving first-seen insertion order for
// keys that never collide.
func (m *Map) Set(key string, value any) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.vals[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, value)
}

// Get returns the value stored at key and whether it was present.
func (m *Map) Get(key string) (any, bool) {
	if m == nil || m.index == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.vals[i], true
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the keys in insertion order. The returned slice must not
// be mutated by the caller.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone returns a deep-enough copy: the key/value slices are copied, but
// nested *Map/[]any values are not recursively cloned (the masking and
// sanitization engines build fresh trees rather than mutate shared ones).
func (m *Map) Clone() *Map {
	if m == nil {
		return NewMap()
	}
	out := &Map{
		keys:  append([]string(nil), m.keys...),
		vals:  append([]any(nil), m.vals...),
		index: make(map[string]int, len(m.index)),
	}
	for k, v := range m.index {
		out.index[k] = v
	}
	return out
}

// Merge overlays other onto m: keys in other override m's values at the
// same key, preserving m's position for collisions and appending new
// keys from other in their relative order. This implements the override
// rules in spec §3/§4.7 (context overrides bindings, explicit call
// metadata overrides both).
func (m *Map) Merge(other *Map) *Map {
	out := m.Clone()
	if other == nil {
		return out
	}
	for _, k := range other.keys {
		v, _ := other.Get(k)
		out.Set(k, v)
	}
	return out
}

// MarshalJSON renders the map as a single JSON object preserving
// insertion order, which encoding/json's map support cannot do on its
// own (it sorts map[string]any keys alphabetically).
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v, _ := m.Get(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
