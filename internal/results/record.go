// Package results provides the record, table and result set containers
// produced by data sources and consumed by collations and renderers.
package results

import (
	"maps"
	"slices"
)

// Record is a row with a fixed schema.
type Record interface {
	// Keys returns the record schema in a stable order.
	Keys() []string
	// Get returns the value stored under key.
	Get(key string) (any, bool)
}

// MapRecord is the default Record implementation.
type MapRecord struct {
	keys   []string
	values map[string]any
}

// NewRecord creates a record from parallel key and value slices.
// Missing values are nil.
func NewRecord(keys []string, values []any) *MapRecord {
	r := &MapRecord{
		keys:   slices.Clone(keys),
		values: make(map[string]any, len(keys)),
	}
	for i, k := range keys {
		if i < len(values) {
			r.values[k] = values[i]
		} else {
			r.values[k] = nil
		}
	}
	return r
}

// FromMap creates a record whose keys are the sorted keys of m.
func FromMap(m map[string]any) *MapRecord {
	keys := slices.Sorted(maps.Keys(m))
	return &MapRecord{keys: keys, values: maps.Clone(m)}
}

// FromRecord copies any Record into a MapRecord.
func FromRecord(r Record) *MapRecord {
	if mr, ok := r.(*MapRecord); ok {
		return mr.Copy()
	}
	keys := r.Keys()
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i], _ = r.Get(k)
	}
	return NewRecord(keys, values)
}

func (r *MapRecord) Keys() []string { return slices.Clone(r.keys) }

func (r *MapRecord) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Set stores value under key, extending the schema when key is new.
func (r *MapRecord) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Map returns a copy of the record as a map.
func (r *MapRecord) Map() map[string]any {
	return maps.Clone(r.values)
}

// Copy returns an independent copy of r.
func (r *MapRecord) Copy() *MapRecord {
	return &MapRecord{keys: slices.Clone(r.keys), values: maps.Clone(r.values)}
}
