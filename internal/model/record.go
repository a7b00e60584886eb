package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names a synced record collection
type Table string

const (
	TableTasks    Table = "tasks"
	TableMessages Table = "messages"
	TableUsers    Table = "users"
)

// Tables lists every cached collection in pull order
var Tables = []Table{TableTasks, TableMessages, TableUsers}

// Valid reports whether t is a known collection
func (t Table) Valid() bool {
	switch t {
	case TableTasks, TableMessages, TableUsers:
		return true
	}
	return false
}

// Queueable reports whether mutations on t go through the sync queue
func (t Table) Queueable() bool {
	return t == TableTasks || t == TableMessages
}

// ParseTable converts a string to a Table
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown table %q", s)
	}
	return t, nil
}

// Record is an opaque JSON document. Only "id" (and "synced" on messages)
// is interpreted by the sync engine.
type Record map[string]any

// ID returns the record id, or "" when missing or not a string
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Validate checks the record has a usable id
func (r Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.ID() == "" {
		return fmt.Errorf("record has no id")
	}
	return nil
}

// Clone returns a shallow copy
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every key of patch applied on top.
// Nested objects are replaced, not deep-merged.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Without returns a copy of r without the given keys
func (r Record) Without(keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// String returns a string field or ""
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns a boolean field; ok is false when the field is absent
// or not a boolean
func (r Record) Bool(key string) (value bool, ok bool) {
	value, ok = r[key].(bool)
	return value, ok
}

// Int returns a numeric field as int
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Time parses an RFC 3339 field; the zero time is returned when it is
// missing or malformed
func (r Record) Time(key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.String(key))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Marshal encodes the record as JSON
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a JSON object into a Record
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("failed to decode record: not an object")
	}
	return r, nil
}

// toRecord converts a typed struct to a Record through its JSON form
func toRecord(v any) Record {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}
	}
	r, err := UnmarshalRecord(data)
	if err != nil {
		return Record{}
	}
	return r
}

// fromRecord decodes a Record into a typed struct through its JSON form
func fromRecord(r Record, v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Timestamp formats t the way records store times
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
