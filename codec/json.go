package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// It covers the snapshot payloads used here (assignment tables, metadata
// records, boundary tags). Values that JSON cannot represent, like channels
// or funcs, are not supported.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
