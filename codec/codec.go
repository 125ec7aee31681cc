// Package codec centralizes payload encoding for persisted state.
//
// Codec selection is a breaking-change boundary: snapshots written by one
// codec may no longer decode after switching. Persisted formats therefore
// store the codec name in their header and select the codec by name on load.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used for newly written snapshots. Existing files are
// self-describing and are opened with the codec named in their header.
var Default Codec = JSON{}
