package rawstore

import "encoding/json"

// ParsePayload turns a stored or incoming payload into a decoded JSON
// value. Structured values pass through; strings and byte buffers are
// parsed as JSON, wrapping parse failures as {"_raw": <string>}. Nil
// stays nil.
func ParsePayload(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return parseText(string(val))
	case string:
		return parseText(val)
	default:
		return val
	}
}

func parseText(s string) any {
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{"_raw": s}
	}
	return out
}
