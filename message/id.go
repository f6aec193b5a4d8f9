package message

import (
	"encoding/json"
	"strconv"
)

// IntID encodes n as a JSON number id.
func IntID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// StringID encodes s as a JSON string id.
func StringID(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// IsNullID reports whether the id is absent or JSON null.
func IsNullID(id json.RawMessage) bool {
	return len(id) == 0 || string(id) == "null"
}

// ParseIntID returns the integer value of a numeric or numeric-string id.
// The second result is false when the id cannot be mapped to an integer.
func ParseIntID(id json.RawMessage) (int64, bool) {
	if IsNullID(id) {
		return 0, false
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// validID accepts strings and numbers. Objects, arrays and booleans are rejected.
func validID(id json.RawMessage) bool {
	switch firstByte(id) {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}
