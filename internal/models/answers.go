package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SkipMarker is the stored value for a question the subject declined to answer.
type SkipMarker struct {
	Skipped bool `json:"skipped"`
}

// Skipped is the skip sentinel stored in Answers.
var Skipped = SkipMarker{Skipped: true}

// IsSkipped reports whether v is the skip sentinel.
func IsSkipped(v any) bool {
	m, ok := v.(SkipMarker)
	return ok && m.Skipped
}

// Answers maps a catalog field name to its normalized value.
// Values are string, bool, int, []string or Skipped.
type Answers map[string]any

// Clone returns a deep copy of the answer map.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Has reports whether fieldName has been answered or skipped.
func (a Answers) Has(fieldName string) bool {
	v, ok := a[fieldName]
	return ok && v != nil
}

// String returns the textual form of an answer, or "" when absent or skipped.
func (a Answers) String(fieldName string) string {
	v, ok := a[fieldName]
	if !ok {
		return ""
	}
	return RenderAnswer(v)
}

// Bool returns a boolean answer and whether it was present as a boolean.
func (a Answers) Bool(fieldName string) (bool, bool) {
	b, ok := a[fieldName].(bool)
	return b, ok
}

// CountSkipped returns how many answers hold the skip sentinel.
func (a Answers) CountSkipped() int {
	n := 0
	for _, v := range a {
		if IsSkipped(v) {
			n++
		}
	}
	return n
}

// RenderAnswer formats a stored value for humans and external systems.
// Skipped and nil values render as "".
func RenderAnswer(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case SkipMarker:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case int:
		return strconv.Itoa(val)
	case []string:
		return strings.Join(val, ", ")
	default:
		return fmt.Sprint(val)
	}
}

// UnmarshalJSON restores typed values from a checkpoint. Numbers become int,
// string arrays become []string and {"skipped":true} becomes Skipped.
// Null entries are dropped.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Answers, len(raw))
	for k, msg := range raw {
		v, err := decodeAnswer(msg)
		if err != nil {
			return fmt.Errorf("answer %q: %w", k, err)
		}
		if v != nil {
			out[k] = v
		}
	}
	*a = out
	return nil
}

func decodeAnswer(msg json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		err := json.Unmarshal(trimmed, &s)
		return s, err
	case 't', 'f':
		var b bool
		err := json.Unmarshal(trimmed, &b)
		return b, err
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		if list == nil {
			list = []string{}
		}
		return list, nil
	case '{':
		var m SkipMarker
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		if !m.Skipped {
			return nil, nil
		}
		return Skipped, nil
	default:
		n, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return nil, err
		}
		if n == float64(int(n)) {
			return int(n), nil
		}
		return n, nil
	}
}
