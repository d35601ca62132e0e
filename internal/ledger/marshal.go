package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// marshalStrings stores a string list as a JSON array; nil becomes "[]"
// so the column is never NULL.
func marshalStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(b), nil
}

// unmarshalStrings is the inverse of marshalStrings. An empty array decodes
// to nil so round-trips compare equal to unset fields.
func unmarshalStrings(s string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
