package values

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Decode unmarshals a create argument, view or exercise result into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("empty value")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// OptionalText returns the string behind a Daml Optional Text, which the
// JSON API renders as either null or the bare text.
func OptionalText(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Int64 decodes a Daml Int, which the JSON API renders as a string, while
// also accepting bare numbers and null.
type Int64 int64

func (i *Int64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", s, err)
	}
	*i = Int64(v)
	return nil
}

// MarshalJSON renders the value as a string.
func (i Int64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(i), 10))
}
