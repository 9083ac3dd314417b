package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Loose field types accept the shapes models commonly emit instead of the
// requested one. They never fail a decode: a value that cannot be coerced
// leaves the zero value, so one odd field does not discard the whole reply.

// LooseFloat decodes a JSON number, a quoted number ("0.9") or a quoted
// percentage ("90%", scaled to 0.9).
type LooseFloat float64

func (f *LooseFloat) UnmarshalJSON(data []byte) error {
	*f = LooseFloat(SafeFloat(data, 0))
	return nil
}

// LooseString decodes a string, or the literal text of a number or bool.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	*s = LooseString(SafeString(data, ""))
	return nil
}

// LooseStrings decodes an array of scalars or a single comma-separated string.
type LooseStrings []string

func (s *LooseStrings) UnmarshalJSON(data []byte) error {
	*s = nil
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		for _, r := range raw {
			if v := SafeString(r, ""); v != "" {
				*s = append(*s, v)
			}
		}
		return nil
	}
	for _, part := range strings.Split(SafeString(data, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// boxKeys names the positional values of an [x, y, width, height] array.
var boxKeys = [...]string{"x", "y", "width", "height"}

// LooseBox decodes a bounding box given either as an object of numbers
// (quoted values allowed) or as an [x, y, width, height] array.
type LooseBox map[string]float64

func (b *LooseBox) UnmarshalJSON(data []byte) error {
	*b = nil
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		box := LooseBox{}
		for k, v := range obj {
			if f, ok := parseFloat(v); ok {
				box[k] = f
			}
		}
		if len(box) > 0 {
			*b = box
		}
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) == len(boxKeys) {
		box := LooseBox{}
		for i, v := range arr {
			f, ok := parseFloat(v)
			if !ok {
				return nil
			}
			box[boxKeys[i]] = f
		}
		*b = box
	}
	return nil
}

// SafeFloat coerces a raw JSON value into a float, returning fallback when
// it holds no usable number.
func SafeFloat(raw json.RawMessage, fallback float64) float64 {
	if f, ok := parseFloat(raw); ok {
		return f
	}
	return fallback
}

// SafeString coerces a raw JSON scalar into trimmed text, returning fallback
// for null, empty strings, objects and arrays.
func SafeString(raw json.RawMessage, fallback string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return fallback
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return fmt.Sprint(v)
	}
	return fallback
}

func parseFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}
