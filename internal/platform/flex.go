package platform

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes a JSON string or number into a string. Platform APIs
// are inconsistent about whether identifiers are quoted.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// LastPathSegment returns the part of s after the final "/".
func LastPathSegment(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodeMetadata decodes a metadata object. Integers decode as int64 and
// other numbers as float64, so identifiers above 2^53 keep every digit.
func DecodeMetadata(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return normalizeMetadata(m), nil
}

// normalizeMetadata replaces the json.Number values of a map decoded with
// UseNumber.
func normalizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	for k, v := range m {
		m[k] = fromNumber(v)
	}
	return m
}

func fromNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = fromNumber(e)
		}
	case []any:
		for i, e := range t {
			t[i] = fromNumber(e)
		}
	}
	return v
}
