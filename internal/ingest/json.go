package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"equipguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.ReadingFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap accepts the scoring request shape as well as full readings;
// key matching ignores case.
func ParseJSONMap(obj map[string]any) *normalize.ReadingFields {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	for key, val := range obj {
		assignField(fields, key, stringify(val))
	}
	return fields
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
