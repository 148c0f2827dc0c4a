package expressions

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Environment keys shared by every engine.
const (
	KeyValues = "values"
	KeyFields = "fields"
	KeyRecord = "record"
)

// BuildEnv assembles the formula environment for one record:
//
//	values: attribute id -> typed value (NUMBER as float64, BOOLEAN as bool, else string)
//	fields: attribute name -> the same typed value
//	record: {"id", "data_model_id"}
//
// NULL values are present with a nil value. Values that do not parse as their
// declared type stay strings. fields only covers attributes known in attrs;
// when two attributes share a name the smaller id wins.
func BuildEnv(recordID, dataModelID string, attrs map[string]*store.Attribute, values map[string]*string) map[string]any {
	typed := make(map[string]any, len(values))
	for id, v := range values {
		if v == nil {
			typed[id] = nil
			continue
		}
		var typ schema.AttributeType
		if a, ok := attrs[id]; ok && a != nil {
			typ = a.Type
		}
		typed[id] = typedValue(typ, *v)
	}
	return map[string]any{
		KeyValues: typed,
		KeyFields: byName(attrs, typed),
		KeyRecord: map[string]any{"id": recordID, "data_model_id": dataModelID},
	}
}

func byName(attrs map[string]*store.Attribute, typed map[string]any) map[string]any {
	ids := make([]string, 0, len(attrs))
	for id, a := range attrs {
		if a != nil && a.Name != "" {
			ids = append(ids, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	fields := make(map[string]any, len(ids))
	for _, id := range ids {
		if v, ok := typed[id]; ok {
			fields[attrs[id].Name] = v
		} else {
			fields[attrs[id].Name] = nil
		}
	}
	return fields
}

func typedValue(typ schema.AttributeType, raw string) any {
	switch typ {
	case schema.AttributeNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return n
		}
	case schema.AttributeBoolean:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return b
		}
	}
	return raw
}

// FormatResult converts an engine result to a stored attribute value.
// nil means no write. Numbers are printed without trailing zeros, bools as
// "true"/"false", strings unchanged and anything else as JSON.
func FormatResult(v any) (*string, error) {
	var s string
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case int32:
		s = strconv.FormatInt(int64(val), 10)
	case uint64:
		s = strconv.FormatUint(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "formula result of type %T is not serializable", v).WithCause(err)
		}
		s = string(b)
	}
	return &s, nil
}

// isIdentifier reports whether key can be referenced as a bare variable.
func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
