// Package schema detects value-type conflicts across a package's schemas and
// rewrites schemas plus records so strongly typed sinks see one type per field.
package schema

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// TypeOf returns the value type of a decoded record value.
func TypeOf(v any) endpoint.ValueType {
	switch t := v.(type) {
	case nil:
		return endpoint.ValueNull
	case string:
		return endpoint.ValueString
	case bool:
		return endpoint.ValueBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return endpoint.ValueInteger
	case float32:
		return floatType(float64(t))
	case float64:
		return floatType(t)
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return endpoint.ValueInteger
		}
		return endpoint.ValueNumber
	case time.Time:
		return endpoint.ValueDateTime
	case map[string]any:
		return endpoint.ValueObject
	case []any:
		return endpoint.ValueArray
	default:
		return endpoint.ValueString
	}
}

func floatType(f float64) endpoint.ValueType {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return endpoint.ValueInteger
	}
	return endpoint.ValueNumber
}

// Observe widens schema with the types seen in record. New fields are
// appended in first-seen order.
func Observe(s *endpoint.Schema, record endpoint.Record) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seenBefore := len(s.Fields) > 0
	for _, k := range keys {
		vt := TypeOf(record[k])
		field := s.Field(k)
		if field == nil {
			field = &endpoint.FieldDefinition{Name: k, Position: len(s.Fields)}
			// Earlier records did not carry it.
			if seenBefore {
				field.Types = append(field.Types, endpoint.ValueNull)
			}
			s.Fields = append(s.Fields, field)
		}
		if !hasType(field.Types, vt) {
			field.Types = append(field.Types, vt)
		}
	}
	// Fields absent from this record are implicitly null.
	for _, f := range s.Fields {
		if _, ok := record[f.Name]; !ok && !hasType(f.Types, endpoint.ValueNull) {
			f.Types = append(f.Types, endpoint.ValueNull)
		}
	}
}

// Infer builds a schema from sample records.
func Infer(slug string, records []endpoint.Record) *endpoint.Schema {
	s := &endpoint.Schema{Slug: slug, Title: slug}
	for _, rec := range records {
		Observe(s, rec)
	}
	return s
}

func hasType(types []endpoint.ValueType, vt endpoint.ValueType) bool {
	for _, t := range types {
		if t == vt {
			return true
		}
	}
	return false
}
