package postgres

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// column is one target column derived from a schema field.
type column struct {
	name      string
	valueType endpoint.ValueType
}

func columnsFor(schema *endpoint.Schema) []column {
	cols := make([]column, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		vt := endpoint.ValueString
		if types := f.NonNullTypes(); len(types) > 0 {
			vt = types[0]
		}
		cols = append(cols, column{name: f.Name, valueType: vt})
	}
	return cols
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func quotedList(cols []column) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c.name}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// sqlType maps a value type onto a Postgres column type.
func sqlType(t endpoint.ValueType) string {
	switch t {
	case endpoint.ValueInteger:
		return "bigint"
	case endpoint.ValueNumber:
		return "double precision"
	case endpoint.ValueBoolean:
		return "boolean"
	case endpoint.ValueDate:
		return "date"
	case endpoint.ValueDateTime:
		return "timestamptz"
	case endpoint.ValueObject, endpoint.ValueArray:
		return "jsonb"
	}
	return "text"
}

func createTableSQL(table pgx.Identifier, cols []column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c.name}.Sanitize() + " " + sqlType(c.valueType)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
}

func addColumnSQL(table pgx.Identifier, c column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table.Sanitize(), pgx.Identifier{c.name}.Sanitize(), sqlType(c.valueType))
}

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// stageName builds an identifier within the 63 byte limit.
func stageName(slug, suffix string) string {
	clean := unsafeIdent.ReplaceAllString(strings.ToLower(slug), "_")
	if len(clean) > 40 {
		clean = clean[:40]
	}
	return "_ucl_stage_" + clean + "_" + suffix
}

// rowValues converts a record into COPY values in column order.
func rowValues(cols []column, rec endpoint.Record) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		v, err := convert(c.valueType, rec[c.name])
		if err != nil {
			return nil, &Error{Code: CodeValue, Err: fmt.Errorf("column %s: %w", c.name, err)}
		}
		row[i] = v
	}
	return row, nil
}

func convert(t endpoint.ValueType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case endpoint.ValueInteger:
		return toInt64(v)
	case endpoint.ValueNumber:
		return toFloat64(v)
	case endpoint.ValueBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case endpoint.ValueDate:
		return toTime(v, "2006-01-02")
	case endpoint.ValueDateTime:
		return toTime(v, time.RFC3339Nano)
	case endpoint.ValueObject, endpoint.ValueArray:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		case map[string]any, []any:
			b, err := json.Marshal(s)
			return string(b), err
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not integral", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot store %T as integer", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("cannot store %T as number", v)
}

func toTime(v any, layout string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(layout, t)
	}
	return time.Time{}, fmt.Errorf("cannot store %T as time", v)
}
