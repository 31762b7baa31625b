package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// DeconflictOption is the representation chosen for a conflicted field.
type DeconflictOption string

const (
	CastToString   DeconflictOption = "CAST_TO_STRING"
	CastToNumber   DeconflictOption = "CAST_TO_NUMBER"
	CastToInteger  DeconflictOption = "CAST_TO_INTEGER"
	CastToBoolean  DeconflictOption = "CAST_TO_BOOLEAN"
	CastToDate     DeconflictOption = "CAST_TO_DATE"
	CastToDateTime DeconflictOption = "CAST_TO_DATE_TIME"
	CastToNull     DeconflictOption = "CAST_TO_NULL"
	SplitColumns   DeconflictOption = "SPLIT_COLUMNS"
	Skip           DeconflictOption = "SKIP"
)

// ConfigKey is the sink configuration key deconfliction choices are
// stored under: {schemaSlug: {field: option}}.
const ConfigKey = "deconflictOptions"

// Valid reports whether o is a known option.
func (o DeconflictOption) Valid() bool {
	switch o {
	case CastToString, CastToNumber, CastToInteger, CastToBoolean, CastToDate,
		CastToDateTime, CastToNull, SplitColumns, Skip:
		return true
	}
	return false
}

// Conflict is a field observed with more than one incompatible type.
type Conflict struct {
	SchemaSlug string
	Field      string
	Types      []endpoint.ValueType
	Options    []DeconflictOption
	Suggested  DeconflictOption
}

// ParameterName is the prompt parameter name used for this conflict.
func (c Conflict) ParameterName() string {
	return c.SchemaSlug + "." + c.Field
}

// Message is a human readable prompt for the conflict.
func (c Conflict) Message() string {
	types := make([]string, len(c.Types))
	for i, t := range c.Types {
		types[i] = string(t)
	}
	return fmt.Sprintf("Property %q of schema %q has values of types %s. How should it be written?",
		c.Field, c.SchemaSlug, strings.Join(types, ", "))
}

// FindConflicts scans every schema and returns conflicted fields in schema
// then field order.
func FindConflicts(schemas []*endpoint.Schema) []Conflict {
	var out []Conflict
	for _, s := range schemas {
		if s == nil {
			continue
		}
		for _, f := range s.Fields {
			types := effectiveTypes(f.Types)
			if len(types) < 2 {
				continue
			}
			out = append(out, Conflict{
				SchemaSlug: s.Slug,
				Field:      f.Name,
				Types:      types,
				Options:    optionsFor(types),
				Suggested:  suggest(types),
			})
		}
	}
	return out
}

// effectiveTypes drops null and folds compatible pairs: integer into
// number, date into date-time.
func effectiveTypes(types []endpoint.ValueType) []endpoint.ValueType {
	set := map[endpoint.ValueType]struct{}{}
	for _, t := range types {
		if t == endpoint.ValueNull {
			continue
		}
		set[t] = struct{}{}
	}
	if _, ok := set[endpoint.ValueNumber]; ok {
		delete(set, endpoint.ValueInteger)
	}
	if _, ok := set[endpoint.ValueDateTime]; ok {
		delete(set, endpoint.ValueDate)
	}
	out := make([]endpoint.ValueType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func optionsFor(types []endpoint.ValueType) []DeconflictOption {
	opts := []DeconflictOption{CastToString}
	if subset(types, endpoint.ValueInteger, endpoint.ValueNumber, endpoint.ValueString, endpoint.ValueBoolean) {
		opts = append(opts, CastToNumber, CastToInteger)
	}
	if subset(types, endpoint.ValueBoolean, endpoint.ValueString, endpoint.ValueInteger, endpoint.ValueNumber) {
		opts = append(opts, CastToBoolean)
	}
	if subset(types, endpoint.ValueString, endpoint.ValueDate, endpoint.ValueDateTime) {
		opts = append(opts, CastToDate, CastToDateTime)
	}
	return append(opts, SplitColumns, CastToNull, Skip)
}

func suggest(types []endpoint.ValueType) DeconflictOption {
	if subset(types, endpoint.ValueInteger, endpoint.ValueNumber, endpoint.ValueBoolean) {
		return CastToNumber
	}
	return CastToString
}

func subset(types []endpoint.ValueType, allowed ...endpoint.ValueType) bool {
	for _, t := range types {
		if !hasType(allowed, t) {
			return false
		}
	}
	return true
}

// Choices maps schema slug to field name to the chosen option.
type Choices map[string]map[string]DeconflictOption

// Get returns the choice for a field.
func (c Choices) Get(schemaSlug, field string) (DeconflictOption, bool) {
	if c == nil {
		return "", false
	}
	o, ok := c[schemaSlug][field]
	return o, ok
}

// Set records a choice.
func (c Choices) Set(schemaSlug, field string, o DeconflictOption) {
	if c[schemaSlug] == nil {
		c[schemaSlug] = map[string]DeconflictOption{}
	}
	c[schemaSlug][field] = o
}

// ToConfig renders choices as loose configuration.
func (c Choices) ToConfig() map[string]any {
	out := make(map[string]any, len(c))
	for slug, fields := range c {
		m := make(map[string]any, len(fields))
		for f, o := range fields {
			m[f] = string(o)
		}
		out[slug] = m
	}
	return out
}

// ChoicesFromConfig reads previously stored choices. Unknown options are
// reported as errors.
func ChoicesFromConfig(cfg map[string]any) (Choices, error) {
	out := Choices{}
	raw, ok := cfg[ConfigKey].(map[string]any)
	if !ok {
		return out, nil
	}
	for slug, v := range raw {
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s.%s: expected an object", ConfigKey, slug)
		}
		for field, ov := range fields {
			o := DeconflictOption(fmt.Sprint(ov))
			if !o.Valid() {
				return nil, fmt.Errorf("%s.%s.%s: unknown option %q", ConfigKey, slug, field, o)
			}
			out.Set(slug, field, o)
		}
	}
	return out, nil
}
