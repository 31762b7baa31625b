package schema

import (
	"fmt"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

type fieldOp struct {
	field  string
	option DeconflictOption
	split  []endpoint.ValueType
}

// Apply rewrites a copy of s according to choices and returns the transform
// that reshapes records to match. The transform is nil when no choice
// applies to s.
func Apply(s *endpoint.Schema, choices map[string]DeconflictOption) (*endpoint.Schema, endpoint.Transform, error) {
	out := s.Clone()
	if len(choices) == 0 {
		return out, nil, nil
	}

	var ops []fieldOp
	fields := make([]*endpoint.FieldDefinition, 0, len(out.Fields))
	for _, f := range out.Fields {
		option, ok := choices[f.Name]
		if !ok {
			fields = append(fields, f)
			continue
		}
		if !option.Valid() {
			return nil, nil, fmt.Errorf("schema %s field %s: unknown deconflict option %q", s.Slug, f.Name, option)
		}
		ops = append(ops, fieldOp{field: f.Name, option: option, split: effectiveTypes(f.Types)})

		switch option {
		case Skip:
		case SplitColumns:
			for _, t := range effectiveTypes(f.Types) {
				fields = append(fields, &endpoint.FieldDefinition{
					Name:  splitName(f.Name, t),
					Title: splitName(f.Name, t),
					Types: []endpoint.ValueType{t, endpoint.ValueNull},
				})
			}
		case CastToNull:
			f.Types = []endpoint.ValueType{endpoint.ValueNull}
			fields = append(fields, f)
		default:
			f.Types = []endpoint.ValueType{castTarget(option), endpoint.ValueNull}
			fields = append(fields, f)
		}
	}
	for i, f := range fields {
		f.Position = i
	}
	out.Fields = fields

	if len(ops) == 0 {
		return out, nil, nil
	}
	return out, deconflictTransform(ops), nil
}

func deconflictTransform(ops []fieldOp) endpoint.Transform {
	return func(rc endpoint.RecordContext) ([]endpoint.RecordContext, error) {
		rec := make(endpoint.Record, len(rc.Record))
		for k, v := range rc.Record {
			rec[k] = v
		}
		for _, op := range ops {
			v, present := rec[op.field]
			switch op.option {
			case Skip:
				delete(rec, op.field)
			case SplitColumns:
				delete(rec, op.field)
				if present && v != nil {
					rec[splitName(op.field, splitColumn(op.split, TypeOf(v)))] = v
				}
			default:
				if !present {
					continue
				}
				cast, err := Cast(op.option, v)
				if err != nil {
					return nil, err
				}
				rec[op.field] = cast
			}
		}
		rc.Record = rec
		return []endpoint.RecordContext{rc}, nil
	}
}

// splitColumn maps a value's type onto one of the split columns. Folded
// types land in their wider column.
func splitColumn(columns []endpoint.ValueType, t endpoint.ValueType) endpoint.ValueType {
	if hasType(columns, t) {
		return t
	}
	switch t {
	case endpoint.ValueInteger:
		return endpoint.ValueNumber
	case endpoint.ValueDate:
		return endpoint.ValueDateTime
	}
	return endpoint.ValueString
}

func splitName(field string, t endpoint.ValueType) string {
	return field + "_" + string(t)
}

func castTarget(o DeconflictOption) endpoint.ValueType {
	switch o {
	case CastToNumber:
		return endpoint.ValueNumber
	case CastToInteger:
		return endpoint.ValueInteger
	case CastToBoolean:
		return endpoint.ValueBoolean
	case CastToDate:
		return endpoint.ValueDate
	case CastToDateTime:
		return endpoint.ValueDateTime
	default:
		return endpoint.ValueString
	}
}
