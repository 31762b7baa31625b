package endpoint

import (
	"strconv"
	"strings"
)

// Record represents a single data record as key-value pairs.
type Record = map[string]any

// Iterator provides streaming access to records.
type Iterator[T any] interface {
	// Next advances to the next record. Returns false when done or on error.
	Next() bool

	// Value returns the current record. Only valid after Next() returns true.
	Value() T

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources. Must be called when done.
	Close() error
}

// BytesReporter is implemented by iterators that know how many raw bytes
// they consumed. The record reader samples it to drive byte progress.
type BytesReporter interface {
	BytesRead() int64
}

// RecordContext is the unit flowing through a sync pipeline.
type RecordContext struct {
	Record     Record
	SchemaSlug string
	Offset     *int64

	// Filled by the record reader so the state tap knows which stream a
	// record belongs to. Sources may leave them empty.
	StreamSetSlug string
	StreamName    string
}

// Int64 returns a pointer to v. Handy for building RecordContext offsets.
func Int64(v int64) *int64 { return &v }

// --- Update semantics ---

// UpdateMethod governs whether a sink replaces or appends.
type UpdateMethod string

const (
	UpdateMethodBatchFullSet UpdateMethod = "BATCH_FULL_SET"
	UpdateMethodAppendOnly   UpdateMethod = "APPEND_ONLY_LOG"
)

// StreamSetProcessingMethod describes how a sink groups streams.
type StreamSetProcessingMethod string

const (
	ProcessPerStreamSet StreamSetProcessingMethod = "PER_STREAM_SET"
	ProcessPerStream    StreamSetProcessingMethod = "PER_STREAM"
)

// SupportedStreamOptions is what a sink can accept for the current run.
type SupportedStreamOptions struct {
	UpdateMethods              []UpdateMethod
	StreamSetProcessingMethods []StreamSetProcessingMethod
}

// --- Schema types ---

// ValueType is the observed JSON-ish type of a property value.
type ValueType string

const (
	ValueString   ValueType = "string"
	ValueInteger  ValueType = "integer"
	ValueNumber   ValueType = "number"
	ValueBoolean  ValueType = "boolean"
	ValueDate     ValueType = "date"
	ValueDateTime ValueType = "date-time"
	ValueObject   ValueType = "object"
	ValueArray    ValueType = "array"
	ValueNull     ValueType = "null"
)

// Schema describes one record shape within a package.
type Schema struct {
	Slug   string
	Title  string
	Fields []*FieldDefinition
}

// Field returns the named field definition, or nil.
func (s *Schema) Field(name string) *FieldDefinition {
	if s == nil {
		return nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Slug: s.Slug, Title: s.Title, Fields: make([]*FieldDefinition, 0, len(s.Fields))}
	for _, f := range s.Fields {
		cp := *f
		cp.Types = append([]ValueType(nil), f.Types...)
		out.Fields = append(out.Fields, &cp)
	}
	return out
}

// FieldDefinition lists every value type observed for a property.
type FieldDefinition struct {
	Name     string
	Title    string
	Types    []ValueType
	Format   string
	Position int
}

// Nullable reports whether null was observed for the field.
func (f *FieldDefinition) Nullable() bool {
	for _, t := range f.Types {
		if t == ValueNull {
			return true
		}
	}
	return false
}

// NonNullTypes returns the observed types excluding null.
func (f *FieldDefinition) NonNullTypes() []ValueType {
	out := make([]ValueType, 0, len(f.Types))
	for _, t := range f.Types {
		if t != ValueNull {
			out = append(out, t)
		}
	}
	return out
}

// PackageFile is the set of schemas a sync moves.
type PackageFile struct {
	CatalogSlug string
	PackageSlug string
	Version     string
	Schemas     []*Schema
}

// MajorVersion parses the leading component of a semver-like version.
func (p *PackageFile) MajorVersion() int {
	if p == nil {
		return 0
	}
	head, _, _ := strings.Cut(strings.TrimPrefix(p.Version, "v"), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return major
}

// Schema returns the schema with the given slug, or nil.
func (p *PackageFile) Schema(slug string) *Schema {
	if p == nil {
		return nil
	}
	for _, s := range p.Schemas {
		if s.Slug == slug {
			return s
		}
	}
	return nil
}

// StateKey builds the key sink state is stored under for this package.
func (p *PackageFile) StateKey() SinkStateKey {
	return SinkStateKey{
		CatalogSlug:         p.CatalogSlug,
		PackageSlug:         p.PackageSlug,
		PackageMajorVersion: p.MajorVersion(),
	}
}

// --- Connector configuration ---

// ConnectorConfig groups the three loose configuration objects every
// connector receives.
type ConnectorConfig struct {
	Connection    map[string]any
	Credentials   map[string]any
	Configuration map[string]any
}

// Lookup returns the first value found for key, searching configuration,
// then connection, then credentials.
func (c *ConnectorConfig) Lookup(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	for _, m := range []map[string]any{c.Configuration, c.Connection, c.Credentials} {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// ValidationResult reports whether a configuration is usable.
type ValidationResult struct {
	Valid     bool
	Message   string
	Code      string
	Retryable bool
}
