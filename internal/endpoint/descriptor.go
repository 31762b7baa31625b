package endpoint

import (
	"fmt"
	"strings"
)

// FieldScope says which configuration object a field lives in.
type FieldScope string

const (
	ScopeConnection    FieldScope = "connection"
	ScopeCredentials   FieldScope = "credentials"
	ScopeConfiguration FieldScope = "configuration"
)

// Descriptor provides metadata about a connector template.
type Descriptor struct {
	ID          string
	Family      string
	Title       string
	Description string
	Fields      []*FieldDescriptor
}

// FieldDescriptor defines a configuration field.
type FieldDescriptor struct {
	Key          string
	Label        string
	ValueType    string // "string", "integer", "boolean", "password", "list"
	Scope        FieldScope
	Required     bool
	Sensitive    bool
	Description  string
	DefaultValue string
}

// MissingFieldsError lists required fields absent from a configuration.
type MissingFieldsError struct {
	Template string
	Fields   []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Template, strings.Join(e.Fields, ", "))
}

// Validate checks that every required field is present in its scope.
func (d *Descriptor) Validate(cfg *ConnectorConfig) error {
	if d == nil {
		return nil
	}
	if cfg == nil {
		cfg = &ConnectorConfig{}
	}
	var missing []string
	for _, f := range d.Fields {
		if !f.Required {
			continue
		}
		var scope map[string]any
		switch f.Scope {
		case ScopeCredentials:
			scope = cfg.Credentials
		case ScopeConfiguration:
			scope = cfg.Configuration
		default:
			scope = cfg.Connection
		}
		v, ok := scope[f.Key]
		if !ok || v == nil {
			missing = append(missing, string(f.scope())+"."+f.Key)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, string(f.scope())+"."+f.Key)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Template: d.ID, Fields: missing}
	}
	return nil
}

func (f *FieldDescriptor) scope() FieldScope {
	if f.Scope == "" {
		return ScopeConnection
	}
	return f.Scope
}
