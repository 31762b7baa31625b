package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// Job is a sync described in a YAML file.
type Job struct {
	Name           string       `yaml:"name"`
	Package        PackageSpec  `yaml:"package"`
	Source         EndpointSpec `yaml:"source"`
	Sink           EndpointSpec `yaml:"sink"`
	BatchSize      int          `yaml:"batchSize"`
	SkipIfUpToDate bool         `yaml:"skipIfUpToDate"`
}

// PackageSpec names the package being synced and its schemas.
type PackageSpec struct {
	Catalog string       `yaml:"catalog"`
	Slug    string       `yaml:"slug"`
	Version string       `yaml:"version"`
	Schemas []SchemaSpec `yaml:"schemas"`
}

// SchemaSpec is one schema of the package.
type SchemaSpec struct {
	Slug   string      `yaml:"slug"`
	Title  string      `yaml:"title"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec is one property of a schema.
type FieldSpec struct {
	Name   string   `yaml:"name"`
	Types  []string `yaml:"types"`
	Format string   `yaml:"format"`
}

// EndpointSpec selects a connector template and its configuration.
type EndpointSpec struct {
	Template      string         `yaml:"template"`
	StreamSet     string         `yaml:"streamSet"`
	Connection    map[string]any `yaml:"connection"`
	Credentials   map[string]any `yaml:"credentials"`
	Configuration map[string]any `yaml:"configuration"`
}

// ConnectorConfig converts the endpoint section into the connector shape.
func (e EndpointSpec) ConnectorConfig() *endpoint.ConnectorConfig {
	return &endpoint.ConnectorConfig{
		Connection:    orEmpty(e.Connection),
		Credentials:   orEmpty(e.Credentials),
		Configuration: orEmpty(e.Configuration),
	}
}

// LoadJob reads and validates a job file. Values of the form ${NAME} are
// expanded from the environment.
func LoadJob(path string) (*Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return ParseJob([]byte(os.ExpandEnv(string(raw))))
}

// ParseJob decodes and validates a job document.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate reports every missing required field at once.
func (j *Job) Validate() error {
	var missing []string
	if strings.TrimSpace(j.Package.Slug) == "" {
		missing = append(missing, "package.slug")
	}
	if strings.TrimSpace(j.Package.Version) == "" {
		missing = append(missing, "package.version")
	}
	if len(j.Package.Schemas) == 0 {
		missing = append(missing, "package.schemas")
	}
	for i, s := range j.Package.Schemas {
		if strings.TrimSpace(s.Slug) == "" {
			missing = append(missing, fmt.Sprintf("package.schemas[%d].slug", i))
		}
	}
	if strings.TrimSpace(j.Source.Template) == "" {
		missing = append(missing, "source.template")
	}
	if strings.TrimSpace(j.Sink.Template) == "" {
		missing = append(missing, "sink.template")
	}
	if len(missing) > 0 {
		return fmt.Errorf("job %q is missing required fields: %s", j.Name, strings.Join(missing, ", "))
	}
	return nil
}

// PackageFile builds the package the synchronizer moves.
func (j *Job) PackageFile() *endpoint.PackageFile {
	pkg := &endpoint.PackageFile{
		CatalogSlug: j.Package.Catalog,
		PackageSlug: j.Package.Slug,
		Version:     j.Package.Version,
	}
	for _, s := range j.Package.Schemas {
		out := &endpoint.Schema{Slug: s.Slug, Title: s.Title}
		for i, f := range s.Fields {
			fd := &endpoint.FieldDefinition{Name: f.Name, Format: f.Format, Position: i}
			for _, t := range f.Types {
				fd.Types = append(fd.Types, endpoint.ValueType(t))
			}
			out.Fields = append(out.Fields, fd)
		}
		pkg.Schemas = append(pkg.Schemas, out)
	}
	return pkg
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
