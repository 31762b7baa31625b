package minio

import "github.com/nucleus/ucl-sync/internal/endpoint"

// TemplateID is the registry key for both directions.
const TemplateID = "object.minio"

func init() {
	endpoint.RegisterSource(TemplateID, func() (endpoint.Source, error) { return NewSource(), nil })
	endpoint.RegisterSink(TemplateID, func() (endpoint.Sink, error) { return NewSink(), nil })
}

func descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          TemplateID,
		Family:      "object",
		Title:       "MinIO Object Store",
		Description: "S3-compatible bucket; committed objects are listed in a per-schema manifest",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "endpointUrl", Label: "Endpoint URL", ValueType: "string", Description: "http(s) endpoint, or file:// for a local directory"},
			{Key: "region", Label: "Region", ValueType: "string"},
			{Key: "useSSL", Label: "Use SSL", ValueType: "boolean", DefaultValue: "false"},
			{Key: "accessKeyId", Label: "Access Key ID", ValueType: "string", Scope: endpoint.ScopeCredentials},
			{Key: "secretAccessKey", Label: "Secret Access Key", ValueType: "password", Scope: endpoint.ScopeCredentials, Sensitive: true},
			{Key: "bucket", Label: "Bucket", ValueType: "string", DefaultValue: defaultBucket},
			{Key: "basePrefix", Label: "Base Prefix", ValueType: "string", DefaultValue: defaultBasePrefix},
			{Key: "format", Label: "Format", ValueType: "string", Scope: endpoint.ScopeConfiguration, DefaultValue: FormatJSONL, Description: "jsonl or parquet"},
			{Key: "staging", Label: "Staging", ValueType: "string", Scope: endpoint.ScopeConfiguration, Description: "memory or object.minio"},
		},
	}
}

// Descriptor describes the sink template.
func (s *Sink) Descriptor() *endpoint.Descriptor { return descriptor() }

// Descriptor describes the source template.
func (s *Source) Descriptor() *endpoint.Descriptor { return descriptor() }
