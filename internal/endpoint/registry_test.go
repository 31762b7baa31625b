package endpoint_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

type stubParser struct {
	id    string
	mimes []string
}

func (p *stubParser) ID() string          { return p.id }
func (p *stubParser) MimeTypes() []string { return p.mimes }
func (p *stubParser) Parse(context.Context, io.Reader, string) (endpoint.Iterator[endpoint.RecordContext], error) {
	return endpoint.NewSliceIterator[endpoint.RecordContext](nil), nil
}

func TestRegistry_RegisterAndCreateParser(t *testing.T) {
	reg := endpoint.NewRegistry()
	reg.RegisterParser("jsonl", func() (endpoint.Parser, error) {
		return &stubParser{id: "jsonl", mimes: []string{"application/jsonl"}}, nil
	})
	reg.RegisterParser("csv", func() (endpoint.Parser, error) {
		return &stubParser{id: "csv", mimes: []string{"text/csv"}}, nil
	})

	p, err := reg.CreateParser("csv")
	require.NoError(t, err)
	assert.Equal(t, "csv", p.ID())

	byMime, err := reg.ParserForMimeType("application/jsonl")
	require.NoError(t, err)
	assert.Equal(t, "jsonl", byMime.ID())

	assert.Equal(t, []string{"csv", "jsonl"}, reg.Parsers())
}

func TestRegistry_UnknownTemplate(t *testing.T) {
	reg := endpoint.NewRegistry()

	_, err := reg.CreateSink("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, endpoint.ErrNotFound))

	_, err = reg.CreateSource("nope")
	assert.True(t, errors.Is(err, endpoint.ErrNotFound))

	_, err = reg.ParserForMimeType("text/xml")
	assert.True(t, errors.Is(err, endpoint.ErrNotFound))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := endpoint.NewRegistry()
	factory := func() (endpoint.Parser, error) { return &stubParser{id: "x"}, nil }
	reg.RegisterParser("x", factory)

	assert.Panics(t, func() { reg.RegisterParser("x", factory) })
}

func TestDescriptor_Validate(t *testing.T) {
	desc := &endpoint.Descriptor{
		ID: "file",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "directory", Scope: endpoint.ScopeConnection, Required: true},
			{Key: "token", Scope: endpoint.ScopeCredentials, Required: true},
			{Key: "format", Scope: endpoint.ScopeConfiguration},
		},
	}

	err := desc.Validate(&endpoint.ConnectorConfig{
		Connection:  map[string]any{"directory": "  "},
		Credentials: map[string]any{},
	})
	var missing *endpoint.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"connection.directory", "credentials.token"}, missing.Fields)

	err = desc.Validate(&endpoint.ConnectorConfig{
		Connection:  map[string]any{"directory": "/tmp/out"},
		Credentials: map[string]any{"token": "abc"},
	})
	assert.NoError(t, err)
}

func TestPackageFile_MajorVersion(t *testing.T) {
	tests := []struct {
		version string
		want    int
	}{
		{"1.2.3", 1},
		{"v4.0.0", 4},
		{"12", 12},
		{"", 0},
		{"beta", 0},
	}
	for _, tt := range tests {
		pkg := &endpoint.PackageFile{Version: tt.version}
		if got := pkg.MajorVersion(); got != tt.want {
			t.Errorf("MajorVersion(%q) = %d, want %d", tt.version, got, tt.want)
		}
	}
}
