package minio

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"strings"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/pkg/staging"
)

// partEncoder accumulates one committed object for a schema.
type partEncoder interface {
	add(records []staging.RecordEnvelope) error
	finish() ([]byte, error)
	ext() string
}

func newPartEncoder(format string, schema *endpoint.Schema) (partEncoder, error) {
	switch format {
	case FormatParquet:
		return newParquetEncoder(schema)
	case FormatJSONL, "":
		buf := &bytes.Buffer{}
		gz := gzip.NewWriter(buf)
		return &jsonlEncoder{buf: buf, gz: gz, enc: json.NewEncoder(gz)}, nil
	}
	return nil, wrapError(CodeUnsupportedFormat, false, fmt.Errorf("format %q", format))
}

type jsonlEncoder struct {
	buf *bytes.Buffer
	gz  *gzip.Writer
	enc *json.Encoder
}

func (e *jsonlEncoder) add(records []staging.RecordEnvelope) error {
	for _, rec := range records {
		if err := e.enc.Encode(rec.Payload); err != nil {
			return wrapError(CodeSinkWriteFailed, false, err)
		}
	}
	return nil
}

func (e *jsonlEncoder) finish() ([]byte, error) {
	if err := e.gz.Close(); err != nil {
		return nil, wrapError(CodeSinkWriteFailed, false, err)
	}
	return e.buf.Bytes(), nil
}

func (e *jsonlEncoder) ext() string { return ".jsonl.gz" }

type parquetEncoder struct {
	buf    *bytes.Buffer
	pw     *writer.JSONWriter
	fields []*endpoint.FieldDefinition
}

func newParquetEncoder(schema *endpoint.Schema) (*parquetEncoder, error) {
	if schema == nil || len(schema.Fields) == 0 {
		return nil, wrapError(CodeUnsupportedFormat, false, fmt.Errorf("parquet output needs schema fields"))
	}
	buf := &bytes.Buffer{}
	pw, err := writer.NewJSONWriter(buildParquetSchema(schema), writerfile.NewWriterFile(buf), 4)
	if err != nil {
		return nil, wrapError(CodeSinkWriteFailed, false, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &parquetEncoder{buf: buf, pw: pw, fields: schema.Fields}, nil
}

func (e *parquetEncoder) add(records []staging.RecordEnvelope) error {
	for _, rec := range records {
		row, err := json.Marshal(projectParquetRow(rec.Payload, e.fields))
		if err != nil {
			return wrapError(CodeSinkWriteFailed, false, err)
		}
		if err := e.pw.Write(string(row)); err != nil {
			return wrapError(CodeSinkWriteFailed, false, err)
		}
	}
	return nil
}

func (e *parquetEncoder) finish() ([]byte, error) {
	if err := e.pw.WriteStop(); err != nil {
		return nil, wrapError(CodeSinkWriteFailed, false, err)
	}
	return e.buf.Bytes(), nil
}

func (e *parquetEncoder) ext() string { return ".parquet" }

func buildParquetSchema(schema *endpoint.Schema) string {
	fields := make([]map[string]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, parquetType(f)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetType(f *endpoint.FieldDefinition) string {
	types := f.NonNullTypes()
	if len(types) == 1 {
		switch types[0] {
		case endpoint.ValueBoolean:
			return "type=BOOLEAN"
		case endpoint.ValueInteger:
			return "type=INT64"
		case endpoint.ValueNumber:
			return "type=DOUBLE"
		}
	}
	return "type=BYTE_ARRAY, convertedtype=UTF8"
}

// projectParquetRow keeps declared fields only. Values of string columns
// that are not strings are rendered as JSON text.
func projectParquetRow(rec map[string]any, fields []*endpoint.FieldDefinition) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		val, ok := rec[f.Name]
		if !ok || val == nil {
			row[f.Name] = nil
			continue
		}
		if strings.HasPrefix(parquetType(f), "type=BYTE_ARRAY") {
			if _, isString := val.(string); !isString {
				b, err := json.Marshal(val)
				if err == nil {
					val = string(b)
				}
			}
		}
		row[f.Name] = val
	}
	return row
}
