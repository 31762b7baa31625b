package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// CSV parses comma separated text with a header row. Values stay strings;
// empty cells become null. The record offset is the 1-based data row.
type CSV struct {
	Comma rune
}

func (CSV) ID() string { return "csv" }

func (CSV) MimeTypes() []string { return []string{"text/csv", "application/csv"} }

func (c CSV) Parse(ctx context.Context, r io.Reader, schemaSlug string) (endpoint.Iterator[endpoint.RecordContext], error) {
	reader := csv.NewReader(r)
	if c.Comma != 0 {
		reader.Comma = c.Comma
	}
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return endpoint.NewSliceIterator[endpoint.RecordContext](nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &csvIterator{ctx: ctx, reader: reader, header: header, slug: schemaSlug}, nil
}

type csvIterator struct {
	ctx     context.Context
	reader  *csv.Reader
	header  []string
	slug    string
	row     int64
	current endpoint.RecordContext
	err     error
	done    bool
}

func (it *csvIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	fields, err := it.reader.Read()
	if errors.Is(err, io.EOF) {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		return false
	}
	it.row++
	rec := make(endpoint.Record, len(it.header))
	for i, name := range it.header {
		if i >= len(fields) || fields[i] == "" {
			rec[name] = nil
			continue
		}
		rec[name] = fields[i]
	}
	it.current = endpoint.RecordContext{Record: rec, SchemaSlug: it.slug, Offset: endpoint.Int64(it.row)}
	return true
}

func (it *csvIterator) Value() endpoint.RecordContext { return it.current }
func (it *csvIterator) Err() error                    { return it.err }
func (it *csvIterator) Close() error                  { return nil }
