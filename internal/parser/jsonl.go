// Package parser turns raw byte streams into schema-tagged records.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

const maxLineBytes = 16 * 1024 * 1024

// JSONL parses newline-delimited JSON objects. Blank lines are skipped and
// the record offset is the 1-based line number.
type JSONL struct{}

func (JSONL) ID() string { return "jsonl" }

func (JSONL) MimeTypes() []string {
	return []string{"application/x-ndjson", "application/jsonl", "application/x-jsonlines"}
}

func (JSONL) Parse(ctx context.Context, r io.Reader, schemaSlug string) (endpoint.Iterator[endpoint.RecordContext], error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &jsonlIterator{ctx: ctx, scanner: scanner, slug: schemaSlug}, nil
}

type jsonlIterator struct {
	ctx     context.Context
	scanner *bufio.Scanner
	slug    string
	line    int64
	current endpoint.RecordContext
	err     error
}

func (it *jsonlIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.scanner.Scan() {
		it.line++
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := decodeObject(line)
		if err != nil {
			it.err = fmt.Errorf("line %d: %w", it.line, err)
			return false
		}
		it.current = endpoint.RecordContext{Record: rec, SchemaSlug: it.slug, Offset: endpoint.Int64(it.line)}
		return true
	}
	it.err = it.scanner.Err()
	return false
}

func (it *jsonlIterator) Value() endpoint.RecordContext { return it.current }
func (it *jsonlIterator) Err() error                    { return it.err }
func (it *jsonlIterator) Close() error                  { return nil }

// decodeObject decodes one JSON object keeping integers exact.
func decodeObject(data []byte) (endpoint.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	for k, v := range rec {
		rec[k] = normalize(v)
	}
	return rec, nil
}

// normalize turns json.Number into int64 when integral, else float64.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalize(inner)
		}
		return t
	}
	return v
}
