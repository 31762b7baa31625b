package parser

import (
	"path/filepath"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func init() {
	endpoint.RegisterParser("jsonl", func() (endpoint.Parser, error) { return JSONL{}, nil })
	endpoint.RegisterParser("csv", func() (endpoint.Parser, error) { return CSV{}, nil })
	endpoint.RegisterParser("tsv", func() (endpoint.Parser, error) { return tsv{CSV{Comma: '\t'}}, nil })
}

type tsv struct{ CSV }

func (tsv) ID() string          { return "tsv" }
func (tsv) MimeTypes() []string { return []string{"text/tab-separated-values"} }

// ForPath picks a parser ID from a file name, ignoring a trailing .gz.
func ForPath(path string) (string, bool) {
	name := strings.ToLower(strings.TrimSuffix(strings.ToLower(path), ".gz"))
	switch filepath.Ext(name) {
	case ".jsonl", ".ndjson", ".json":
		return "jsonl", true
	case ".csv":
		return "csv", true
	case ".tsv", ".tab":
		return "tsv", true
	}
	return "", false
}
