// Package file reads local files through the registered parsers and writes
// one JSON Lines file per schema.
package file

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/parser"
)

// TemplateID is the registry key for both directions.
const TemplateID = "file"

// Source turns every file matching a glob into one stream.
type Source struct {
	parsers *endpoint.Registry
}

// NewSource resolves parsers from the given registry, or the default one.
func NewSource(parsers *endpoint.Registry) *Source {
	if parsers == nil {
		parsers = endpoint.DefaultRegistry()
	}
	return &Source{parsers: parsers}
}

func (s *Source) ID() string { return TemplateID }

func (s *Source) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          TemplateID,
		Family:      "file",
		Title:       "Local files",
		Description: "Files matching a glob, parsed by extension",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "path", Label: "Path or glob", ValueType: "string", Required: true},
			{Key: "parser", Label: "Parser", ValueType: "string", Scope: endpoint.ScopeConfiguration, Description: "jsonl, csv or tsv; defaults to the file extension"},
			{Key: "schema", Label: "Schema slug", ValueType: "string", Scope: endpoint.ScopeConfiguration, Description: "defaults to the file name without extensions"},
			{Key: "streamSet", Label: "Stream set slug", ValueType: "string", Scope: endpoint.ScopeConfiguration, DefaultValue: "files"},
		},
	}
}

func (s *Source) InspectURIs(ctx context.Context, cc *endpoint.ConnectorConfig, job *endpoint.JobContext) (*endpoint.InspectionResults, error) {
	pattern := lookupString(cc, "path")
	if pattern == "" {
		return nil, fmt.Errorf("file source: path is required")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("file source: bad pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	slug := lookupString(cc, "streamSet")
	if slug == "" {
		slug = "files"
	}
	preview := &endpoint.StreamSetPreview{
		Slug:                   slug,
		SupportedUpdateMethods: []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		StreamSummaries:        []*endpoint.StreamSummary{},
	}
	var unsized bool
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		parserID := lookupString(cc, "parser")
		if parserID == "" {
			var ok bool
			if parserID, ok = parser.ForPath(path); !ok {
				job.Log().Warn("skipping file with unknown format", "path", path)
				continue
			}
		}
		p, err := s.parsers.CreateParser(parserID)
		if err != nil {
			return nil, err
		}
		schema := lookupString(cc, "schema")
		if schema == "" {
			schema = baseName(path)
		}
		preview.StreamSummaries = append(preview.StreamSummaries, fileSummary(path, info, p, schema))
		if compressed(path) {
			unsized = true
		}
		preview.ExpectedBytesTotal += info.Size()
	}
	// Compressed sizes do not match the decompressed bytes counted while
	// reading, so a set containing any is left without a byte estimate.
	if unsized {
		preview.ExpectedBytesTotal = 0
		for _, ss := range preview.StreamSummaries {
			ss.ExpectedBytesTotal = 0
		}
	}

	return &endpoint.InspectionResults{
		DefaultDisplayName: pattern,
		StreamSetPreviews:  []*endpoint.StreamSetPreview{preview},
	}, nil
}

func fileSummary(path string, info os.FileInfo, p endpoint.Parser, schema string) *endpoint.StreamSummary {
	return &endpoint.StreamSummary{
		Name:               filepath.Base(path),
		ExpectedBytesTotal: info.Size(),
		UpdateHash:         fileHash(info),
		OpenStream: func(ctx context.Context, prior *endpoint.StreamState) (*endpoint.StreamAndTransforms, error) {
			reader, err := open(path)
			if err != nil {
				return nil, err
			}
			out := &endpoint.StreamAndTransforms{Reader: reader, Parser: p, SchemaSlug: schema}
			if last := prior.LastOffset(schema); last != nil {
				out.Transforms = append(out.Transforms, endpoint.SkipThroughOffset(*last))
			}
			return out, nil
		},
	}
}

// fileHash changes whenever the file is rewritten or grows.
func fileHash(info os.FileInfo) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:8])
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	_ = g.Reader.Close()
	return g.f.Close()
}

func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !compressed(path) {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gzipFile{Reader: gz, f: f}, nil
}

func compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// baseName strips every extension: users.jsonl.gz -> users.
func baseName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func lookupString(cc *endpoint.ConnectorConfig, key string) string {
	v, ok := cc.Lookup(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
