// Package http reads paginated JSON REST endpoints. Each configured stream
// is one endpoint path; pages are fetched through a rate-limited client that
// retries throttled and failing requests.
package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// TemplateID is the registry key of the REST source.
const TemplateID = "http.rest"

const (
	PaginationOffset = "offset"
	PaginationCursor = "cursor"
	PaginationNone   = "none"

	defaultPageSize = 100
)

// Config holds the source settings.
type Config struct {
	BaseURL      string
	Headers      map[string]string
	Token        string
	Username     string
	Password     string
	APIKey       string
	APIKeyHeader string
	StreamSet    string
	RateLimit    float64
	RateBurst    int
	MaxRetries   int
	Timeout      time.Duration
	Streams      []StreamConfig
}

// StreamConfig describes one endpoint.
type StreamConfig struct {
	Name          string
	Path          string
	Schema        string
	ResultsKey    string
	Pagination    string
	PageSize      int
	OffsetParam   string
	LimitParam    string
	TotalKey      string
	CursorParam   string
	NextCursorKey string
}

// ParseConfig reads the three configuration objects.
func ParseConfig(cc *endpoint.ConnectorConfig) (*Config, error) {
	cfg := &Config{
		BaseURL:      lookupString(cc, "baseUrl"),
		Token:        lookupString(cc, "token"),
		Username:     lookupString(cc, "username"),
		Password:     lookupString(cc, "password"),
		APIKey:       lookupString(cc, "apiKey"),
		APIKeyHeader: lookupString(cc, "apiKeyHeader"),
		StreamSet:    lookupString(cc, "streamSet"),
		RateLimit:    lookupFloat(cc, "rateLimit"),
		RateBurst:    int(lookupFloat(cc, "rateBurst")),
		MaxRetries:   int(lookupFloat(cc, "maxRetries")),
		Headers:      map[string]string{},
	}
	if cfg.BaseURL == "" {
		return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("baseUrl is required")}
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("invalid baseUrl %q", cfg.BaseURL)}
	}
	if cfg.StreamSet == "" {
		cfg.StreamSet = u.Hostname()
	}
	if s := lookupString(cc, "timeout"); s != "" {
		if cfg.Timeout, err = time.ParseDuration(s); err != nil {
			return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("timeout: %w", err)}
		}
	}
	if v, ok := cc.Lookup("headers"); ok {
		if m, isMap := v.(map[string]any); isMap {
			for k, hv := range m {
				cfg.Headers[k] = fmt.Sprint(hv)
			}
		}
	}

	raw, _ := cc.Lookup("streams")
	list, _ := raw.([]any)
	if len(list) == 0 {
		return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("at least one stream is required")}
	}
	seen := map[string]bool{}
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("streams[%d] must be an object", i)}
		}
		sc, err := parseStream(m)
		if err != nil {
			return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("streams[%d]: %w", i, err)}
		}
		if seen[sc.Name] {
			return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("duplicate stream %q", sc.Name)}
		}
		seen[sc.Name] = true
		cfg.Streams = append(cfg.Streams, sc)
	}
	return cfg, nil
}

func parseStream(m map[string]any) (StreamConfig, error) {
	str := func(key, def string) string {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		return def
	}
	sc := StreamConfig{
		Path:          str("path", ""),
		Pagination:    str("pagination", PaginationNone),
		OffsetParam:   str("offsetParam", "offset"),
		LimitParam:    str("limitParam", "limit"),
		TotalKey:      str("totalKey", "total"),
		CursorParam:   str("cursorParam", "cursor"),
		NextCursorKey: str("nextCursorKey", "nextCursor"),
		PageSize:      defaultPageSize,
	}
	if sc.Path == "" {
		return sc, fmt.Errorf("path is required")
	}
	sc.Name = str("name", strings.Trim(sc.Path, "/"))
	sc.Schema = str("schema", sc.Name)
	sc.ResultsKey = str("resultsKey", "results")
	if v, ok := m["resultsKey"].(string); ok && v == "" {
		sc.ResultsKey = ""
	}
	if n, ok := toInt(m["pageSize"]); ok && n > 0 {
		sc.PageSize = n
	}
	switch sc.Pagination {
	case PaginationOffset, PaginationCursor, PaginationNone:
	default:
		return sc, fmt.Errorf("unknown pagination %q", sc.Pagination)
	}
	return sc, nil
}

// Source reads every configured stream of one REST API.
type Source struct {
	// tune adjusts the client, for example to inject a transport.
	tune func(*ClientConfig)
}

func NewSource() *Source { return &Source{} }

func (s *Source) ID() string { return TemplateID }

func (s *Source) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          TemplateID,
		Family:      "http",
		Title:       "REST API",
		Description: "Paginated JSON endpoints",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "baseUrl", Label: "Base URL", ValueType: "string", Required: true},
			{Key: "token", Label: "Bearer token", ValueType: "password", Scope: endpoint.ScopeCredentials, Sensitive: true},
			{Key: "username", Label: "Username", ValueType: "string", Scope: endpoint.ScopeCredentials},
			{Key: "password", Label: "Password", ValueType: "password", Scope: endpoint.ScopeCredentials, Sensitive: true},
			{Key: "apiKey", Label: "API key", ValueType: "password", Scope: endpoint.ScopeCredentials, Sensitive: true},
			{Key: "streams", Label: "Streams", ValueType: "list", Scope: endpoint.ScopeConfiguration, Required: true},
			{Key: "rateLimit", Label: "Requests per second", ValueType: "integer", Scope: endpoint.ScopeConfiguration, DefaultValue: "10"},
		},
	}
}

func (s *Source) client(cfg *Config) *Client {
	cc := &ClientConfig{
		BaseURL:    cfg.BaseURL,
		Auth:       authFromConfig(cfg),
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
		Headers:    cfg.Headers,
	}
	if s.tune != nil {
		s.tune(cc)
	}
	return NewClient(cc)
}

// InspectURIs returns one stream set whose streams are produced lazily, so
// no request is made until the synchronizer moves to a stream.
func (s *Source) InspectURIs(ctx context.Context, cc *endpoint.ConnectorConfig, job *endpoint.JobContext) (*endpoint.InspectionResults, error) {
	cfg, err := ParseConfig(cc)
	if err != nil {
		return nil, err
	}
	client := s.client(cfg)
	next := 0
	preview := &endpoint.StreamSetPreview{
		Slug:                   cfg.StreamSet,
		SupportedUpdateMethods: []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		MoveToNextStream: func(ctx context.Context) (*endpoint.StreamSummary, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if next >= len(cfg.Streams) {
				return nil, nil
			}
			sc := cfg.Streams[next]
			next++
			job.Log().Debug("opening rest stream", "stream", sc.Name, "path", sc.Path)
			return streamSummary(client, sc), nil
		},
	}
	return &endpoint.InspectionResults{
		DefaultDisplayName: cfg.BaseURL,
		StreamSetPreviews:  []*endpoint.StreamSetPreview{preview},
	}, nil
}

func streamSummary(client *Client, sc StreamConfig) *endpoint.StreamSummary {
	return &endpoint.StreamSummary{
		Name: sc.Name,
		OpenStream: func(ctx context.Context, prior *endpoint.StreamState) (*endpoint.StreamAndTransforms, error) {
			var base int64
			if last := prior.LastOffset(sc.Schema); last != nil {
				base = *last
			}
			out := &endpoint.StreamAndTransforms{}
			var p Paginator
			switch sc.Pagination {
			case PaginationOffset:
				// Offsets are positions, so the page walk starts after them.
				p = &OffsetPaginator{Path: sc.Path, Limit: sc.PageSize, Offset: int(base), OffsetKey: sc.OffsetParam, LimitKey: sc.LimitParam, TotalKey: sc.TotalKey}
				out.Records = newPageIterator(ctx, client, p, sc.ResultsKey, sc.Schema, base)
				return out, nil
			case PaginationCursor:
				p = &CursorPaginator{Path: sc.Path, Limit: sc.PageSize, CursorKey: sc.CursorParam, LimitKey: sc.LimitParam, NextCursorKey: sc.NextCursorKey}
			default:
				p = SinglePage{Path: sc.Path}
			}
			out.Records = newPageIterator(ctx, client, p, sc.ResultsKey, sc.Schema, 0)
			if base > 0 {
				out.Transforms = append(out.Transforms, endpoint.SkipThroughOffset(base))
			}
			return out, nil
		},
	}
}

func lookupString(cc *endpoint.ConnectorConfig, key string) string {
	v, ok := cc.Lookup(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func lookupFloat(cc *endpoint.ConnectorConfig, key string) float64 {
	v, ok := cc.Lookup(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
