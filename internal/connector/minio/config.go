package minio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/pkg/staging"
)

const (
	defaultBucket     = "ucl-sync"
	defaultBasePrefix = "sink"

	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// Config captures the object.minio endpoint configuration. Keys are read
// from connection, credentials and configuration alike.
type Config struct {
	EndpointURL     string
	Region          string
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	BasePrefix      string
	RootPath        string

	// Format selects the committed object format: jsonl (gzip) or parquet.
	Format string
	// Staging selects the staging provider ID; empty stages in the bucket.
	Staging string
	// MemoryCapBytes bounds the memory staging provider.
	MemoryCapBytes int64
}

// ParseConfig builds a Config from a connector configuration.
func ParseConfig(cc *endpoint.ConnectorConfig) *Config {
	params := merged(cc)
	cfg := &Config{
		EndpointURL:     firstString(params, "endpointUrl", "endpoint_url", "url"),
		Region:          firstString(params, "region"),
		UseSSL:          firstBool(params, false, "useSSL", "use_ssl"),
		AccessKeyID:     firstString(params, "accessKeyId", "access_key_id", "accessKeyID"),
		SecretAccessKey: firstString(params, "secretAccessKey", "secret_access_key", "secretKey"),
		Bucket:          firstString(params, "bucket"),
		BasePrefix:      firstString(params, "basePrefix", "base_prefix", "prefix"),
		RootPath:        firstString(params, "rootPath", "root_path"),
		Format:          strings.ToLower(firstString(params, "format")),
		Staging:         firstString(params, "staging"),
		MemoryCapBytes:  firstInt(params, 0, "memoryCapBytes"),
	}
	cfg.normalizeDefaults()
	return cfg
}

// Validate enforces required fields.
func (c *Config) Validate() error {
	if c.isRemote() {
		if _, err := url.Parse(c.EndpointURL); err != nil {
			return wrapError(CodeEndpointUnreachable, false, fmt.Errorf("endpointUrl: %w", err))
		}
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return wrapError(CodeAuthInvalid, false, fmt.Errorf("accessKeyId and secretAccessKey are required"))
		}
	}
	switch c.Format {
	case FormatJSONL, FormatParquet:
	default:
		return wrapError(CodeUnsupportedFormat, false, fmt.Errorf("format %q", c.Format))
	}
	return nil
}

func (c *Config) normalizeDefaults() {
	if c.Bucket == "" {
		c.Bucket = defaultBucket
	}
	if c.BasePrefix == "" {
		c.BasePrefix = defaultBasePrefix
	}
	c.BasePrefix = strings.Trim(c.BasePrefix, "/")
	if c.Format == "" {
		c.Format = FormatJSONL
	}
	if c.Staging == "" {
		c.Staging = staging.ProviderMinIO
	}
}

func (c *Config) isRemote() bool {
	return strings.HasPrefix(c.EndpointURL, "http://") || strings.HasPrefix(c.EndpointURL, "https://")
}

// objectRoot is the directory the local store writes under.
func (c *Config) objectRoot() string {
	if c.RootPath != "" {
		return c.RootPath
	}
	if strings.HasPrefix(c.EndpointURL, "file://") {
		if u, err := url.Parse(c.EndpointURL); err == nil && u.Path != "" {
			return u.Path
		}
	}
	host := c.EndpointURL
	if u, err := url.Parse(c.EndpointURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return filepath.Join(os.TempDir(), "minio-"+sanitizePath(host))
}

func merged(cc *endpoint.ConnectorConfig) map[string]any {
	out := map[string]any{}
	if cc == nil {
		return out
	}
	for _, m := range []map[string]any{cc.Connection, cc.Credentials, cc.Configuration} {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func firstString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t)
			case fmt.Stringer:
				return strings.TrimSpace(t.String())
			}
		}
	}
	return ""
}

func firstBool(params map[string]any, defaultVal bool, keys ...string) bool {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			switch t := v.(type) {
			case bool:
				return t
			case string:
				switch strings.ToLower(strings.TrimSpace(t)) {
				case "true":
					return true
				case "false":
					return false
				}
			}
		}
	}
	return defaultVal
}

func firstInt(params map[string]any, defaultVal int64, keys ...string) int64 {
	for _, key := range keys {
		switch t := params[key].(type) {
		case int:
			return int64(t)
		case int64:
			return t
		case float64:
			return int64(t)
		}
	}
	return defaultVal
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(raw)
}
