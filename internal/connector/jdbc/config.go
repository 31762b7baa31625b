// Package jdbc reads Postgres tables as streams over database/sql and the
// lib/pq driver. Each table is one stream; an optional monotonic offset
// column lets runs append from where the previous one stopped.
package jdbc

import (
	"fmt"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// Config holds connection and read settings.
type Config struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	SSLMode          string
	ConnectionString string

	// Tables are schema-qualified names. Empty means every user table.
	Tables       []string
	OffsetColumn string
	StreamSet    string
	FetchSize    int
}

// ParseConfig reads the three configuration objects.
func ParseConfig(cc *endpoint.ConnectorConfig) *Config {
	m := map[string]any{}
	if cc != nil {
		for _, src := range []map[string]any{cc.Connection, cc.Credentials, cc.Configuration} {
			for k, v := range src {
				m[k] = v
			}
		}
	}
	cfg := &Config{
		Host:         getString(m, "host", "localhost"),
		Port:         getInt(m, "port", 5432),
		Database:     getString(m, "database", ""),
		User:         getString(m, "user", ""),
		Password:     getString(m, "password", ""),
		SSLMode:      getString(m, "ssl_mode", "disable"),
		OffsetColumn: getString(m, "offsetColumn", ""),
		StreamSet:    getString(m, "streamSet", ""),
		FetchSize:    getInt(m, "fetchSize", 0),
		Tables:       getStrings(m, "tables"),
	}
	if connStr := getString(m, "connection_string", ""); connStr != "" {
		cfg.ConnectionString = connStr
	} else {
		cfg.ConnectionString = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}
	if cfg.StreamSet == "" {
		cfg.StreamSet = cfg.Database
	}
	if cfg.StreamSet == "" {
		cfg.StreamSet = "postgres"
	}
	return cfg
}

// splitTable splits "schema.table", defaulting the schema to public.
func splitTable(name string) (string, string) {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return schema, table
	}
	return "public", name
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func getStrings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}
