// Package postgres writes schemas into Postgres tables through a pgx pool.
// Records are copied into an unlogged staging table per schema and moved
// into the target tables in a single transaction on commit.
package postgres

import (
	"fmt"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// TemplateID is the registry key of the Postgres table sink.
const TemplateID = "jdbc.postgres"

const (
	defaultSchema     = "public"
	defaultStateTable = "_ucl_sync_state"
)

// Config holds the sink settings.
type Config struct {
	URL        string
	Schema     string
	StateTable string
	// TablePrefix is prepended to schema slugs to form table names.
	TablePrefix string
}

// ParseConfig reads the three configuration objects.
func ParseConfig(cc *endpoint.ConnectorConfig) *Config {
	cfg := &Config{Schema: defaultSchema, StateTable: defaultStateTable}
	if cc == nil {
		return cfg
	}
	for _, key := range []string{"url", "connection_string", "dsn"} {
		if v, ok := cc.Lookup(key); ok {
			if s, isString := v.(string); isString && s != "" {
				cfg.URL = strings.TrimSpace(s)
				break
			}
		}
	}
	if v, ok := cc.Lookup("schema"); ok {
		if s, isString := v.(string); isString && s != "" {
			cfg.Schema = s
		}
	}
	if v, ok := cc.Lookup("stateTable"); ok {
		if s, isString := v.(string); isString && s != "" {
			cfg.StateTable = s
		}
	}
	if v, ok := cc.Lookup("tablePrefix"); ok {
		cfg.TablePrefix, _ = v.(string)
	}
	return cfg
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return &Error{Code: CodeConfig, Err: fmt.Errorf("url is required")}
	}
	return nil
}
