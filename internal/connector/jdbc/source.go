package jdbc

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// TemplateID is the registry key of the Postgres table source.
const TemplateID = "jdbc.postgres"

// Source reads Postgres tables.
type Source struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSource() *Source { return &Source{} }

// NewSourceWithDB reuses an open pool.
func NewSourceWithDB(db *sql.DB) *Source { return &Source{db: db} }

func (s *Source) ID() string { return TemplateID }

// Close releases database resources.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *Source) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:     TemplateID,
		Family: "jdbc",
		Title:  "PostgreSQL tables",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "host", Label: "Host", ValueType: "string", DefaultValue: "localhost"},
			{Key: "port", Label: "Port", ValueType: "integer", DefaultValue: "5432"},
			{Key: "database", Label: "Database", ValueType: "string"},
			{Key: "user", Label: "User", ValueType: "string", Scope: endpoint.ScopeCredentials},
			{Key: "password", Label: "Password", ValueType: "password", Scope: endpoint.ScopeCredentials, Sensitive: true},
			{Key: "connection_string", Label: "Connection string", ValueType: "string", Sensitive: true},
			{Key: "tables", Label: "Tables", ValueType: "list", Scope: endpoint.ScopeConfiguration, Description: "schema.table names; all user tables when empty"},
			{Key: "offsetColumn", Label: "Offset column", ValueType: "string", Scope: endpoint.ScopeConfiguration, Description: "monotonic integer column enabling append runs"},
		},
	}
}

func (s *Source) open(cfg *Config) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	s.db = db
	return db, nil
}

func (s *Source) InspectURIs(ctx context.Context, cc *endpoint.ConnectorConfig, job *endpoint.JobContext) (*endpoint.InspectionResults, error) {
	cfg := ParseConfig(cc)
	db, err := s.open(cfg)
	if err != nil {
		return nil, err
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		if tables, err = listTables(ctx, db); err != nil {
			return nil, err
		}
	}

	methods := []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet}
	if cfg.OffsetColumn != "" {
		methods = append(methods, endpoint.UpdateMethodAppendOnly)
	}
	preview := &endpoint.StreamSetPreview{
		Slug:                   cfg.StreamSet,
		SupportedUpdateMethods: methods,
		StreamSummaries:        []*endpoint.StreamSummary{},
	}
	for _, name := range tables {
		summary, err := s.summarize(ctx, db, cfg, name)
		if err != nil {
			return nil, err
		}
		job.Log().Debug("inspected table", "table", name, "rows", summary.ExpectedRecordsTotal)
		preview.StreamSummaries = append(preview.StreamSummaries, summary)
		preview.ExpectedRecordsTotal += summary.ExpectedRecordsTotal
		preview.ExpectedBytesTotal += summary.ExpectedBytesTotal
	}
	return &endpoint.InspectionResults{
		DefaultDisplayName: "postgres://" + cfg.Host + "/" + cfg.Database,
		StreamSetPreviews:  []*endpoint.StreamSetPreview{preview},
	}, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		tables = append(tables, schema+"."+name)
	}
	return tables, rows.Err()
}

// summarize reads planner statistics for expected totals. With an offset
// column, row count and max offset form the update hash; without one the
// hash stays empty and every run re-reads the table.
func (s *Source) summarize(ctx context.Context, db *sql.DB, cfg *Config, name string) (*endpoint.StreamSummary, error) {
	schema, table := splitTable(name)
	summary := &endpoint.StreamSummary{Name: schema + "." + table}

	var rows, size int64
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(c.reltuples::bigint, 0), COALESCE(pg_total_relation_size(c.oid), 0)
		FROM pg_class c
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE n.nspname = $1 AND c.relname = $2`, schema, table).Scan(&rows, &size)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("stats for %s: %w", summary.Name, err)
	}
	if rows > 0 {
		summary.ExpectedRecordsTotal = rows
	}
	summary.ExpectedBytesTotal = size

	if cfg.OffsetColumn != "" {
		var count int64
		var maxOffset sql.NullInt64
		q := fmt.Sprintf("SELECT COUNT(*), MAX(%s) FROM %s", pq.QuoteIdentifier(cfg.OffsetColumn), qualified(schema, table))
		if err := db.QueryRowContext(ctx, q).Scan(&count, &maxOffset); err != nil {
			return nil, fmt.Errorf("offset range for %s: %w", summary.Name, err)
		}
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", count, maxOffset.Int64)))
		summary.UpdateHash = hex.EncodeToString(sum[:8])
		summary.ExpectedRecordsTotal = count
	}

	summary.OpenStream = func(ctx context.Context, prior *endpoint.StreamState) (*endpoint.StreamAndTransforms, error) {
		query, args := selectQuery(schema, table, cfg.OffsetColumn, prior.LastOffset(table))
		it, err := queryRecords(ctx, db, query, args, table, cfg.OffsetColumn)
		if err != nil {
			return nil, err
		}
		return &endpoint.StreamAndTransforms{Records: it}, nil
	}
	return summary, nil
}

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// selectQuery builds the read statement. Records are ordered by the offset
// column so the last written offset is a safe resume point.
func selectQuery(schema, table, offsetColumn string, after *int64) (string, []any) {
	q := "SELECT * FROM " + qualified(schema, table)
	if offsetColumn == "" {
		return q, nil
	}
	col := pq.QuoteIdentifier(offsetColumn)
	var args []any
	if after != nil {
		q += " WHERE " + col + " > $1"
		args = append(args, *after)
	}
	return q + " ORDER BY " + col, args
}
