package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/logger"
)

// Sink writes each schema to <schema>.<tablePrefix><slug>.
type Sink struct {
	mu       sync.Mutex
	pool     *pgxpool.Pool
	cfg      *Config
	versions map[string]int64
	logger   *slog.Logger
}

func NewSink() *Sink {
	return &Sink{versions: map[string]int64{}, logger: logger.Component("postgres-sink")}
}

// NewSinkWithPool reuses an open pool.
func NewSinkWithPool(pool *pgxpool.Pool, cfg *Config) *Sink {
	s := NewSink()
	s.pool, s.cfg = pool, cfg
	return s
}

func (s *Sink) ID() string { return TemplateID }

func (s *Sink) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:     TemplateID,
		Family: "jdbc",
		Title:  "PostgreSQL tables",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "url", Label: "Connection URL", ValueType: "string", Sensitive: true, Description: "also read from connection_string or dsn"},
			{Key: "schema", Label: "Target schema", ValueType: "string", DefaultValue: defaultSchema},
			{Key: "tablePrefix", Label: "Table prefix", ValueType: "string", Scope: endpoint.ScopeConfiguration},
			{Key: "stateTable", Label: "State table", ValueType: "string", DefaultValue: defaultStateTable},
		},
	}
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *Sink) connect(ctx context.Context, cc *endpoint.ConnectorConfig) (*pgxpool.Pool, *Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, s.cfg, nil
	}
	cfg := ParseConfig(cc)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, &Error{Code: CodeConnect, Retryable: true, Err: err}
	}
	s.pool, s.cfg = pool, cfg
	return pool, cfg, nil
}

// IsStronglyTyped is always true: every column has one SQL type.
func (s *Sink) IsStronglyTyped(*endpoint.ConnectorConfig) bool { return true }

func (s *Sink) GetSupportedStreamOptions(*endpoint.ConnectorConfig, *endpoint.SinkState) *endpoint.SupportedStreamOptions {
	return &endpoint.SupportedStreamOptions{
		UpdateMethods:              []endpoint.UpdateMethod{endpoint.UpdateMethodBatchFullSet, endpoint.UpdateMethodAppendOnly},
		StreamSetProcessingMethods: []endpoint.StreamSetProcessingMethod{endpoint.ProcessPerStreamSet},
	}
}

// GetWriteable makes sure the target table has every schema column and
// creates an unlogged staging table shaped like it.
func (s *Sink) GetWriteable(ctx context.Context, schema *endpoint.Schema, cc *endpoint.ConnectorConfig, method endpoint.UpdateMethod) (*endpoint.WritableWithContext, error) {
	pool, cfg, err := s.connect(ctx, cc)
	if err != nil {
		return nil, err
	}
	cols := columnsFor(schema)
	if len(cols) == 0 {
		return nil, &Error{Code: CodeConfig, Err: fmt.Errorf("schema %s has no fields", schema.Slug)}
	}
	target := pgx.Identifier{cfg.Schema, cfg.TablePrefix + schema.Slug}
	stage := pgx.Identifier{cfg.Schema, stageName(schema.Slug, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])}

	stmts := []string{createTableSQL(target, cols)}
	for _, c := range cols {
		stmts = append(stmts, addColumnSQL(target, c))
	}
	stmts = append(stmts, fmt.Sprintf("CREATE UNLOGGED TABLE %s (LIKE %s INCLUDING DEFAULTS)", stage.Sanitize(), target.Sanitize()))
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, &Error{Code: CodeWrite, Retryable: true, Err: fmt.Errorf("prepare %s: %w", schema.Slug, err)}
		}
	}

	w := &copyWritable{pool: pool, stage: stage, cols: cols}
	return &endpoint.WritableWithContext{
		Writable:       w,
		OutputLocation: target.Sanitize(),
		GetCommitKeys: func() []endpoint.CommitKey {
			return []endpoint.CommitKey{{
				"schema":  schema.Slug,
				"target":  []string(target),
				"stage":   []string(stage),
				"columns": columnNames(cols),
				"method":  string(method),
			}}
		},
	}, nil
}

// CommitAfterWrites moves every stage into its target in one transaction.
func (s *Sink) CommitAfterWrites(ctx context.Context, keys []endpoint.CommitKey, cc *endpoint.ConnectorConfig) error {
	pool, _, err := s.connect(ctx, cc)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return &Error{Code: CodeCommit, Retryable: true, Err: err}
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		stmts, err := commitStatements(key)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &Error{Code: CodeCommit, Retryable: true, Err: fmt.Errorf("%s: %w", key["schema"], err)}
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &Error{Code: CodeCommit, Retryable: true, Err: err}
	}
	return nil
}

func commitStatements(key endpoint.CommitKey) ([]string, error) {
	target, ok1 := key["target"].([]string)
	stage, ok2 := key["stage"].([]string)
	names, ok3 := key["columns"].([]string)
	if !ok1 || !ok2 || !ok3 {
		return nil, &Error{Code: CodeCommit, Err: fmt.Errorf("malformed commit key %v", key)}
	}
	cols := make([]column, len(names))
	for i, n := range names {
		cols[i] = column{name: n}
	}
	t, st := pgx.Identifier(target).Sanitize(), pgx.Identifier(stage).Sanitize()

	var stmts []string
	if key["method"] != string(endpoint.UpdateMethodAppendOnly) {
		stmts = append(stmts, "TRUNCATE "+t)
	}
	list := quotedList(cols)
	stmts = append(stmts,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", t, list, list, st),
		"DROP TABLE "+st,
	)
	return stmts, nil
}

func (s *Sink) stateTable() pgx.Identifier {
	return pgx.Identifier{s.cfg.Schema, s.cfg.StateTable}
}

func (s *Sink) ensureStateTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  catalog_slug text NOT NULL,
  package_slug text NOT NULL,
  major_version integer NOT NULL,
  state jsonb NOT NULL,
  version bigint NOT NULL DEFAULT 1,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (catalog_slug, package_slug, major_version)
)`, s.stateTable().Sanitize()))
	return err
}

// GetSinkState remembers the row version so the following save can detect
// a concurrent writer.
func (s *Sink) GetSinkState(ctx context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey) (*endpoint.SinkState, error) {
	pool, _, err := s.connect(ctx, cc)
	if err != nil {
		return nil, err
	}
	if err := s.ensureStateTable(ctx, pool); err != nil {
		return nil, &Error{Code: CodeConnect, Retryable: true, Err: err}
	}

	var raw []byte
	var version int64
	err = pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT state, version FROM %s WHERE catalog_slug=$1 AND package_slug=$2 AND major_version=$3`,
		s.stateTable().Sanitize()), key.CatalogSlug, key.PackageSlug, key.PackageMajorVersion).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		s.setVersion(key, 0)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state endpoint.SinkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode sink state: %w", err)
	}
	s.setVersion(key, version)
	return &state, nil
}

// SaveSinkState writes the state if the row still has the version read by
// GetSinkState. A key this sink never read is checked against the version
// stored at save time instead.
func (s *Sink) SaveSinkState(ctx context.Context, cc *endpoint.ConnectorConfig, key endpoint.SinkStateKey, state *endpoint.SinkState) error {
	pool, _, err := s.connect(ctx, cc)
	if err != nil {
		return err
	}
	if err := s.ensureStateTable(ctx, pool); err != nil {
		return &Error{Code: CodeConnect, Retryable: true, Err: err}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}

	table := s.stateTable().Sanitize()
	expected, known := s.version(key)
	if !known {
		if expected, err = currentVersion(ctx, pool, table, key); err != nil {
			return err
		}
	}
	var next int64
	err = pool.QueryRow(ctx, fmt.Sprintf(`
INSERT INTO %[1]s AS st (catalog_slug, package_slug, major_version, state, version)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (catalog_slug, package_slug, major_version)
DO UPDATE SET state = EXCLUDED.state, version = st.version + 1, updated_at = now()
WHERE st.version = $5
RETURNING version`, table), key.CatalogSlug, key.PackageSlug, key.PackageMajorVersion, raw, expected).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Code: CodeStateConflict, Err: fmt.Errorf("state %s changed since version %d", key, expected)}
	}
	if err != nil {
		return err
	}
	s.setVersion(key, next)
	return nil
}

func (s *Sink) version(key endpoint.SinkStateKey) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key.String()]
	return v, ok
}

func currentVersion(ctx context.Context, pool *pgxpool.Pool, table string, key endpoint.SinkStateKey) (int64, error) {
	var v int64
	err := pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT version FROM %s WHERE catalog_slug = $1 AND package_slug = $2 AND major_version = $3`, table),
		key.CatalogSlug, key.PackageSlug, key.PackageMajorVersion).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Sink) setVersion(key endpoint.SinkStateKey, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key.String()] = v
}

// copyWritable streams batches into the staging table with COPY.
type copyWritable struct {
	pool  *pgxpool.Pool
	stage pgx.Identifier
	cols  []column
}

func (w *copyWritable) Write(ctx context.Context, records []endpoint.RecordContext) error {
	rows := make([][]any, 0, len(records))
	for _, rc := range records {
		row, err := rowValues(w.cols, rc.Record)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if _, err := w.pool.CopyFrom(ctx, w.stage, columnNames(w.cols), pgx.CopyFromRows(rows)); err != nil {
		return &Error{Code: CodeWrite, Retryable: true, Err: err}
	}
	return nil
}

func (w *copyWritable) Close(context.Context) error { return nil }

// Abort drops the staging table.
func (w *copyWritable) Abort(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, "DROP TABLE IF EXISTS "+w.stage.Sanitize())
	return err
}
