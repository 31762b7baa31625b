package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// rowIterator adapts *sql.Rows to the record iterator.
type rowIterator struct {
	rows         *sql.Rows
	cols         []string
	schemaSlug   string
	offsetColumn string
	n            int64
	current      endpoint.RecordContext
	err          error
}

func queryRecords(ctx context.Context, db *sql.DB, query string, args []any, schemaSlug, offsetColumn string) (*rowIterator, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read query failed: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	return &rowIterator{rows: rows, cols: cols, schemaSlug: schemaSlug, offsetColumn: offsetColumn}, nil
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	values := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = fmt.Errorf("scan failed: %w", err)
		return false
	}
	it.n++
	record := make(endpoint.Record, len(it.cols))
	for i, col := range it.cols {
		record[col] = normalize(values[i])
	}
	it.current = endpoint.RecordContext{
		Record:     record,
		SchemaSlug: it.schemaSlug,
		Offset:     endpoint.Int64(rowOffset(record, it.offsetColumn, it.n)),
	}
	return true
}

func (it *rowIterator) Value() endpoint.RecordContext { return it.current }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error { return it.rows.Close() }

// rowOffset uses the offset column when it holds an integer, else the row
// number within this read.
func rowOffset(record endpoint.Record, column string, n int64) int64 {
	if column != "" {
		switch v := record[column].(type) {
		case int64:
			return v
		case int32:
			return int64(v)
		case int:
			return int64(v)
		}
	}
	return n
}

// normalize maps driver values onto the record value types.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}
