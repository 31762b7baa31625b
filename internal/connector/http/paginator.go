package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// Paginator builds successive page requests from the previous page.
type Paginator interface {
	// First returns the request for the first page.
	First() *Request
	// Next returns the request for the following page, or nil when done.
	Next(body map[string]any, received int) *Request
}

// OffsetPaginator walks offset/limit pages until a short page or the total.
type OffsetPaginator struct {
	Path      string
	Limit     int
	Offset    int
	OffsetKey string
	LimitKey  string
	TotalKey  string
}

func (p *OffsetPaginator) First() *Request { return p.request() }

func (p *OffsetPaginator) request() *Request {
	query := url.Values{}
	query.Set(p.OffsetKey, strconv.Itoa(p.Offset))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{Path: p.Path, Query: query}
}

func (p *OffsetPaginator) Next(body map[string]any, received int) *Request {
	if received == 0 || received < p.Limit {
		return nil
	}
	p.Offset += received
	if total, ok := toInt(lookupPath(body, p.TotalKey)); ok && p.Offset >= total {
		return nil
	}
	return p.request()
}

// CursorPaginator follows the cursor the server returns with each page.
type CursorPaginator struct {
	Path          string
	Limit         int
	CursorKey     string
	LimitKey      string
	NextCursorKey string
	cursor        string
}

func (p *CursorPaginator) First() *Request { return p.request() }

func (p *CursorPaginator) request() *Request {
	query := url.Values{}
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	if p.cursor != "" {
		query.Set(p.CursorKey, p.cursor)
	}
	return &Request{Path: p.Path, Query: query}
}

func (p *CursorPaginator) Next(body map[string]any, received int) *Request {
	next, _ := lookupPath(body, p.NextCursorKey).(string)
	if next == "" || next == p.cursor || received == 0 {
		return nil
	}
	p.cursor = next
	return p.request()
}

// SinglePage fetches one request and stops.
type SinglePage struct {
	Path string
}

func (p SinglePage) First() *Request                   { return &Request{Path: p.Path} }
func (p SinglePage) Next(map[string]any, int) *Request { return nil }

// pageIterator flattens pages into records. Offsets count records from the
// start of the stream, starting after base.
type pageIterator struct {
	ctx        context.Context
	client     *Client
	paginator  Paginator
	resultsKey string
	schema     string

	next    *Request
	page    []any
	idx     int
	offset  int64
	current endpoint.RecordContext
	bytes   int64
	err     error
}

func newPageIterator(ctx context.Context, client *Client, p Paginator, resultsKey, schema string, base int64) *pageIterator {
	return &pageIterator{ctx: ctx, client: client, paginator: p, resultsKey: resultsKey, schema: schema, next: p.First(), offset: base}
}

func (it *pageIterator) Next() bool {
	for it.idx >= len(it.page) {
		if it.err != nil || it.next == nil {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
	}
	item := it.page[it.idx]
	it.idx++
	rec, ok := item.(map[string]any)
	if !ok {
		rec = map[string]any{"value": item}
	}
	it.offset++
	it.current = endpoint.RecordContext{Record: endpoint.Record(rec), SchemaSlug: it.schema, Offset: endpoint.Int64(it.offset)}
	return true
}

func (it *pageIterator) fetch() error {
	resp, err := it.client.Get(it.ctx, it.next)
	if err != nil {
		return err
	}
	it.bytes += int64(len(resp.Body))

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return &Error{Code: CodeDecode, Err: fmt.Errorf("%s: %w", it.next.Path, err)}
	}

	body, _ := decoded.(map[string]any)
	items, err := pageItems(decoded, body, it.resultsKey)
	if err != nil {
		return &Error{Code: CodeDecode, Err: fmt.Errorf("%s: %w", it.next.Path, err)}
	}

	it.page, it.idx = items, 0
	it.next = it.paginator.Next(body, len(items))
	return nil
}

func (it *pageIterator) Value() endpoint.RecordContext { return it.current }
func (it *pageIterator) Err() error                    { return it.err }

// BytesRead counts response bodies fetched so far.
func (it *pageIterator) BytesRead() int64 { return it.bytes }

func (it *pageIterator) Close() error {
	it.next, it.page = nil, nil
	return nil
}

// pageItems finds the records of one page. A missing results key is an
// empty page.
func pageItems(decoded any, body map[string]any, resultsKey string) ([]any, error) {
	if resultsKey == "" {
		arr, ok := decoded.([]any)
		if !ok {
			return nil, fmt.Errorf("response is not an array")
		}
		return arr, nil
	}
	v := lookupPath(body, resultsKey)
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%q is not an array", resultsKey)
	}
	return arr, nil
}

// lookupPath resolves a dotted key such as "data.items".
func lookupPath(body map[string]any, path string) any {
	if body == nil || path == "" {
		return nil
	}
	var cur any = body
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
