package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/metrics"
)

// chain is the write path of one schema: filter, transforms, writable.
type chain struct {
	slug      string
	wc        *endpoint.WritableWithContext
	method    endpoint.UpdateMethod
	transform []endpoint.Transform
	closed    bool
}

// prepare runs the chain's filter and transforms over a partition.
func (c *chain) prepare(records []endpoint.RecordContext) ([]endpoint.RecordContext, error) {
	out := make([]endpoint.RecordContext, 0, len(records))
	for _, rc := range records {
		if c.skip(rc) {
			continue
		}
		transformed, err := applyTransforms(c.transform, rc)
		if err != nil {
			return nil, err
		}
		out = append(out, transformed...)
	}
	return out, nil
}

// skip drops records the sink already holds when appending.
func (c *chain) skip(rc endpoint.RecordContext) bool {
	if c.method != endpoint.UpdateMethodAppendOnly || c.wc.LastOffset == nil || rc.Offset == nil {
		return false
	}
	return *rc.Offset <= *c.wc.LastOffset
}

// router partitions batches by schema and owns the state accumulator.
type router struct {
	sink     endpoint.Sink
	cfg      *endpoint.ConnectorConfig
	method   endpoint.UpdateMethod
	schemas  map[string]*endpoint.Schema
	deconf   map[string]endpoint.Transform
	state    *endpoint.StreamSetState
	setSlug  string
	tracker  *tracker
	reporter *reporter
	logger   *slog.Logger

	chains []*chain
	bySlug map[string]*chain
}

func newRouter(r *run) *router {
	return &router{
		sink:     r.req.Sink,
		cfg:      r.req.SinkConfig,
		method:   r.method,
		schemas:  r.schemas,
		deconf:   r.casts,
		state:    r.accumulator,
		setSlug:  r.req.Preview.Slug,
		tracker:  r.tracker,
		reporter: r.reporter,
		logger:   r.logger,
		bySlug:   make(map[string]*chain),
	}
}

// write forwards one batch and returns once every partition drained.
func (rt *router) write(ctx context.Context, b batch) error {
	slugs, parts := partition(b.records)

	targets := make([]*chain, len(slugs))
	for i, slug := range slugs {
		c, err := rt.chainFor(ctx, slug)
		if err != nil {
			return err
		}
		targets[i] = c
	}

	written := make([][]endpoint.RecordContext, len(slugs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range slugs {
		i := i
		c, records := targets[i], parts[i]
		g.Go(func() error {
			out, err := c.prepare(records)
			if err != nil {
				return wrap(KindSink, CodeSinkWrite, fmt.Errorf("schema %s transform: %w", c.slug, err))
			}
			if len(out) == 0 {
				return nil
			}
			if err := c.wc.Writable.Write(gctx, out); err != nil {
				return wrap(KindSink, CodeSinkWrite, fmt.Errorf("schema %s write: %w", c.slug, err))
			}
			written[i] = records
			rt.tracker.recordsWritten.Add(int64(len(out)))
			metrics.RecordsWritten.WithLabelValues(rt.sink.ID(), c.slug).Add(float64(len(out)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, records := range written {
		rt.tap(records)
	}
	for _, done := range b.completed {
		st := rt.state.Stream(done.name)
		st.UpdateHash = done.updateHash
	}
	return nil
}

// tap advances per-schema offsets for records the writables accepted.
// It only runs in the router goroutine.
func (rt *router) tap(records []endpoint.RecordContext) {
	for _, rc := range records {
		if rc.Offset == nil {
			continue
		}
		ss := rt.state.Stream(rc.StreamName).Schema(rc.SchemaSlug)
		if ss.LastOffset == nil || *rc.Offset > *ss.LastOffset {
			ss.LastOffset = endpoint.Int64(*rc.Offset)
			metrics.LastOffset.WithLabelValues(rt.setSlug, rc.StreamName, rc.SchemaSlug).Set(float64(*rc.Offset))
		}
	}
}

func (rt *router) chainFor(ctx context.Context, slug string) (*chain, error) {
	if c, ok := rt.bySlug[slug]; ok {
		return c, nil
	}
	s, ok := rt.schemas[slug]
	if !ok {
		return nil, wrap(KindSource, CodeSourceRead, fmt.Errorf("record references unknown schema %q", slug))
	}
	wc, err := rt.sink.GetWriteable(ctx, s, rt.cfg, rt.method)
	if err != nil {
		return nil, wrap(KindSink, CodeSinkWrite, fmt.Errorf("open writable for schema %s: %w", slug, err))
	}
	if wc == nil || wc.Writable == nil {
		return nil, wrap(KindSink, CodeSinkWrite, fmt.Errorf("sink returned no writable for schema %s", slug))
	}

	var transforms []endpoint.Transform
	if t := rt.deconf[slug]; t != nil {
		transforms = append(transforms, t)
	}
	transforms = append(transforms, wc.Transforms...)

	c := &chain{slug: slug, wc: wc, method: rt.method, transform: transforms}
	rt.chains = append(rt.chains, c)
	rt.bySlug[slug] = c
	rt.logger.Debug("opened writable", "schema", slug, "output", wc.OutputLocation)
	return c, nil
}

// final closes every chain, then commits all keys together. No commit
// happens if any close fails.
func (rt *router) final(ctx context.Context) ([]endpoint.CommitKey, error) {
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	var wg sync.WaitGroup
	for _, c := range rt.chains {
		wg.Add(1)
		go func(c *chain) {
			defer wg.Done()
			err := c.wc.Writable.Close(ctx)
			mu.Lock()
			defer mu.Unlock()
			c.closed = true
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close schema %s: %w", c.slug, err))
			}
		}(c)
	}
	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return nil, wrap(KindSink, CodeSinkWrite, err)
	}

	var keys []endpoint.CommitKey
	for _, c := range rt.chains {
		if c.wc.GetCommitKeys != nil {
			keys = append(keys, c.wc.GetCommitKeys()...)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	start := time.Now()
	err := rt.sink.CommitAfterWrites(ctx, keys, rt.cfg)
	metrics.CommitLatency.WithLabelValues(rt.sink.ID()).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, wrap(KindSink, CodeSinkCommit, fmt.Errorf("commit: %w", err))
	}
	return keys, nil
}

// abort releases sink resources after a failure. Errors are logged.
func (rt *router) abort(ctx context.Context) {
	for _, c := range rt.chains {
		a, ok := c.wc.Writable.(endpoint.Aborter)
		if !ok {
			if !c.closed {
				_ = c.wc.Writable.Close(ctx)
			}
			continue
		}
		if err := a.Abort(ctx); err != nil {
			rt.logger.Warn("abort writable failed", "schema", c.slug, "error", err)
		}
	}
}

// partition groups records by schema, keeping first-seen slug order and
// relative record order.
func partition(records []endpoint.RecordContext) ([]string, [][]endpoint.RecordContext) {
	var slugs []string
	idx := map[string]int{}
	var parts [][]endpoint.RecordContext
	for _, rc := range records {
		i, ok := idx[rc.SchemaSlug]
		if !ok {
			i = len(slugs)
			idx[rc.SchemaSlug] = i
			slugs = append(slugs, rc.SchemaSlug)
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], rc)
	}
	return slugs, parts
}
