package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/metrics"
)

// batch is one unit handed from the reader to the router.
type batch struct {
	records []endpoint.RecordContext

	// completed lists streams whose last record is in this batch or an
	// earlier one.
	completed []streamDone
}

type streamDone struct {
	name       string
	updateHash string
}

// readResult is what the reader goroutine reports when it ends.
type readResult struct {
	stoppedEarly bool
	err          error
}

// recordReader fans the preview's streams into one ordered batch sequence.
type recordReader struct {
	preview   *endpoint.StreamSetPreview
	method    endpoint.UpdateMethod
	prior     *endpoint.StreamSetState
	batchSize int

	tracker  *tracker
	reporter *reporter
	logger   *slog.Logger
	sourceID string

	pending batch
	out     chan<- batch
	routed  <-chan struct{}
}

var errRouterGone = errors.New("router stopped")

// run reads until the preview is exhausted, ctx is cancelled or the router
// stops. Cancellation flushes the pending batch so it is still written.
func (r *recordReader) run(ctx context.Context, out chan<- batch, routed <-chan struct{}) readResult {
	r.out = out
	r.routed = routed
	defer close(out)

	res := r.readAll(ctx)
	if errors.Is(res.err, errRouterGone) {
		return readResult{}
	}
	if res.err != nil && !res.stoppedEarly {
		return res
	}
	if err := r.flush(); err != nil {
		return readResult{stoppedEarly: res.stoppedEarly}
	}
	return res
}

func (r *recordReader) readAll(ctx context.Context) readResult {
	idx := 0
	for {
		if ctx.Err() != nil {
			return readResult{stoppedEarly: true}
		}

		summary, err := r.nextStream(ctx, &idx)
		if err != nil {
			if ctx.Err() != nil {
				return readResult{stoppedEarly: true}
			}
			return readResult{err: wrap(KindSource, CodeSourceRead, fmt.Errorf("next stream: %w", err))}
		}
		if summary == nil {
			return readResult{}
		}

		stopped, err := r.readStream(ctx, summary)
		if err != nil {
			return readResult{err: err}
		}
		if stopped {
			return readResult{stoppedEarly: true}
		}
	}
}

func (r *recordReader) nextStream(ctx context.Context, idx *int) (*endpoint.StreamSummary, error) {
	if r.preview.StreamSummaries != nil {
		if *idx >= len(r.preview.StreamSummaries) {
			return nil, nil
		}
		s := r.preview.StreamSummaries[*idx]
		*idx++
		return s, nil
	}
	if r.preview.MoveToNextStream == nil {
		return nil, nil
	}
	return r.preview.MoveToNextStream(ctx)
}

// readStream copies one stream into batches. It reports stopped when the
// context was cancelled mid-stream.
func (r *recordReader) readStream(ctx context.Context, summary *endpoint.StreamSummary) (bool, error) {
	r.reporter.set(StateOpeningStream, summary.Name, "")
	if summary.OpenStream == nil {
		return false, wrap(KindSource, CodeSourceRead, fmt.Errorf("stream %s cannot be opened", summary.Name))
	}

	var prior *endpoint.StreamState
	if r.method == endpoint.UpdateMethodAppendOnly && r.prior != nil {
		prior = r.prior.StreamStates[summary.Name].Clone()
	}

	opened, err := summary.OpenStream(ctx, prior)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return false, wrap(KindSource, CodeSourceRead, fmt.Errorf("open stream %s: %w", summary.Name, err))
	}

	it, closeStream, err := r.iterate(ctx, opened)
	if err != nil {
		return false, wrap(KindSource, CodeSourceRead, fmt.Errorf("open stream %s: %w", summary.Name, err))
	}
	defer closeStream()

	r.reporter.set(StateReadingStream, summary.Name, "")
	r.logger.Debug("reading stream", "stream", summary.Name)

	reporter, _ := it.(endpoint.BytesReporter)
	var lastBytes int64

	for {
		if ctx.Err() != nil {
			return true, nil
		}
		if !it.Next() {
			break
		}
		rc := it.Value()
		if rc.SchemaSlug == "" {
			rc.SchemaSlug = opened.SchemaSlug
		}
		rc.StreamSetSlug = r.preview.Slug
		rc.StreamName = summary.Name

		if reporter != nil {
			if n := reporter.BytesRead(); n > lastBytes {
				r.addBytes(n - lastBytes)
				lastBytes = n
			}
		}

		records, err := applyTransforms(opened.Transforms, rc)
		if err != nil {
			return false, wrap(KindSource, CodeSourceRead, fmt.Errorf("stream %s transform: %w", summary.Name, err))
		}
		for _, out := range records {
			r.tracker.countRecord()
			r.pending.records = append(r.pending.records, out)
			if len(r.pending.records) >= r.batchSize {
				if err := r.flush(); err != nil {
					return false, err
				}
			}
		}
		if len(records) > 0 {
			r.reporter.swap(StateReadingStreamWarning, StateReadingStream, "")
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return false, wrap(KindSource, CodeSourceRead, fmt.Errorf("read stream %s: %w", summary.Name, err))
	}
	if reporter != nil {
		if n := reporter.BytesRead(); n > lastBytes {
			r.addBytes(n - lastBytes)
		}
	}

	r.pending.completed = append(r.pending.completed, streamDone{name: summary.Name, updateHash: summary.UpdateHash})
	return false, nil
}

// iterate turns an opened stream into a record iterator. Reader-backed
// streams are parsed through a byte counter.
func (r *recordReader) iterate(ctx context.Context, opened *endpoint.StreamAndTransforms) (endpoint.Iterator[endpoint.RecordContext], func(), error) {
	if opened == nil {
		return nil, nil, errors.New("stream returned nothing")
	}
	if opened.Records != nil {
		return opened.Records, func() { _ = opened.Records.Close() }, nil
	}
	if opened.Reader == nil || opened.Parser == nil {
		_ = closeIf(opened.Reader)
		return nil, nil, errors.New("stream returned neither records nor a reader with a parser")
	}
	counted := &countingReader{r: opened.Reader, n: &r.tracker.bytesRead}
	it, err := opened.Parser.Parse(ctx, counted, opened.SchemaSlug)
	if err != nil {
		_ = opened.Reader.Close()
		return nil, nil, err
	}
	return it, func() {
		_ = it.Close()
		_ = opened.Reader.Close()
	}, nil
}

func (r *recordReader) addBytes(n int64) {
	r.tracker.bytesRead.Add(n)
}

// flush hands the pending batch to the router. It blocks while the router
// is busy with the previous batch.
func (r *recordReader) flush() error {
	if len(r.pending.records) == 0 && len(r.pending.completed) == 0 {
		return nil
	}
	b := r.pending
	r.pending = batch{}
	metrics.RecordsRead.WithLabelValues(r.sourceID, r.preview.Slug).Add(float64(len(b.records)))
	select {
	case r.out <- b:
		return nil
	case <-r.routed:
		return errRouterGone
	}
}

func applyTransforms(transforms []endpoint.Transform, rc endpoint.RecordContext) ([]endpoint.RecordContext, error) {
	records := []endpoint.RecordContext{rc}
	for _, t := range transforms {
		if t == nil {
			continue
		}
		var next []endpoint.RecordContext
		for _, in := range records {
			out, err := t(in)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		records = next
	}
	return records, nil
}

func closeIf(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
