package orchestration

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// tracker holds the live counters. The counting stage and the router
// update it, the progress ticker only reads it.
type tracker struct {
	bytesRead      atomic.Int64
	recordsRead    atomic.Int64
	recordsWritten atomic.Int64
	lastRecordAt   atomic.Int64

	expectedBytes   int64
	expectedRecords int64
	started         time.Time
}

func newTracker(expectedBytes, expectedRecords int64) *tracker {
	t := &tracker{expectedBytes: expectedBytes, expectedRecords: expectedRecords, started: time.Now()}
	t.lastRecordAt.Store(t.started.UnixNano())
	return t
}

func (t *tracker) countRecord() {
	t.recordsRead.Add(1)
	t.lastRecordAt.Store(time.Now().UnixNano())
}

func (t *tracker) sinceLastRecord(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, t.lastRecordAt.Load()))
}

func (t *tracker) snapshot(now time.Time) FetchStreamStatus {
	s := FetchStreamStatus{
		BytesRead:       t.bytesRead.Load(),
		RecordsRead:     t.recordsRead.Load(),
		RecordsWritten:  t.recordsWritten.Load(),
		ExpectedBytes:   t.expectedBytes,
		ExpectedRecords: t.expectedRecords,
		PercentComplete: -1,
		Elapsed:         now.Sub(t.started),
	}
	secs := s.Elapsed.Seconds()
	if secs > 0 {
		s.BytesPerSecond = float64(s.BytesRead) / secs
		s.RecordsPerSecond = float64(s.RecordsRead) / secs
	}

	// Bytes are the better measure when the source reports them.
	var done, expected int64
	var rate float64
	switch {
	case t.expectedBytes > 0:
		done, expected, rate = s.BytesRead, t.expectedBytes, s.BytesPerSecond
	case t.expectedRecords > 0:
		done, expected, rate = s.RecordsRead, t.expectedRecords, s.RecordsPerSecond
	}
	if expected > 0 {
		s.PercentComplete = min(100, float64(done)/float64(expected)*100)
		if remaining := expected - done; remaining > 0 && rate > 0 {
			s.ETA = time.Duration(float64(remaining) / rate * float64(time.Second))
		}
	}
	return s
}

// countingReader adds every byte read to a shared counter.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// startProgress runs the progress ticker. The returned stop function
// waits for the ticker to exit and is safe to call more than once, so no
// Progress callback runs after it returns.
func (r *run) startProgress(ctx context.Context) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		r.watchProgress(ctx, done)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// watchProgress emits a snapshot every interval and flags stalled reads
// until done is closed.
func (r *run) watchProgress(ctx context.Context, done <-chan struct{}) {
	if r.sync.progressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.sync.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			status := r.tracker.snapshot(now)
			r.observeProgress(status)

			idle := r.tracker.sinceLastRecord(now)
			if idle >= r.sync.stallWarningAfter {
				r.reporter.swap(StateReadingStream, StateReadingStreamWarning,
					"no records received for "+idle.Truncate(time.Second).String())
			} else {
				r.reporter.swap(StateReadingStreamWarning, StateReadingStream, "")
			}
		}
	}
}

func (r *run) observeProgress(status FetchStreamStatus) {
	if r.req.Callbacks.Progress != nil {
		r.req.Callbacks.Progress(status)
	}
}
