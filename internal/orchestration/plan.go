package orchestration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nucleus/ucl-sync/internal/config"
	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// Prepare resolves a job into a FetchRequest: it builds both connectors,
// inspects the source, picks the stream set and reads the prior state.
// The returned cleanup closes pooled connector resources.
func Prepare(ctx context.Context, reg *endpoint.Registry, job *config.Job, log *slog.Logger) (*FetchRequest, func(), error) {
	if reg == nil {
		reg = endpoint.DefaultRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	noop := func() {}

	src, err := reg.CreateSource(job.Source.Template)
	if err != nil {
		return nil, noop, configurationError("source: %v", err)
	}
	sink, err := reg.CreateSink(job.Sink.Template)
	if err != nil {
		closeConnector(src)
		return nil, noop, configurationError("sink: %v", err)
	}
	cleanup := func() {
		closeConnector(src)
		closeConnector(sink)
	}

	srcCfg := job.Source.ConnectorConfig()
	sinkCfg := job.Sink.ConnectorConfig()
	for _, c := range []struct {
		conn any
		cfg  *endpoint.ConnectorConfig
	}{{src, srcCfg}, {sink, sinkCfg}} {
		if d, ok := c.conn.(endpoint.Describer); ok {
			if err := d.Descriptor().Validate(c.cfg); err != nil {
				cleanup()
				return nil, noop, &Error{Kind: KindConfiguration, Code: CodeConfiguration, Err: err}
			}
		}
	}

	inspection, err := src.InspectURIs(ctx, srcCfg, &endpoint.JobContext{Logger: log})
	if err != nil {
		cleanup()
		return nil, noop, wrap(KindSource, CodeSourceRead, fmt.Errorf("inspect: %w", err))
	}
	preview, err := pickStreamSet(inspection, job.Source.StreamSet)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	pkg := job.PackageFile()
	key := pkg.StateKey()
	prior, err := sink.GetSinkState(ctx, sinkCfg, key)
	if err != nil {
		cleanup()
		return nil, noop, wrap(KindStatePersistence, CodeStatePersistence, fmt.Errorf("read sink state %s: %w", key, err))
	}

	return &FetchRequest{
		Package:        pkg,
		Source:         src,
		SourceConfig:   srcCfg,
		Preview:        preview,
		Sink:           sink,
		SinkConfig:     sinkCfg,
		StateKey:       key,
		PriorState:     prior,
		BatchSize:      job.BatchSize,
		SkipIfUpToDate: job.SkipIfUpToDate,
	}, cleanup, nil
}

func pickStreamSet(res *endpoint.InspectionResults, slug string) (*endpoint.StreamSetPreview, error) {
	if res == nil || len(res.StreamSetPreviews) == 0 {
		return nil, wrap(KindSource, CodeSourceRead, fmt.Errorf("source returned no stream sets"))
	}
	if slug == "" {
		return res.StreamSetPreviews[0], nil
	}
	if p := res.StreamSet(slug); p != nil {
		return p, nil
	}
	return nil, configurationError("stream set %q not found", slug)
}

func closeConnector(c any) {
	if closer, ok := c.(endpoint.Closer); ok {
		_ = closer.Close()
	}
}
