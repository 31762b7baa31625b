package postgres

import "github.com/nucleus/ucl-sync/internal/endpoint"

func init() {
	endpoint.RegisterSink(TemplateID, func() (endpoint.Sink, error) { return NewSink(), nil })
}
