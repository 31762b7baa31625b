package file

import "github.com/nucleus/ucl-sync/internal/endpoint"

func init() {
	endpoint.RegisterSource(TemplateID, func() (endpoint.Source, error) { return NewSource(nil), nil })
	endpoint.RegisterSink(TemplateID, func() (endpoint.Sink, error) { return NewSink(), nil })
}
