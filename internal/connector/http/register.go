package http

import "github.com/nucleus/ucl-sync/internal/endpoint"

func init() {
	endpoint.RegisterSource(TemplateID, func() (endpoint.Source, error) { return NewSource(), nil })
}
