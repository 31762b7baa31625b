package orchestration

import (
	"context"

	"github.com/nucleus/ucl-sync/internal/endpoint"
	"github.com/nucleus/ucl-sync/internal/schema"
)

// deconflict resolves type conflicts for strongly typed sinks. It returns
// the schemas to write, keyed by slug, and a casting transform for every
// schema that was rewritten. Choices are stored back into the sink
// configuration so later runs do not prompt again.
func (r *run) deconflict(ctx context.Context) (map[string]*endpoint.Schema, map[string]endpoint.Transform, error) {
	schemas := make(map[string]*endpoint.Schema, len(r.req.Package.Schemas))
	for _, s := range r.req.Package.Schemas {
		schemas[s.Slug] = s
	}
	if !r.req.Sink.IsStronglyTyped(r.req.SinkConfig) {
		return schemas, nil, nil
	}

	conflicts := schema.FindConflicts(r.req.Package.Schemas)
	if len(conflicts) == 0 {
		return schemas, nil, nil
	}

	choices, err := schema.ChoicesFromConfig(r.req.SinkConfig.Configuration)
	if err != nil {
		return nil, nil, configurationError("sink configuration: %v", err)
	}

	var open []schema.Conflict
	for _, c := range conflicts {
		if _, ok := choices.Get(c.SchemaSlug, c.Field); !ok {
			open = append(open, c)
		}
	}
	if err := r.prompt(ctx, open, choices); err != nil {
		return nil, nil, err
	}

	transforms := make(map[string]endpoint.Transform)
	for slug, fields := range choices {
		s, ok := schemas[slug]
		if !ok {
			continue
		}
		rewritten, t, err := schema.Apply(s, fields)
		if err != nil {
			return nil, nil, configurationError("deconflict schema %s: %v", slug, err)
		}
		schemas[slug] = rewritten
		transforms[slug] = t
	}

	if r.req.SinkConfig.Configuration == nil {
		r.req.SinkConfig.Configuration = map[string]any{}
	}
	r.req.SinkConfig.Configuration[schema.ConfigKey] = choices.ToConfig()
	r.logger.Info("resolved schema conflicts", "conflicts", len(conflicts), "prompted", len(open))
	return schemas, transforms, nil
}

// prompt asks the caller for the conflicts without a stored choice. Missing
// answers and a missing callback fall back to the suggested option.
func (r *run) prompt(ctx context.Context, conflicts []schema.Conflict, choices schema.Choices) error {
	if len(conflicts) == 0 {
		return nil
	}

	var answers map[string]string
	if r.req.Callbacks.Prompt != nil {
		params := make([]Parameter, len(conflicts))
		for i, c := range conflicts {
			options := make([]string, len(c.Options))
			for j, o := range c.Options {
				options[j] = string(o)
			}
			params[i] = Parameter{
				Name:    c.ParameterName(),
				Message: c.Message(),
				Options: options,
				Default: string(c.Suggested),
			}
		}
		var err error
		answers, err = r.req.Callbacks.Prompt(ctx, params)
		if err != nil {
			return configurationError("deconfliction prompt: %v", err)
		}
	}

	for _, c := range conflicts {
		choice := c.Suggested
		if a, ok := answers[c.ParameterName()]; ok && a != "" {
			choice = schema.DeconflictOption(a)
			if !allowed(c.Options, choice) {
				return configurationError("%s: option %q is not one of %v", c.ParameterName(), a, c.Options)
			}
		}
		choices.Set(c.SchemaSlug, c.Field, choice)
	}
	return nil
}

func allowed(options []schema.DeconflictOption, o schema.DeconflictOption) bool {
	for _, v := range options {
		if v == o {
			return true
		}
	}
	return false
}
