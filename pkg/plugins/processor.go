// Package plugins hosts query pre- and post-processors. Processors are either compiled into the
// binary and registered by name, or WebAssembly modules loaded through Extism.
package plugins

import (
	"context"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// InputResult is the outcome of pre-processing a request.
type InputResult struct {
	// Specs replaces the extracted request fields when non-nil.
	Specs []models.RequestSpecification
	// Escape stops the pipeline before any database call and returns Output instead.
	Escape bool
	Output any
}

// Processor transforms the request before execution and the raw result after it.
type Processor interface {
	ProcessInput(ctx context.Context, key string, specs []models.RequestSpecification, q *models.QuerySpecification) (InputResult, error)
	ProcessOutput(ctx context.Context, key string, raw any, specs []models.RequestSpecification, q *models.QuerySpecification) (any, error)
}

// Funcs adapts plain functions to a Processor. A nil function passes its input through.
type Funcs struct {
	Input  func(ctx context.Context, key string, specs []models.RequestSpecification, q *models.QuerySpecification) (InputResult, error)
	Output func(ctx context.Context, key string, raw any, specs []models.RequestSpecification, q *models.QuerySpecification) (any, error)
}

func (f Funcs) ProcessInput(ctx context.Context, key string, specs []models.RequestSpecification, q *models.QuerySpecification) (InputResult, error) {
	if f.Input == nil {
		return InputResult{Specs: specs}, nil
	}
	return f.Input(ctx, key, specs, q)
}

func (f Funcs) ProcessOutput(ctx context.Context, key string, raw any, specs []models.RequestSpecification, q *models.QuerySpecification) (any, error) {
	if f.Output == nil {
		return raw, nil
	}
	return f.Output(ctx, key, raw, specs, q)
}

var _ Processor = Funcs{}
