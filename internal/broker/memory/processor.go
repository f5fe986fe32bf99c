package memory

import (
	"context"
	"strings"
)

// Processor is the worker-side text function run for every job.
type Processor interface {
	Process(ctx context.Context, payload string) (string, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, payload string) (string, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, payload string) (string, error) {
	return f(ctx, payload)
}

// Uppercase is a stand-in worker for local runs.
var Uppercase = ProcessorFunc(func(ctx context.Context, payload string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.ToUpper(payload), nil
})
