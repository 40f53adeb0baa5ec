// Package llm wraps the text-generation service and the prompts built on it:
// page summarization, keyword extraction and recursive compression.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrInputTooLarge means the service rejected the request because the
	// instruction plus content exceeded its input capacity.
	ErrInputTooLarge = errors.New("generation input too large")
	// ErrUnauthorized means the service rejected the credentials.
	ErrUnauthorized = errors.New("generation service unauthorized")
	// ErrEmptyResponse means the service answered without any choices.
	ErrEmptyResponse = errors.New("generation service returned no choices")
)

// Generator turns a system instruction and user content into text.
type Generator interface {
	Generate(ctx context.Context, system, user string, opts ...GenerateOption) (string, error)
}

// GenerateOptions are per-call settings.
type GenerateOptions struct {
	Seed *int
}

// GenerateOption configures a single Generate call.
type GenerateOption func(*GenerateOptions)

// WithSeed pins the sampling seed so repeated calls return the same text.
func WithSeed(seed int) GenerateOption {
	return func(o *GenerateOptions) {
		o.Seed = &seed
	}
}

// ApplyOptions folds opts into a GenerateOptions value.
func ApplyOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
