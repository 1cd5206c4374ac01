package providers

import (
	"context"
)

// Config represents one generation request to an LLM provider
type Config struct {
	Model       string
	Temperature float64
	// System primes the model with a persona; empty means none
	System string
	Prompt string
	// JSON asks the provider to constrain output to a JSON object
	JSON bool
}

// Provider defines the interface for an LLM provider
type Provider interface {
	Generate(ctx context.Context, config Config) (string, error)
}
