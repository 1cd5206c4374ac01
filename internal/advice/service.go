// Package advice turns herb questions into role-primed LLM prompts and
// returns the model's answers.
package advice

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ayurtrace/ayurtrace/internal/gemini"
	"github.com/ayurtrace/ayurtrace/internal/ollama"
	"github.com/ayurtrace/ayurtrace/internal/openai"
	"github.com/ayurtrace/ayurtrace/internal/providers"
)

var (
	// ErrMissingQuestion is returned when a query has no question text
	ErrMissingQuestion = errors.New("question is required")
	// ErrMalformedResponse is returned when a structured answer is not valid JSON
	// or does not match the answer schema
	ErrMalformedResponse = errors.New("malformed model response")
)

//go:embed answer.schema.json
var answerSchema []byte

const answerSchemaURL = "https://ayurtrace.local/schemas/answer.schema.json"

// Query is a caller's question plus optional context
type Query struct {
	Herb     string `json:"herb_name"`
	Question string `json:"question"`
	Location string `json:"location"`
}

// Answer is the structured reply of the JSON route
type Answer struct {
	Advice       string   `json:"advice"`
	Precautions  []string `json:"precautions"`
	RelatedHerbs []string `json:"related_herbs"`
}

// Service renders persona prompts and calls one provider
type Service struct {
	provider    providers.Provider
	model       string
	temperature float64
	schema      *jsonschema.Schema
}

// NewService returns a Service using provider with the given model settings
func NewService(provider providers.Provider, model string, temperature float64) (*Service, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(answerSchemaURL, bytes.NewReader(answerSchema)); err != nil {
		return nil, fmt.Errorf("failed to load answer schema: %w", err)
	}
	schema, err := c.Compile(answerSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer schema: %w", err)
	}

	return &Service{
		provider:    provider,
		model:       model,
		temperature: temperature,
		schema:      schema,
	}, nil
}

// NewProvider returns the provider registered under name
func NewProvider(name, ollamaURL string) (providers.Provider, error) {
	switch strings.ToLower(name) {
	case "ollama":
		return ollama.New(ollamaURL), nil
	case "openai":
		return openai.New(), nil
	case "gemini":
		return gemini.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// FarmerAdvice answers a grower's question in the farmer persona
func (s *Service) FarmerAdvice(ctx context.Context, q Query) (string, error) {
	return s.text(ctx, farmerPersona, q)
}

// ConsumerChat answers a consumer's question in the wellness persona
func (s *Service) ConsumerChat(ctx context.Context, q Query) (string, error) {
	return s.text(ctx, consumerPersona, q)
}

// Query asks for a structured answer and validates it
func (s *Service) Query(ctx context.Context, q Query) (*Answer, error) {
	if strings.TrimSpace(q.Question) == "" {
		return nil, ErrMissingQuestion
	}

	raw, err := s.provider.Generate(ctx, providers.Config{
		Model:       s.model,
		Temperature: s.temperature,
		System:      queryPersona,
		Prompt:      buildPrompt(q),
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer, err := s.parseAnswer(raw)
	if err != nil {
		slog.Warn("Model returned malformed answer", "err", err, "length", len(raw))
		return nil, err
	}
	return answer, nil
}

func (s *Service) text(ctx context.Context, persona string, q Query) (string, error) {
	if strings.TrimSpace(q.Question) == "" {
		return "", ErrMissingQuestion
	}

	reply, err := s.provider.Generate(ctx, providers.Config{
		Model:       s.model,
		Temperature: s.temperature,
		System:      persona,
		Prompt:      buildPrompt(q),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate advice: %w", err)
	}
	slog.Debug("Generated advice", "herb", q.Herb, "length", len(reply))
	return reply, nil
}

func (s *Service) parseAnswer(raw string) (*Answer, error) {
	body := stripFences(raw)

	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(body), &answer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if answer.Precautions == nil {
		answer.Precautions = []string{}
	}
	if answer.RelatedHerbs == nil {
		answer.RelatedHerbs = []string{}
	}
	return &answer, nil
}
