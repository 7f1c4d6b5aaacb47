// Package analyzer calls the external AI endpoint that turns document text into
// structured metadata. It includes adapters for DeepSeek (OpenAI-compatible
// chat completions) and Anthropic Claude, plus a deterministic Mock used when no
// endpoint is configured or the endpoint is unavailable.
//
// Adapters perform exactly one request per call. Retries, backoff and circuit
// breaking belong to the caller (see internal/resilience/retry); adapters only
// translate API failures into *retry.HTTPError so they classify correctly.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Analyzer extracts metadata from document text.
type Analyzer interface {
	// Analyze performs a single request for text.
	Analyze(ctx context.Context, text string) (Metadata, error)

	// Model is the model identifier, part of the cache key.
	Model() string

	// Provider names the endpoint in logs and cache metadata.
	Provider() string
}

// Metadata is the structured analysis of one document.
type Metadata struct {
	Abstract           string     `json:"abstract"`
	Keywords           []string   `json:"keywords"`
	Theories           []string   `json:"theories"`
	ExperimentFlow     string     `json:"experiment_flow"`
	StatisticalMethods []string   `json:"statistical_methods"`
	Conclusion         string     `json:"conclusion"`
	ConfidenceScore    float64    `json:"confidence_score"`
	Authors            []string   `json:"authors"`
	TheoriesUsed       []Theory   `json:"theories_used"`
	Entities           []Entity   `json:"entities"`
	EntityRelations    []Relation `json:"entity_relations"`
}

// Theory is a theory, model or framework the document relies on.
type Theory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Entity is a named entity with its type and frequency in the document.
type Entity struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Frequency int    `json:"frequency"`
}

// Relation links two entities.
type Relation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// EmptyMetadata returns metadata with every list present and empty.
func EmptyMetadata() Metadata {
	m := Metadata{}
	m.normalize()
	return m
}

// normalize replaces nil slices so the JSON encoding always has arrays.
func (m *Metadata) normalize() {
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	if m.Theories == nil {
		m.Theories = []string{}
	}
	if m.StatisticalMethods == nil {
		m.StatisticalMethods = []string{}
	}
	if m.Authors == nil {
		m.Authors = []string{}
	}
	if m.TheoriesUsed == nil {
		m.TheoriesUsed = []Theory{}
	}
	if m.Entities == nil {
		m.Entities = []Entity{}
	}
	if m.EntityRelations == nil {
		m.EntityRelations = []Relation{}
	}
}

// Provider identifiers.
const (
	ProviderDeepSeek = "deepseek"
	ProviderClaude   = "claude"
	ProviderMock     = "mock"
)

// placeholderAPIKey is the value shipped in sample env files.
const placeholderAPIKey = "your-deepseek-api-key"

// Config selects and configures an endpoint.
type Config struct {
	Provider    string
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64

	// RateLimitRPS and RateLimitBurst bound outgoing requests. Zero RPS disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int

	// HTTPTimeout bounds the underlying HTTP client. The per-attempt deadline
	// of the retry executor is usually shorter.
	HTTPTimeout time.Duration
}

// DefaultConfig returns the DeepSeek defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       ProviderDeepSeek,
		APIBase:        "https://api.deepseek.com",
		Model:          "deepseek-chat",
		MaxTokens:      2000,
		Temperature:    0.2,
		RateLimitRPS:   2,
		RateLimitBurst: 4,
		HTTPTimeout:    120 * time.Second,
	}
}

// Configured reports whether cfg carries a usable API key.
func (c Config) Configured() bool {
	key := strings.TrimSpace(c.APIKey)
	return key != "" && key != placeholderAPIKey
}

// New builds the analyzer selected by cfg.Provider. Without an API key it
// returns a Mock.
func New(cfg Config, opts ...Option) (Analyzer, error) {
	if !cfg.Configured() {
		return NewMock(), nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderDeepSeek:
		return NewDeepSeek(cfg, opts...), nil
	case ProviderClaude:
		return NewClaude(cfg, opts...), nil
	case ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q", cfg.Provider)
	}
}

const systemPrompt = "You are a precise information extraction assistant. Reply with JSON only, exactly in the requested structure."

// buildPrompt asks for the metadata schema for text.
func buildPrompt(text string) string {
	return `Analyze the document below for a learning platform knowledge graph and return the following fields as JSON:
{
  "abstract": "summary of the document, at most 200 words",
  "keywords": ["keyword 1", "keyword 2"],
  "theories": ["theories or methods referenced"],
  "experiment_flow": "short description of the experiment procedure",
  "statistical_methods": ["statistical or analytical methods used"],
  "conclusion": "short conclusion",
  "authors": ["author 1", "author 2"],
  "theories_used": [{"name": "theory name", "description": "short description"}],
  "entities": [{"name": "entity name", "type": "person/place/term/method/institution", "frequency": 1}],
  "entity_relations": [{"source": "entity 1", "target": "entity 2", "relation": "relation type"}]
}

Rules:
1. authors: every author named in the document
2. theories_used: theories, models and frameworks the document explicitly cites or applies
3. entities: important people, places, terms, methods and institutions
4. entity_relations: relations between entities such as "uses", "belongs to", "collaborates with"

Document:
` + text
}
