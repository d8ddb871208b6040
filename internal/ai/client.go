package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// Embedder produces passage and query embeddings. The two sides are distinct
// calls because asymmetric models embed documents and questions differently.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Completer performs a single inference round trip. Retries, throttling and
// output clean-up live in Generator.
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// Client provides both embedding and inference capabilities
type Client interface {
	Embedder
	Completer
}

// Completion is one inference request.
type Completion struct {
	Prompt string
	System string
	// JSON asks the provider for a JSON-only response.
	JSON        bool
	Temperature float32
	MaxTokens   int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey        string
	BaseURL       string
	EmbedModel    string
	GenerateModel string
	Dim           int
	ProjectID     string
	Provider      Provider
	Location      string
	// PassagePrefix and QueryPrefix are prepended to texts for models that
	// expect them (e5 style "passage: " / "query: ").
	PassagePrefix string
	QueryPrefix   string
	Timeout       time.Duration
	Temperature   float32
	MaxTokens     int
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is an offline implementation of Client. Embeddings are
// deterministic hashed bags of words, so similar texts land near each other.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 384
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.hashEmbed(t)
	}
	return out, nil
}

func (s *StubClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hashEmbed(text), nil
}

// Complete returns an empty JSON list for structured requests and a
// not-covered answer otherwise.
func (s *StubClient) Complete(ctx context.Context, c Completion) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.JSON {
		return "[]", nil
	}
	return "This is not covered in the uploaded contract.", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func (s *StubClient) hashEmbed(text string) []float32 {
	v := make([]float32, s.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(s.dim)] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func prefixAll(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}
