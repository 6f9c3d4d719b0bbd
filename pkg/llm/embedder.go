package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/newsqa/pkg/similarity"
)

var (
	// ErrProvider wraps failures of the embedding or chat backend.
	ErrProvider = errors.New("model provider error")
	// ErrMissingCredentials means a hosted provider was selected without an API key.
	ErrMissingCredentials = fmt.Errorf("%w: missing API key", ErrProvider)
)

const normEpsilon = 1e-12

// EmbeddingClient is the part of a langchaingo LLM used for embeddings.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider   string // ollama or openai
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int // expected vector length, 0 to accept the provider's
	BatchSize  int
	Timeout    time.Duration
}

// Embedder turns texts into unit-length vectors.
type Embedder struct {
	config EmbedderConfig
	client EmbeddingClient
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	var (
		client EmbeddingClient
		err    error
	)
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		client, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "openai":
		if config.APIKey == "" {
			return nil, ErrMissingCredentials
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize embedder: %v", ErrProvider, err)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient wraps an already constructed client.
func NewEmbedderWithClient(config EmbedderConfig, client EmbeddingClient) *Embedder {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	return &Embedder{
		config: config,
		client: client,
	}
}

// EmbedTexts returns one L2-normalized vector per text, in input order. All
// vectors share one dimension.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.client.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create embeddings: %w", ErrProvider, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: requested %d embeddings, got %d", ErrProvider, end-start, len(batch))
		}

		for _, v := range batch {
			vectors = append(vectors, Normalize(v))
		}
	}

	dim := e.config.Dimensions
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", ErrProvider, i)
		}
		if len(v) != dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d", similarity.ErrDimensionMismatch, i, len(v), dim)
		}
	}

	return vectors, nil
}

// Normalize scales v to unit Euclidean length.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
