package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "openrouter":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "api_key is required for openrouter (set OPENROUTER_API_KEY)",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Embedder config
	switch c.Embedder.Provider {
	case "ollama":
	case "openai":
		if c.Embedder.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "embedder.api_key",
				Message: "api_key is required for openai (set OPENAI_API_KEY)",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedder.Provider),
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.Dimensions < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimensions",
			Message: "dimensions cannot be negative",
		})
	}

	// Validate Store config
	if c.Store.Mode != "persistent" && c.Store.Mode != "ephemeral" {
		errors = append(errors, ValidationError{
			Field:   "store.mode",
			Message: "mode must be persistent or ephemeral",
		})
	}

	switch c.Store.Backend {
	case "file", "bolt":
		if c.Store.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "store.path",
				Message: "path is required for file and bolt backends",
			})
		}
	case "pgvector":
		if c.Store.Mode == "persistent" {
			if c.Store.URL == "" {
				errors = append(errors, ValidationError{
					Field:   "store.url",
					Message: "database URL is required for pgvector (set DATABASE_URL)",
				})
			} else if _, err := url.ParseRequestURI(c.Store.URL); err != nil {
				errors = append(errors, ValidationError{
					Field:   "store.url",
					Message: "invalid database URL",
				})
			}
		}
		if c.Embedder.Dimensions > 0 && c.Embedder.Dimensions != c.Store.VectorDim {
			errors = append(errors, ValidationError{
				Field:   "store.vector_dim",
				Message: "vector_dim must match embedder.dimensions",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Store.Backend),
		})
	}

	if c.Store.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Store.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Retrieval config
	if c.Retrieval.ContextLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.context_limit",
			Message: "context_limit must be positive",
		})
	}

	if c.Retrieval.FillCandidates < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.fill_candidates",
			Message: "fill_candidates must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	// Validate Server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if c.Server.MaxURLs < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_urls",
			Message: "max_urls must be positive",
		})
	}

	return errors
}
