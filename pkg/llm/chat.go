package llm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/newsqa/internal/models"
)

const (
	DefaultSystemTemplate = "You are a helpful financial news assistant. Answer using the provided context. " +
		"If unsure, say you don't know. Do NOT include a Sources section; the client will display sources separately."

	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

var sourcesSection = regexp.MustCompile(`(?is)\n+Sources:.*$`)

// ContentGenerator is the part of a langchaingo model used for chat.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string // ollama or openrouter
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	SiteURL        string // sent to OpenRouter as HTTP-Referer
	SiteName       string // sent to OpenRouter as X-Title
	Timeout        time.Duration
}

// ChatEngine is an engine that uses an LLM to answer questions over
// retrieved context.
type ChatEngine struct {
	config ChatConfig
	llm    ContentGenerator
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	var (
		llm ContentGenerator
		err error
	)
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "openrouter":
		if config.APIKey == "" {
			return nil, ErrMissingCredentials
		}
		if config.Model == "" {
			config.Model = "openai/gpt-4o-mini"
		}
		if config.BaseURL == "" {
			config.BaseURL = openRouterBaseURL
		}
		llm, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
			openai.WithBaseURL(config.BaseURL),
			openai.WithHTTPClient(&http.Client{
				Transport: &headerTransport{
					headers: map[string]string{
						"HTTP-Referer": config.SiteURL,
						"X-Title":      config.SiteName,
					},
				},
			}),
		)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize LLM: %v", ErrProvider, err)
	}

	return NewWithGenerator(config, llm)
}

// NewWithGenerator creates a ChatEngine around an existing model.
func NewWithGenerator(config ChatConfig, llm ContentGenerator) (*ChatEngine, error) {
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// BuildMessages returns the system instruction and a user turn carrying the
// question and the numbered context block.
func BuildMessages(systemTemplate, question string, contexts []models.ScoredSegment) []llms.MessageContent {
	blocks := make([]string, len(contexts))
	for i, c := range contexts {
		blocks[i] = fmt.Sprintf("[#%d %s] %s", i+1, c.URL, c.Content)
	}

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf("Question: %s\n\nContext:\n%s", question, strings.Join(blocks, "\n\n"))),
	}
}

// Answer generates a response to question grounded on contexts.
func (ce *ChatEngine) Answer(ctx context.Context, question string, contexts []models.ScoredSegment) (string, error) {
	return ce.generate(ctx, question, contexts)
}

// AnswerStream is Answer with each generated chunk passed to onChunk as it
// arrives. The returned answer is the full, cleaned text.
func (ce *ChatEngine) AnswerStream(ctx context.Context, question string, contexts []models.ScoredSegment, onChunk func(string) error) (string, error) {
	return ce.generate(ctx, question, contexts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		return onChunk(string(chunk))
	}))
}

func (ce *ChatEngine) generate(ctx context.Context, question string, contexts []models.ScoredSegment, options ...llms.CallOption) (string, error) {
	if ce.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()
	}

	options = append(options,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)

	response, err := ce.llm.GenerateContent(ctx, BuildMessages(ce.config.SystemTemplate, question, contexts), options...)
	if err != nil {
		return "", fmt.Errorf("%w: chat error: %w", ErrProvider, err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", nil
	}

	return CleanAnswer(response.Choices[0].Content), nil
}

// CleanAnswer drops a trailing "Sources:" section the model may add anyway.
func CleanAnswer(answer string) string {
	return strings.TrimSpace(sourcesSection.ReplaceAllString(answer, ""))
}

// SourceURLs lists the distinct URLs of contexts in order of first use.
func SourceURLs(contexts []models.ScoredSegment) []string {
	sources := []string{}
	seen := make(map[string]bool)

	for _, c := range contexts {
		if !seen[c.URL] {
			sources = append(sources, c.URL)
			seen[c.URL] = true
		}
	}

	return sources
}

type headerTransport struct {
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return http.DefaultTransport.RoundTrip(req)
}
