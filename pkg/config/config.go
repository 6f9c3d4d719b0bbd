package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // ollama or openrouter
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	SiteURL     string        `yaml:"site_url"`
	SiteName    string        `yaml:"site_name"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // ollama or openai
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Mode      string        `yaml:"mode"`    // persistent or ephemeral
	Backend   string        `yaml:"backend"` // file, bolt or pgvector
	Path      string        `yaml:"path"`
	URL       string        `yaml:"url"`
	TableName string        `yaml:"table_name"`
	VectorDim int           `yaml:"vector_dim"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ScraperConfig struct {
	RateLimit         float64       `yaml:"rate_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	AllowPrivateHosts bool          `yaml:"allow_private_hosts"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	ContextLimit   int `yaml:"context_limit"`
	FillCandidates int `yaml:"fill_candidates"`
	TopK           int `yaml:"top_k"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxURLs        int           `yaml:"max_urls"`
}

type UIConfig struct {
	Streaming bool `yaml:"streaming"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

func LoadConfig(path string) (*Config, error) {
	// .env values never override variables already set
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/newsqa/config.yaml"),
			"/etc/newsqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{UI: UIConfig{Streaming: true}}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{UI: UIConfig{Streaming: true}}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openrouter" {
			config.LLM.Model = "openai/gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == "openai" {
			config.Embedder.Model = "text-embedding-3-small"
		} else {
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 30 * time.Second
	}

	if config.Store.Mode == "" {
		config.Store.Mode = "persistent"
	}
	if config.Store.Backend == "" {
		config.Store.Backend = "file"
	}
	if config.Store.Path == "" {
		switch config.Store.Backend {
		case "file":
			config.Store.Path = "data/vectorstore.json"
		case "bolt":
			config.Store.Path = "data/vectorstore.db"
		}
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "documents"
	}
	if config.Store.VectorDim == 0 {
		config.Store.VectorDim = 768
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}
	if config.Store.Timeout == 0 {
		config.Store.Timeout = 10 * time.Second
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "Mozilla/5.0"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Retrieval.ContextLimit == 0 {
		config.Retrieval.ContextLimit = 6
	}
	if config.Retrieval.FillCandidates == 0 {
		config.Retrieval.FillCandidates = 10
	}
	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 2 * time.Minute
	}
	if config.Server.MaxURLs == 0 {
		config.Server.MaxURLs = 5
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
		if config.Store.Backend == "" {
			config.Store.Backend = "pgvector"
		}
	}
	if apiKey := os.Getenv("OPENROUTER_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
		if config.LLM.Provider == "" {
			config.LLM.Provider = "openrouter"
			config.LLM.BaseURL = ""
		}
	}
	if model := os.Getenv("OPENROUTER_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	}
	if siteURL := os.Getenv("SITE_URL"); siteURL != "" {
		config.LLM.SiteURL = siteURL
	}
	if siteName := os.Getenv("SITE_NAME"); siteName != "" {
		config.LLM.SiteName = siteName
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		config.Server.Port = port
	}
	if strings.EqualFold(os.Getenv("PERSIST_STORE"), "false") || os.Getenv("VERCEL") == "1" {
		config.Store.Mode = "ephemeral"
	}
}
