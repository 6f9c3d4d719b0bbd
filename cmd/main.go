package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/newsqa/pkg/config"
	"github.com/xhad/newsqa/pkg/llm"
	"github.com/xhad/newsqa/pkg/logger"
	"github.com/xhad/newsqa/pkg/processor"
	"github.com/xhad/newsqa/pkg/retriever"
	"github.com/xhad/newsqa/pkg/scraper"
	"github.com/xhad/newsqa/pkg/store"
	"github.com/xhad/newsqa/server"
	"go.uber.org/zap"
)

type Options struct {
	ConfigPath  string
	URLs        string
	Replace     bool
	Serve       bool
	Debug       bool
	BaseURL     string
	DBUrl       string
	Model       string
	Streaming   bool
	Temperature float64
}

// app holds the wired pipeline shared by the CLI and the HTTP server.
type app struct {
	config     *cfgPkg.Config
	logger     *zap.Logger
	scraper    *scraper.Scraper
	chunker    *processor.Processor
	embedder   *llm.Embedder
	store      *store.VectorStore
	retriever  *retriever.Retriever
	chatEngine *llm.ChatEngine
}

func main() {
	opts := parseFlags()

	if err := run(opts); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() Options {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.URLs, "urls", "", "Comma-separated article URLs to ingest")
	flag.BoolVar(&opts.Replace, "replace", false, "Replace the store instead of appending")
	flag.BoolVar(&opts.Serve, "serve", false, "Start the HTTP and websocket API")
	flag.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&opts.BaseURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&opts.DBUrl, "db-url", "", "PostgreSQL connection string (selects the pgvector backend)")
	flag.StringVar(&opts.Model, "model", "", "Chat model to use")
	flag.BoolVar(&opts.Streaming, "stream", true, "Enable streaming responses")
	flag.Float64Var(&opts.Temperature, "temperature", 0, "Set the LLM Temperature")
	flag.Parse()

	return opts
}

// applyFlags overrides config values with the flags given on the command line.
func applyFlags(cfg *cfgPkg.Config, opts Options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ollama-url":
			cfg.LLM.BaseURL = opts.BaseURL
			cfg.Embedder.BaseURL = opts.BaseURL
		case "db-url":
			cfg.Store.URL = opts.DBUrl
			cfg.Store.Backend = "pgvector"
		case "model":
			cfg.LLM.Model = opts.Model
		case "stream":
			cfg.UI.Streaming = opts.Streaming
		case "temperature":
			cfg.LLM.Temperature = opts.Temperature
		case "debug":
			cfg.Log.Debug = opts.Debug
		}
	})
}

func run(opts Options) error {
	cfg, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg, opts)

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}

	log, err := logger.New(cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if opts.URLs != "" {
		if err := a.ingest(ctx, splitURLs(opts.URLs), opts.Replace); err != nil {
			return err
		}
	}

	if opts.Serve {
		return a.serve(ctx)
	}
	return a.chat(ctx)
}

func newApp(ctx context.Context, cfg *cfgPkg.Config, log *zap.Logger) (*app, error) {
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit:         cfg.Scraper.RateLimit,
		Timeout:           cfg.Scraper.Timeout,
		UserAgent:         cfg.Scraper.UserAgent,
		AllowPrivateHosts: cfg.Scraper.AllowPrivateHosts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	chunker := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:   cfg.Embedder.Provider,
		Model:      cfg.Embedder.Model,
		BaseURL:    cfg.Embedder.BaseURL,
		APIKey:     cfg.Embedder.APIKey,
		Dimensions: cfg.Embedder.Dimensions,
		BatchSize:  cfg.Embedder.BatchSize,
		Timeout:    cfg.Embedder.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		SiteURL:     cfg.LLM.SiteURL,
		SiteName:    cfg.LLM.SiteName,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		Mode:       store.Mode(cfg.Store.Mode),
		Backend:    cfg.Store.Backend,
		Path:       cfg.Store.Path,
		ConnString: cfg.Store.URL,
		TableName:  cfg.Store.TableName,
		VectorDim:  cfg.Store.VectorDim,
		BatchSize:  cfg.Store.BatchSize,
		Timeout:    cfg.Store.Timeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	r := retriever.New(retriever.RetrieverConfig{
		ContextLimit:   cfg.Retrieval.ContextLimit,
		FillCandidates: cfg.Retrieval.FillCandidates,
		TopK:           cfg.Retrieval.TopK,
	}, s, &chunker, embedder, vectorStore, log.Named("retriever"))

	log.Debug("pipeline ready",
		zap.String("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model),
		zap.String("embedder", cfg.Embedder.Provider+"/"+cfg.Embedder.Model),
		zap.String("store", cfg.Store.Backend),
		zap.String("mode", cfg.Store.Mode),
	)

	return &app{
		config:     cfg,
		logger:     log,
		scraper:    s,
		chunker:    &chunker,
		embedder:   embedder,
		store:      vectorStore,
		retriever:  r,
		chatEngine: chatEngine,
	}, nil
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(server.Config{
		Host:           a.config.Server.Host,
		Port:           a.config.Server.Port,
		RequestTimeout: a.config.Server.RequestTimeout,
		MaxURLs:        a.config.Server.MaxURLs,
		Ephemeral:      a.store.Mode() == store.ModeEphemeral,
		Streaming:      a.config.UI.Streaming,
		AllowedOrigin:  a.config.LLM.SiteURL,
	}, a.retriever, a.chatEngine, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}
