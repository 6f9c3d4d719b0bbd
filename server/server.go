// Package server provides the HTTP and websocket API for newsqa.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xhad/newsqa/internal/models"
	"github.com/xhad/newsqa/pkg/logger"
	"go.uber.org/zap"
)

// Retriever ingests sources and selects context for questions.
type Retriever interface {
	Ingest(ctx context.Context, urls []string, replace bool) (int, error)
	SelectContext(ctx context.Context, query string, urls []string) ([]models.ScoredSegment, error)
}

// Answerer generates answers grounded on selected context.
type Answerer interface {
	Answer(ctx context.Context, question string, contexts []models.ScoredSegment) (string, error)
	AnswerStream(ctx context.Context, question string, contexts []models.ScoredSegment, onChunk func(string) error) (string, error)
}

type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxURLs        int
	Ephemeral      bool   // the store keeps nothing between requests
	Streaming      bool   // stream websocket answers chunk by chunk
	AllowedOrigin  string // websocket Origin accepted from browsers, empty for any
}

// Server is the HTTP server for the newsqa API.
type Server struct {
	config    Config
	retriever Retriever
	answerer  Answerer
	logger    *zap.Logger
	server    *http.Server
}

func New(config Config, retriever Retriever, answerer Answerer, log *zap.Logger) *Server {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if config.MaxURLs == 0 {
		config.MaxURLs = 5
	}

	s := &Server{
		config:    config,
		retriever: retriever,
		answerer:  answerer,
		logger:    logger.OrNop(log).Named("server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router with all routes and middleware mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Post("/process", s.handleProcess)
		r.Post("/ask", s.handleAsk)
	})
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops. After Stop it
// returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr), zap.Bool("ephemeral", s.config.Ephemeral))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. It is safe to call before or
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
