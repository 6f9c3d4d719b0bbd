package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xhad/newsqa/pkg/llm"
	"github.com/xhad/newsqa/pkg/retriever"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type processResponse struct {
	Count int `json:"count"`
}

type askResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.config.MaxURLs); err != nil {
		s.respondErr(w, err)
		return
	}

	s.logger.Debug("process request", zap.Strings("urls", req.URLs), zap.Bool("replace", req.Replace))
	count, err := s.retriever.Ingest(r.Context(), req.URLs, req.Replace)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, processResponse{Count: count})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.ask(r.Context(), req)
	if err != nil {
		s.logger.Error("ask failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) ask(ctx context.Context, req AskRequest) (askResponse, error) {
	if err := req.Validate(s.config.Ephemeral); err != nil {
		return askResponse{}, err
	}

	s.logger.Debug("ask request", zap.String("question", req.Question), zap.Strings("urls", req.URLs))
	contexts, err := s.retriever.SelectContext(ctx, req.Question, req.URLs)
	if err != nil {
		return askResponse{}, err
	}

	answer, err := s.answerer.Answer(ctx, req.Question, contexts)
	if err != nil {
		return askResponse{}, err
	}
	return askResponse{Answer: answer, Sources: llm.SourceURLs(contexts)}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, retriever.ErrRetrievalInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		s.respondError(w, http.StatusBadRequest, verr.Message)
		return
	}
	s.respondError(w, statusFor(err), err.Error())
}
