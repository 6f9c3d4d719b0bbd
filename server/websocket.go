package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/xhad/newsqa/pkg/llm"
	"go.uber.org/zap"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits browsers from AllowedOrigin only. Requests without an
// Origin header come from non-browser clients and are admitted.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.config.AllowedOrigin == "" {
		return true // Be careful with this in production
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(s.config.AllowedOrigin, "/"))
}

// Message is the websocket frame in both directions. Clients send
// {"type":"ask","content":<question>,"data":{"urls":[...]}}; the server
// answers with status, stream or response, sources, then done carrying the
// cleaned answer, or error.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    struct {
		URLs []string `json:"urls"`
	} `json:"data"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Error reading message", zap.Error(err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}
		if msg.Type != "ask" {
			s.sendMessage(conn, Message{Type: "error", Content: "unsupported message type " + msg.Type})
			continue
		}

		// Messages are handled one at a time so writes to conn never overlap.
		s.handleAskMessage(r.Context(), conn, AskRequest{Question: msg.Content, URLs: msg.Data.URLs})
	}
}

func (s *Server) handleAskMessage(ctx context.Context, conn *websocket.Conn, req AskRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	fail := func(err error) {
		s.logger.Error("ask failed", zap.Error(err))
		content := err.Error()
		var verr *ValidationError
		if errors.As(err, &verr) {
			content = verr.Message
		}
		s.sendMessage(conn, Message{Type: "error", Content: content, Data: map[string]int{"status": statusFor(err)}})
	}

	if err := req.Validate(s.config.Ephemeral); err != nil {
		fail(err)
		return
	}

	if len(req.URLs) > 0 {
		s.sendMessage(conn, Message{Type: "status", Content: "Processing sources", Data: req.URLs})
	} else {
		s.sendMessage(conn, Message{Type: "status", Content: "Searching stored articles"})
	}
	contexts, err := s.retriever.SelectContext(ctx, req.Question, req.URLs)
	if err != nil {
		fail(err)
		return
	}

	var answer string
	if s.config.Streaming {
		answer, err = s.answerer.AnswerStream(ctx, req.Question, contexts, func(chunk string) error {
			return conn.WriteJSON(Message{Type: "stream", Content: chunk})
		})
		if err != nil {
			fail(err)
			return
		}
	} else {
		answer, err = s.answerer.Answer(ctx, req.Question, contexts)
		if err != nil {
			fail(err)
			return
		}
		s.sendMessage(conn, Message{Type: "response", Content: answer})
	}

	s.sendMessage(conn, Message{Type: "sources", Data: llm.SourceURLs(contexts)})
	s.sendMessage(conn, Message{Type: "done", Content: answer})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("Error sending message", zap.Error(err))
	}
}
