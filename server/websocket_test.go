package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/newsqa/pkg/retriever"
)

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil collects frames up to and including the first of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, last ...string) []Message {
	t.Helper()
	var frames []Message
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		frames = append(frames, msg)
		for _, l := range last {
			if msg.Type == l {
				return frames
			}
		}
	}
}

func frameTypes(frames []Message) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestWebSocketStreamingAsk(t *testing.T) {
	ans := &mockAnswerer{answer: "Shares rose.", chunks: []string{"Shares ", "rose."}}
	conn := dial(t, New(Config{Streaming: true}, &mockRetriever{contexts: testContexts}, ans, nil))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "ask",
		"content": "Why did shares rise?",
		"data":    map[string]interface{}{"urls": []string{"https://a.example/story"}},
	}))

	frames := readUntil(t, conn, "done", "error")
	assert.Equal(t, []string{"status", "stream", "stream", "sources", "done"}, frameTypes(frames))
	assert.Equal(t, "Shares ", frames[1].Content)
	assert.Equal(t, "rose.", frames[2].Content)
	assert.Equal(t, []interface{}{"https://a.example/story", "https://b.example/story"}, frames[3].Data)
	assert.Equal(t, "Shares rose.", frames[4].Content)
}

func TestWebSocketAskWithoutStreaming(t *testing.T) {
	conn := dial(t, New(Config{}, &mockRetriever{contexts: testContexts}, &mockAnswerer{answer: "Flat."}, nil))

	require.NoError(t, conn.WriteJSON(Message{Type: "ask", Content: "How did markets close?"}))

	frames := readUntil(t, conn, "done", "error")
	assert.Equal(t, []string{"status", "response", "sources", "done"}, frameTypes(frames))
	assert.Equal(t, "Flat.", frames[1].Content)
}

func TestWebSocketErrors(t *testing.T) {
	ret := &mockRetriever{err: fmt.Errorf("%w: https://down.example: status 503", retriever.ErrRetrievalInput)}
	conn := dial(t, New(Config{Ephemeral: true}, ret, &mockAnswerer{}, nil))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frames := readUntil(t, conn, "error")
	assert.Equal(t, "invalid message", frames[0].Content)

	require.NoError(t, conn.WriteJSON(Message{Type: "ask", Content: "What happened?"}))
	frames = readUntil(t, conn, "error")
	assert.Contains(t, frames[0].Content, "Please provide at least one URL")
	assert.Equal(t, map[string]interface{}{"status": float64(400)}, frames[0].Data)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "ask",
		"content": "What happened?",
		"data":    map[string]interface{}{"urls": []string{"https://down.example"}},
	}))
	frames = readUntil(t, conn, "error")
	assert.Equal(t, "status", frames[0].Type)
	assert.Equal(t, map[string]interface{}{"status": float64(422)}, frames[len(frames)-1].Data)
}

func TestWebSocketOrigin(t *testing.T) {
	srv := New(Config{AllowedOrigin: "https://news.example.com/"}, &mockRetriever{}, &mockAnswerer{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"configured origin", "https://news.example.com", true},
		{"origin case differs", "HTTPS://NEWS.EXAMPLE.COM", true},
		{"no origin header", "", true},
		{"foreign origin", "https://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestWebSocketAnyOriginWhenUnset(t *testing.T) {
	srv := New(Config{}, &mockRetriever{}, &mockAnswerer{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws",
		http.Header{"Origin": {"https://elsewhere.example"}})
	require.NoError(t, err)
	conn.Close()
}
