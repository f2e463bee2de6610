// Package testutil provides mock servers shared across package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockStreamServer is a websocket server that replays canned comment frames
// to each client that connects. It records the handshake headers so tests can
// assert on authentication.
type MockStreamServer struct {
	*httptest.Server

	mu      sync.Mutex
	frames  [][]byte
	headers http.Header
}

// NewMockStreamServer starts a stream server that sends frames to every
// connection and then holds it open until the client or test closes it.
func NewMockStreamServer(t *testing.T, frames ...string) *MockStreamServer {
	t.Helper()
	m := &MockStreamServer{}
	for _, f := range frames {
		m.frames = append(m.frames, []byte(f))
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.headers = r.Header.Clone()
		frames := m.frames
		m.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		// Hold the connection open; reads fail once the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// WSURL returns the ws:// form of the server URL.
func (m *MockStreamServer) WSURL() string {
	return "ws" + strings.TrimPrefix(m.URL, "http")
}

// Header returns a handshake header recorded from the last connection.
func (m *MockStreamServer) Header(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return ""
	}
	return m.headers.Get(key)
}

// MockOpenAIServer mimics the chat-completions endpoint. Each request pops
// the next scripted reply; when the script runs out it repeats the last one.
type MockOpenAIServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

// NewMockOpenAIServer starts a server returning the given replies in order.
func NewMockOpenAIServer(t *testing.T, replies ...string) *MockOpenAIServer {
	t.Helper()
	if len(replies) == 0 {
		replies = []string{"ok"}
	}
	m := &MockOpenAIServer{replies: replies}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock

		m.mu.Lock()
		m.requests = append(m.requests, body)
		reply := m.replies[0]
		if len(m.replies) > 1 {
			m.replies = m.replies[1:]
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns the decoded request bodies received so far.
func (m *MockOpenAIServer) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.requests))
	copy(out, m.requests)
	return out
}
