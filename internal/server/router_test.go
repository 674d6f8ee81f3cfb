package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/config"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ollama"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/service"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ws"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", Env: "dev", DataDir: "data", OllamaURL: "http://127.0.0.1:1/api/generate", Model: "llama3", FrontendURL: "http://localhost:3000"}
	hub := ws.NewHub()
	reg := service.NewRegistry()
	rooms := service.NewRoomStore()
	backend := ollama.NewClient(cfg.OllamaURL, cfg.Model, time.Second)
	coord := service.NewCoordinator(rooms, backend, hub, func() {})
	return SetupRouter(cfg, hub, reg, rooms, coord, backend, func() {})
}

func TestHealth(t *testing.T) {
	engine := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status      string `json:"status"`
		ActiveUsers int    `json:"activeUsers"`
		Rooms       int    `json:"rooms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %v, want ok", body.Status)
	}
	if body.ActiveUsers != 0 || body.Rooms != 0 {
		t.Errorf("counts = %d/%d, want 0/0", body.ActiveUsers, body.Rooms)
	}
}

func TestListRooms_Empty(t *testing.T) {
	engine := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"rooms":[]}` {
		t.Errorf("body = %s, want empty rooms list", got)
	}
}

func TestChat_MissingPrompt(t *testing.T) {
	engine := testRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"apiKey":"k"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChat_BackendDown(t *testing.T) {
	engine := testRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	// 后端不可达时以可读文案作为回答返回
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !strings.Contains(body.Answer, "Ollama is not running") {
		t.Errorf("answer = %q, want unavailable notice", body.Answer)
	}
}
