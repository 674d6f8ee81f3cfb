package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/config"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/metrics"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/mw"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ollama"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/service"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ws"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, hub *ws.Hub, reg *service.Registry, rooms *service.RoomStore, coord *service.Coordinator, backend *ollama.Client, persist func()) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.FrontendURL))
	// 控制单个 IP+路由的速率，避免补全接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"timestamp":   time.Now().Format(time.RFC3339),
			"activeUsers": reg.ActiveCount(),
			"rooms":       rooms.RoomCount(),
		})
	})

	api.POST("/chat", func(c *gin.Context) {
		var req struct {
			Prompt string `json:"prompt"`
			APIKey string `json:"apiKey"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required"})
			return
		}
		answer, err := backend.Complete(c.Request.Context(), req.Prompt)
		if err != nil {
			// 错误以可读文案作为回答返回，与既有前端的约定一致
			log.Error().Err(err).Msg("api chat")
			answer = service.BackendNotice(backend.Model(), err)
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	})

	api.GET("/test-ollama", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		names, err := backend.ListModels(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("ollama connection test")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		available := false
		for _, n := range names {
			if n == cfg.Model || strings.HasPrefix(n, cfg.Model+":") {
				available = true
				break
			}
		}
		if !available {
			log.Warn().Str("model", cfg.Model).Strs("models", names).Msg("configured model not available")
		}
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"message":        "Ollama connection test completed",
			"models":         names,
			"modelAvailable": available,
		})
	})

	api.GET("/rooms", func(c *gin.Context) {
		type roomDTO struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			UserCount int    `json:"userCount"`
		}
		list := rooms.Rooms()
		out := make([]roomDTO, 0, len(list))
		for _, room := range list {
			out = append(out, roomDTO{ID: room.ID, Name: room.Name, UserCount: len(room.Users)})
		}
		c.JSON(http.StatusOK, gin.H{"rooms": out})
	})

	api.GET("/users", func(c *gin.Context) {
		type userDTO struct {
			Username string `json:"username"`
			RoomID   string `json:"roomId"`
		}
		sessions := reg.ActiveSessions()
		out := make([]userDTO, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, userDTO{Username: sess.Username, RoomID: sess.RoomID})
		}
		c.JSON(http.StatusOK, gin.H{"users": out})
	})

	r.GET("/ws", ws.Serve(hub, reg, rooms, coord, persist))

	// 前端构建产物存在时作为 SPA 回退提供
	distDir := filepath.Join(".", "client", "build")
	if _, err := os.Stat(filepath.Join(distDir, "index.html")); err == nil {
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet {
				c.Status(http.StatusNotFound)
				return
			}
			rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
			if rel == "" {
				c.File(filepath.Join(distDir, "index.html"))
				return
			}
			target := filepath.Join(distDir, rel)
			if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
				c.File(target)
				return
			}
			if strings.Contains(rel, ".") {
				c.Status(http.StatusNotFound)
				return
			}
			c.File(filepath.Join(distDir, "index.html"))
		})
	}
	return r
}
