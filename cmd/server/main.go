package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/config"
	clog "github.com/Ashishbhanderi/llama3-chat-boat/internal/log"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ollama"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/server"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/service"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/store"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ws"
)

func main() {
	// main 负责加载配置、初始化日志、恢复快照并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	st := store.New(cfg.DataDir)
	reg := service.NewRegistry()
	rooms := service.NewRoomStore()

	// 快照不可读时降级为空状态启动，而不是拒绝服务
	snap, err := st.Load()
	if err != nil {
		log.Warn().Err(err).Msg("snapshot load, starting fresh")
	} else {
		rooms.Restore(snap.Threads, snap.Rooms)
		reg.Restore(snap.Sessions)
		log.Info().Int("rooms", len(snap.Rooms)).Int("users", len(snap.Threads)).Msg("snapshot loaded")
	}

	persist := func() {
		threads, roomSnap := rooms.Snapshot()
		err := st.Save(models.Snapshot{Threads: threads, Rooms: roomSnap, Sessions: reg.Snapshot()})
		if err != nil {
			log.Error().Err(err).Msg("snapshot save")
		}
	}

	backend := ollama.NewClient(cfg.OllamaURL, cfg.Model, time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
	probeBackend(backend, cfg.Model)

	hub := ws.NewHub()
	coord := service.NewCoordinator(rooms, backend, hub, persist)

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SnapshotIntervalSecond) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			persist()
		}
	}()

	r := server.SetupRouter(cfg, hub, reg, rooms, coord, backend, persist)
	log.Info().Str("port", cfg.Port).Str("model", cfg.Model).Msg("chat server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}

// probeBackend 在启动时探测 Ollama 连通性与模型可用性，失败只告警不中止。
func probeBackend(backend *ollama.Client, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	names, err := backend.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("ollama connection test failed, please make sure ollama is running")
		return
	}
	for _, n := range names {
		if n == model || n == model+":latest" {
			log.Info().Str("model", model).Msg("ollama model available")
			return
		}
	}
	log.Warn().Str("model", model).Strs("available", names).Msgf("model not found, please run: ollama pull %s", model)
}
