package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/metrics"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/ollama"
)

// AIUsername 是模型回复使用的发言人标识。
const AIUsername = "Llama 3 AI"

// contextWindow 是构造补全提示时取用的线程尾部消息条数。
const contextWindow = 10

const stoppedNotice = "\n\n*Generation stopped by user*"

// Backend 是协调器依赖的补全后端能力。
type Backend interface {
	CompleteStreaming(ctx context.Context, prompt string, onChunk func(string)) (string, error)
	Model() string
}

// Emitter 把事件送达单个连接或整个房间，由 websocket hub 实现。
type Emitter interface {
	Send(connID, event string, data interface{})
	Broadcast(roomID, event string, data interface{})
}

// ChunkPayload 同时用于 ai-message-chunk 与 ai-message-done 事件。
type ChunkPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// StoppedPayload 是 generation-stopped 事件的载荷。
type StoppedPayload struct {
	MessageID string `json:"messageId"`
}

type task struct {
	cancel context.CancelFunc
}

// Coordinator 为每条外发 AI 消息编排一次流式生成，任务按
// (连接 ID, 消息 ID) 登记，可随时取消。消息内容只经由 RoomStore 变更。
type Coordinator struct {
	rooms   *RoomStore
	backend Backend
	emit    Emitter
	persist func()

	mu    sync.Mutex
	tasks map[string]*task
}

func NewCoordinator(rooms *RoomStore, backend Backend, emit Emitter, persist func()) *Coordinator {
	return &Coordinator{
		rooms:   rooms,
		backend: backend,
		emit:    emit,
		persist: persist,
		tasks:   make(map[string]*task),
	}
}

// Start 追加流式占位消息、广播 ai-message-start 并启动生成任务。
// 上下文窗口在占位消息之前采集，因此包含刚追加的用户消息而不含占位本身。
func (g *Coordinator) Start(connID, roomID, threadID, text string) models.Message {
	prompt := buildPrompt(g.rooms.ThreadContext(roomID, threadID, contextWindow), text)

	ai := models.Message{
		ID:          uuid.NewString(),
		Username:    AIUsername,
		Timestamp:   time.Now(),
		Type:        models.TypeAI,
		IsStreaming: true,
	}

	// 消息 ID 全新分配，键不可能已被占用；任务先登记，
	// 占位消息广播出去时取消请求即可命中。
	key := taskKey(connID, ai.ID)
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.tasks[key] = &task{cancel: cancel}
	g.mu.Unlock()

	g.rooms.AppendMessage(roomID, threadID, ai)
	g.emit.Broadcast(roomID, "ai-message-start", ai)

	metrics.GenerationsActive.Inc()
	go g.run(ctx, key, roomID, threadID, ai.ID, prompt)
	return ai
}

// Cancel 取消指定任务并向发起连接确认。键不存在时是无操作。
func (g *Coordinator) Cancel(connID, messageID string) {
	key := taskKey(connID, messageID)
	g.mu.Lock()
	t, ok := g.tasks[key]
	if ok {
		delete(g.tasks, key)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	g.emit.Send(connID, "generation-stopped", StoppedPayload{MessageID: messageID})
	log.Info().Str("message_id", messageID).Msg("generation stopped")
}

func (g *Coordinator) run(ctx context.Context, key, roomID, threadID, messageID, prompt string) {
	start := time.Now()
	var acc strings.Builder
	full, err := g.backend.CompleteStreaming(ctx, prompt, func(chunk string) {
		acc.WriteString(chunk)
		g.rooms.AppendChunk(roomID, threadID, messageID, chunk)
		g.emit.Broadcast(roomID, "ai-message-chunk", ChunkPayload{MessageID: messageID, Content: chunk})
	})
	g.remove(key)
	metrics.GenerationsActive.Dec()
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	// 三条终结路径共用 ai-message-done 事件，错误以消息内容形式传达。
	var final string
	switch {
	case err == nil:
		// 后端汇总的完整文本为准，容忍逐块累积的偏差。
		final = full
		metrics.GenerationsTotal.WithLabelValues("completed").Inc()
	case errors.Is(err, context.Canceled):
		final = acc.String() + stoppedNotice
		metrics.GenerationsTotal.WithLabelValues("cancelled").Inc()
	default:
		final = BackendNotice(g.backend.Model(), err)
		metrics.GenerationsTotal.WithLabelValues("errored").Inc()
		log.Error().Err(err).Str("message_id", messageID).Str("room_id", roomID).Msg("generation failed")
	}
	g.rooms.FinalizeMessage(roomID, threadID, messageID, final)
	g.emit.Broadcast(roomID, "ai-message-done", ChunkPayload{MessageID: messageID, Content: final})
	g.persist()
}

func (g *Coordinator) remove(key string) {
	g.mu.Lock()
	delete(g.tasks, key)
	g.mu.Unlock()
}

// BackendNotice 把后端错误种类翻译成用户可读的提示文案，
// 生成协调器与 REST 补全接口共用。
func BackendNotice(model string, err error) string {
	switch {
	case errors.Is(err, ollama.ErrUnavailable):
		return "Error: Ollama is not running. Please start Ollama with: ollama serve"
	case errors.Is(err, ollama.ErrModelNotFound):
		return fmt.Sprintf("Error: %s model not found. Please run: ollama pull %s", model, model)
	case errors.Is(err, ollama.ErrTimeout):
		return "Error: Request timed out. The AI model might be busy or not responding."
	default:
		return "Error: " + err.Error()
	}
}

func taskKey(connID, messageID string) string {
	return connID + "-" + messageID
}

// buildPrompt 把上下文消息拼为 "发言人: 内容" 行，再接新消息文本。
func buildPrompt(ctx []models.Message, text string) string {
	if len(ctx) == 0 {
		return text
	}
	lines := make([]string, 0, len(ctx))
	for _, m := range ctx {
		lines = append(lines, m.Username+": "+m.Message)
	}
	return strings.Join(lines, "\n") + "\n\n" + text
}
