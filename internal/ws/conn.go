package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/metrics"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
	"github.com/Ashishbhanderi/llama3-chat-boat/internal/service"
)

// Inbound 是上行事件的统一信封，字段按事件类型取用。
type Inbound struct {
	Type       string `json:"type"`
	Username   string `json:"username,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	ThreadID   string `json:"threadId,omitempty"`
	ThreadName string `json:"threadName,omitempty"`
	NewName    string `json:"newName,omitempty"`
	Message    string `json:"message,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type threadsLoadedPayload struct {
	Threads []models.Thread `json:"threads"`
}

type messagesLoadedPayload struct {
	Messages     []models.Message `json:"messages"`
	ActiveThread string           `json:"activeThread"`
}

type userJoinedPayload struct {
	Username string `json:"username"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	id       string
	hub      *Hub
	room     *RoomHub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closeOne sync.Once

	registry *service.Registry
	rooms    *service.RoomStore
	coord    *service.Coordinator
	persist  func()
}

// Serve 升级连接、分配连接 ID 并进入事件循环。
func Serve(hub *Hub, reg *service.Registry, rooms *service.RoomStore, coord *service.Coordinator, persist func()) gin.HandlerFunc {
	return func(gc *gin.Context) {
		conn, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			id:       uuid.NewString(),
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, 256),
			done:     make(chan struct{}),
			registry: reg,
			rooms:    rooms,
			coord:    coord,
			persist:  persist,
		}
		hub.addConn(client)
		log.Debug().Str("conn_id", client.id).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) emit(event string, data interface{}) {
	b, err := json.Marshal(Event{Type: event, Data: data})
	if err != nil {
		return
	}
	c.enqueue(b)
}

// enqueue 非阻塞入队，慢客户端直接断开而不是拖垮广播。
func (c *Client) enqueue(b []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	default:
		c.close()
	}
}

func (c *Client) close() {
	c.closeOne.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) emitError(msg string) {
	c.emit("error", errorPayload{Message: msg})
}

func (c *Client) readPump() {
	defer func() {
		if c.room != nil {
			c.room.unregister <- c
		}
		c.hub.removeConn(c)
		c.registry.Disconnect(c.id)
		c.close()
		log.Debug().Str("conn_id", c.id).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		c.dispatch(in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 校验会话后把事件交给对应的处理函数，join-chat 之外都要求已认证。
func (c *Client) dispatch(in Inbound) {
	switch in.Type {
	case "join-chat":
		c.handleJoin(in)
	case "switch-thread":
		c.handleSwitchThread(in)
	case "create-thread":
		c.handleCreateThread(in)
	case "rename-thread":
		c.handleRenameThread(in)
	case "delete-thread":
		c.handleDeleteThread(in)
	case "send-message":
		c.handleSendMessage(in)
	case "stop-generation":
		c.handleStopGeneration(in)
	default:
		c.emitError("Unknown event type")
	}
}

func (c *Client) session() (models.Session, bool) {
	sess, ok := c.registry.Lookup(c.id)
	if !ok {
		c.emitError("User not authenticated")
	}
	return sess, ok
}

func (c *Client) handleJoin(in Inbound) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		c.emitError("Username is required")
		return
	}
	roomID := in.RoomID
	if roomID == "" {
		roomID = "general"
	}

	c.registry.Register(c.id, username, in.APIKey, roomID)
	c.rooms.JoinRoom(roomID, username)

	rh := c.hub.GetRoom(roomID)
	if c.room != rh {
		if c.room != nil {
			c.room.unregister <- c
		}
		c.room = rh
		rh.register <- c
	}

	threads := c.rooms.UserThreads(username)
	c.emit("threads-loaded", threadsLoadedPayload{Threads: threads})

	active := c.rooms.ActiveThread(roomID, username)
	msgs := c.rooms.ThreadMessages(roomID, active)
	c.emit("messages-loaded", messagesLoadedPayload{Messages: msgs, ActiveThread: active})

	c.hub.BroadcastExcept(roomID, c, "user-joined", userJoinedPayload{Username: username})
	log.Info().Str("username", username).Str("room_id", roomID).Int("threads", len(threads)).Msg("user joined")
}

func (c *Client) handleSwitchThread(in Inbound) {
	sess, ok := c.session()
	if !ok {
		return
	}
	if in.ThreadID == "" {
		c.emitError("Thread id is required")
		return
	}
	c.rooms.SetActiveThread(sess.RoomID, sess.Username, in.ThreadID)
	msgs := c.rooms.ThreadMessages(sess.RoomID, in.ThreadID)
	c.emit("messages-loaded", messagesLoadedPayload{Messages: msgs, ActiveThread: in.ThreadID})
	log.Debug().Str("username", sess.Username).Str("thread_id", in.ThreadID).Msg("thread switched")
}

func (c *Client) handleCreateThread(in Inbound) {
	sess, ok := c.session()
	if !ok {
		return
	}
	name := strings.TrimSpace(in.ThreadName)
	if name == "" {
		c.emitError("Thread name is required")
		return
	}
	c.rooms.CreateThread(sess.Username, name)
	c.persist()
	c.emit("threads-loaded", threadsLoadedPayload{Threads: c.rooms.UserThreads(sess.Username)})
	log.Info().Str("username", sess.Username).Str("name", name).Msg("thread created")
}

func (c *Client) handleRenameThread(in Inbound) {
	sess, ok := c.session()
	if !ok {
		return
	}
	newName := strings.TrimSpace(in.NewName)
	if in.ThreadID == "" || newName == "" {
		c.emitError("Thread id and new name are required")
		return
	}
	if err := c.rooms.RenameThread(sess.Username, in.ThreadID, newName); err != nil {
		c.emitError("Thread not found")
		return
	}
	c.persist()
	c.emit("threads-loaded", threadsLoadedPayload{Threads: c.rooms.UserThreads(sess.Username)})
}

func (c *Client) handleDeleteThread(in Inbound) {
	sess, ok := c.session()
	if !ok {
		return
	}
	if in.ThreadID == "" {
		c.emitError("Thread id is required")
		return
	}
	wasActive := c.rooms.ActiveThread(sess.RoomID, sess.Username) == in.ThreadID
	if err := c.rooms.DeleteThread(sess.Username, in.ThreadID); err != nil {
		c.emitError("Thread not found")
		return
	}
	c.persist()
	c.emit("threads-loaded", threadsLoadedPayload{Threads: c.rooms.UserThreads(sess.Username)})
	if wasActive {
		msgs := c.rooms.ThreadMessages(sess.RoomID, models.DefaultThread)
		c.emit("messages-loaded", messagesLoadedPayload{Messages: msgs, ActiveThread: models.DefaultThread})
	}
	log.Info().Str("username", sess.Username).Str("thread_id", in.ThreadID).Msg("thread deleted")
}

func (c *Client) handleSendMessage(in Inbound) {
	sess, ok := c.session()
	if !ok {
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		c.emitError("Message is required")
		return
	}
	threadID := in.ThreadID
	if threadID == "" {
		threadID = models.DefaultThread
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Username:  sess.Username,
		Message:   in.Message,
		Timestamp: time.Now(),
		Type:      models.TypeUser,
	}
	// 先完成内存追加，再做任何广播或触发生成
	c.rooms.AppendMessage(sess.RoomID, threadID, msg)
	c.rooms.SetActiveThread(sess.RoomID, sess.Username, threadID)
	c.persist()
	metrics.WsMessagesTotal.Inc()

	c.hub.BroadcastExcept(sess.RoomID, c, "new-message", msg)
	c.emit("message-sent", msg)

	c.coord.Start(c.id, sess.RoomID, threadID, in.Message)
}

func (c *Client) handleStopGeneration(in Inbound) {
	if _, ok := c.session(); !ok {
		return
	}
	c.coord.Cancel(c.id, in.MessageID)
}
