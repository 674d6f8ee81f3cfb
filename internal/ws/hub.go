package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/metrics"
)

// Event 是下行事件的统一信封。
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// frame 是房间内的一次投递，except 非空时跳过该客户端（发送方回显走别的事件）。
type frame struct {
	data   []byte
	except *Client
}

// Hub 管理房间级别的子 Hub 与连接索引，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
	conns map[string]*Client
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*RoomHub), conns: make(map[string]*Client)}
}

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) addConn(c *Client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) removeConn(c *Client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// Send 按连接 ID 投递事件，连接不存在时静默丢弃。
func (h *Hub) Send(connID, event string, data interface{}) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.emit(event, data)
}

// Broadcast 把事件投递给房间内全部客户端。
func (h *Hub) Broadcast(roomID, event string, data interface{}) {
	h.deliver(roomID, nil, event, data)
}

// BroadcastExcept 投递给房间内除指定客户端之外的所有人。
func (h *Hub) BroadcastExcept(roomID string, except *Client, event string, data interface{}) {
	h.deliver(roomID, except, event, data)
}

func (h *Hub) deliver(roomID string, except *Client, event string, data interface{}) {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	b, err := json.Marshal(Event{Type: event, Data: data})
	if err != nil {
		return
	}
	room.broadcast <- frame{data: b, except: except}
}

func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

type RoomHub struct {
	roomID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan frame
	online     int32
}

func NewRoomHub(roomID string) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan frame, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.WsConnections.Inc()
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				metrics.WsConnections.Dec()
			}
		case f := <-rh.broadcast:
			// 投递不阻塞，慢客户端由 enqueue 自行断开
			for c := range rh.clients {
				if c == f.except {
					continue
				}
				c.enqueue(f.data)
			}
		}
	}
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
