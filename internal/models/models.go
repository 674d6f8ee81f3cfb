package models

import "time"

// 消息类型：user 为用户消息，ai 为模型回复，system 为系统提示。
const (
	TypeUser   = "user"
	TypeAI     = "ai"
	TypeSystem = "system"
)

// DefaultThread 是每个房间隐含存在的默认会话线程。
const DefaultThread = "default"

type Message struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
}

// Thread 是用户线程目录中的一条描述，消息本身按房间物化存储。
type Thread struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ThreadPointer 记录某用户在房间内的活跃线程，持久化为显式键值对列表。
type ThreadPointer struct {
	Username string `json:"username"`
	ThreadID string `json:"threadId"`
}

type Room struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Users         []string             `json:"users"`
	Threads       map[string][]Message `json:"threads"`
	ActiveThreads []ThreadPointer      `json:"activeThreads"`
}

// Session 以用户名为键长期保留，断线只刷新 LastSeen 并清空连接 ID。
type Session struct {
	Username string    `json:"username"`
	APIKey   string    `json:"apiKey"`
	RoomID   string    `json:"roomId"`
	LastSeen time.Time `json:"lastSeen"`
	ConnID   string    `json:"connId"`
}

// Snapshot 是内存状态的时间点副本，落盘为三个 JSON 文档。
type Snapshot struct {
	Threads  map[string][]Thread `json:"threads"`
	Rooms    map[string]Room     `json:"rooms"`
	Sessions map[string]Session  `json:"sessions"`
}
