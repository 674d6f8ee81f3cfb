package service

import (
	"sync"
	"time"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
)

// Registry 维护连接与用户身份的绑定。会话以用户名为键长期保留，
// 同名重复登录会接管既有会话。
type Registry struct {
	mu       sync.RWMutex
	byConn   map[string]string
	sessions map[string]models.Session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:   make(map[string]string),
		sessions: make(map[string]models.Session),
	}
}

// Register 创建或覆盖用户会话，并与连接 ID 建立绑定。
func (r *Registry) Register(connID, username, apiKey, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[username]; ok && old.ConnID != "" {
		delete(r.byConn, old.ConnID)
	}
	r.byConn[connID] = username
	r.sessions[username] = models.Session{
		Username: username,
		APIKey:   apiKey,
		RoomID:   roomID,
		LastSeen: time.Now(),
		ConnID:   connID,
	}
}

// Lookup 按连接 ID 解析会话。
func (r *Registry) Lookup(connID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byConn[connID]
	if !ok {
		return models.Session{}, false
	}
	sess, ok := r.sessions[username]
	return sess, ok
}

// Disconnect 刷新 LastSeen 并解除连接绑定，会话本身保留以支持重连。
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	sess := r.sessions[username]
	sess.LastSeen = time.Now()
	sess.ConnID = ""
	r.sessions[username] = sess
}

// ActiveSessions 返回当前在线的会话副本。
func (r *Registry) ActiveSessions() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Session, 0, len(r.byConn))
	for _, username := range r.byConn {
		if sess, ok := r.sessions[username]; ok {
			out = append(out, sess)
		}
	}
	return out
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Snapshot 返回全部会话的时间点副本，用于落盘。
func (r *Registry) Snapshot() map[string]models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Restore 从快照恢复会话，历史连接 ID 一律视为失效。
func (r *Registry) Restore(sessions map[string]models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConn = make(map[string]string)
	r.sessions = make(map[string]models.Session, len(sessions))
	for username, sess := range sessions {
		sess.ConnID = ""
		r.sessions[username] = sess
	}
}
