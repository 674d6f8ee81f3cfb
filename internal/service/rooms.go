package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
)

// RoomStore 独占持有房间、线程与消息状态。所有变更都是锁内的原子操作，
// 线程内消息严格按到达顺序追加，列表顺序即权威顺序。
type RoomStore struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	catalogs map[string][]models.Thread
}

// roomState 的活跃线程指针保存为有序键值对列表，与快照格式一致。
type roomState struct {
	id      string
	name    string
	users   []string
	threads map[string][]models.Message
	active  []models.ThreadPointer
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:    make(map[string]*roomState),
		catalogs: make(map[string][]models.Thread),
	}
}

// JoinRoom 按需创建房间并把用户加入成员列表，返回房间的浅副本。
func (s *RoomStore) JoinRoom(roomID, username string) models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateRoom(roomID)
	if !contains(r.users, username) {
		r.users = append(r.users, username)
	}
	if _, ok := s.catalogs[username]; !ok {
		s.catalogs[username] = []models.Thread{}
	}
	return models.Room{ID: r.id, Name: r.name, Users: copyStrings(r.users)}
}

// ActiveThread 返回用户在房间内的活跃线程，缺省为 default 并确保其物化。
func (s *RoomStore) ActiveThread(roomID, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateRoom(roomID)
	threadID := models.DefaultThread
	for _, p := range r.active {
		if p.Username == username {
			threadID = p.ThreadID
			break
		}
	}
	s.getOrCreateThread(r, threadID)
	return threadID
}

// SetActiveThread 记录用户的活跃线程指针，线程不存在时惰性创建。
func (s *RoomStore) SetActiveThread(roomID, username, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateRoom(roomID)
	s.getOrCreateThread(r, threadID)
	for i, p := range r.active {
		if p.Username == username {
			r.active[i].ThreadID = threadID
			return
		}
	}
	r.active = append(r.active, models.ThreadPointer{Username: username, ThreadID: threadID})
}

// ThreadMessages 返回线程消息的副本，线程不存在时惰性创建为空。
func (s *RoomStore) ThreadMessages(roomID, threadID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateRoom(roomID)
	msgs := s.getOrCreateThread(r, threadID)
	return copyMessages(msgs)
}

// ThreadContext 返回线程末尾最多 n 条消息，作为补全的上下文窗口。
func (s *RoomStore) ThreadContext(roomID, threadID string, n int) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	msgs := r.threads[threadID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return copyMessages(msgs)
}

// AppendMessage 把消息追加到线程尾部，房间与线程均按需创建。
func (s *RoomStore) AppendMessage(roomID, threadID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrCreateRoom(roomID)
	s.getOrCreateThread(r, threadID)
	r.threads[threadID] = append(r.threads[threadID], msg)
}

// AppendChunk 把流式增量拼接到指定消息体上。
func (s *RoomStore) AppendChunk(roomID, threadID, messageID, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	msgs := r.threads[threadID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == messageID {
			msgs[i].Message += chunk
			return
		}
	}
}

// FinalizeMessage 写入最终文本并清除流式标记，消息自此不可变。
func (s *RoomStore) FinalizeMessage(roomID, threadID, messageID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	msgs := r.threads[threadID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == messageID {
			msgs[i].Message = content
			msgs[i].IsStreaming = false
			return
		}
	}
}

// CreateThread 为用户分配一个全局唯一的新线程。
func (s *RoomStore) CreateThread(username, name string) models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	th := models.Thread{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	s.catalogs[username] = append(s.catalogs[username], th)
	return th
}

// UserThreads 返回用户线程目录的副本。
func (s *RoomStore) UserThreads(username string) []models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyThreads(s.catalogs[username])
}

// RenameThread 仅允许线程属主改名。
func (s *RoomStore) RenameThread(username, threadID, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := s.catalogs[username]
	for i := range threads {
		if threads[i].ID == threadID {
			threads[i].Name = newName
			return nil
		}
	}
	return ErrThreadNotFound
}

// DeleteThread 从属主目录移除线程，清除其在所有房间的物化消息，
// 并把指向它的活跃线程指针重置为 default。
func (s *RoomStore) DeleteThread(username, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := s.catalogs[username]
	idx := -1
	for i := range threads {
		if threads[i].ID == threadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrThreadNotFound
	}
	s.catalogs[username] = append(threads[:idx], threads[idx+1:]...)

	for _, r := range s.rooms {
		delete(r.threads, threadID)
		for i, p := range r.active {
			if p.ThreadID == threadID {
				r.active[i].ThreadID = models.DefaultThread
				s.getOrCreateThread(r, models.DefaultThread)
			}
		}
	}
	return nil
}

// Rooms 返回全部房间的浅副本，供 REST 列表接口使用。
func (s *RoomStore) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, models.Room{ID: r.id, Name: r.name, Users: copyStrings(r.users)})
	}
	return out
}

func (s *RoomStore) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Snapshot 生成线程目录与房间状态的时间点深副本。
func (s *RoomStore) Snapshot() (map[string][]models.Thread, map[string]models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := make(map[string][]models.Thread, len(s.catalogs))
	for username, list := range s.catalogs {
		threads[username] = copyThreads(list)
	}
	rooms := make(map[string]models.Room, len(s.rooms))
	for id, r := range s.rooms {
		copied := make(map[string][]models.Message, len(r.threads))
		for tid, msgs := range r.threads {
			copied[tid] = copyMessages(msgs)
		}
		rooms[id] = models.Room{
			ID:            r.id,
			Name:          r.name,
			Users:         copyStrings(r.users),
			Threads:       copied,
			ActiveThreads: append([]models.ThreadPointer{}, r.active...),
		}
	}
	return threads, rooms
}

// Restore 用快照内容整体替换内存状态。
func (s *RoomStore) Restore(threads map[string][]models.Thread, rooms map[string]models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalogs = make(map[string][]models.Thread, len(threads))
	for username, list := range threads {
		s.catalogs[username] = copyThreads(list)
	}
	s.rooms = make(map[string]*roomState, len(rooms))
	for id, r := range rooms {
		st := &roomState{
			id:      r.ID,
			name:    r.Name,
			users:   copyStrings(r.Users),
			threads: make(map[string][]models.Message, len(r.Threads)),
			active:  append([]models.ThreadPointer{}, r.ActiveThreads...),
		}
		for tid, msgs := range r.Threads {
			st.threads[tid] = copyMessages(msgs)
		}
		s.rooms[id] = st
	}
}

func (s *RoomStore) getOrCreateRoom(roomID string) *roomState {
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	name := roomID
	if roomID == "general" {
		name = "General Chat"
	}
	r := &roomState{
		id:      roomID,
		name:    name,
		users:   []string{},
		threads: make(map[string][]models.Message),
		active:  []models.ThreadPointer{},
	}
	s.rooms[roomID] = r
	return r
}

func (s *RoomStore) getOrCreateThread(r *roomState, threadID string) []models.Message {
	if msgs, ok := r.threads[threadID]; ok {
		return msgs
	}
	r.threads[threadID] = []models.Message{}
	return r.threads[threadID]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// 副本一律返回非 nil 切片，空列表序列化为 [] 而不是 null。
func copyStrings(in []string) []string {
	return append(make([]string, 0, len(in)), in...)
}

func copyThreads(in []models.Thread) []models.Thread {
	return append(make([]models.Thread, 0, len(in)), in...)
}

func copyMessages(in []models.Message) []models.Message {
	return append(make([]models.Message, 0, len(in)), in...)
}
