package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
)

const (
	threadsFile  = "threads.json"
	roomsFile    = "rooms.json"
	sessionsFile = "sessions.json"
)

// Store 把内存快照落盘为三个 JSON 文档，写入由互斥锁串行化。
type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Load 读取已有快照，文件缺失或损坏按空状态处理。
func (s *Store) Load() (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.Snapshot{
		Threads:  make(map[string][]models.Thread),
		Rooms:    make(map[string]models.Room),
		Sessions: make(map[string]models.Session),
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return snap, err
	}
	readJSON(filepath.Join(s.dir, threadsFile), &snap.Threads)
	readJSON(filepath.Join(s.dir, roomsFile), &snap.Rooms)
	readJSON(filepath.Join(s.dir, sessionsFile), &snap.Sessions)
	return snap, nil
}

// Save 整体写出快照，任一文件失败即返回错误。
func (s *Store) Save(snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, threadsFile), snap.Threads); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, roomsFile), snap.Rooms); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, sessionsFile), snap.Sessions)
}

func readJSON(path string, v interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, v)
}

// writeJSON 先写临时文件再重命名，避免进程中断留下半截快照。
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
