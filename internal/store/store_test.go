package store

import (
	"testing"
	"time"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
)

func TestLoad_EmptyDir(t *testing.T) {
	s := New(t.TempDir())

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.Threads) != 0 || len(snap.Rooms) != 0 || len(snap.Sessions) != 0 {
		t.Errorf("Load() from empty dir not empty: %+v", snap)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := New(t.TempDir())

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := models.Snapshot{
		Threads: map[string][]models.Thread{
			"alice": {{ID: "t1", Name: "Project X", CreatedAt: ts}},
		},
		Rooms: map[string]models.Room{
			"general": {
				ID:    "general",
				Name:  "General Chat",
				Users: []string{"alice", "bob"},
				Threads: map[string][]models.Message{
					"default": {
						{ID: "m1", Username: "alice", Message: "hi", Timestamp: ts, Type: models.TypeUser},
						{ID: "m2", Username: "Llama 3 AI", Message: "hello", Timestamp: ts, Type: models.TypeAI},
					},
					"t1": {},
				},
				ActiveThreads: []models.ThreadPointer{
					{Username: "alice", ThreadID: "t1"},
					{Username: "bob", ThreadID: "default"},
				},
			},
		},
		Sessions: map[string]models.Session{
			"alice": {Username: "alice", APIKey: "test-key", RoomID: "general", LastSeen: ts, ConnID: "c1"},
		},
	}

	if err := s.Save(snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	room, ok := got.Rooms["general"]
	if !ok {
		t.Fatal("Load() missing room general")
	}
	if len(room.Users) != 2 || room.Users[0] != "alice" || room.Users[1] != "bob" {
		t.Errorf("room.Users = %v, want [alice bob]", room.Users)
	}
	msgs := room.Threads["default"]
	if len(msgs) != 2 {
		t.Fatalf("default thread has %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("message order = %s, %s, want m1, m2", msgs[0].ID, msgs[1].ID)
	}
	if len(room.ActiveThreads) != 2 {
		t.Fatalf("ActiveThreads has %d entries, want 2", len(room.ActiveThreads))
	}
	if room.ActiveThreads[0].Username != "alice" || room.ActiveThreads[0].ThreadID != "t1" {
		t.Errorf("ActiveThreads[0] = %+v, want alice/t1", room.ActiveThreads[0])
	}

	threads := got.Threads["alice"]
	if len(threads) != 1 || threads[0].ID != "t1" || threads[0].Name != "Project X" {
		t.Errorf("Threads[alice] = %+v, want t1/Project X", threads)
	}

	sess := got.Sessions["alice"]
	if sess.RoomID != "general" || sess.APIKey != "test-key" {
		t.Errorf("Sessions[alice] = %+v", sess)
	}
}

func TestSave_Overwrite(t *testing.T) {
	s := New(t.TempDir())

	first := models.Snapshot{
		Threads:  map[string][]models.Thread{"alice": {{ID: "t1", Name: "old"}}},
		Rooms:    map[string]models.Room{},
		Sessions: map[string]models.Session{},
	}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	second := models.Snapshot{
		Threads:  map[string][]models.Thread{"alice": {{ID: "t1", Name: "new"}}},
		Rooms:    map[string]models.Room{},
		Sessions: map[string]models.Session{},
	}
	if err := s.Save(second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Threads["alice"][0].Name != "new" {
		t.Errorf("Threads[alice][0].Name = %v, want new", got.Threads["alice"][0].Name)
	}
}
