package service

import (
	"testing"
	"time"

	"github.com/Ashishbhanderi/llama3-chat-boat/internal/models"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "alice", "test-key", "general")

	sess, ok := r.Lookup("c1")
	if !ok {
		t.Fatal("Lookup(c1) not found")
	}
	if sess.Username != "alice" || sess.RoomID != "general" || sess.APIKey != "test-key" {
		t.Errorf("session = %+v", sess)
	}
	if sess.ConnID != "c1" {
		t.Errorf("session.ConnID = %v, want c1", sess.ConnID)
	}

	if _, ok := r.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) found a session")
	}
}

func TestRegistry_DisconnectKeepsSession(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "alice", "k", "general")

	before := time.Now()
	r.Disconnect("c1")

	if _, ok := r.Lookup("c1"); ok {
		t.Error("Lookup(c1) still resolves after disconnect")
	}
	snap := r.Snapshot()
	sess, ok := snap["alice"]
	if !ok {
		t.Fatal("session deleted on disconnect, want retained")
	}
	if sess.ConnID != "" {
		t.Errorf("session.ConnID = %v, want cleared", sess.ConnID)
	}
	if sess.LastSeen.Before(before) {
		t.Error("LastSeen was not refreshed on disconnect")
	}

	// 重复断开是无操作
	r.Disconnect("c1")
}

func TestRegistry_ReloginTakesOver(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "alice", "k", "general")
	r.Register("c2", "alice", "k2", "dev")

	if _, ok := r.Lookup("c1"); ok {
		t.Error("stale connection still resolves after takeover")
	}
	sess, ok := r.Lookup("c2")
	if !ok {
		t.Fatal("Lookup(c2) not found")
	}
	if sess.RoomID != "dev" || sess.APIKey != "k2" {
		t.Errorf("session = %+v, want takeover state", sess)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestRegistry_ActiveSessions(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "alice", "k", "general")
	r.Register("c2", "bob", "k", "general")
	r.Disconnect("c2")

	active := r.ActiveSessions()
	if len(active) != 1 || active[0].Username != "alice" {
		t.Errorf("ActiveSessions() = %+v, want [alice]", active)
	}
}

func TestRegistry_RestoreClearsConnIDs(t *testing.T) {
	r := NewRegistry()
	r.Restore(map[string]models.Session{
		"alice": {Username: "alice", RoomID: "general", ConnID: "stale"},
	})

	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after restore = %d, want 0", r.ActiveCount())
	}
	if sess := r.Snapshot()["alice"]; sess.ConnID != "" {
		t.Errorf("restored session.ConnID = %v, want cleared", sess.ConnID)
	}
}
