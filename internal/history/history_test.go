package history

import (
	"path/filepath"
	"testing"
)

func TestAddMessagesRecordsKinds(t *testing.T) {
	s := New("", 0, false)
	s.AddUserMessage("hello")
	s.AddAgentMessage("a1", "hi there")
	s.AddSystemMessage("loop budget exhausted")

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() = %v, want 3", entries)
	}
	if entries[0].Kind != KindUser || entries[0].Text != "hello" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].Kind != KindAgent || entries[1].Agent != "a1" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
	if entries[2].Kind != KindSystem {
		t.Fatalf("entries[2] = %+v", entries[2])
	}
}

func TestCapTrimsOldestEntries(t *testing.T) {
	s := New("", 2, false)
	s.AddUserMessage("one")
	s.AddUserMessage("two")
	s.AddUserMessage("three")

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() = %v, want 2 (capped)", entries)
	}
	if entries[0].Text != "two" || entries[1].Text != "three" {
		t.Fatalf("Entries() = %+v, want [two three]", entries)
	}
}

func TestPersistAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := New(path, 0, true)
	s.AddUserMessage("persisted")

	reloaded, err := Load(path, 0, true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entries := reloaded.Entries()
	if len(entries) != 1 || entries[0].Text != "persisted" {
		t.Fatalf("Entries() after reload = %+v", entries)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"), 0, true)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(s.Entries()) != 0 {
		t.Fatalf("Entries() = %v, want empty", s.Entries())
	}
}

func TestEntriesAreACopy(t *testing.T) {
	s := New("", 0, false)
	s.AddUserMessage("a")
	entries := s.Entries()
	entries[0].Text = "mutated"
	if s.Entries()[0].Text != "a" {
		t.Fatal("Entries() leaked internal state")
	}
}
