// Package history implements the conversation-history collaborator the
// core consumes through three methods — add_user_message,
// add_agent_message, add_system_message — backed by a capped, append-only
// JSON file on disk.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryKind distinguishes who produced a history entry.
type EntryKind string

const (
	KindUser   EntryKind = "user"
	KindAgent  EntryKind = "agent"
	KindSystem EntryKind = "system"
)

// Entry is one recorded message.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Agent     string    `json:"agent,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a capped, file-backed conversation log. It's safe for
// concurrent use by the session driver and any background monitor.
type Store struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	path       string
	saveToFile bool
	now        func() time.Time
}

// New creates a Store capped at maxEntries, optionally persisting to path.
// maxEntries <= 0 means unbounded.
func New(path string, maxEntries int, saveToFile bool) *Store {
	return &Store{
		maxEntries: maxEntries,
		path:       path,
		saveToFile: saveToFile,
		now:        time.Now,
	}
}

func (s *Store) append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	if s.saveToFile && s.path != "" {
		// Best-effort: a failed write shouldn't interrupt the session,
		// the in-memory log is still authoritative for this run.
		_ = s.persist()
	}
}

// AddUserMessage records operator input.
func (s *Store) AddUserMessage(text string) {
	s.append(Entry{Kind: KindUser, Text: text, Timestamp: s.now()})
}

// AddAgentMessage records a sanitized agent reply.
func (s *Store) AddAgentMessage(agentName, text string) {
	s.append(Entry{Kind: KindAgent, Agent: agentName, Text: text, Timestamp: s.now()})
}

// AddSystemMessage records an orchestrator-originated note (warnings,
// completion summaries, loop-budget notices).
func (s *Store) AddSystemMessage(text string) {
	s.append(Entry{Kind: KindSystem, Text: text, Timestamp: s.now()})
}

// Entries returns a copy of the recorded entries, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// persist writes the entire capped entry set to disk. Must be called with
// s.mu held.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load reads a previously persisted entry set from path, if present. A
// missing file is not an error — the store simply starts empty.
func Load(path string, maxEntries int, saveToFile bool) (*Store, error) {
	s := New(path, maxEntries, saveToFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return s, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return s, nil
	}
	s.entries = entries
	return s, nil
}
