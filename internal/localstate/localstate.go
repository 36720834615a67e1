// Package localstate persists the small bits of client-side state that must
// survive a restart: saved credentials, the set of locally hidden message ids,
// and an unsubmitted job draft stashed when posting fails. Everything lives in
// one JSON file written atomically.
package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credentials is the persisted token pair.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
}

// JobDraft is an order form stashed before it reached the server, so the
// client can restore it after re-login or a crash.
type JobDraft struct {
	Subject         string    `json:"subject"`
	Title           string    `json:"title"`
	Pages           int       `json:"pages"`
	Deadline        time.Time `json:"deadline"`
	Instructions    string    `json:"instructions"`
	CitedResources  int       `json:"cited_resources"`
	FormattingStyle string    `json:"formatting_style"`
	WriterLevel     string    `json:"writer_level"`
	Spacing         string    `json:"spacing"`
	PhoneNumber     string    `json:"phone_number"`
	FilePaths       []string  `json:"file_paths"`
	SavedAt         time.Time `json:"saved_at"`
}

type fileState struct {
	Credentials  *Credentials    `json:"credentials,omitempty"`
	HiddenMsgIDs map[int64]bool  `json:"hidden_message_ids,omitempty"`
	PendingDraft *JobDraft       `json:"pending_job_draft,omitempty"`
}

// Store reads and writes the state file. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// Open loads the state file, creating an empty state when it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: fileState{HiddenMsgIDs: map[int64]bool{}}}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(b, &s.state); err != nil {
		// A corrupt state file is not worth failing startup over.
		s.state = fileState{HiddenMsgIDs: map[int64]bool{}}
		return s, nil
	}
	if s.state.HiddenMsgIDs == nil {
		s.state.HiddenMsgIDs = map[int64]bool{}
	}
	return s, nil
}

// Credentials returns the saved token pair, or nil when logged out.
func (s *Store) Credentials() *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Credentials == nil {
		return nil
	}
	cp := *s.state.Credentials
	return &cp
}

// SetCredentials saves the token pair. Nil clears it.
func (s *Store) SetCredentials(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Credentials = c
	return s.flush()
}

// HideMessage records a message id as locally hidden.
func (s *Store) HideMessage(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.HiddenMsgIDs[id] = true
	return s.flush()
}

// IsHidden reports whether a message id is locally hidden.
func (s *Store) IsHidden(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.HiddenMsgIDs[id]
}

// HiddenMessages returns all locally hidden message ids.
func (s *Store) HiddenMessages() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.state.HiddenMsgIDs))
	for id := range s.state.HiddenMsgIDs {
		out = append(out, id)
	}
	return out
}

// SetDraft stashes an unsubmitted order form. Nil clears the stash.
func (s *Store) SetDraft(d *JobDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingDraft = d
	return s.flush()
}

// Draft returns the stashed order form, or nil.
func (s *Store) Draft() *JobDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.PendingDraft == nil {
		return nil
	}
	cp := *s.state.PendingDraft
	return &cp
}

// Clear wipes everything, including credentials. Used on logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fileState{HiddenMsgIDs: map[int64]bool{}}
	return s.flush()
}

// flush writes the state atomically: temp file in the same directory, then
// rename. Caller holds the lock.
func (s *Store) flush() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
