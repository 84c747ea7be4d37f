// Package settings persists the agent's user choices as a small JSON document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const filePerm = 0o600

// Settings is the on-disk document {selectedPrinter, serverPort}.
type Settings struct {
	SelectedPrinter *string `json:"selectedPrinter"`
	ServerPort      int     `json:"serverPort"`
}

// Defaults returns the settings used when the file is missing or a field is invalid.
func Defaults() Settings {
	return Settings{ServerPort: 3321}
}

// Selected returns the persisted printer name or "".
func (s Settings) Selected() string {
	if s.SelectedPrinter == nil {
		return ""
	}

	return *s.SelectedPrinter
}

// PersistenceError reports a settings read or write failure. Callers log it and carry
// on with in-memory values.
type PersistenceError struct {
	Path      string
	Operation string // "read", "decode" or "write"
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings %s failed for %s: %v", e.Operation, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store holds the current settings and rewrites the file on every change.
type Store struct {
	mu      sync.Mutex
	path    string
	current Settings
	// portPersisted is true when the loaded file carried a valid serverPort.
	portPersisted bool
}

// Load reads path and merges it over Defaults. A missing file is not an error. On a
// read or decode failure the returned store holds defaults and the error is a
// *PersistenceError.
func Load(path string) (*Store, error) {
	s := &Store{path: path, current: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}

		return s, &PersistenceError{Path: path, Operation: "read", Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return s, &PersistenceError{Path: path, Operation: "decode", Err: err}
	}

	if v, ok := raw["selectedPrinter"]; ok {
		var name string
		if err := json.Unmarshal(v, &name); err == nil && strings.TrimSpace(name) != "" {
			s.current.SelectedPrinter = &name
		}
	}

	if v, ok := raw["serverPort"]; ok {
		var port int
		if err := json.Unmarshal(v, &port); err == nil && port > 0 && port <= 65535 {
			s.current.ServerPort = port
			s.portPersisted = true
		}
	}

	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.current
	if s.current.SelectedPrinter != nil {
		name := *s.current.SelectedPrinter
		out.SelectedPrinter = &name
	}

	return out
}

// PersistedPort returns the port stored in the file, or 0 when the file had none.
func (s *Store) PersistedPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.portPersisted {
		return 0
	}

	return s.current.ServerPort
}

// SaveSelectedPrinter updates the selection and rewrites the file synchronously.
// The in-memory value is updated even when the write fails.
func (s *Store) SaveSelectedPrinter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.SelectedPrinter = &name

	return s.writeLocked()
}

// document is the file form. serverPort is only written when the file already
// carried one, so defaults never turn into a persisted override.
type document struct {
	SelectedPrinter *string `json:"selectedPrinter"`
	ServerPort      *int    `json:"serverPort,omitempty"`
}

func (s *Store) writeLocked() error {
	doc := document{SelectedPrinter: s.current.SelectedPrinter}
	if s.portPersisted {
		port := s.current.ServerPort
		doc.ServerPort = &port
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return &PersistenceError{Path: s.path, Operation: "write", Err: err}
	}

	return nil
}
