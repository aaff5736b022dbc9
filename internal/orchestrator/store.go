package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned when no session record exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLocked is returned when another process holds the
	// session lock.
	ErrSessionLocked = errors.New("session is locked by another process")
)

// SessionStore persists sessions and hands out per-session locks:
//
//	<root>/<session-id>/session.json
//	<root>/<session-id>/session.lock
//
// Every save is a temp-file write plus rename, so a crash never leaves a
// partially written record.
type SessionStore struct {
	root   string
	logger *zap.Logger
}

// NewSessionStore creates a file-backed session store rooted at root.
func NewSessionStore(root string, logger *zap.Logger) (*SessionStore, error) {
	if root == "" {
		return nil, fmt.Errorf("session store root cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}
	return &SessionStore{root: root, logger: logger}, nil
}

// Save writes the session record, replacing any previous version.
func (s *SessionStore) Save(session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("cannot save a session without an id")
	}
	dir := filepath.Join(s.root, session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "session.json"), data); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}

	s.logger.Debug("session saved", zap.String("session.id", session.ID))
	return nil
}

// Load reads the session with the given id.
func (s *SessionStore) Load(id string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(s.root, id, "session.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if session.Stages == nil {
		session.Stages = make(map[Stage]*StageStatus)
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", id, err)
	}

	// A persisted InProgress entry means the process died mid-stage. No
	// other process may hold the session (the lock file), so demote it to
	// a retryable failure and let the run loop re-enter the stage.
	for stage, st := range session.Stages {
		if st.State == StateInProgress {
			s.logger.Warn("stage was interrupted, marking retryable",
				zap.String("session.id", session.ID),
				zap.String("stage", string(stage)),
			)
			session.Stages[stage] = &StageStatus{
				State:    StateFailed,
				Error:    "interrupted before completion",
				FailedAt: time.Now().UTC(),
				CanRetry: true,
			}
		}
	}
	return &session, nil
}

// List returns the ids of all persisted sessions, sorted.
func (s *SessionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session root: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record := filepath.Join(s.root, entry.Name(), "session.json")
		if _, err := os.Stat(record); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Lock takes an exclusive lock on the session, preventing two processes
// from driving the same session concurrently. The returned release func
// removes the lock file.
func (s *SessionStore) Lock(id string) (func(), error) {
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	path := filepath.Join(dir, "session.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove session lock",
				zap.String("session.id", id), zap.Error(err))
		}
	}, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
