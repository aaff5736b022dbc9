package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// FileStore persists artifacts under a session-scoped directory:
//
//	<root>/<session-id>/artifacts/{stage}.{artifact_id}.json
//	<root>/<session-id>/artifacts/{stage}.{artifact_id}.md
//
// Writes are last-writer-wins per artifact id.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates a file-backed artifact store rooted at root.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact store root cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Put writes a new envelope and its Markdown rendering; it returns the
// content-derived artifact id.
func (s *FileStore) Put(sessionID, stage string, payload json.RawMessage, summary, lineage []string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySession
	}
	if stage == "" {
		return "", ErrEmptyStage
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	env := &Envelope{
		SessionID:     sessionID,
		ArtifactID:    ComputeID(stage, payload),
		Stage:         stage,
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Summary:       summary,
		Lineage:       lineage,
		Payload:       payload,
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session artifact dir: %w", err)
	}

	record, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	base := fmt.Sprintf("%s.%s", stage, env.ArtifactID)
	if err := atomicWrite(filepath.Join(dir, base+".json"), record); err != nil {
		return "", fmt.Errorf("failed to write artifact record: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, base+".md"), []byte(env.Render())); err != nil {
		return "", fmt.Errorf("failed to write artifact rendering: %w", err)
	}

	s.logger.Debug("artifact written",
		zap.String("session.id", sessionID),
		zap.String("stage", stage),
		zap.String("artifact.id", env.ArtifactID),
	)
	return env.ArtifactID, nil
}

// Get returns the envelope with the given artifact id.
func (s *FileStore) Get(sessionID, artifactID string) (*Envelope, error) {
	matches, err := filepath.Glob(filepath.Join(s.sessionDir(sessionID), "*."+artifactID+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("artifact %s in session %s: %w", artifactID, sessionID, ErrNotFound)
	}
	return readEnvelope(matches[0])
}

// List returns all envelopes of a session ordered by creation time.
func (s *FileStore) List(sessionID string) ([]*Envelope, error) {
	matches, err := filepath.Glob(filepath.Join(s.sessionDir(sessionID), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}

	envelopes := make([]*Envelope, 0, len(matches))
	for _, path := range matches {
		env, err := readEnvelope(path)
		if err != nil {
			s.logger.Warn("skipping unreadable artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		envelopes = append(envelopes, env)
	}

	sort.Slice(envelopes, func(i, j int) bool {
		return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
	})
	return envelopes, nil
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID, "artifacts")
}

func readEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &env, nil
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place, so a crash never leaves a partial record.
func atomicWrite(path string, data []byte) error {
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

var _ Store = (*FileStore)(nil)
