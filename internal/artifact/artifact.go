// Package artifact persists the durable output of every stage execution.
//
// Each stage execution produces one immutable Envelope, written as a JSON
// record plus a human-readable Markdown rendering. Revisions are new
// envelopes that reference their predecessors through Lineage; nothing is
// mutated after creation.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the current envelope schema version. Bump on any
// incompatible change to Envelope.
const SchemaVersion = 1

// Common errors.
var (
	ErrNotFound     = errors.New("artifact not found")
	ErrEmptySession = errors.New("session id cannot be empty")
	ErrEmptyStage   = errors.New("stage cannot be empty")
)

// Envelope wraps one stage's output with identity and lineage.
type Envelope struct {
	// SessionID ties the artifact to the run that produced it.
	SessionID string `json:"session_id"`

	// ArtifactID is derived from the payload content and is immutable.
	ArtifactID string `json:"artifact_id"`

	// Stage is the pipeline stage that produced this artifact.
	Stage string `json:"stage"`

	// SchemaVersion is the envelope schema version at write time.
	SchemaVersion int `json:"schema_version"`

	// CreatedAt is when the envelope was written.
	CreatedAt time.Time `json:"created_at"`

	// Summary is a short, ordered human summary of the payload.
	Summary []string `json:"summary,omitempty"`

	// Lineage lists predecessor artifact ids this artifact derives from.
	Lineage []string `json:"lineage,omitempty"`

	// Payload is the opaque stage-specific content.
	Payload json.RawMessage `json:"payload"`
}

// Store is the persistence contract for artifacts. Implementations may back
// it with the filesystem or any durable store without changing the
// orchestrator.
type Store interface {
	// Put writes a new envelope and returns its artifact id.
	Put(sessionID, stage string, payload json.RawMessage, summary, lineage []string) (string, error)

	// Get returns the envelope with the given artifact id.
	Get(sessionID, artifactID string) (*Envelope, error)

	// List returns all envelopes of a session, newest last.
	List(sessionID string) ([]*Envelope, error)
}

// ComputeID derives a content-addressed artifact id from stage and payload.
// The id is the first 12 hex chars of the SHA-256 digest.
func ComputeID(stage string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Render produces the Markdown rendering written next to the JSON record.
func (e *Envelope) Render() string {
	var b []byte
	b = append(b, fmt.Sprintf("# Artifact %s\n\n", e.ArtifactID)...)
	b = append(b, fmt.Sprintf("- **Stage**: %s\n", e.Stage)...)
	b = append(b, fmt.Sprintf("- **Session**: %s\n", e.SessionID)...)
	b = append(b, fmt.Sprintf("- **Created**: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))...)
	b = append(b, fmt.Sprintf("- **Schema**: v%d\n", e.SchemaVersion)...)

	if len(e.Lineage) > 0 {
		b = append(b, "\n## Lineage\n\n"...)
		for _, id := range e.Lineage {
			b = append(b, fmt.Sprintf("- %s\n", id)...)
		}
	}

	if len(e.Summary) > 0 {
		b = append(b, "\n## Summary\n\n"...)
		for _, line := range e.Summary {
			b = append(b, fmt.Sprintf("- %s\n", line)...)
		}
	}

	b = append(b, "\n## Payload\n\n```json\n"...)
	b = append(b, prettyPayload(e.Payload)...)
	b = append(b, "\n```\n"...)
	return string(b)
}

func prettyPayload(raw json.RawMessage) []byte {
	var buf json.RawMessage
	if err := json.Unmarshal(raw, &buf); err != nil {
		return raw
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return raw
	}
	return pretty
}
