package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusState tags a StageStatus variant. Pending is implicit: a stage
// with no entry in the session map is pending.
type StatusState string

const (
	StateInProgress StatusState = "in_progress"
	StateCompleted  StatusState = "completed"
	StateFailed     StatusState = "failed"
)

// StageStatus is the tagged status of one stage. Only the fields of the
// active variant are populated.
type StageStatus struct {
	State StatusState `json:"state"`

	// InProgress
	StartedAt time.Time `json:"started_at,omitempty"`

	// Completed. Stale marks a completed stage invalidated by a restart
	// at an earlier stage: its artifact stays readable, but the stage is
	// re-runnable and the next Run re-enters it.
	ArtifactID  string    `json:"artifact_id,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Verified    bool      `json:"verified,omitempty"`
	Stale       bool      `json:"stale,omitempty"`

	// Failed
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failed_at,omitempty"`
	CanRetry bool      `json:"can_retry,omitempty"`
}

// Restart records one backward move of the current-stage pointer.
type Restart struct {
	Target Stage     `json:"target"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Session is the root aggregate of one pipeline run. It is owned by the
// orchestrator: state changes go through orchestrator operations and are
// persisted after every transition.
type Session struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Stages    map[Stage]*StageStatus `json:"stages"`
	Current   Stage                  `json:"current_stage,omitempty"`
	Restarts  []Restart              `json:"restarts,omitempty"`
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Stages:    make(map[Stage]*StageStatus),
	}
}

// Status returns the status of stage; a nil result means pending.
func (s *Session) Status(stage Stage) *StageStatus {
	return s.Stages[stage]
}

// Completed reports whether stage is completed.
func (s *Session) Completed(stage Stage) bool {
	st := s.Stages[stage]
	return st != nil && st.State == StateCompleted
}

// inProgress returns the stage currently in progress, if any.
func (s *Session) inProgress() (Stage, bool) {
	for stage, st := range s.Stages {
		if st.State == StateInProgress {
			return stage, true
		}
	}
	return "", false
}

// markInProgress transitions stage to InProgress. Legal from pending,
// from Failed{CanRetry} and from stale completions; at most one stage
// may be in progress.
func (s *Session) markInProgress(stage Stage, now time.Time) error {
	if active, ok := s.inProgress(); ok {
		return fmt.Errorf("stage %s is already in progress", active)
	}
	switch st := s.Stages[stage]; {
	case st == nil:
	case st.State == StateFailed && st.CanRetry:
	case st.State == StateCompleted && st.Stale:
	case st.State == StateFailed:
		return fmt.Errorf("stage %s failed and cannot be retried", stage)
	default:
		return fmt.Errorf("stage %s cannot restart from state %s", stage, st.State)
	}

	s.Stages[stage] = &StageStatus{State: StateInProgress, StartedAt: now}
	s.Current = stage
	return nil
}

// markCompleted transitions an in-progress stage to Completed.
func (s *Session) markCompleted(stage Stage, artifactID string, verified bool, now time.Time) error {
	st := s.Stages[stage]
	if st == nil || st.State != StateInProgress {
		return fmt.Errorf("stage %s is not in progress", stage)
	}
	s.Stages[stage] = &StageStatus{
		State:       StateCompleted,
		ArtifactID:  artifactID,
		CompletedAt: now,
		Verified:    verified,
	}
	return nil
}

// markFailed transitions an in-progress stage to Failed.
func (s *Session) markFailed(stage Stage, cause error, canRetry bool, now time.Time) error {
	st := s.Stages[stage]
	if st == nil || st.State != StateInProgress {
		return fmt.Errorf("stage %s is not in progress", stage)
	}
	s.Stages[stage] = &StageStatus{
		State:    StateFailed,
		Error:    cause.Error(),
		FailedAt: now,
		CanRetry: canRetry,
	}
	return nil
}

// Validate checks the session invariants after loading from disk.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}
	active := 0
	for stage, st := range s.Stages {
		if st == nil {
			return fmt.Errorf("stage %s has a nil status entry", stage)
		}
		switch st.State {
		case StateInProgress:
			active++
		case StateCompleted, StateFailed:
		default:
			return fmt.Errorf("stage %s has unknown state %q", stage, st.State)
		}
	}
	if active > 1 {
		return fmt.Errorf("session has %d stages in progress", active)
	}
	return nil
}
