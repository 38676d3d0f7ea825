package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

// Stage and run status values. These appear verbatim in persisted JSON.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"

	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// AttemptRecord is one entry of a stage's attempt history.
type AttemptRecord struct {
	Attempt   int    `json:"attempt"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StageState is the durable per-stage record, keyed by stage name. It is
// rewritten atomically at attempt boundaries and stage completion, and is
// the ground truth (together with the completion marker) for idempotent
// skipping. History is append-only: failed attempts are preserved, never
// truncated.
type StageState struct {
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	LastStatus      string          `json:"lastStatus,omitempty"`
	LastDurationSec float64         `json:"lastDurationSec,omitempty"`
	Attempts        int             `json:"attempts,omitempty"`
	History         []AttemptRecord `json:"history,omitempty"`
}

// StageResult is the in-memory outcome of one stage execution, also
// embedded in the run metrics.
type StageResult struct {
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunState is the durable per-run record.
type RunState struct {
	RunID     string `json:"runId"`
	Pipeline  string `json:"pipeline"`
	Version   string `json:"version,omitempty"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
	State     string `json:"state"`
}

// RunMetrics aggregates per-stage results for a run.
type RunMetrics struct {
	RunID         string        `json:"runId"`
	Timestamp     string        `json:"timestamp"`
	Stages        []StageResult `json:"stages"`
	TotalStages   int           `json:"totalStages"`
	OkStages      int           `json:"okStages"`
	SkippedStages int           `json:"skippedStages"`
	FailedStages  int           `json:"failedStages"`
}

// StateStore persists stage state, run state, and run metrics as JSON
// files under state/. All writes are atomic.
type StateStore struct {
	fsys   fs.FS
	layout pipeline.Layout
}

func NewStateStore(fsys fs.FS, layout pipeline.Layout) *StateStore {
	return &StateStore{fsys: fsys, layout: layout}
}

// LoadStage returns the persisted state for a stage, or the zero value
// when no state exists yet. A present-but-unparsable file is an error:
// stage state is ground truth and silently discarding it could re-run
// work that already completed.
func (s *StateStore) LoadStage(name string) (StageState, error) {
	data, err := s.fsys.ReadFile(s.layout.StageStatePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StageState{}, nil
		}

		return StageState{}, fmt.Errorf("reading stage state %q: %w", name, err)
	}

	var st StageState
	if err := json.Unmarshal(data, &st); err != nil {
		return StageState{}, fmt.Errorf("corrupt stage state %q: %w", name, err)
	}

	return st, nil
}

// SaveStage persists stage state atomically.
func (s *StateStore) SaveStage(name string, st StageState) error {
	return s.writeJSON(s.layout.StageStatePath(name), st)
}

// SaveRun persists run state atomically.
func (s *StateStore) SaveRun(rs RunState) error {
	return s.writeJSON(s.layout.RunStatePath(rs.RunID), rs)
}

// SaveMetrics persists run metrics atomically.
func (s *StateStore) SaveMetrics(m RunMetrics) error {
	return s.writeJSON(s.layout.MetricsPath(m.RunID), m)
}

func (s *StateStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := s.fsys.WriteFileAtomic(path, data, statePerm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
