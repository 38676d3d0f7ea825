package engine

import (
	"encoding/json"
	"fmt"

	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

const statePerm = 0o644

// CheckpointRecord is the durable progress record for a resumable stage.
// LineOffset is the number of input lines already fully processed.
type CheckpointRecord struct {
	LineOffset int `json:"lineOffset"`
}

// CheckpointStore reads and writes checkpoint records under
// state/progress_{name}.json.
//
// During execution the processor owns advancement: it writes the progress
// file at intervals. The engine reads the checkpoint before invoking the
// processor and rewrites it atomically after a successful run. Failed
// attempts never touch the checkpoint.
type CheckpointStore struct {
	fsys   fs.FS
	layout pipeline.Layout
}

func NewCheckpointStore(fsys fs.FS, layout pipeline.Layout) *CheckpointStore {
	return &CheckpointStore{fsys: fsys, layout: layout}
}

// Read returns the persisted line offset for a stage. A missing, corrupt,
// or negative record reads as 0: the stage starts fresh rather than
// failing.
func (s *CheckpointStore) Read(name string) int {
	data, err := s.fsys.ReadFile(s.layout.ProgressPath(name))
	if err != nil {
		return 0
	}

	var rec CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0
	}

	if rec.LineOffset < 0 {
		return 0
	}

	return rec.LineOffset
}

// Write persists the line offset atomically.
func (s *CheckpointStore) Write(name string, lineOffset int) error {
	data, err := json.Marshal(CheckpointRecord{LineOffset: lineOffset})
	if err != nil {
		return err
	}

	path := s.layout.ProgressPath(name)
	if err := s.fsys.WriteFileAtomic(path, data, statePerm); err != nil {
		return fmt.Errorf("writing checkpoint %s: %w", path, err)
	}

	return nil
}
