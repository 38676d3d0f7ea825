package pipeline

import (
	"path/filepath"

	"pipeline/internal/fs"
)

// Directory names under the working root.
const (
	StateDirName = "state"
	LocksDirName = "locks"
)

const dirPerm = 0o755

// Layout maps logical engine artifacts to paths under a working root.
//
// The scheme is part of the external interface:
//
//	state/run_{id}.json
//	state/metrics_{id}.json
//	state/stage_{name}.json
//	state/progress_{name}.json
//	state/audit_{id}.jsonl
//	locks/{name}.lock
//	{outputDir}/.{name}.done
//
// Relative paths (outputDir, processor, inputs) are interpreted against
// Root.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: dir}
}

// Bootstrap creates the state and locks directories.
func (l Layout) Bootstrap(fsys fs.FS) error {
	if err := fsys.MkdirAll(l.StateDir(), dirPerm); err != nil {
		return err
	}

	return fsys.MkdirAll(l.LocksDir(), dirPerm)
}

func (l Layout) StateDir() string {
	return filepath.Join(l.Root, StateDirName)
}

func (l Layout) LocksDir() string {
	return filepath.Join(l.Root, LocksDirName)
}

func (l Layout) RunStatePath(runID string) string {
	return filepath.Join(l.StateDir(), "run_"+runID+".json")
}

func (l Layout) MetricsPath(runID string) string {
	return filepath.Join(l.StateDir(), "metrics_"+runID+".json")
}

func (l Layout) StageStatePath(name string) string {
	return filepath.Join(l.StateDir(), "stage_"+name+".json")
}

func (l Layout) ProgressPath(name string) string {
	return filepath.Join(l.StateDir(), "progress_"+name+".json")
}

func (l Layout) AuditPath(runID string) string {
	return filepath.Join(l.StateDir(), "audit_"+runID+".jsonl")
}

func (l Layout) LockPath(name string) string {
	return filepath.Join(l.LocksDir(), name+".lock")
}

// MarkerPath returns the completion marker for a stage:
// {outputDir}/.{name}.done. The marker's presence, combined with a matching
// idempotency key in stage state, is what makes a prior run "already done".
func (l Layout) MarkerPath(outputDir, name string) string {
	return filepath.Join(l.Resolve(outputDir), "."+name+".done")
}

// Resolve interprets p against the layout root unless p is absolute.
func (l Layout) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(l.Root, p)
}
