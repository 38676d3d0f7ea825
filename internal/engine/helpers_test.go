package engine

import (
	"encoding/json"
	"testing"
	"time"

	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

func timeUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// newTestLayout returns a real filesystem and a bootstrapped layout rooted
// at a fresh temp dir.
func newTestLayout(t *testing.T) (fs.FS, pipeline.Layout) {
	t.Helper()

	fsys := fs.NewReal()
	layout := pipeline.NewLayout(t.TempDir())

	if err := layout.Bootstrap(fsys); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	return fsys, layout
}

func mustUnmarshal(t *testing.T, data []byte, v any) {
	t.Helper()

	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
