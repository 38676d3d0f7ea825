package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// CLI provides a clean interface for running the pipeline runner in tests.
// It manages a temp directory acting as the working root.
type CLI struct {
	t   *testing.T
	Dir string
}

// NewCLI creates a new test CLI with a temp directory.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{
		t:   t,
		Dir: t.TempDir(),
	}
}

// Run executes the runner with the given args and returns stdout, stderr,
// and exit code. Args should not include the binary name or "--cwd" -
// those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"pipeline-runner", "--cwd", r.Dir}, args...)
	code := Run(&outBuf, &errBuf, fullArgs, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the runner and fails the test on a non-zero exit.
// Returns stdout.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstdout: %s\nstderr: %s", args, code, stdout, stderr)
	}

	return stdout
}

// WriteFile writes a file under the working root, creating parent
// directories as needed.
func (r *CLI) WriteFile(rel, content string, perm os.FileMode) string {
	r.t.Helper()

	path := filepath.Join(r.Dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("mkdir for %s: %v", rel, err)
	}

	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		r.t.Fatalf("write %s: %v", rel, err)
	}

	return path
}

// ReadFile reads a file under the working root.
func (r *CLI) ReadFile(rel string) string {
	r.t.Helper()

	data, err := os.ReadFile(filepath.Join(r.Dir, rel))
	if err != nil {
		r.t.Fatalf("read %s: %v", rel, err)
	}

	return string(data)
}

// Exists reports whether a path under the working root exists.
func (r *CLI) Exists(rel string) bool {
	r.t.Helper()

	_, err := os.Stat(filepath.Join(r.Dir, rel))

	return err == nil
}
