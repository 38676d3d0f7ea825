package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pipeline/internal/fs"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `{
		"name": "demo",
		"stages": [
			{"name": "copy", "processor": "bin/copy.sh", "inputs": ["in.txt"], "outputDir": "work"}
		]
	}`)

	spec, err := Load(fs.NewReal(), path)
	require.NoError(t, err)

	require.Equal(t, "demo", spec.Name)
	require.Len(t, spec.Stages, 1)

	st := spec.Stages[0]
	require.True(t, st.Idempotency, "idempotency defaults to enabled")
	require.False(t, st.Checkpoint.Enabled, "checkpoint defaults to disabled")
	require.True(t, st.UseLock, "useLock defaults to true")
	require.True(t, st.OfflineGuard, "offlineGuard defaults to true")
	require.Equal(t, DefaultMaxAttempts, st.Retry.MaxAttempts)
	require.Equal(t, DefaultBaseDelaySeconds, st.Retry.BaseDelaySeconds)
	require.Equal(t, DefaultMaxDelaySeconds, st.Retry.MaxDelaySeconds)
}

func TestLoad_ExplicitPolicies(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `{
		"name": "demo",
		"version": "2",
		"stages": [{
			"name": "upper",
			"processor": "bin/upper.sh",
			"inputs": ["a.txt", "b.txt"],
			"outputDir": "out",
			"idempotency": {"enabled": false},
			"checkpoint": {"enabled": true, "lineInterval": 50},
			"retry": {
				"maxAttempts": 3,
				"baseDelaySeconds": 0.01,
				"maxDelaySeconds": 0.1,
				"jitterSeconds": 0.005,
				"retryableExitCodes": [75],
				"seed": 42
			},
			"resources": {"cpuCores": 2, "memoryMB": 512, "ioConcurrency": 4},
			"params": {"mode": "fast"},
			"offlineGuard": false,
			"useLock": false
		}]
	}`)

	spec, err := Load(fs.NewReal(), path)
	require.NoError(t, err)
	require.Equal(t, "2", spec.Version)

	st := spec.Stages[0]
	require.False(t, st.Idempotency)
	require.True(t, st.Checkpoint.Enabled)
	require.Equal(t, 50, st.Checkpoint.LineInterval)
	require.Equal(t, 3, st.Retry.MaxAttempts)
	require.Equal(t, []int{75}, st.Retry.RetryableExitCodes)
	require.NotNil(t, st.Retry.Seed)
	require.Equal(t, int64(42), *st.Retry.Seed)
	require.Equal(t, 2, st.Resources.CPUCores)
	require.Equal(t, 512, st.Resources.MemoryMB)
	require.Equal(t, "fast", st.Params["mode"])
	require.False(t, st.OfflineGuard)
	require.False(t, st.UseLock)
}

func TestLoad_ToleratesCommentsAndUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeSpec(t, `{
		// human-maintained pipeline file
		"name": "demo",
		"futureKnob": {"nested": true},
		"stages": [
			{"name": "copy", "processor": "p", "outputDir": "out", "extra": 1},
		],
	}`)

	spec, err := Load(fs.NewReal(), path)
	require.NoError(t, err)
	require.Equal(t, "copy", spec.Stages[0].Name)
}

func TestLoad_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing pipeline name",
			content: `{"stages": [{"name": "a", "processor": "p", "outputDir": "o"}]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name:    "no stages",
			content: `{"name": "demo", "stages": []}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name:    "missing stage name",
			content: `{"name": "demo", "stages": [{"processor": "p", "outputDir": "o"}]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name: "duplicate stage name",
			content: `{"name": "demo", "stages": [
				{"name": "a", "processor": "p", "outputDir": "o"},
				{"name": "a", "processor": "p", "outputDir": "o"}
			]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name:    "missing processor",
			content: `{"name": "demo", "stages": [{"name": "a", "outputDir": "o"}]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name:    "missing outputDir",
			content: `{"name": "demo", "stages": [{"name": "a", "processor": "p"}]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name: "negative maxAttempts",
			content: `{"name": "demo", "stages": [
				{"name": "a", "processor": "p", "outputDir": "o", "retry": {"maxAttempts": -1}}
			]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name: "negative lineInterval",
			content: `{"name": "demo", "stages": [
				{"name": "a", "processor": "p", "outputDir": "o", "checkpoint": {"enabled": true, "lineInterval": -5}}
			]}`,
			wantErr: ErrSpecInvalid,
		},
		{
			name:    "not json",
			content: `{{{`,
			wantErr: ErrSpecInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeSpec(t, tt.content)

			_, err := Load(fs.NewReal(), path)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(fs.NewReal(), filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, ErrSpecNotFound)
}

func TestLayout_Paths(t *testing.T) {
	t.Parallel()

	l := NewLayout("/work")

	require.Equal(t, "/work/state/run_r1.json", l.RunStatePath("r1"))
	require.Equal(t, "/work/state/metrics_r1.json", l.MetricsPath("r1"))
	require.Equal(t, "/work/state/stage_upper.json", l.StageStatePath("upper"))
	require.Equal(t, "/work/state/progress_upper.json", l.ProgressPath("upper"))
	require.Equal(t, "/work/state/audit_r1.jsonl", l.AuditPath("r1"))
	require.Equal(t, "/work/locks/upper.lock", l.LockPath("upper"))
	require.Equal(t, "/work/out/.upper.done", l.MarkerPath("out", "upper"))
	require.Equal(t, "/abs/out/.upper.done", l.MarkerPath("/abs/out", "upper"))
	require.Equal(t, "/work/rel", l.Resolve("rel"))
	require.Equal(t, "/abs", l.Resolve("/abs"))
}
