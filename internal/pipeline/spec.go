// Package pipeline defines the pipeline specification model, its loading
// and validation, and the on-disk layout of engine state.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"pipeline/internal/fs"
)

var (
	ErrSpecNotFound      = errors.New("pipeline spec not found")
	ErrSpecRead          = errors.New("cannot read pipeline spec")
	ErrSpecInvalid       = errors.New("invalid pipeline spec")
	ErrSpecNameEmpty     = errors.New("pipeline name cannot be empty")
	ErrNoStages          = errors.New("pipeline must have at least one stage")
	ErrStageNameEmpty    = errors.New("stage name cannot be empty")
	ErrStageNameDup      = errors.New("duplicate stage name")
	ErrProcessorEmpty    = errors.New("stage processor cannot be empty")
	ErrOutputDirEmpty    = errors.New("stage outputDir cannot be empty")
	ErrMaxAttemptsRange  = errors.New("retry.maxAttempts must be >= 1")
	ErrLineIntervalRange = errors.New("checkpoint.lineInterval must be >= 0")
)

// Spec is a loaded, validated pipeline specification. Read-only after Load.
type Spec struct {
	Name    string
	Version string
	Stages  []Stage
}

// Stage is one unit of the pipeline: an external processor plus its inputs,
// outputs, and policies. All optional policies are resolved to concrete
// values during Load.
type Stage struct {
	Name      string
	Processor string
	Inputs    []string
	OutputDir string

	Idempotency  bool
	Checkpoint   CheckpointPolicy
	Retry        RetryPolicy
	Resources    Resources
	Params       map[string]any
	OfflineGuard bool
	UseLock      bool
}

// CheckpointPolicy controls mid-stage resume.
type CheckpointPolicy struct {
	Enabled      bool
	LineInterval int
}

// RetryPolicy bounds processor re-invocation on failure.
//
// When RetryableExitCodes is empty, any non-zero exit code is retryable.
// Seed, when set, makes the jitter deterministic.
type RetryPolicy struct {
	MaxAttempts        int
	BaseDelaySeconds   float64
	MaxDelaySeconds    float64
	JitterSeconds      float64
	RetryableExitCodes []int
	Seed               *int64
}

// Resources are advisory hints passed through to the processor.
type Resources struct {
	CPUCores      int
	MemoryMB      int
	IOConcurrency int
}

// Default policy values for fields the spec file omits.
const (
	DefaultMaxAttempts      = 1
	DefaultBaseDelaySeconds = 0.5
	DefaultMaxDelaySeconds  = 30.0
)

// specFile mirrors the JSON document. Optional booleans are pointers so
// that "absent" and "false" can be told apart when applying defaults.
// Unknown fields are tolerated.
type specFile struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Stages  []stageFile `json:"stages"`
}

type stageFile struct {
	Name         string   `json:"name"`
	Processor    string   `json:"processor"`
	Inputs       []string `json:"inputs"`
	OutputDir    string   `json:"outputDir"`
	Idempotency  *struct {
		Enabled *bool `json:"enabled"`
	} `json:"idempotency"`
	Checkpoint *struct {
		Enabled      *bool `json:"enabled"`
		LineInterval int   `json:"lineInterval"`
	} `json:"checkpoint"`
	Retry *struct {
		MaxAttempts        int     `json:"maxAttempts"`
		BaseDelaySeconds   float64 `json:"baseDelaySeconds"`
		MaxDelaySeconds    float64 `json:"maxDelaySeconds"`
		JitterSeconds      float64 `json:"jitterSeconds"`
		RetryableExitCodes []int   `json:"retryableExitCodes"`
		Seed               *int64  `json:"seed"`
	} `json:"retry"`
	Resources *struct {
		CPUCores      int `json:"cpuCores"`
		MemoryMB      int `json:"memoryMB"`
		IOConcurrency int `json:"ioConcurrency"`
	} `json:"resources"`
	Params       map[string]any `json:"params"`
	OfflineGuard *bool          `json:"offlineGuard"`
	UseLock      *bool          `json:"useLock"`
}

// Load reads, parses, and validates a pipeline spec file.
//
// The file is JSON with human allowances: comments and trailing commas are
// permitted (standardized away before decoding). Unknown fields are
// ignored. Missing optional fields take documented defaults: idempotency
// enabled, checkpoint disabled, retry maxAttempts=1, useLock=true,
// offlineGuard=true.
func Load(fsys fs.FS, path string) (*Spec, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, path)
		}

		return nil, fmt.Errorf("%w: %s: %v", ErrSpecRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpecInvalid, path, err)
	}

	var raw specFile
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpecInvalid, path, err)
	}

	spec, err := resolve(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpecInvalid, path, err)
	}

	return spec, nil
}

// resolve applies defaults and validates the decoded document.
func resolve(raw specFile) (*Spec, error) {
	if raw.Name == "" {
		return nil, ErrSpecNameEmpty
	}

	if len(raw.Stages) == 0 {
		return nil, ErrNoStages
	}

	spec := &Spec{
		Name:    raw.Name,
		Version: raw.Version,
		Stages:  make([]Stage, 0, len(raw.Stages)),
	}

	seen := make(map[string]bool, len(raw.Stages))

	for i, rs := range raw.Stages {
		st, err := resolveStage(rs)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}

		if seen[st.Name] {
			return nil, fmt.Errorf("%w: %q", ErrStageNameDup, st.Name)
		}

		seen[st.Name] = true
		spec.Stages = append(spec.Stages, st)
	}

	return spec, nil
}

func resolveStage(rs stageFile) (Stage, error) {
	if rs.Name == "" {
		return Stage{}, ErrStageNameEmpty
	}

	if rs.Processor == "" {
		return Stage{}, fmt.Errorf("%w (stage %q)", ErrProcessorEmpty, rs.Name)
	}

	if rs.OutputDir == "" {
		return Stage{}, fmt.Errorf("%w (stage %q)", ErrOutputDirEmpty, rs.Name)
	}

	st := Stage{
		Name:         rs.Name,
		Processor:    rs.Processor,
		Inputs:       rs.Inputs,
		OutputDir:    rs.OutputDir,
		Idempotency:  true,
		OfflineGuard: boolOr(rs.OfflineGuard, true),
		UseLock:      boolOr(rs.UseLock, true),
		Params:       rs.Params,
		Retry: RetryPolicy{
			MaxAttempts:      DefaultMaxAttempts,
			BaseDelaySeconds: DefaultBaseDelaySeconds,
			MaxDelaySeconds:  DefaultMaxDelaySeconds,
		},
	}

	if rs.Idempotency != nil {
		st.Idempotency = boolOr(rs.Idempotency.Enabled, true)
	}

	if rs.Checkpoint != nil {
		st.Checkpoint = CheckpointPolicy{
			Enabled:      boolOr(rs.Checkpoint.Enabled, false),
			LineInterval: rs.Checkpoint.LineInterval,
		}

		if st.Checkpoint.LineInterval < 0 {
			return Stage{}, fmt.Errorf("%w (stage %q)", ErrLineIntervalRange, rs.Name)
		}
	}

	if rs.Retry != nil {
		st.Retry = RetryPolicy{
			MaxAttempts:        rs.Retry.MaxAttempts,
			BaseDelaySeconds:   rs.Retry.BaseDelaySeconds,
			MaxDelaySeconds:    rs.Retry.MaxDelaySeconds,
			JitterSeconds:      rs.Retry.JitterSeconds,
			RetryableExitCodes: rs.Retry.RetryableExitCodes,
			Seed:               rs.Retry.Seed,
		}

		if st.Retry.MaxAttempts == 0 {
			st.Retry.MaxAttempts = DefaultMaxAttempts
		}

		if st.Retry.MaxAttempts < 1 {
			return Stage{}, fmt.Errorf("%w (stage %q)", ErrMaxAttemptsRange, rs.Name)
		}

		if st.Retry.BaseDelaySeconds == 0 {
			st.Retry.BaseDelaySeconds = DefaultBaseDelaySeconds
		}

		if st.Retry.MaxDelaySeconds == 0 {
			st.Retry.MaxDelaySeconds = DefaultMaxDelaySeconds
		}
	}

	if rs.Resources != nil {
		st.Resources = Resources{
			CPUCores:      rs.Resources.CPUCores,
			MemoryMB:      rs.Resources.MemoryMB,
			IOConcurrency: rs.Resources.IOConcurrency,
		}
	}

	return st, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}

	return *p
}
