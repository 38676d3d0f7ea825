package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

// Driver walks a pipeline's stage list strictly sequentially and
// aggregates run state and metrics. The first failed stage stops the run.
type Driver struct {
	fsys        fs.FS
	layout      pipeline.Layout
	lockTimeout time.Duration
	out         io.Writer

	now func() time.Time
}

func NewDriver(fsys fs.FS, layout pipeline.Layout, lockTimeout time.Duration, out io.Writer) *Driver {
	return &Driver{
		fsys:        fsys,
		layout:      layout,
		lockTimeout: lockTimeout,
		out:         out,
		now:         time.Now,
	}
}

// Run executes every stage of the spec in listed order under one run ID.
// Returns the final run state ("completed" or "failed"). Stage outcomes
// are persisted before the next stage begins; run state and metrics are
// written atomically at the end.
func (d *Driver) Run(ctx context.Context, spec *pipeline.Spec, runID string) (string, error) {
	if err := d.layout.Bootstrap(d.fsys); err != nil {
		return RunFailed, fmt.Errorf("bootstrapping directories: %w", err)
	}

	audit := NewAuditLog(d.fsys, d.layout.AuditPath(runID))
	states := NewStateStore(d.fsys, d.layout)
	executor := NewExecutor(d.fsys, d.layout, audit, d.lockTimeout, d.out)

	runState := RunState{
		RunID:     runID,
		Pipeline:  spec.Name,
		Version:   spec.Version,
		StartedAt: timestamp(d.now()),
		State:     RunRunning,
	}

	if err := states.SaveRun(runState); err != nil {
		return RunFailed, err
	}

	if err := audit.Append("", EventRunStart, fmt.Sprintf("pipeline %s", spec.Name), nil); err != nil {
		return RunFailed, err
	}

	results := make([]StageResult, 0, len(spec.Stages))
	runState.State = RunCompleted

	for _, stage := range spec.Stages {
		if err := ctx.Err(); err != nil {
			results = append(results, StageResult{
				Stage:  stage.Name,
				Status: StatusFailed,
				Error:  fmt.Sprintf("%v: %v", errCancelled, context.Cause(ctx)),
			})
			runState.State = RunFailed

			break
		}

		res := executor.ExecuteStage(ctx, stage, runID)
		results = append(results, res)

		if res.Status == StatusFailed {
			runState.State = RunFailed

			break
		}
	}

	runState.EndedAt = timestamp(d.now())

	if err := states.SaveRun(runState); err != nil {
		return RunFailed, err
	}

	if err := states.SaveMetrics(d.aggregate(runID, results)); err != nil {
		return RunFailed, err
	}

	if err := audit.Append("", EventRunEnd, runState.State, nil); err != nil {
		return RunFailed, err
	}

	fmt.Fprintf(d.out, "Run %s state: %s\n", runID, runState.State)

	return runState.State, nil
}

func (d *Driver) aggregate(runID string, results []StageResult) RunMetrics {
	m := RunMetrics{
		RunID:       runID,
		Timestamp:   timestamp(d.now()),
		Stages:      results,
		TotalStages: len(results),
	}

	for _, r := range results {
		switch r.Status {
		case StatusOK:
			m.OkStages++
		case StatusSkipped:
			m.SkippedStages++
		case StatusFailed:
			m.FailedStages++
		}
	}

	return m
}
