package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

const dirPerm = 0o755

// Executor runs one stage at a time through the per-stage state machine:
//
//	Pending -> Planning -> (Skipped | Attempting -> Succeeded | Failed)
//
// Planning ensures the output directory, loads stage state, runs the
// offline guard, decides the idempotent skip, reads the checkpoint, and
// takes the stage lock. Attempting drives the processor under the retry
// policy. Success persists, in order: completion marker, checkpoint, stage
// state - so a crash between any two writes leaves a prefix that the next
// run interprets conservatively (worst case: re-run work that is
// idempotent by contract).
type Executor struct {
	fsys        fs.FS
	layout      pipeline.Layout
	locker      *fs.Locker
	audit       *AuditLog
	states      *StateStore
	checkpoints *CheckpointStore
	invoker     *Invoker
	lockTimeout time.Duration
	out         io.Writer

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

func NewExecutor(fsys fs.FS, layout pipeline.Layout, audit *AuditLog, lockTimeout time.Duration, out io.Writer) *Executor {
	return &Executor{
		fsys:        fsys,
		layout:      layout,
		locker:      fs.NewLocker(fsys),
		audit:       audit,
		states:      NewStateStore(fsys, layout),
		checkpoints: NewCheckpointStore(fsys, layout),
		invoker:     NewInvoker(fsys, layout),
		lockTimeout: lockTimeout,
		out:         out,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// ExecuteStage runs one stage to an outcome. It never returns an error:
// every failure mode becomes a failed StageResult, already persisted and
// audited.
func (e *Executor) ExecuteStage(ctx context.Context, stage pipeline.Stage, runID string) StageResult {
	name := stage.Name
	start := e.now()

	if err := e.fsys.MkdirAll(e.layout.Resolve(stage.OutputDir), dirPerm); err != nil {
		return e.failPlanning(name, nil, fmt.Errorf("creating output dir: %w", err))
	}

	state, err := e.states.LoadStage(name)
	if err != nil {
		// Corrupt ground truth: fail without overwriting what is on disk.
		return e.failPlanning(name, nil, err)
	}

	if stage.OfflineGuard {
		if err := CheckOffline(e.fsys, e.layout.Resolve(stage.Processor)); err != nil {
			return e.failPlanning(name, &state, err)
		}
	}

	var idemKey string

	if stage.Idempotency {
		idemKey, err = e.computeKey(stage)
		if err != nil {
			return e.failPlanning(name, &state, err)
		}

		markerExists, err := e.fsys.Exists(e.layout.MarkerPath(stage.OutputDir, name))
		if err != nil {
			return e.failPlanning(name, &state, err)
		}

		// Previously succeeded iff the recorded key matches AND the marker
		// exists. Either alone re-runs the stage.
		if state.IdempotencyKey == idemKey && markerExists {
			fmt.Fprintf(e.out, "[SKIP] %s (idempotent key matched)\n", name)

			if err := e.audit.Append(name, EventSkip, "idempotent key matched", nil); err != nil {
				return e.failPlanning(name, &state, err)
			}

			return StageResult{Stage: name, Status: StatusSkipped}
		}
	}

	lineOffset := 0
	if stage.Checkpoint.Enabled {
		lineOffset = e.checkpoints.Read(name)
	}

	if stage.UseLock {
		lock, err := e.locker.LockWithTimeout(e.layout.LockPath(name), e.lockTimeout)
		if err != nil {
			return e.failPlanning(name, &state, fmt.Errorf("%w: %v", errLockUnavailable, err))
		}
		defer lock.Close()
	}

	return e.attemptLoop(ctx, stage, runID, &state, idemKey, lineOffset, start)
}

// attemptLoop drives the processor under the retry policy. Every attempt's
// start and end is persisted into stage state history before the loop
// proceeds.
func (e *Executor) attemptLoop(ctx context.Context, stage pipeline.Stage, runID string, state *StageState, idemKey string, lineOffset int, start time.Time) StageResult {
	name := stage.Name
	retrier := NewRetrier(stage.Retry)

	var lastErr string

	for attempt := 1; attempt <= stage.Retry.MaxAttempts; attempt++ {
		state.Attempts = attempt
		state.History = append(state.History, AttemptRecord{
			Attempt:   attempt,
			StartedAt: timestamp(e.now()),
			Status:    "running",
		})

		if err := e.states.SaveStage(name, *state); err != nil {
			return e.failAttempting(name, state, err.Error())
		}

		if err := e.audit.Append(name, EventStart, fmt.Sprintf("attempt %d", attempt), nil); err != nil {
			return e.failAttempting(name, state, err.Error())
		}

		outcome, invErr := e.invoker.Invoke(ctx, Invocation{
			Stage:      stage,
			RunID:      runID,
			Attempt:    attempt,
			LineOffset: lineOffset,
		})

		rec := &state.History[len(state.History)-1]
		rec.EndedAt = timestamp(e.now())

		// Attempts that never produced an exit code (missing processor,
		// spawn failure, cancellation) are terminal: retry governs exit
		// codes, not infrastructure failures.
		if invErr != nil {
			rec.Status = StatusFailed
			rec.Error = invErr.Error()

			if err := e.states.SaveStage(name, *state); err != nil {
				return e.failAttempting(name, state, err.Error())
			}

			e.auditFail(name, invErr.Error(), map[string]any{"attempt": attempt})

			return e.finishFailed(name, state, invErr.Error())
		}

		if outcome.ExitCode == 0 {
			rec.Status = StatusOK
			rec.ExitCode = intPtr(0)

			return e.finishSucceeded(stage, state, idemKey, lineOffset, start)
		}

		msg := strings.TrimSpace(outcome.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(outcome.Stdout)
		}

		lastErr = msg
		rec.Status = StatusFailed
		rec.ExitCode = intPtr(outcome.ExitCode)
		rec.Error = msg

		if err := e.states.SaveStage(name, *state); err != nil {
			return e.failAttempting(name, state, err.Error())
		}

		e.auditFail(name, msg, map[string]any{"attempt": attempt, "exitCode": outcome.ExitCode})

		if !retrier.ShouldRetry(attempt, outcome.ExitCode) {
			break
		}

		delay := retrier.DelayFor(attempt)
		fmt.Fprintf(e.out, "[RETRY] Attempt %d/%d failed. Retrying in %.2fs...\n",
			attempt, stage.Retry.MaxAttempts, delay.Seconds())
		e.sleep(delay)
	}

	return e.finishFailed(name, state, lastErr)
}

// finishSucceeded persists success in the crash-safe order: completion
// marker, checkpoint, stage state, audit.
func (e *Executor) finishSucceeded(stage pipeline.Stage, state *StageState, idemKey string, lineOffset int, start time.Time) StageResult {
	name := stage.Name

	marker := e.layout.MarkerPath(stage.OutputDir, name)
	content := []byte(timestamp(e.now()))

	if err := e.fsys.WriteFileAtomic(marker, content, statePerm); err != nil {
		e.auditFail(name, err.Error(), nil)

		return e.finishFailed(name, state, fmt.Sprintf("writing completion marker: %v", err))
	}

	if stage.Checkpoint.Enabled {
		if err := e.refreshCheckpoint(name, lineOffset); err != nil {
			e.auditFail(name, err.Error(), nil)

			return e.finishFailed(name, state, err.Error())
		}
	}

	duration := e.now().Sub(start).Seconds()

	state.LastStatus = StatusOK
	state.LastDurationSec = duration

	if stage.Idempotency {
		state.IdempotencyKey = idemKey
	}

	if err := e.states.SaveStage(name, *state); err != nil {
		e.auditFail(name, err.Error(), nil)

		return e.finishFailed(name, state, err.Error())
	}

	if err := e.audit.Append(name, EventDone, fmt.Sprintf("completed in %.3fs", duration), nil); err != nil {
		return e.finishFailed(name, state, err.Error())
	}

	fmt.Fprintf(e.out, "[DONE] %s in %.3fs\n", name, duration)

	return StageResult{Stage: name, Status: StatusOK, Attempts: state.Attempts}
}

// refreshCheckpoint re-reads the processor-written progress file and
// rewrites it under the engine's atomic write discipline. A processor that
// exited 0 without writing a progress file leaves the checkpoint
// untouched; one that regressed the offset is clamped to the floor read at
// planning, keeping the persisted offset monotonically non-decreasing.
func (e *Executor) refreshCheckpoint(name string, floor int) error {
	exists, err := e.fsys.Exists(e.layout.ProgressPath(name))
	if err != nil {
		return fmt.Errorf("checking progress file: %w", err)
	}

	if !exists {
		return nil
	}

	offset := e.checkpoints.Read(name)
	if offset < floor {
		offset = floor
	}

	return e.checkpoints.Write(name, offset)
}

// failPlanning reports a failure before any attempt ran: guard violation,
// lock timeout, unreadable state, fingerprint I/O. When state is known it
// is persisted with lastStatus=failed; history is left as it was (no
// attempt happened).
func (e *Executor) failPlanning(name string, state *StageState, cause error) StageResult {
	if state != nil {
		state.LastStatus = StatusFailed
		_ = e.states.SaveStage(name, *state)
	}

	e.auditFail(name, cause.Error(), nil)
	fmt.Fprintf(e.out, "[FAIL] %s: %v\n", name, cause)

	return StageResult{Stage: name, Status: StatusFailed, Error: cause.Error()}
}

// failAttempting reports a persistence failure inside the attempt loop.
func (e *Executor) failAttempting(name string, state *StageState, msg string) StageResult {
	e.auditFail(name, msg, nil)

	return e.finishFailed(name, state, msg)
}

// finishFailed records the terminal failed status. Attempt-level detail is
// already in history and in the audit log; the completion marker is never
// written and the checkpoint is never advanced on this path.
func (e *Executor) finishFailed(name string, state *StageState, msg string) StageResult {
	state.LastStatus = StatusFailed
	_ = e.states.SaveStage(name, *state)

	fmt.Fprintf(e.out, "[FAIL] %s: %s\n", name, msg)

	return StageResult{Stage: name, Status: StatusFailed, Attempts: state.Attempts, Error: msg}
}

func (e *Executor) auditFail(name, msg string, extra map[string]any) {
	_ = e.audit.Append(name, EventFail, msg, extra)
}

func (e *Executor) computeKey(stage pipeline.Stage) (string, error) {
	inputs := make([]string, len(stage.Inputs))
	for i, p := range stage.Inputs {
		inputs[i] = e.layout.Resolve(p)
	}

	return ComputeKey(e.fsys, inputs, e.layout.Resolve(stage.Processor), stage.Params)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func intPtr(v int) *int {
	return &v
}
