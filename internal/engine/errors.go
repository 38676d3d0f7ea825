// Package engine implements the stage execution core: fingerprinting,
// checkpointing, retry, subprocess invocation, audit chaining, and the
// per-stage state machine that composes them.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errProcessorMissing = errors.New("processor not found")
	errLockUnavailable  = errors.New("could not acquire stage lock")
	errCancelled        = errors.New("cancelled")
)

// OfflineViolationError reports forbidden network imports found by the
// static scan of a processor source file. It is terminal for the stage;
// retry never applies.
type OfflineViolationError struct {
	Processor string
	Banned    []string
}

func (e *OfflineViolationError) Error() string {
	return fmt.Sprintf("offline violation: forbidden import %s in %s",
		quoteJoin(e.Banned), e.Processor)
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}

	return strings.Join(quoted, ", ")
}
