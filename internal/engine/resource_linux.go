//go:build linux

package engine

import (
	"golang.org/x/sys/unix"

	"pipeline/internal/pipeline"
)

// applyResourceLimits applies best-effort parent-side governance to a
// running child: an address-space cap derived from the MemoryMB hint.
// Errors are deliberately swallowed - the hints are advisory and a runner
// without the privilege to set them should still execute the stage.
func applyResourceLimits(pid int, res pipeline.Resources) {
	if res.MemoryMB <= 0 {
		return
	}

	limit := uint64(res.MemoryMB) << 20
	rlim := unix.Rlimit{Cur: limit, Max: limit}
	_ = unix.Prlimit(pid, unix.RLIMIT_AS, &rlim, nil)
}
