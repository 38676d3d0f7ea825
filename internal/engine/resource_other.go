//go:build !linux

package engine

import "pipeline/internal/pipeline"

// applyResourceLimits is a no-op on platforms without per-pid resource
// control. The hints still reach the processor through the environment.
func applyResourceLimits(pid int, res pipeline.Resources) {}
