// Package cli wires command-line arguments, signals, and IO into the
// pipeline engine.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"pipeline/internal/engine"
	"pipeline/internal/fs"
	"pipeline/internal/pipeline"
)

// DefaultLockTimeout bounds how long a run waits for another process to
// release a stage lock before failing that stage.
const DefaultLockTimeout = 10 * time.Second

// Run is the main entry point. Returns the process exit code: 0 when the
// run completed, non-zero otherwise.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(out, errOut io.Writer, args []string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("pipeline-runner", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagPipeline := flags.String("pipeline", "", "Path to the pipeline spec `file` (required)")
	flagRunID := flags.String("run-id", "", "Run `identifier` (generated when omitted)")
	flagCwd := flags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagLockTimeout := flags.Duration("lock-timeout", DefaultLockTimeout, "Stage lock acquisition timeout")

	o := NewIO(out, errOut)

	if err := flags.Parse(args[1:]); err != nil {
		o.ErrPrintln("error:", err)
		printUsage(o)

		return 1
	}

	if *flagHelp {
		printUsage(o)

		return 0
	}

	if *flagPipeline == "" {
		o.ErrPrintln("error: --pipeline is required")
		printUsage(o)

		return 1
	}

	root := *flagCwd
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			o.ErrPrintln("error: cannot determine working directory:", err)

			return 1
		}

		root = wd
	}

	// Paths handed to processors must be absolute.
	root, err := filepath.Abs(root)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	layout := pipeline.NewLayout(root)
	fsys := fs.NewReal()

	specPath := *flagPipeline
	if !filepath.IsAbs(specPath) {
		specPath = filepath.Join(root, specPath)
	}

	// Spec problems are fatal before any run state exists.
	spec, err := pipeline.Load(fsys, specPath)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	runID := *flagRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	if sigCh != nil {
		go func() {
			if sig, ok := <-sigCh; ok {
				cancel(fmt.Errorf("received %v", sig))
			}
		}()
	}

	driver := engine.NewDriver(fsys, layout, *flagLockTimeout, out)

	state, err := driver.Run(ctx, spec, runID)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	if state != engine.RunCompleted {
		return 1
	}

	return 0
}

func printUsage(o *IO) {
	o.ErrPrintln("Usage: pipeline-runner --pipeline <spec.json> [--run-id <id>] [flags]")
	o.ErrPrintln()
	o.ErrPrintln("Flags:")
	o.ErrPrintln("  --pipeline file       Path to the pipeline spec file (required)")
	o.ErrPrintln("  --run-id id           Run identifier (generated when omitted)")
	o.ErrPrintln("  -C, --cwd dir         Run as if started in dir")
	o.ErrPrintln("  --lock-timeout dur    Stage lock acquisition timeout (default 10s)")
	o.ErrPrintln("  -h, --help            Show help")
}
