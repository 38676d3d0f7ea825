package engine

import (
	"bufio"
	"bytes"
	"path/filepath"
	"slices"
	"strings"

	"pipeline/internal/fs"
)

// bannedImports is the closed set of modules a processor may not import:
// network transports and async runtimes expressive enough to initiate I/O.
var bannedImports = map[string]bool{
	"requests":       true,
	"socket":         true,
	"http":           true,
	"http.client":    true,
	"urllib":         true,
	"urllib.request": true,
	"urllib.parse":   true,
	"urllib.error":   true,
	"urllib3":        true,
	"httpx":          true,
	"aiohttp":        true,
	"asyncio":        true,
	"paramiko":       true,
	"ftplib":         true,
	"smtplib":        true,
	"poplib":         true,
	"imaplib":        true,
	"telnetlib":      true,
	"xmlrpc":         true,
	"xmlrpc.client":  true,
}

// CheckOffline statically scans a processor source file for forbidden
// network imports.
//
// The scan parses top-level import statements ("import a.b, c" and
// "from a.b import x") rather than substring-matching, so mentions inside
// string literals, comments, or nested code do not trip the guard. A module
// is forbidden if it, or any dotted prefix of it, is in the banned set.
//
// The guard only applies to Python sources (".py"); for any other
// processor it is a no-op - operators are expected to vet binaries by
// policy. An unreadable file is likewise a no-op: a genuinely missing
// processor is reported by the invoker instead.
func CheckOffline(fsys fs.FS, processorPath string) error {
	if filepath.Ext(processorPath) != ".py" {
		return nil
	}

	data, err := fsys.ReadFile(processorPath)
	if err != nil {
		return nil
	}

	var found []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		for _, module := range topLevelImports(scanner.Text()) {
			if banned, ok := matchBanned(module); ok && !slices.Contains(found, banned) {
				found = append(found, banned)
			}
		}
	}

	if len(found) > 0 {
		return &OfflineViolationError{Processor: processorPath, Banned: found}
	}

	return nil
}

// topLevelImports extracts the module paths imported by one source line.
// Returns nil for lines that are not top-level import statements.
func topLevelImports(line string) []string {
	// Indented statements are nested, not top-level.
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return nil
	}

	// '#' cannot appear in the import grammar; everything after it is comment.
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	line = strings.TrimRight(line, " \t;")

	switch {
	case strings.HasPrefix(line, "import "):
		var modules []string

		for _, clause := range strings.Split(line[len("import "):], ",") {
			fields := strings.Fields(clause)
			if len(fields) > 0 {
				modules = append(modules, fields[0])
			}
		}

		return modules

	case strings.HasPrefix(line, "from "):
		fields := strings.Fields(line)
		// "from <module> import <names>"; relative imports ("from . import x")
		// reference the processor's own package, not a banned transport.
		if len(fields) >= 3 && fields[2] == "import" && !strings.HasPrefix(fields[1], ".") {
			return []string{fields[1]}
		}

		return nil

	default:
		return nil
	}
}

// matchBanned reports whether module, or any dotted prefix of it, is in
// the banned set. Returns the matched banned name.
func matchBanned(module string) (string, bool) {
	for m := module; m != ""; {
		if bannedImports[m] {
			return m, true
		}

		i := strings.LastIndexByte(m, '.')
		if i < 0 {
			break
		}

		m = m[:i]
	}

	return "", false
}
