package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"pipeline/internal/fs"
)

// missingToken is contributed to the fingerprint for input paths that do
// not exist. Distinguishing "absent" from "empty file" keeps the key honest
// when inputs appear later.
const missingToken = "missing"

// ComputeKey derives the idempotency key for a stage: a content address
// over its inputs, the processor's identity, and its params.
//
// Contributions, joined with "|":
//   - for each input path in order: the SHA-256 hex of its byte contents,
//     or "missing" if the path does not exist
//   - the processor version (see [ProcessorVersion])
//   - the canonical JSON encoding of params, only when params is non-empty
//
// The result is the SHA-256 hex of the joined UTF-8 string. Input ordering
// is significant: different orderings produce different keys.
func ComputeKey(fsys fs.FS, inputs []string, processorPath string, params map[string]any) (string, error) {
	parts := make([]string, 0, len(inputs)+2)

	for _, p := range inputs {
		digest, err := hashFile(fsys, p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				parts = append(parts, missingToken)

				continue
			}

			return "", fmt.Errorf("hashing input %s: %w", p, err)
		}

		parts = append(parts, digest)
	}

	parts = append(parts, ProcessorVersion(fsys, processorPath))

	if len(params) > 0 {
		canonical, err := canonicalParams(params)
		if err != nil {
			return "", fmt.Errorf("encoding params: %w", err)
		}

		parts = append(parts, canonical)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))

	return hex.EncodeToString(sum[:]), nil
}

// ProcessorVersion returns a deterministic identity string for the
// processor file, derived from its modification time: "v<unix-seconds>".
// Returns "v0" when the file cannot be stat'd. This binds the idempotency
// key to processor identity without hashing the processor itself.
func ProcessorVersion(fsys fs.FS, processorPath string) string {
	info, err := fsys.Stat(processorPath)
	if err != nil {
		return "v0"
	}

	return fmt.Sprintf("v%d", info.ModTime().Unix())
}

// canonicalParams returns the canonical JSON encoding of params. Object
// keys are sorted, which [json.Marshal] guarantees for maps.
func canonicalParams(params map[string]any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func hashFile(fsys fs.FS, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
