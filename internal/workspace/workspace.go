// Package workspace implements C7: a transient per-team-run temp directory
// tree used to persist per-task result files and optional shared
// artifacts. Directory creation is retried with backoff, adapted (not
// imported) from the shape of the SWARM example pack's retry helper, to
// absorb transient filesystem errors on a busy host; teardown is never
// retried and swallows its own errors, per SPEC_FULL.md §4.7.
package workspace

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pi-parallel/parallel/internal/ids"
)

// Workspace is the root of one team-mode run's scratch space.
type Workspace struct {
	Root      string
	TasksDir  string
	ArtifactsDir string
}

const (
	retryAttempts = 3
	retryBase     = 50 * time.Millisecond
)

// New creates a fresh workspace rooted at <base>/<prefix>-*, with tasks/
// and artifacts/ subdirectories.
func New(base, prefix string) (*Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	var root string
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		root, err = os.MkdirTemp(base, sanitizeName(prefix)+"-*")
		if err == nil {
			break
		}
		time.Sleep(backoff(attempt))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create workspace under %s", base)
	}

	ws := &Workspace{
		Root:         root,
		TasksDir:     filepath.Join(root, "tasks"),
		ArtifactsDir: filepath.Join(root, "artifacts"),
	}
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = os.MkdirAll(ws.TasksDir, 0o755)
		if err == nil {
			err = os.MkdirAll(ws.ArtifactsDir, 0o755)
		}
		if err == nil {
			break
		}
		time.Sleep(backoff(attempt))
	}
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, errors.Wrapf(err, "unable to initialize workspace layout under %s", root)
	}
	return ws, nil
}

func backoff(attempt int) time.Duration {
	d := retryBase << attempt
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d + jitter
}

type taskRecord struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	Timestamp int64  `json:"timestamp"`
}

// WriteTaskResult persists one task's output to tasks/<sanitized-id>.json.
func (w *Workspace) WriteTaskResult(id, output, status string) error {
	if id == "" {
		id = ids.Short()
	}
	rec := taskRecord{ID: id, Status: status, Output: output, Timestamp: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal task record")
	}
	path := filepath.Join(w.TasksDir, sanitizeName(id)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write task record %s", path)
	}
	return nil
}

// Teardown removes the whole workspace root. Errors are swallowed per
// SPEC_FULL.md §4.7 — a failed cleanup must not fail an otherwise
// successful run.
func (w *Workspace) Teardown() {
	_ = os.RemoveAll(w.Root)
}

func sanitizeName(s string) string {
	if s == "" {
		return "task"
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}
