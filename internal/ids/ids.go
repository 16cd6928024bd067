// Package ids centralizes identifier generation for the orchestrator.
// Short, filesystem-safe IDs (shortuuid, as the teacher's memo/conversation
// write paths use for user-facing UIDs) disambiguate colliding spill file
// names and name task records that have no ID; full UUIDs (google/uuid)
// name a system-prompt file for a task that has no ID. Workspace
// directories are named by os.MkdirTemp, not by this package.
package ids

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// Short returns a short, URL- and filesystem-safe identifier, used in
// spill file names and task record file names.
func Short() string {
	return shortuuid.New()
}

// Full returns a standard UUIDv4, used where a fallback identifier must be
// generated outside any request-scoped ID (e.g. a task missing an explicit
// ID before it reaches the executor).
func Full() string {
	return uuid.NewString()
}
