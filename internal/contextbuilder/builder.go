// Package contextbuilder implements the §4.6a context builder: the minimal
// concrete version of "the (external) context builder" the distilled spec
// defers to the host for, owned here since parallel mode needs one to be
// testable end-to-end.
package contextbuilder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"log/slog"
)

// GitOptions configures which git metadata sections to append. A bare
// `true` from the caller is shorthand for {Branch: true, Status: true}.
type GitOptions struct {
	Branch    bool
	Status    bool
	Diff      bool
	DiffStats bool
	LogCount  int
}

// Options configures one context-assembly call.
type Options struct {
	Context      string
	ContextFiles []string
	Cwd          string
	Git          *GitOptions
}

const gitTimeout = 5 * time.Second

// Build assembles the shared context string per SPEC_FULL.md §4.6a.
func Build(opts Options) string {
	var parts []string
	if strings.TrimSpace(opts.Context) != "" {
		parts = append(parts, opts.Context)
	}
	for _, f := range opts.ContextFiles {
		path := f
		if !filepath.IsAbs(path) && opts.Cwd != "" {
			path = filepath.Join(opts.Cwd, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("context file unreadable, skipping", "path", path, "error", err)
			continue
		}
		parts = append(parts, fmt.Sprintf("## File: %s\n%s", f, string(data)))
	}
	if opts.Git != nil {
		if section := buildGitSection(opts.Cwd, *opts.Git); section != "" {
			parts = append(parts, section)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func buildGitSection(cwd string, g GitOptions) string {
	var lines []string
	if g.Branch {
		if out, err := runGit(cwd, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
			lines = append(lines, "Branch: "+strings.TrimSpace(out))
		} else {
			slog.Debug("git branch unavailable", "error", err)
		}
	}
	if g.Status {
		if out, err := runGit(cwd, "status", "--short"); err == nil {
			lines = append(lines, "Status:\n"+strings.TrimSpace(out))
		} else {
			slog.Debug("git status unavailable", "error", err)
		}
	}
	if g.DiffStats {
		if out, err := runGit(cwd, "diff", "--stat"); err == nil {
			lines = append(lines, "Diff stats:\n"+strings.TrimSpace(out))
		} else {
			slog.Debug("git diff-stat unavailable", "error", err)
		}
	}
	if g.Diff {
		if out, err := runGit(cwd, "diff"); err == nil {
			lines = append(lines, "Diff:\n"+strings.TrimSpace(out))
		} else {
			slog.Debug("git diff unavailable", "error", err)
		}
	}
	if g.LogCount > 0 {
		if out, err := runGit(cwd, "log", fmt.Sprintf("-%d", g.LogCount), "--format=%s"); err == nil {
			lines = append(lines, "Recent commits:\n"+strings.TrimSpace(out))
		} else {
			slog.Debug("git log unavailable", "error", err)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Git Context\n" + strings.Join(lines, "\n\n")
}

func runGit(cwd string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	return string(out), err
}
