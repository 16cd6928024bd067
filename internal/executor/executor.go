// Package executor implements C1, the Agent Executor: it spawns one child
// agent subprocess per task, multiplexes its newline-delimited JSON event
// stream into progress updates and usage accounting, and returns exactly
// one types.TaskResult. It never raises a Go error for a child failure —
// failure is expressed through TaskResult.ExitCode/Error/Aborted, per
// SPEC_FULL.md §7.
//
// Subprocess lifecycle (process-group isolation, staged pipe setup, a
// growable scanner buffer, and SIGTERM-then-SIGKILL cancellation
// escalation targeting the negative PID) is grounded on the teacher's
// ai/agents/runner/session_manager.go (startSession, cleanupSessionLocked)
// and ai/agent/cc_runner.go (streamOutput).
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/pi-parallel/parallel/internal/ids"
	"github.com/pi-parallel/parallel/internal/output"
	"github.com/pi-parallel/parallel/internal/types"
)

const (
	initialScanBuf = 256 * 1024
	maxScanBuf     = 1024 * 1024
	maxStderrLines = 200
)

// Options configures a single agent run.
type Options struct {
	ID              string
	Name            string
	Task            string
	Context         string
	Cwd             string
	Provider        string
	Model           string
	Tools           []string
	SystemPrompt    string
	Thinking        string
	Step            int
	AgentExecutable string
	TempDir         string
	MaxOutputLines  int
	MaxOutputBytes  int
	SoftKillGrace   time.Duration
	Progress        types.ProgressFunc
}

// Run spawns the child agent and blocks until it exits, is cancelled, or
// its output stream closes.
func Run(ctx context.Context, opts Options) types.TaskResult {
	start := types.Now()
	progress := &types.TaskProgress{
		ID:     opts.ID,
		Name:   opts.Name,
		Status: types.StatusRunning,
		Task:   opts.Task,
		Model:  opts.Model,
	}
	emit := func() {
		if opts.Progress != nil {
			p := progress.Clone()
			p.DurationMs = time.Since(start).Milliseconds()
			opts.Progress(p)
		}
	}
	emit()

	promptPath, cleanup, err := writeSystemPromptFile(opts)
	if err != nil {
		return finish(opts, start, progress, emit, types.TaskResult{
			ID: opts.ID, Name: opts.Name, Task: opts.Task, Model: opts.Model,
			ExitCode: 1, Error: fmt.Sprintf("unable to prepare system prompt: %v", err),
		})
	}
	defer cleanup()

	args := buildArgs(opts, promptPath)
	executable := opts.AgentExecutable
	if executable == "" {
		executable = "pi"
	}

	cmd := exec.Command(executable, args...)
	cmd.Dir = opts.Cwd
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return finish(opts, start, progress, emit, types.TaskResult{
			ID: opts.ID, Name: opts.Name, Task: opts.Task, Model: opts.Model,
			ExitCode: 1, Error: fmt.Sprintf("stdout pipe: %v", err),
		})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return finish(opts, start, progress, emit, types.TaskResult{
			ID: opts.ID, Name: opts.Name, Task: opts.Task, Model: opts.Model,
			ExitCode: 1, Error: fmt.Sprintf("stderr pipe: %v", err),
		})
	}

	if err := cmd.Start(); err != nil {
		return finish(opts, start, progress, emit, types.TaskResult{
			ID: opts.ID, Name: opts.Name, Task: opts.Task, Model: opts.Model,
			ExitCode: 1, Error: fmt.Sprintf("spawn failed: %v", err),
		})
	}

	errBuf := newStderrBuffer(maxStderrLines)
	var wg sync.WaitGroup
	wg.Add(2)

	var lastText string
	var apiErr string
	var mu sync.Mutex

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, initialScanBuf), maxScanBuf)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			mu.Lock()
			text, errMsg := dispatchEvent(line, progress)
			if text != "" {
				lastText = text
			}
			if errMsg != "" {
				apiErr = errMsg
			}
			mu.Unlock()
			emit()
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, initialScanBuf), maxScanBuf)
		for scanner.Scan() {
			errBuf.addLine(scanner.Text())
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	aborted := false
	var waitErr error

	select {
	case <-ctx.Done():
		aborted = true
		progress.Status = types.StatusAborted
		emit()
		softTerminate(cmd)
		grace := opts.SoftKillGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		select {
		case waitErr = <-waitDone:
		case <-time.After(grace):
			hardKill(cmd)
			waitErr = <-waitDone
		}
	case waitErr = <-waitDone:
	}

	wg.Wait()

	result := types.TaskResult{
		ID:       opts.ID,
		Name:     opts.Name,
		Task:     opts.Task,
		Model:    opts.Model,
		Output:   lastText,
		Stderr:   errBuf.join(),
		Aborted:  aborted,
		Step:     opts.Step,
		Usage:    progress.Tokens,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if aborted {
		result.Error = "aborted"
		result.ExitCode = -1
	} else if waitErr != nil {
		result.ExitCode = exitCodeOf(waitErr)
		if result.Error == "" {
			result.Error = firstNonEmpty(result.Stderr, waitErr.Error())
		}
	}

	if apiErr != "" && result.ExitCode == 0 {
		result.ExitCode = 1
		result.Error = apiErr
	}

	result.Output, result.Truncated, result.FullOutputPath = output.Shape(result.Output, output.Limits{
		MaxLines: opts.MaxOutputLines,
		MaxBytes: opts.MaxOutputBytes,
	}, opts.TempDir, spillName(opts))

	if aborted {
		progress.Status = types.StatusAborted
	} else if result.ExitCode == 0 {
		progress.Status = types.StatusCompleted
	} else {
		progress.Status = types.StatusFailed
	}
	emit()

	return result
}

func finish(opts Options, start time.Time, progress *types.TaskProgress, emit func(), result types.TaskResult) types.TaskResult {
	progress.Status = types.StatusFailed
	emit()
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func spillName(opts Options) string {
	safe := opts.ID
	if safe == "" {
		safe = "task"
	}
	return fmt.Sprintf("parallel-%s-%d.md", sanitizeName(safe), time.Now().UnixMilli())
}

func sanitizeName(s string) string {
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

func buildArgs(opts Options, promptPath string) []string {
	args := []string{"--mode", "json", "-p", "--no-session"}
	if opts.Provider != "" {
		args = append(args, "--provider", opts.Provider)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.Tools) > 0 {
		args = append(args, "--tools", strings.Join(opts.Tools, ","))
	}
	if opts.Thinking != "" {
		args = append(args, "--thinking", opts.Thinking)
	}
	if promptPath != "" {
		args = append(args, "--append-system-prompt", promptPath)
	}
	prompt := "Task: " + opts.Task
	if opts.Context != "" {
		prompt = opts.Context + "\n\nTask: " + opts.Task
	}
	args = append(args, prompt)
	return args
}

func writeSystemPromptFile(opts Options) (string, func(), error) {
	noop := func() {}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		return "", noop, nil
	}
	base := opts.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir, err := os.MkdirTemp(base, "pi-parallel-*")
	if err != nil {
		return "", noop, err
	}
	safeID := opts.ID
	if safeID == "" {
		safeID = ids.Full()
	}
	path := filepath.Join(dir, fmt.Sprintf("prompt-%s.md", sanitizeName(safeID)))
	if err := os.WriteFile(path, []byte(opts.SystemPrompt), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", noop, err
	}
	return path, func() { _ = os.RemoveAll(dir) }, nil
}

func softTerminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func hardKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncatePreview rune-safely truncates s to maxLen runes, appending an
// ellipsis, matching the teacher's sanitizeUTF8/summarizeInput truncation
// discipline.
func truncatePreview(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen]) + "…"
}
