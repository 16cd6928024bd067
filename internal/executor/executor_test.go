package executor

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgsIncludesOptionalFlagsOnlyWhenSet(t *testing.T) {
	args := buildArgs(Options{Task: "do the thing"}, "")
	assert.Equal(t, []string{"--mode", "json", "-p", "--no-session", "Task: do the thing"}, args)
}

func TestBuildArgsIncludesAllOptionalFlags(t *testing.T) {
	args := buildArgs(Options{
		Task: "do the thing", Context: "ctx", Provider: "anthropic", Model: "opus",
		Tools: []string{"read", "bash"}, Thinking: "high",
	}, "/tmp/prompt.md")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--provider anthropic")
	assert.Contains(t, joined, "--model opus")
	assert.Contains(t, joined, "--tools read,bash")
	assert.Contains(t, joined, "--thinking high")
	assert.Contains(t, joined, "--append-system-prompt /tmp/prompt.md")
	assert.Equal(t, "ctx\n\nTask: do the thing", args[len(args)-1])
}

func TestSanitizeNameReplacesUnsafeRunes(t *testing.T) {
	assert.Equal(t, "a-b-c", sanitizeName("a/b c"))
	assert.Equal(t, "task_1-2", sanitizeName("task_1.2"))
}

func TestTruncatePreviewIsRuneSafe(t *testing.T) {
	assert.Equal(t, "hello", truncatePreview("hello", 10))
	assert.Equal(t, "日本…", truncatePreview("日本語です", 2))
}

func TestFirstNonEmptyReturnsFirstSetValue(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestExitCodeOfNonExitErrorDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exitCodeOf(assert.AnError))
}

func TestWriteSystemPromptFileWritesContentAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	path, cleanup, err := writeSystemPromptFile(Options{ID: "task-1", SystemPrompt: "be concise", TempDir: dir})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "be concise", string(data))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteSystemPromptFileNoopWhenEmpty(t *testing.T) {
	path, cleanup, err := writeSystemPromptFile(Options{SystemPrompt: "   "})
	require.NoError(t, err)
	assert.Equal(t, "", path)
	cleanup()
}

func TestSpillNameIncludesSanitizedID(t *testing.T) {
	name := spillName(Options{ID: "task/1"})
	assert.Contains(t, name, "parallel-task-1-")
	assert.True(t, strings.HasSuffix(name, ".md"))
}
