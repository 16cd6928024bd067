package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pi-parallel/parallel/internal/types"
)

func TestDispatchEventMessageEndAccumulatesUsageAndText(t *testing.T) {
	p := &types.TaskProgress{}
	line := []byte(`{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"hello there"}],"usage":{"inputTokens":10,"outputTokens":5,"totalTokens":15,"cost":{"total":0.002}}}}`)
	text, apiErr := dispatchEvent(line, p)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "", apiErr)
	assert.EqualValues(t, 10, p.Tokens.InputTokens)
	assert.EqualValues(t, 5, p.Tokens.OutputTokens)
	assert.EqualValues(t, 15, p.Tokens.ContextTokens)
	assert.InDelta(t, 0.002, p.Tokens.Cost, 1e-9)
	assert.Equal(t, 1, p.Tokens.Turns)
	assert.Len(t, p.RecentOutput, 1)
}

func TestDispatchEventMessageEndIgnoresNonAssistantRole(t *testing.T) {
	p := &types.TaskProgress{}
	line := []byte(`{"type":"message_end","message":{"role":"user","content":[{"type":"text","text":"ignored"}]}}`)
	text, _ := dispatchEvent(line, p)
	assert.Equal(t, "", text)
	assert.Equal(t, 0, p.Tokens.Turns)
}

func TestDispatchEventMessageEndReportsAPIError(t *testing.T) {
	p := &types.TaskProgress{}
	line := []byte(`{"type":"message_end","message":{"role":"assistant","stopReason":"error","errorMessage":"rate limited"}}`)
	_, apiErr := dispatchEvent(line, p)
	assert.Equal(t, "rate limited", apiErr)
}

func TestDispatchEventToolLifecycleUpdatesProgress(t *testing.T) {
	p := &types.TaskProgress{}
	dispatchEvent([]byte(`{"type":"tool_execution_start","tool":"bash","input":{"command":"ls -la"}}`), p)
	assert.Equal(t, "bash", p.CurrentTool)
	assert.Equal(t, "ls -la", p.CurrentToolArgs)

	dispatchEvent([]byte(`{"type":"tool_execution_end","tool":"bash"}`), p)
	assert.Equal(t, "", p.CurrentTool)
	assert.Equal(t, 1, p.ToolCount)
	assert.Len(t, p.RecentTools, 1)
	assert.Equal(t, "bash", p.RecentTools[0].Tool)
}

func TestDispatchEventUnknownTypeIsIgnored(t *testing.T) {
	p := &types.TaskProgress{}
	text, apiErr := dispatchEvent([]byte(`{"type":"system","subtype":"init"}`), p)
	assert.Equal(t, "", text)
	assert.Equal(t, "", apiErr)
}

func TestDispatchEventMalformedJSONIsIgnored(t *testing.T) {
	p := &types.TaskProgress{}
	text, apiErr := dispatchEvent([]byte(`not json`), p)
	assert.Equal(t, "", text)
	assert.Equal(t, "", apiErr)
}

func TestToolArgsPreviewPerToolHeuristics(t *testing.T) {
	cases := []struct {
		tool  string
		input map[string]any
		want  string
	}{
		{"read", map[string]any{"path": "main.go"}, "main.go"},
		{"bash", map[string]any{"command": "go build ./..."}, "go build ./..."},
		{"grep", map[string]any{"pattern": "TODO", "path": "internal"}, "TODO in internal"},
		{"write", map[string]any{"path": "out.txt", "content": "hi"}, "out.txt (2 chars)"},
		{"subagent", map[string]any{"agent": "reviewer"}, "agent:reviewer"},
		{"todo", map[string]any{"title": "fix bug"}, "action: fix bug"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toolArgsPreview(c.tool, c.input), c.tool)
	}
}

func TestToolArgsPreviewFallsBackToKnownKeys(t *testing.T) {
	got := toolArgsPreview("unknown_tool", map[string]any{"query": "find me"})
	assert.Equal(t, "find me", got)
}

func TestToolArgsPreviewTruncatesToSixtyRunes(t *testing.T) {
	longCmd := ""
	for i := 0; i < 100; i++ {
		longCmd += "x"
	}
	got := toolArgsPreview("bash", map[string]any{"command": longCmd})
	assert.LessOrEqual(t, len([]rune(got)), 61)
}
