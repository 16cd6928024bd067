package dispatch

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-parallel/parallel/internal/agentdef"
	"github.com/pi-parallel/parallel/internal/config"
	"github.com/pi-parallel/parallel/internal/output"
	"github.com/pi-parallel/parallel/internal/types"
)

func TestDispatchRejectsZeroModes(t *testing.T) {
	d := New(&config.Config{})
	resp := d.Dispatch(context.Background(), Request{}, nil, nil)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Content[0].Text, "exactly one of")
}

func TestDispatchRejectsMultipleModes(t *testing.T) {
	d := New(&config.Config{})
	resp := d.Dispatch(context.Background(), Request{Task: "a", Race: &RaceSpec{Task: "a", Models: []string{"m"}}}, nil, nil)
	assert.True(t, resp.IsError)
}

func TestResolveAgentInlineOverridesWinOverDefaults(t *testing.T) {
	defs := map[string]agentdef.Definition{
		"reviewer": {Name: "reviewer", Model: "haiku", Tools: []string{"read"}, SystemPrompt: "be terse", Thinking: "low"},
	}
	settings, err := resolveAgent("reviewer", defs, "opus", nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, "opus", settings.Model)
	assert.Equal(t, []string{"read"}, settings.Tools)
	assert.Equal(t, "be terse", settings.SystemPrompt)
}

func TestResolveAgentUnknownNameErrors(t *testing.T) {
	_, err := resolveAgent("ghost", map[string]agentdef.Definition{}, "", nil, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestResolveAgentEmptyNameIsNoop(t *testing.T) {
	settings, err := resolveAgent("", nil, "opus", []string{"bash"}, "sys", "high")
	require.NoError(t, err)
	assert.Equal(t, "opus", settings.Model)
	assert.Equal(t, []string{"bash"}, settings.Tools)
}

func TestResolveMembersFillsDefaultsFromReferencedAgent(t *testing.T) {
	defs := map[string]agentdef.Definition{
		"reviewer": {Name: "reviewer", Model: "haiku", Tools: []string{"read"}, SystemPrompt: "be terse"},
	}
	members := map[string]types.TeamMember{
		"critic": {Role: "reviewer", Agent: "reviewer"},
	}
	resolved, err := resolveMembers(members, defs)
	require.NoError(t, err)
	assert.Equal(t, "haiku", resolved["critic"].Model)
	assert.Equal(t, []string{"read"}, resolved["critic"].Tools)
	assert.Equal(t, "be terse", resolved["critic"].SystemPrompt)
}

func TestResolveMembersInlineSettingsWinOverAgentDefaults(t *testing.T) {
	defs := map[string]agentdef.Definition{
		"reviewer": {Name: "reviewer", Model: "haiku"},
	}
	members := map[string]types.TeamMember{
		"critic": {Role: "reviewer", Agent: "reviewer", Model: "opus"},
	}
	resolved, err := resolveMembers(members, defs)
	require.NoError(t, err)
	assert.Equal(t, "opus", resolved["critic"].Model)
}

func TestResolveMembersUnknownAgentErrors(t *testing.T) {
	members := map[string]types.TeamMember{"critic": {Agent: "ghost"}}
	_, err := resolveMembers(members, map[string]agentdef.Definition{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestResolveMembersLeavesMembersWithoutAgentUntouched(t *testing.T) {
	members := map[string]types.TeamMember{"worker": {Role: "worker", Model: "opus"}}
	resolved, err := resolveMembers(members, nil)
	require.NoError(t, err)
	assert.Equal(t, members, resolved)
}

func TestResolveCrossRefsSubstitutesCompletedIndices(t *testing.T) {
	accumulated := []types.TaskResult{
		{Output: "first result"},
		{Output: "second result"},
	}
	out := resolveCrossRefs("combine {task_0} and {result_1}", accumulated, 2)
	assert.Equal(t, "combine first result and second result", out)
}

func TestResolveCrossRefsLeavesUnresolvedReferenceLiteral(t *testing.T) {
	accumulated := []types.TaskResult{{Output: "only one"}}
	out := resolveCrossRefs("needs {task_5}", accumulated, 1)
	assert.Equal(t, "needs {task_5}", out)
}

func TestAssembleParallelSummaryMarksGlyphsByOutcome(t *testing.T) {
	specs := []TaskSpec{{Task: "a"}, {Task: "b"}, {Task: "c"}}
	results := []types.TaskResult{
		{Name: "a", ExitCode: 0, Output: "ok"},
		{Name: "b", ExitCode: 1, Output: "bad"},
		{Name: "c", Aborted: true},
	}
	text := assembleParallelSummary(specs, results, &config.Config{})
	assert.Contains(t, text, "✓ a")
	assert.Contains(t, text, "✗ b")
	assert.Contains(t, text, "⊘ c")
}

func TestAssembleParallelSummarySpillsOutputPastThresholdAndPointsAtFile(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", output.SpillThreshold+500)
	specs := []TaskSpec{{Task: "a"}}
	results := []types.TaskResult{{Name: "a", ExitCode: 0, Output: big}}

	text := assembleParallelSummary(specs, results, &config.Config{TempDir: dir})
	assert.Contains(t, text, strings.Repeat("x", output.SpillThreshold))
	assert.NotContains(t, text, big)
	assert.Contains(t, text, "full output at "+dir)
	require.NotEmpty(t, results[0].FullOutputPath)
	assert.Contains(t, text, results[0].FullOutputPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAssembleParallelSummaryFallsBackToInlineTruncationWhenSpillDirUnwritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permission bits")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	defer os.Chmod(dir, 0o700)

	big := strings.Repeat("y", output.SpillThreshold+500)
	specs := []TaskSpec{{Task: "a"}}
	results := []types.TaskResult{{Name: "a", ExitCode: 0, Output: big}}

	text := assembleParallelSummary(specs, results, &config.Config{TempDir: dir})
	assert.Contains(t, text, strings.Repeat("y", output.SpillThreshold))
	assert.Contains(t, text, "(output truncated)")
	assert.NotContains(t, text, "full output at")
}

func TestAssembleTeamSummaryListsBlockedTasks(t *testing.T) {
	primary := []types.TaskResult{{ID: "t1", ExitCode: 0, Output: "done"}}
	text := assembleTeamSummary("ship the feature", primary, nil, []string{"t2", "t3"}, &config.Config{})
	assert.Contains(t, text, "ship the feature")
	assert.Contains(t, text, "✓ t1")
	assert.Contains(t, text, "Blocked tasks")
	assert.Contains(t, text, "t2, t3")
}

func TestAssembleTeamSummarySpillsOutputPastThresholdAndPointsAtFile(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("z", output.SpillThreshold+500)
	primary := []types.TaskResult{{ID: "t1", ExitCode: 0, Output: big}}

	text := assembleTeamSummary("", primary, nil, nil, &config.Config{TempDir: dir})
	assert.Contains(t, text, strings.Repeat("z", output.SpillThreshold))
	assert.NotContains(t, text, big)
	assert.Contains(t, text, "full output at "+dir)
	require.NotEmpty(t, primary[0].FullOutputPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "team-"))
}

func TestGitOptsNilWhenDisabled(t *testing.T) {
	assert.Nil(t, gitOpts(nil))
	assert.Nil(t, gitOpts(&GitContextSpec{Enabled: false}))
	opts := gitOpts(&GitContextSpec{Enabled: true, Branch: true, Log: 5})
	require.NotNil(t, opts)
	assert.True(t, opts.Branch)
	assert.Equal(t, 5, opts.LogCount)
}

func TestMaxIterationsOfFallsBackToDefault(t *testing.T) {
	node := &types.DagNode{Task: types.TeamTask{Review: &types.ReviewConfig{Assignee: "r"}}}
	assert.Equal(t, 5, maxIterationsOf(node, 5))

	node.Task.Review.MaxIterations = 2
	assert.Equal(t, 2, maxIterationsOf(node, 5))

	node.Task.Review = nil
	assert.Equal(t, 0, maxIterationsOf(node, 5))
}

func TestGitContextSpecUnmarshalsBoolShorthand(t *testing.T) {
	var g GitContextSpec
	require.NoError(t, g.UnmarshalJSON([]byte("true")))
	assert.True(t, g.Enabled)
	assert.True(t, g.Branch)
	assert.True(t, g.Status)
}

func TestGitContextSpecUnmarshalsObjectForm(t *testing.T) {
	var g GitContextSpec
	require.NoError(t, g.UnmarshalJSON([]byte(`{"diff":true,"log":3}`)))
	assert.True(t, g.Enabled)
	assert.True(t, g.Diff)
	assert.Equal(t, 3, g.Log)
	assert.False(t, g.Branch)
}
