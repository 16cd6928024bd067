// Package dispatch implements C6, the mode dispatcher: validating that
// exactly one execution mode was requested, resolving per-task settings
// against discovered agent definitions, and routing to the right engine
// (C1 directly for single mode, C2/C3/C5 for parallel/race/team, and a
// sequential loop for chain).
package dispatch

import (
	"encoding/json"

	"github.com/pi-parallel/parallel/internal/types"
)

// GitContextSpec mirrors SPEC_FULL.md §6's gitContext option, which may be
// JSON `false`, `true` (shorthand for branch+status), or an object.
type GitContextSpec struct {
	Enabled   bool
	Branch    bool
	Status    bool
	Diff      bool
	DiffStats bool
	Log       int
}

func (g *GitContextSpec) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*g = GitContextSpec{Enabled: asBool, Branch: asBool, Status: asBool}
		return nil
	}
	var obj struct {
		Branch    bool `json:"branch"`
		Status    bool `json:"status"`
		Diff      bool `json:"diff"`
		DiffStats bool `json:"diffStats"`
		Log       int  `json:"log"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*g = GitContextSpec{
		Enabled: true, Branch: obj.Branch, Status: obj.Status,
		Diff: obj.Diff, DiffStats: obj.DiffStats, Log: obj.Log,
	}
	return nil
}

// TaskSpec is one entry of the parallel-mode "tasks[]" option.
type TaskSpec struct {
	Task         string   `json:"task"`
	Name         string   `json:"name,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// ChainStep is one entry of the chain-mode "chain[]" option.
type ChainStep struct {
	Task         string   `json:"task"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// RaceSpec is the "race" option.
type RaceSpec struct {
	Task         string   `json:"task"`
	Models       []string `json:"models"`
	Provider     string   `json:"provider,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
}

// TeamSpec is the "team" option.
type TeamSpec struct {
	Objective      string                       `json:"objective"`
	Members        map[string]types.TeamMember  `json:"members"`
	Tasks          []types.TeamTask             `json:"tasks,omitempty"`
	MaxConcurrency int                          `json:"maxConcurrency,omitempty"`
}

// Request is the single tool-invocation parameter object of SPEC_FULL.md §6.
type Request struct {
	AgentScope string `json:"agentScope,omitempty"`

	Task         string   `json:"task,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`

	Tasks []TaskSpec `json:"tasks,omitempty"`

	Context      string          `json:"context,omitempty"`
	ContextFiles []string        `json:"contextFiles,omitempty"`
	GitContext   *GitContextSpec `json:"gitContext,omitempty"`

	MaxConcurrency int `json:"maxConcurrency,omitempty"`

	Chain []ChainStep `json:"chain,omitempty"`
	Race  *RaceSpec   `json:"race,omitempty"`
	Team  *TeamSpec   `json:"team,omitempty"`

	Cwd string `json:"cwd,omitempty"`
}

// ContentItem is one entry of the Result object's "content" array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DagTaskInfo summarizes one DAG node for the Result object's dagInfo.
type DagTaskInfo struct {
	ID            string   `json:"id"`
	Assignee      string   `json:"assignee,omitempty"`
	Depends       []string `json:"depends,omitempty"`
	Status        string   `json:"status"`
	Iteration     int      `json:"iteration,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
}

// DagInfo summarizes team-mode execution for the Result object.
type DagInfo struct {
	Objective       string                      `json:"objective"`
	Members         map[string]types.TeamMember `json:"members"`
	Tasks           []DagTaskInfo               `json:"tasks"`
	PendingApproval string                      `json:"pendingApproval,omitempty"`
}

// Details is the Result object's "details" field.
type Details struct {
	Mode            string               `json:"mode"`
	Results         []types.TaskResult   `json:"results"`
	Progress        []types.TaskProgress `json:"progress,omitempty"`
	TotalDurationMs int64                `json:"totalDurationMs"`
	Usage           types.UsageStats     `json:"usage"`
	Winner          *types.TaskResult    `json:"winner,omitempty"`
	DagInfo         *DagInfo             `json:"dagInfo,omitempty"`
	Aborted         bool                 `json:"aborted,omitempty"`
}

// Response is the Result object returned to the host tool-calling runtime.
type Response struct {
	Content []ContentItem `json:"content"`
	Details Details       `json:"details"`
	IsError bool          `json:"isError,omitempty"`
}

func textResponse(text string, isError bool) *Response {
	return &Response{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: isError,
	}
}
