// Package types holds the data model shared across the scheduler: usage
// accounting, per-task results and progress snapshots, and the DAG node
// shape used by team mode.
package types

import "time"

// UsageStats accumulates token and cost counters for one or more agent
// runs. Addition is componentwise except ContextTokens, which tracks the
// most recently reported cumulative value rather than a running sum.
type UsageStats struct {
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	CacheRead     int64   `json:"cacheReadTokens"`
	CacheWrite    int64   `json:"cacheWriteTokens"`
	Cost          float64 `json:"cost"`
	ContextTokens int64   `json:"contextTokens"`
	Turns         int     `json:"turns"`
}

// Add combines two usage snapshots, replacing ContextTokens with other's
// value when it is non-zero.
func (u *UsageStats) Add(other UsageStats) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
	u.Cost += other.Cost
	u.Turns += other.Turns
	if other.ContextTokens != 0 {
		u.ContextTokens = other.ContextTokens
	}
}

// TaskResult is the immutable outcome of one agent run.
type TaskResult struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Task           string     `json:"task"`
	Model          string     `json:"model,omitempty"`
	ExitCode       int        `json:"exitCode"`
	Output         string     `json:"output"`
	FullOutputPath string     `json:"fullOutputPath,omitempty"`
	Stderr         string     `json:"stderr,omitempty"`
	Truncated      bool       `json:"truncated"`
	DurationMs     int64      `json:"durationMs"`
	Usage          UsageStats `json:"usage"`
	Error          string     `json:"error,omitempty"`
	Aborted        bool       `json:"aborted,omitempty"`
	Step           int        `json:"step,omitempty"`
}

// Status is the lifecycle state of a task's progress snapshot.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// TaskProgress is a mutable, periodically published snapshot of one task's
// in-flight state. Callers receive defensive copies, never the live value.
type TaskProgress struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	Status          Status     `json:"status"`
	Task            string     `json:"task"`
	Model           string     `json:"model,omitempty"`
	CurrentTool     string     `json:"currentTool,omitempty"`
	CurrentToolArgs string     `json:"currentToolArgs,omitempty"`
	RecentTools     []ToolUse  `json:"recentTools,omitempty"`
	RecentOutput    []string   `json:"recentOutput,omitempty"`
	ToolCount       int        `json:"toolCount"`
	Tokens          UsageStats `json:"tokens"`
	DurationMs      int64      `json:"durationMs"`
}

// ToolUse records one completed tool invocation for the RecentTools ring.
type ToolUse struct {
	Tool string `json:"tool"`
	Args string `json:"args"`
}

const (
	maxRecentTools  = 10
	maxRecentOutput = 5
)

// PushTool appends to RecentTools, dropping the oldest entry past the cap.
func (p *TaskProgress) PushTool(tool, args string) {
	p.RecentTools = append(p.RecentTools, ToolUse{Tool: tool, Args: args})
	if len(p.RecentTools) > maxRecentTools {
		p.RecentTools = p.RecentTools[len(p.RecentTools)-maxRecentTools:]
	}
}

// PushOutput appends to RecentOutput, dropping the oldest entry past the cap.
func (p *TaskProgress) PushOutput(preview string) {
	p.RecentOutput = append(p.RecentOutput, preview)
	if len(p.RecentOutput) > maxRecentOutput {
		p.RecentOutput = p.RecentOutput[len(p.RecentOutput)-maxRecentOutput:]
	}
}

// Clone returns a defensive copy safe to hand to an external observer.
func (p *TaskProgress) Clone() *TaskProgress {
	c := *p
	c.RecentTools = append([]ToolUse(nil), p.RecentTools...)
	c.RecentOutput = append([]string(nil), p.RecentOutput...)
	return &c
}

// ProgressFunc is published by the executor as a task's state evolves.
type ProgressFunc func(*TaskProgress)

// NodeStatus is the lifecycle state of a DagNode.
type NodeStatus string

const (
	NodePending          NodeStatus = "pending"
	NodeBlocked          NodeStatus = "blocked"
	NodeReady            NodeStatus = "ready"
	NodeRunning          NodeStatus = "running"
	NodeCompleted        NodeStatus = "completed"
	NodeFailed           NodeStatus = "failed"
	NodeAwaitingApproval NodeStatus = "awaiting_approval"
	NodeReviewing        NodeStatus = "reviewing"
	NodeRevising         NodeStatus = "revising"
)

// ReviewConfig describes the reviewer assigned to a TeamTask.
type ReviewConfig struct {
	Assignee      string `json:"assignee"`
	Task          string `json:"task,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Tools         []string `json:"tools,omitempty"`
}

// TeamMember configures one named role available to team-mode tasks.
type TeamMember struct {
	Role         string   `json:"role"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
	Agent        string   `json:"agent,omitempty"`
}

// TeamTask is one node of the team-mode dependency graph as supplied by the
// caller, prior to DAG construction.
type TeamTask struct {
	ID               string        `json:"id"`
	Task             string        `json:"task"`
	Assignee         string        `json:"assignee,omitempty"`
	Depends          []string      `json:"depends,omitempty"`
	RequiresApproval bool          `json:"requiresApproval,omitempty"`
	Review           *ReviewConfig `json:"review,omitempty"`
}

// ReviewRound records one worker/reviewer exchange within a node's history.
type ReviewRound struct {
	Iteration      int    `json:"iteration"`
	WorkerOutput   string `json:"workerOutput"`
	ReviewerOutput string `json:"reviewerOutput"`
	Approved       bool   `json:"approved"`
}

// DagNode is one scheduled unit of work in team mode.
type DagNode struct {
	Task             TeamTask
	Assignee         *TeamMember
	DependsOn        []string
	DependedBy       []string
	Status           NodeStatus
	Result           *TaskResult
	Iteration        int
	ReviewHistory    []ReviewRound
	IterationResults []TaskResult
}

// ApprovalDecision is returned by a caller-supplied approval callback.
type ApprovalDecision struct {
	Approved bool
	Feedback string
}

// ApprovalFunc is invoked each time a node flagged RequiresApproval
// finishes a run and awaits approval; a rejected node is rerun and the
// callback is invoked again for it.
type ApprovalFunc func(taskID, plan string) (ApprovalDecision, error)

// Now matches the scheduler clock used to stamp DurationMs; a small
// indirection so tests can inject a deterministic clock.
var Now = time.Now
