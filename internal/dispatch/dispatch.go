package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pi-parallel/parallel/internal/agentdef"
	"github.com/pi-parallel/parallel/internal/config"
	"github.com/pi-parallel/parallel/internal/contextbuilder"
	"github.com/pi-parallel/parallel/internal/dag"
	"github.com/pi-parallel/parallel/internal/executor"
	"github.com/pi-parallel/parallel/internal/metrics"
	"github.com/pi-parallel/parallel/internal/output"
	"github.com/pi-parallel/parallel/internal/pool"
	"github.com/pi-parallel/parallel/internal/race"
	"github.com/pi-parallel/parallel/internal/types"
	"github.com/pi-parallel/parallel/internal/workspace"
)

// Dispatcher wires the mode dispatcher (C6) to the bounded pool (C2), race
// selector (C3), and DAG executor (C5), each ultimately calling the agent
// executor (C1).
type Dispatcher struct {
	Config *config.Config
	// Metrics, if set, records C11 Prometheus observations at every mode's
	// task-completion and DAG-transition points. Nil disables recording.
	Metrics *metrics.Metrics
}

// New constructs a Dispatcher bound to cfg.
func New(cfg *config.Config) *Dispatcher {
	return &Dispatcher{Config: cfg}
}

// Dispatch resolves and runs exactly one mode from req, per SPEC_FULL.md §4.6.
// It never returns a Go error for anything the spec treats as a validation
// or runtime failure — those are folded into the returned Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, progress types.ProgressFunc, approve types.ApprovalFunc) *Response {
	modes := 0
	if req.Task != "" {
		modes++
	}
	if len(req.Tasks) > 0 {
		modes++
	}
	if len(req.Chain) > 0 {
		modes++
	}
	if req.Race != nil {
		modes++
	}
	if req.Team != nil {
		modes++
	}
	if modes != 1 {
		return textResponse(fmt.Sprintf("exactly one of task, tasks, chain, race, team must be supplied (got %d)", modes), true)
	}

	scope := agentdef.Scope(req.AgentScope)
	if scope == "" {
		scope = agentdef.ScopeUser
	}
	defs, err := agentdef.Discover(scope, d.Config.AgentUserDir, d.Config.AgentProjectDir)
	if err != nil {
		return textResponse(fmt.Sprintf("agent discovery failed: %v", err), true)
	}

	start := time.Now()

	var resp *Response
	switch {
	case req.Task != "":
		resp = d.runSingle(ctx, req, defs, progress)
	case len(req.Tasks) > 0:
		resp = d.runParallel(ctx, req, defs, progress)
	case len(req.Chain) > 0:
		resp = d.runChain(ctx, req, defs, progress)
	case req.Race != nil:
		resp = d.runRace(ctx, req, defs, progress)
	case req.Team != nil:
		resp = d.runTeam(ctx, req, defs, progress, approve)
	}

	resp.Details.TotalDurationMs = time.Since(start).Milliseconds()
	return resp
}

// runAgent is the single choke point every mode funnels subprocess
// invocations through, which makes it the natural place to record C11's
// per-task metrics (parallel_tasks_total, parallel_task_duration_seconds,
// parallel_pool_inflight) regardless of which mode triggered the run.
func (d *Dispatcher) runAgent(ctx context.Context, mode string, opts executor.Options) types.TaskResult {
	opts.AgentExecutable = d.Config.AgentExecutable
	opts.TempDir = d.Config.EffectiveTempDir()
	opts.MaxOutputLines = d.Config.MaxOutputLines
	opts.MaxOutputBytes = d.Config.MaxOutputBytes
	opts.SoftKillGrace = time.Duration(d.Config.SoftKillGraceSeconds) * time.Second

	if d.Metrics != nil {
		d.Metrics.PoolInFlight.WithLabelValues(mode).Inc()
		defer d.Metrics.PoolInFlight.WithLabelValues(mode).Dec()
	}
	start := time.Now()
	res := executor.Run(ctx, opts)
	if d.Metrics != nil {
		d.Metrics.TaskDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		status := "completed"
		if res.Aborted {
			status = "aborted"
		} else if res.ExitCode != 0 {
			status = "failed"
		}
		d.Metrics.TasksTotal.WithLabelValues(mode, status).Inc()
	}
	return res
}

// resolvedSettings is what agent-definition resolution produces: inline
// overrides win over the agent's own defaults; Provider is never taken
// from the agent.
type resolvedSettings struct {
	Model        string
	Tools        []string
	SystemPrompt string
	Thinking     string
}

func resolveAgent(agentName string, defs map[string]agentdef.Definition, model string, tools []string, systemPrompt, thinking string) (resolvedSettings, error) {
	out := resolvedSettings{Model: model, Tools: tools, SystemPrompt: systemPrompt, Thinking: thinking}
	if agentName == "" {
		return out, nil
	}
	def, ok := defs[agentName]
	if !ok {
		return out, unknownAgentError([]string{agentName}, defs)
	}
	if out.Model == "" {
		out.Model = def.Model
	}
	if len(out.Tools) == 0 {
		out.Tools = def.Tools
	}
	if out.SystemPrompt == "" {
		out.SystemPrompt = def.SystemPrompt
	}
	if out.Thinking == "" {
		out.Thinking = def.Thinking
	}
	return out, nil
}

// resolveMembers folds each team member's optional Agent reference into its
// inline settings (inline wins over the agent's defaults, matching
// resolveAgent), returning a copy of members safe to hand to dag.Build.
func resolveMembers(members map[string]types.TeamMember, defs map[string]agentdef.Definition) (map[string]types.TeamMember, error) {
	if len(members) == 0 {
		return members, nil
	}
	out := make(map[string]types.TeamMember, len(members))
	for name, m := range members {
		if m.Agent == "" {
			out[name] = m
			continue
		}
		s, err := resolveAgent(m.Agent, defs, m.Model, m.Tools, m.SystemPrompt, m.Thinking)
		if err != nil {
			return nil, err
		}
		m.Model, m.Tools, m.SystemPrompt, m.Thinking = s.Model, s.Tools, s.SystemPrompt, s.Thinking
		out[name] = m
	}
	return out, nil
}

func unknownAgentError(missing []string, defs map[string]agentdef.Definition) error {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > 5 {
		names = names[:5]
	}
	return fmt.Errorf("unknown agent(s) %s; available agents include: %s", strings.Join(missing, ", "), strings.Join(names, ", "))
}

func (d *Dispatcher) runSingle(ctx context.Context, req Request, defs map[string]agentdef.Definition, progress types.ProgressFunc) *Response {
	settings, err := resolveAgent(req.Agent, defs, req.Model, req.Tools, req.SystemPrompt, req.Thinking)
	if err != nil {
		return textResponse(err.Error(), true)
	}
	sharedCtx := contextbuilder.Build(contextbuilder.Options{
		Context: req.Context, ContextFiles: req.ContextFiles, Cwd: req.Cwd, Git: gitOpts(req.GitContext),
	})

	result := d.runAgent(ctx, "single", executor.Options{
		ID: "task", Task: req.Task, Context: sharedCtx, Cwd: req.Cwd,
		Provider: req.Provider, Model: settings.Model, Tools: settings.Tools,
		SystemPrompt: settings.SystemPrompt, Thinking: settings.Thinking, Progress: progress,
	})

	text := result.Output
	if result.Error != "" {
		text = result.Output + "\n\nError: " + result.Error
	}
	resp := textResponse(text, result.ExitCode != 0 && !result.Aborted)
	resp.Details = Details{Mode: "single", Results: []types.TaskResult{result}, Usage: result.Usage, Aborted: result.Aborted}
	return resp
}

func (d *Dispatcher) runChain(ctx context.Context, req Request, defs map[string]agentdef.Definition, progress types.ProgressFunc) *Response {
	sharedCtx := contextbuilder.Build(contextbuilder.Options{
		Context: req.Context, ContextFiles: req.ContextFiles, Cwd: req.Cwd, Git: gitOpts(req.GitContext),
	})

	resolved := make([]resolvedSettings, len(req.Chain))
	for i, step := range req.Chain {
		s, err := resolveAgent(step.Agent, defs, step.Model, step.Tools, step.SystemPrompt, step.Thinking)
		if err != nil {
			return textResponse(err.Error(), true)
		}
		resolved[i] = s
	}

	var results []types.TaskResult
	var usage types.UsageStats
	previous := ""
	haltedAt := -1

	for i, step := range req.Chain {
		settings := resolved[i]
		taskText := strings.ReplaceAll(step.Task, "{previous}", previous)
		res := d.runAgent(ctx, "chain", executor.Options{
			ID: fmt.Sprintf("step-%d", i), Task: taskText, Context: sharedCtx, Cwd: req.Cwd,
			Provider: step.Provider, Model: settings.Model, Tools: settings.Tools,
			SystemPrompt: settings.SystemPrompt, Thinking: settings.Thinking, Step: i, Progress: progress,
		})
		results = append(results, res)
		usage.Add(res.Usage)
		previous = res.Output
		if res.ExitCode != 0 || res.Aborted {
			haltedAt = i
			break
		}
	}

	var text string
	isError := false
	if haltedAt >= 0 {
		text = fmt.Sprintf("Chain stopped at step %d: %s", haltedAt, results[len(results)-1].Error)
		isError = true
	} else if len(results) > 0 {
		text = results[len(results)-1].Output
	}

	resp := textResponse(text, isError)
	resp.Details = Details{Mode: "chain", Results: results, Usage: usage}
	return resp
}

func (d *Dispatcher) runRace(ctx context.Context, req Request, defs map[string]agentdef.Definition, progress types.ProgressFunc) *Response {
	r := req.Race
	sharedCtx := contextbuilder.Build(contextbuilder.Options{
		Context: req.Context, ContextFiles: req.ContextFiles, Cwd: req.Cwd, Git: gitOpts(req.GitContext),
	})

	tasks := make([]func(context.Context) types.TaskResult, len(r.Models))
	for i, model := range r.Models {
		model := model
		i := i
		tasks[i] = func(ctx context.Context) types.TaskResult {
			return d.runAgent(ctx, "race", executor.Options{
				ID: fmt.Sprintf("race-%d", i), Name: model, Task: r.Task, Context: sharedCtx, Cwd: req.Cwd,
				Provider: r.Provider, Model: model, Tools: r.Tools, SystemPrompt: r.SystemPrompt,
				Thinking: r.Thinking, Progress: progress,
			})
		}
	}

	winner, all, aborted := race.Run(ctx, tasks)
	results := make([]types.TaskResult, len(all))
	var usage types.UsageStats
	for i, o := range all {
		results[i] = o.Result
		usage.Add(o.Result.Usage)
	}

	if winner == nil {
		resp := textResponse("no racer succeeded", true)
		resp.Details = Details{Mode: "race", Results: results, Usage: usage, Aborted: aborted}
		return resp
	}

	resp := textResponse(winner.Result.Output, false)
	resp.Details = Details{Mode: "race", Results: results, Usage: usage, Winner: &winner.Result, Aborted: aborted}
	return resp
}

var crossRefPattern = regexp.MustCompile(`\{(task|result)_(\d+)\}`)

func (d *Dispatcher) runParallel(ctx context.Context, req Request, defs map[string]agentdef.Definition, progress types.ProgressFunc) *Response {
	hasCrossRef := false
	for _, t := range req.Tasks {
		if crossRefPattern.MatchString(t.Task) {
			hasCrossRef = true
			break
		}
	}

	requested := req.MaxConcurrency
	if requested <= 0 {
		requested = d.Config.DefaultConcurrency
	}
	if hasCrossRef {
		requested = 1
	}

	sharedCtx := contextbuilder.Build(contextbuilder.Options{
		Context: req.Context, ContextFiles: req.ContextFiles, Cwd: req.Cwd, Git: gitOpts(req.GitContext),
	})

	n := len(req.Tasks)
	resolved := make([]resolvedSettings, n)
	for i, t := range req.Tasks {
		s, err := resolveAgent(t.Agent, defs, t.Model, t.Tools, t.SystemPrompt, "")
		if err != nil {
			return textResponse(err.Error(), true)
		}
		resolved[i] = s
	}

	accumulated := make([]types.TaskResult, n)
	k := pool.Clamp(requested, n)

	results, aborted := pool.Map(ctx, n, k, func(ctx context.Context, i int) types.TaskResult {
		t := req.Tasks[i]
		taskText := t.Task
		if hasCrossRef {
			taskText = resolveCrossRefs(taskText, accumulated, i)
		}
		cwd := t.Cwd
		if cwd == "" {
			cwd = req.Cwd
		}
		res := d.runAgent(ctx, "parallel", executor.Options{
			ID: fmt.Sprintf("task-%d", i), Name: t.Name, Task: taskText, Context: sharedCtx, Cwd: cwd,
			Provider: t.Provider, Model: resolved[i].Model, Tools: resolved[i].Tools,
			SystemPrompt: resolved[i].SystemPrompt, Thinking: t.Thinking, Progress: progress,
		})
		if hasCrossRef {
			accumulated[i] = res
		}
		return res
	})

	all := make([]types.TaskResult, n)
	var usage types.UsageStats
	for i, r := range results {
		if r.Started {
			all[i] = r.Value
			usage.Add(r.Value.Usage)
		} else {
			all[i] = types.TaskResult{ID: fmt.Sprintf("task-%d", i), Task: req.Tasks[i].Task, Aborted: true, Error: "aborted"}
		}
	}

	text := assembleParallelSummary(req.Tasks, all, d.Config)
	resp := textResponse(text, false)
	resp.Details = Details{Mode: "parallel", Results: all, Usage: usage, Aborted: aborted}
	return resp
}

func resolveCrossRefs(text string, accumulated []types.TaskResult, upTo int) string {
	return crossRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := crossRefPattern.FindStringSubmatch(match)
		idx := 0
		fmt.Sscanf(sub[2], "%d", &idx)
		if idx < 0 || idx >= upTo || idx >= len(accumulated) {
			return match
		}
		return accumulated[idx].Output
	})
}

// assembleParallelSummary renders the Markdown summary and, for any result
// whose output is spilled to disk, records the spill path back onto
// results[i].FullOutputPath so Details.Results carries it too.
func assembleParallelSummary(specs []TaskSpec, results []types.TaskResult, cfg *config.Config) string {
	var b strings.Builder
	for i := range results {
		r := &results[i]
		glyph := "✓"
		if r.Aborted {
			glyph = "⊘"
		} else if r.ExitCode != 0 {
			glyph = "✗"
		}
		name := r.Name
		if name == "" {
			name = specs[i].Task
		}
		fmt.Fprintf(&b, "## %s %s\n\n", glyph, name)
		fmt.Fprintf(&b, "tokens: in=%d out=%d cost=$%.4f\n\n", r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.Cost)
		if len([]rune(r.Output)) > output.SpillThreshold {
			path, err := output.Spill(cfg.EffectiveTempDir(), "parallel", sanitizeForSpill(name), time.Now().UnixMilli(), r.Output)
			preview := string([]rune(r.Output)[:output.SpillThreshold])
			if err == nil {
				r.FullOutputPath = path
				fmt.Fprintf(&b, "%s\n\n(output truncated; full output at %s)\n\n", preview, path)
			} else {
				fmt.Fprintf(&b, "%s\n\n(output truncated)\n\n", preview)
			}
		} else {
			fmt.Fprintf(&b, "%s\n\n", r.Output)
		}
	}
	return b.String()
}

func sanitizeForSpill(s string) string {
	var out strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		} else {
			out.WriteRune('-')
		}
	}
	if out.Len() == 0 {
		return "task"
	}
	return out.String()
}

func (d *Dispatcher) runTeam(ctx context.Context, req Request, defs map[string]agentdef.Definition, progress types.ProgressFunc, approve types.ApprovalFunc) *Response {
	t := req.Team
	tasks := t.Tasks
	if len(tasks) == 0 {
		for name, member := range t.Members {
			if member.Role != "" {
				tasks = append(tasks, types.TeamTask{ID: name, Task: member.Role, Assignee: name})
			}
		}
	}

	members, err := resolveMembers(t.Members, defs)
	if err != nil {
		return textResponse(err.Error(), true)
	}

	nodes, order, err := dag.Build(tasks, members)
	if err != nil {
		return textResponse(err.Error(), true)
	}

	ws, err := workspace.New(d.Config.EffectiveTempDir(), "pi-"+sanitizeForSpill(teamName(t)))
	if err != nil {
		return textResponse(fmt.Sprintf("workspace creation failed: %v", err), true)
	}
	defer ws.Teardown()

	sharedCtx := contextbuilder.Build(contextbuilder.Options{
		Context: req.Context, ContextFiles: req.ContextFiles, Cwd: req.Cwd, Git: gitOpts(req.GitContext),
	})

	runner := func(ctx context.Context, opts dag.AgentRunOptions) types.TaskResult {
		return d.runAgent(ctx, "team", executor.Options{
			ID: opts.ID, Name: opts.Name, Task: opts.Task, Context: opts.Context, Cwd: req.Cwd,
			Provider: opts.Provider, Model: opts.Model, Tools: opts.Tools,
			SystemPrompt: opts.SystemPrompt, Thinking: opts.Thinking, Progress: progress,
		})
	}

	teamConcurrency := t.MaxConcurrency
	if teamConcurrency <= 0 {
		teamConcurrency = d.Config.DefaultConcurrency
	}

	results, aborted := dag.Run(ctx, nodes, order, dag.Options{
		Objective: t.Objective, SharedContext: sharedCtx, WorkspaceRoot: ws.Root,
		MaxConcurrency: teamConcurrency, DefaultMaxIterations: d.Config.DefaultReviewMaxIterations,
		Members: members, Approve: approve, Runner: runner, Metrics: d.Metrics,
		OnTaskResult: func(id string, result types.TaskResult) {
			status := "completed"
			if result.ExitCode != 0 || result.Aborted {
				status = "failed"
			}
			_ = ws.WriteTaskResult(id, result.Output, status)
		},
	})

	var usage types.UsageStats
	var primary, subResults []types.TaskResult
	for id, r := range results {
		usage.Add(r.Usage)
		if strings.Contains(id, ":review:") || strings.Contains(id, ":revision:") {
			subResults = append(subResults, r)
		} else {
			primary = append(primary, r)
		}
	}
	sort.Slice(primary, func(i, j int) bool { return primary[i].ID < primary[j].ID })

	var blocked []string
	dagTasks := make([]DagTaskInfo, 0, len(order))
	var pendingApproval string
	for _, id := range order {
		n := nodes[id]
		if n.Status == types.NodeBlocked {
			blocked = append(blocked, id)
		}
		if n.Status == types.NodeAwaitingApproval && pendingApproval == "" {
			pendingApproval = id
		}
		dagTasks = append(dagTasks, DagTaskInfo{
			ID: id, Assignee: n.Task.Assignee, Depends: n.DependsOn, Status: string(n.Status),
			Iteration: n.Iteration, MaxIterations: maxIterationsOf(n, d.Config.DefaultReviewMaxIterations),
		})
	}

	text := assembleTeamSummary(t.Objective, primary, subResults, blocked, d.Config)
	resp := textResponse(text, false)
	resp.Details = Details{
		Mode: "team", Results: append(primary, subResults...), Usage: usage, Aborted: aborted,
		DagInfo: &DagInfo{Objective: t.Objective, Members: t.Members, Tasks: dagTasks, PendingApproval: pendingApproval},
	}
	return resp
}

func maxIterationsOf(n *types.DagNode, def int) int {
	if n.Task.Review == nil {
		return 0
	}
	if n.Task.Review.MaxIterations > 0 {
		return n.Task.Review.MaxIterations
	}
	return def
}

func teamName(t *TeamSpec) string {
	if t.Objective != "" {
		if len(t.Objective) > 40 {
			return t.Objective[:40]
		}
		return t.Objective
	}
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}

// assembleTeamSummary renders the Markdown summary and, like
// assembleParallelSummary, spills any node's output past output.SpillThreshold
// to a "team-<safeName>-<epoch>.md" file and records the path back onto
// primary[i].FullOutputPath.
func assembleTeamSummary(objective string, primary, subResults []types.TaskResult, blocked []string, cfg *config.Config) string {
	var b strings.Builder
	if objective != "" {
		fmt.Fprintf(&b, "# %s\n\n", objective)
	}
	for i := range primary {
		r := &primary[i]
		glyph := "✓"
		if r.Aborted {
			glyph = "⊘"
		} else if r.ExitCode != 0 {
			glyph = "✗"
		}
		fmt.Fprintf(&b, "## %s %s\n\n", glyph, r.ID)
		if len([]rune(r.Output)) > output.SpillThreshold {
			path, err := output.Spill(cfg.EffectiveTempDir(), "team", sanitizeForSpill(r.ID), time.Now().UnixMilli(), r.Output)
			preview := string([]rune(r.Output)[:output.SpillThreshold])
			if err == nil {
				r.FullOutputPath = path
				fmt.Fprintf(&b, "%s\n\n(output truncated; full output at %s)\n\n", preview, path)
			} else {
				fmt.Fprintf(&b, "%s\n\n(output truncated)\n\n", preview)
			}
		} else {
			fmt.Fprintf(&b, "%s\n\n", r.Output)
		}
	}
	if len(subResults) > 0 {
		fmt.Fprintf(&b, "## Review / revision passes: %d\n\n", len(subResults))
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		fmt.Fprintf(&b, "## Blocked tasks\n\n%s\n", strings.Join(blocked, ", "))
	}
	return b.String()
}

func gitOpts(g *GitContextSpec) *contextbuilder.GitOptions {
	if g == nil || !g.Enabled {
		return nil
	}
	return &contextbuilder.GitOptions{Branch: g.Branch, Status: g.Status, Diff: g.Diff, DiffStats: g.DiffStats, LogCount: g.Log}
}
