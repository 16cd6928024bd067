package dag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pi-parallel/parallel/internal/metrics"
	"github.com/pi-parallel/parallel/internal/pool"
	"github.com/pi-parallel/parallel/internal/types"
)

// AgentRunOptions is what the executor hands to the caller-supplied Runner
// for one subprocess invocation (worker, reviewer, or revision pass).
type AgentRunOptions struct {
	ID           string
	Name         string
	Task         string
	Context      string
	Provider     string
	Model        string
	Tools        []string
	SystemPrompt string
	Thinking     string
}

// Runner spawns one agent run. It is implemented by internal/executor.Run
// in production and stubbed in tests.
type Runner func(ctx context.Context, opts AgentRunOptions) types.TaskResult

// readOnlyTools is the restricted tool set a first approval pass runs
// under, per SPEC_FULL.md §4.5 step 4.
var readOnlyTools = []string{"read", "bash", "grep", "find", "mcp"}

var refPattern = regexp.MustCompile(`\{task:([^}]+)\}`)

// Options configures one team-mode DAG run.
type Options struct {
	Objective            string
	SharedContext        string
	WorkspaceRoot        string
	MaxConcurrency       int
	DefaultMaxIterations int
	Members              map[string]types.TeamMember
	Approve              types.ApprovalFunc
	Runner               Runner
	OnTaskResult         func(id string, result types.TaskResult) // persisted via workspace, optional
	Metrics              *metrics.Metrics                         // optional; nil disables C11 recording
}

// setTerminal transitions n to a terminal status and, if metrics are wired,
// records it against parallel_dag_node_total.
func setTerminal(m *metrics.Metrics, n *types.DagNode, status types.NodeStatus) {
	n.Status = status
	if m != nil {
		m.DagNodeTotal.WithLabelValues(string(status)).Inc()
	}
}

// recordReviewIterations observes how many review iterations a node
// consumed against parallel_review_iterations, once the cycle ends.
func recordReviewIterations(m *metrics.Metrics, iteration int) {
	if m != nil {
		m.ReviewIterations.Observe(float64(iteration))
	}
}

// Run drives the node state machine to completion or cancellation, per
// SPEC_FULL.md §4.5.
func Run(ctx context.Context, nodes map[string]*types.DagNode, order []string, opts Options) (results map[string]types.TaskResult, aborted bool) {
	results = make(map[string]types.TaskResult)

	for {
		if ctx.Err() != nil {
			return results, true
		}

		if id, n := findAwaitingApproval(nodes, order); n != nil {
			decision, err := approvalDecision(opts.Approve, id, n)
			if err != nil || !decision.Approved {
				feedback := decision.Feedback
				if err != nil {
					feedback = err.Error()
				}
				n.Task.Task = n.Task.Task + "\n\nApproval feedback: " + feedback
				n.Iteration++
				n.Status = types.NodeReady
			} else {
				setTerminal(opts.Metrics, n, types.NodeCompleted)
				if n.Result != nil {
					results[id] = *n.Result
				}
			}
			UpdateReadiness(nodes)
			continue
		}

		ready := collectReady(nodes, order)
		if len(ready) == 0 {
			if anyInFlight(nodes) {
				// Nothing left to pick up this pass but something is mid-flight
				// (shouldn't happen in this synchronous loop; defensive break).
				break
			}
			break
		}

		k := pool.Clamp(opts.MaxConcurrency, len(ready))
		if k > len(ready) {
			k = len(ready)
		}
		batch := ready
		if len(batch) > k {
			batch = batch[:k]
		}

		for _, id := range batch {
			nodes[id].Status = types.NodeRunning
		}

		batchResults, _ := pool.Map(ctx, len(batch), k, func(ctx context.Context, i int) types.TaskResult {
			id := batch[i]
			n := nodes[id]
			return runNode(ctx, nodes, id, n, opts)
		})

		for i, id := range batch {
			n := nodes[id]
			if !batchResults[i].Started {
				setTerminal(opts.Metrics, n, types.NodeFailed)
				continue
			}
			res := batchResults[i].Value
			n.Result = &res
			results[id] = res
			if opts.OnTaskResult != nil {
				opts.OnTaskResult(id, res)
			}

			switch {
			case res.Aborted:
				setTerminal(opts.Metrics, n, types.NodeFailed)
			case n.Task.RequiresApproval && res.ExitCode == 0:
				n.Status = types.NodeAwaitingApproval
			case res.ExitCode != 0:
				setTerminal(opts.Metrics, n, types.NodeFailed)
			case n.Task.Review != nil:
				runReviewCycle(ctx, nodes, id, n, opts, results)
			default:
				setTerminal(opts.Metrics, n, types.NodeCompleted)
			}
		}

		UpdateReadiness(nodes)

		if ctx.Err() != nil {
			return results, true
		}
	}

	return results, ctx.Err() != nil
}

func findAwaitingApproval(nodes map[string]*types.DagNode, order []string) (string, *types.DagNode) {
	for _, id := range order {
		if nodes[id].Status == types.NodeAwaitingApproval {
			return id, nodes[id]
		}
	}
	return "", nil
}

func approvalDecision(approve types.ApprovalFunc, id string, n *types.DagNode) (types.ApprovalDecision, error) {
	plan := ""
	if n.Result != nil {
		plan = n.Result.Output
	}
	if approve == nil {
		return types.ApprovalDecision{Approved: true}, nil
	}
	return approve(id, plan)
}

func collectReady(nodes map[string]*types.DagNode, order []string) []string {
	var ready []string
	for _, id := range order {
		if nodes[id].Status == types.NodeReady {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

func anyInFlight(nodes map[string]*types.DagNode) bool {
	for _, n := range nodes {
		if n.Status == types.NodeRunning || n.Status == types.NodeAwaitingApproval || n.Status == types.NodeReviewing || n.Status == types.NodeRevising {
			return true
		}
	}
	return false
}

func runNode(ctx context.Context, nodes map[string]*types.DagNode, id string, n *types.DagNode, opts Options) types.TaskResult {
	taskText := resolveRefs(n.Task.Task, nodes)
	ctxText := buildNodeContext(opts.Objective, opts.SharedContext, opts.WorkspaceRoot, n, nodes)

	tools := []string{}
	var sysPrompt, provider, model, thinking string
	if n.Assignee != nil {
		tools = n.Assignee.Tools
		sysPrompt = n.Assignee.SystemPrompt
		provider = n.Assignee.Provider
		model = n.Assignee.Model
		thinking = n.Assignee.Thinking
	}
	if n.Task.RequiresApproval && n.Iteration == 0 {
		tools = readOnlyTools
	}

	return opts.Runner(ctx, AgentRunOptions{
		ID:           id,
		Name:         id,
		Task:         taskText,
		Context:      ctxText,
		Provider:     provider,
		Model:        model,
		Tools:        tools,
		SystemPrompt: sysPrompt,
		Thinking:     thinking,
	})
}

// resolveRefs substitutes {task:id} placeholders with the referenced
// node's output; unresolved or empty-output references are left literal,
// per SPEC_FULL.md §8 property 6.
func resolveRefs(text string, nodes map[string]*types.DagNode) string {
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		id := refPattern.FindStringSubmatch(match)[1]
		n, ok := nodes[id]
		if !ok || n.Result == nil || n.Result.Output == "" {
			return match
		}
		return n.Result.Output
	})
}

func buildNodeContext(objective, shared, workspaceRoot string, n *types.DagNode, nodes map[string]*types.DagNode) string {
	var parts []string
	if objective != "" {
		parts = append(parts, "## Team Objective\n"+objective)
	}
	if shared != "" {
		parts = append(parts, shared)
	}
	if workspaceRoot != "" {
		parts = append(parts, "## Shared Workspace\n"+workspaceRoot)
	}
	for _, dep := range n.DependsOn {
		dn := nodes[dep]
		if dn.Status == types.NodeCompleted && dn.Result != nil {
			assignee := dep
			if dn.Assignee != nil && dn.Assignee.Role != "" {
				assignee = fmt.Sprintf("%s (%s)", dn.Assignee.Role, dep)
			}
			parts = append(parts, fmt.Sprintf("## Output from prerequisite task %q\n%s", assignee, dn.Result.Output))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func runReviewCycle(ctx context.Context, nodes map[string]*types.DagNode, id string, n *types.DagNode, opts Options, results map[string]types.TaskResult) {
	n.Status = types.NodeReviewing
	review := n.Task.Review
	maxIter := review.MaxIterations
	if maxIter <= 0 {
		maxIter = opts.DefaultMaxIterations
	}
	if maxIter <= 0 {
		maxIter = 3
	}

	var reviewer *types.TeamMember
	if m, ok := opts.Members[review.Assignee]; ok {
		reviewer = &m
	}
	workerOutput := n.Result.Output
	iteration := 1
	previousFeedback := ""

	for {
		reviewPrompt := BuildReviewPrompt(review.Task, n.Task.Task, workerOutput, iteration, maxIter, previousFeedback)
		reviewSysPrompt := ""
		if reviewer != nil {
			reviewSysPrompt = BuildReviewerSystemPrompt(reviewer.SystemPrompt)
		}
		reviewerTools := []string{}
		reviewerModel, reviewerProvider := review.Model, review.Provider
		if reviewer != nil {
			if reviewerModel == "" {
				reviewerModel = reviewer.Model
			}
			if reviewerProvider == "" {
				reviewerProvider = reviewer.Provider
			}
			reviewerTools = reviewer.Tools
		}
		if len(review.Tools) > 0 {
			reviewerTools = review.Tools
		}

		reviewRes := opts.Runner(ctx, AgentRunOptions{
			ID:           id + ":review:" + fmt.Sprint(iteration),
			Name:         id + " (review)",
			Task:         reviewPrompt,
			Provider:     reviewerProvider,
			Model:        reviewerModel,
			Tools:        reviewerTools,
			SystemPrompt: reviewSysPrompt,
		})
		results[id+":review:"+fmt.Sprint(iteration)] = reviewRes
		n.IterationResults = append(n.IterationResults, reviewRes)

		if reviewRes.Aborted || reviewRes.ExitCode != 0 {
			recordReviewIterations(opts.Metrics, iteration)
			setTerminal(opts.Metrics, n, types.NodeCompleted)
			return
		}

		decision := ParseDecision(reviewRes.Output)
		n.ReviewHistory = append(n.ReviewHistory, types.ReviewRound{
			Iteration:      iteration,
			WorkerOutput:   workerOutput,
			ReviewerOutput: reviewRes.Output,
			Approved:       decision.Approved,
		})

		if decision.Approved || iteration >= maxIter {
			recordReviewIterations(opts.Metrics, iteration)
			setTerminal(opts.Metrics, n, types.NodeCompleted)
			return
		}

		n.Status = types.NodeRevising
		revisionPrompt := BuildRevisionPrompt(n.Task.Task, workerOutput, decision.Feedback)
		var provider, model, sysPrompt string
		var tools []string
		if n.Assignee != nil {
			provider, model, sysPrompt, tools = n.Assignee.Provider, n.Assignee.Model, n.Assignee.SystemPrompt, n.Assignee.Tools
		}
		revRes := opts.Runner(ctx, AgentRunOptions{
			ID:           id + ":revision:" + fmt.Sprint(iteration),
			Name:         id + " (revision)",
			Task:         revisionPrompt,
			Provider:     provider,
			Model:        model,
			Tools:        tools,
			SystemPrompt: sysPrompt,
		})
		results[id+":revision:"+fmt.Sprint(iteration)] = revRes
		n.IterationResults = append(n.IterationResults, revRes)

		if revRes.Aborted || revRes.ExitCode != 0 {
			recordReviewIterations(opts.Metrics, iteration)
			setTerminal(opts.Metrics, n, types.NodeFailed)
			return
		}

		workerOutput = revRes.Output
		previousFeedback = decision.Feedback
		n.Result = &revRes
		results[id] = revRes
		iteration++
		n.Iteration = iteration
		n.Status = types.NodeReviewing
	}
}
