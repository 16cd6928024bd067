// Package dag implements C4 (graph construction and cycle detection) and C5
// (the team-mode scheduler: parallel layers, {task:id} resolution, approval
// gates, and the review/revision loop). The node/edge/state-machine shape
// is grounded as a pattern only on the SWARM example pack's DAG engine
// (not the teacher, kept solely as enrichment reference material per the
// process instructions) — no code from that pack is imported or copied;
// this is an original implementation against this module's own types.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pi-parallel/parallel/internal/types"
)

// BuildError reports a graph-validation failure, carrying the offending
// task IDs so the dispatcher can format a precise message (S4).
type BuildError struct {
	Msg string
	IDs []string
}

func (e *BuildError) Error() string { return e.Msg }

// Build validates tasks and members and returns the initial node map keyed
// by task ID, performing the steps of SPEC_FULL.md §4.4 in order.
func Build(tasks []types.TeamTask, members map[string]types.TeamMember) (map[string]*types.DagNode, []string, error) {
	nodes := make(map[string]*types.DagNode, len(tasks))
	order := make([]string, 0, len(tasks))

	for _, t := range tasks {
		if _, exists := nodes[t.ID]; exists {
			return nil, nil, &BuildError{Msg: fmt.Sprintf("duplicate task id %q", t.ID), IDs: []string{t.ID}}
		}
		nodes[t.ID] = &types.DagNode{
			Task:      t,
			DependsOn: append([]string(nil), t.Depends...),
			Status:    types.NodePending,
		}
		order = append(order, t.ID)
	}

	for id, n := range nodes {
		for _, dep := range n.DependsOn {
			target, ok := nodes[dep]
			if !ok {
				return nil, nil, &BuildError{Msg: fmt.Sprintf("task %q depends on unknown task %q", id, dep), IDs: []string{id, dep}}
			}
			target.DependedBy = append(target.DependedBy, id)
		}
	}

	for id, n := range nodes {
		if n.Task.Assignee != "" {
			if m, ok := members[n.Task.Assignee]; ok {
				mm := m
				n.Assignee = &mm
			} else {
				return nil, nil, &BuildError{Msg: fmt.Sprintf("task %q has unknown assignee %q", id, n.Task.Assignee), IDs: []string{id, n.Task.Assignee}}
			}
		}
		if n.Task.Review != nil {
			if _, ok := members[n.Task.Review.Assignee]; !ok {
				return nil, nil, &BuildError{Msg: fmt.Sprintf("task %q review has unknown assignee %q", id, n.Task.Review.Assignee), IDs: []string{id, n.Task.Review.Assignee}}
			}
		}
	}

	if cyc := findCycle(nodes); len(cyc) > 0 {
		sort.Strings(cyc)
		return nil, nil, &BuildError{
			Msg: fmt.Sprintf("Dependency cycle detected involving tasks: %s", strings.Join(cyc, ", ")),
			IDs: cyc,
		}
	}

	UpdateReadiness(nodes)
	return nodes, order, nil
}

// findCycle runs Kahn's algorithm; any node not visited (residual in-degree
// > 0) is reported as part of a cycle.
func findCycle(nodes map[string]*types.DagNode) []string {
	inDegree := make(map[string]int, len(nodes))
	for id, n := range nodes {
		inDegree[id] = len(n.DependsOn)
	}
	queue := make([]string, 0)
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range nodes[id].DependedBy {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited == len(nodes) {
		return nil
	}
	var residual []string
	for id, d := range inDegree {
		if d > 0 {
			residual = append(residual, id)
		}
	}
	return residual
}

// UpdateReadiness recomputes pending → ready/blocked transitions in place,
// per SPEC_FULL.md §4.4 step 6.
func UpdateReadiness(nodes map[string]*types.DagNode) {
	for _, n := range nodes {
		if n.Status != types.NodePending {
			continue
		}
		anyFailed := false
		allCompleted := true
		for _, dep := range n.DependsOn {
			switch nodes[dep].Status {
			case types.NodeFailed, types.NodeBlocked:
				anyFailed = true
			case types.NodeCompleted:
			default:
				allCompleted = false
			}
		}
		switch {
		case anyFailed:
			n.Status = types.NodeBlocked
		case allCompleted:
			n.Status = types.NodeReady
		}
	}
}
