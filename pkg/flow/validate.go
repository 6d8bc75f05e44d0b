// Package flow validates automation graphs and answers traversal
// queries against the validated form.
package flow

import (
	"fmt"
	"strings"

	"github.com/woolane/journey/pkg/models"
)

// IssueCode classifies a structural problem found during validation.
type IssueCode string

const (
	MissingTrigger            IssueCode = "missing_trigger"
	MultipleTriggers          IssueCode = "multiple_triggers"
	TriggerInbound            IssueCode = "trigger_inbound"
	DuplicateNodeID           IssueCode = "duplicate_node_id"
	DanglingEdge              IssueCode = "dangling_edge"
	UnreachableNode           IssueCode = "unreachable_node"
	InvalidConditionBranching IssueCode = "invalid_condition_branching"
	InvalidJumpTarget         IssueCode = "invalid_jump_target"
	AmbiguousSuccessor        IssueCode = "ambiguous_successor"
	InvalidNodeConfig         IssueCode = "invalid_node_config"
)

// Issue is one structural problem in a graph.
type Issue struct {
	Code   IssueCode `json:"code"`
	NodeID string    `json:"node_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Detail)
	}

	return fmt.Sprintf("%s (node %s): %s", i.Code, i.NodeID, i.Detail)
}

// GraphError aggregates every issue found in one validation pass so
// the authoring UI can surface them all at once.
type GraphError struct {
	Issues []Issue
}

func (e *GraphError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return "invalid flow graph: " + strings.Join(parts, "; ")
}

// Has reports whether the error contains an issue with the given code.
func (e *GraphError) Has(code IssueCode) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}

	return false
}

// ValidatedGraph is the read-only, indexed form of an automation's
// graph. It is safe for concurrent use; the engine never mutates a
// graph while traversing it.
type ValidatedGraph struct {
	nodes     map[string]*models.Node
	outbound  map[string][]*models.Edge
	triggerID string
}

// Validate checks the structural invariants of an automation's graph:
// exactly one trigger with no inbound edges, unique node ids, no
// dangling edges, every node reachable from the trigger, condition
// nodes with exactly a true and a false branch, at most one successor
// everywhere else, and jump targets that exist. It returns a
// *GraphError listing every violation.
func Validate(automation *models.Automation) (*ValidatedGraph, error) {
	var issues []Issue

	nodes := make(map[string]*models.Node, len(automation.Nodes))
	for _, node := range automation.Nodes {
		if _, seen := nodes[node.ID]; seen {
			issues = append(issues, Issue{Code: DuplicateNodeID, NodeID: node.ID, Detail: "node id used more than once"})

			continue
		}

		nodes[node.ID] = node
	}

	triggerID := ""
	for _, node := range automation.Nodes {
		if node.Type != models.NodeTypeTrigger {
			continue
		}

		if triggerID != "" {
			issues = append(issues, Issue{Code: MultipleTriggers, NodeID: node.ID, Detail: "a graph has exactly one trigger"})

			continue
		}

		triggerID = node.ID
	}

	if triggerID == "" {
		issues = append(issues, Issue{Code: MissingTrigger, Detail: "a graph needs a trigger node"})
	}

	outbound := make(map[string][]*models.Edge)
	inbound := make(map[string]int)

	for _, edge := range automation.Edges {
		if _, ok := nodes[edge.Source]; !ok {
			issues = append(issues, Issue{Code: DanglingEdge, NodeID: edge.Source, Detail: "edge source does not exist"})

			continue
		}

		if _, ok := nodes[edge.Target]; !ok {
			issues = append(issues, Issue{Code: DanglingEdge, NodeID: edge.Target, Detail: "edge target does not exist"})

			continue
		}

		outbound[edge.Source] = append(outbound[edge.Source], edge)
		inbound[edge.Target]++
	}

	if triggerID != "" && inbound[triggerID] > 0 {
		issues = append(issues, Issue{Code: TriggerInbound, NodeID: triggerID, Detail: "trigger cannot have inbound edges"})
	}

	for _, node := range automation.Nodes {
		issues = append(issues, checkNode(node, nodes, outbound[node.ID])...)
	}

	if triggerID != "" {
		issues = append(issues, checkReachability(automation.Nodes, outbound, triggerID)...)
	}

	if len(issues) > 0 {
		return nil, &GraphError{Issues: issues}
	}

	return &ValidatedGraph{
		nodes:     nodes,
		outbound:  outbound,
		triggerID: triggerID,
	}, nil
}

// checkNode validates per-node invariants: config presence, condition
// branching and jump targets.
func checkNode(node *models.Node, nodes map[string]*models.Node, out []*models.Edge) []Issue {
	var issues []Issue

	switch node.Type {
	case models.NodeTypeTrigger:
		if len(out) > 1 {
			issues = append(issues, Issue{Code: AmbiguousSuccessor, NodeID: node.ID, Detail: "trigger has more than one successor"})
		}
	case models.NodeTypeDelay:
		if node.Delay == nil {
			issues = append(issues, Issue{Code: InvalidNodeConfig, NodeID: node.ID, Detail: "delay node needs a delay config"})
		}

		if len(out) > 1 {
			issues = append(issues, Issue{Code: AmbiguousSuccessor, NodeID: node.ID, Detail: "delay has more than one successor"})
		}
	case models.NodeTypeCondition:
		if node.Condition == nil {
			issues = append(issues, Issue{Code: InvalidNodeConfig, NodeID: node.ID, Detail: "condition node needs a condition config"})
		}

		issues = append(issues, checkConditionBranches(node.ID, out)...)
	case models.NodeTypeAction:
		issues = append(issues, checkActionNode(node, nodes, out)...)
	default:
		issues = append(issues, Issue{Code: InvalidNodeConfig, NodeID: node.ID, Detail: fmt.Sprintf("unknown node type %q", node.Type)})
	}

	return issues
}

func checkConditionBranches(nodeID string, out []*models.Edge) []Issue {
	trueEdges, falseEdges, other := 0, 0, 0

	for _, edge := range out {
		switch edge.Label {
		case models.EdgeLabelTrue:
			trueEdges++
		case models.EdgeLabelFalse:
			falseEdges++
		default:
			other++
		}
	}

	if trueEdges != 1 || falseEdges != 1 || other != 0 {
		return []Issue{{
			Code:   InvalidConditionBranching,
			NodeID: nodeID,
			Detail: "condition needs exactly one true and one false edge",
		}}
	}

	return nil
}

func checkActionNode(node *models.Node, nodes map[string]*models.Node, out []*models.Edge) []Issue {
	var issues []Issue

	if !node.Kind.IsValid() {
		issues = append(issues, Issue{Code: InvalidNodeConfig, NodeID: node.ID, Detail: fmt.Sprintf("unknown action kind %q", node.Kind)})

		return issues
	}

	if len(out) > 1 {
		issues = append(issues, Issue{Code: AmbiguousSuccessor, NodeID: node.ID, Detail: "action has more than one successor"})
	}

	switch node.Kind {
	case models.ActionExit:
		if len(out) != 0 {
			issues = append(issues, Issue{Code: AmbiguousSuccessor, NodeID: node.ID, Detail: "exit node cannot have outbound edges"})
		}
	case models.ActionJump:
		target := ""
		if node.Action != nil {
			target = node.Action.JumpTo
		}

		targetNode, ok := nodes[target]
		if !ok {
			issues = append(issues, Issue{Code: InvalidJumpTarget, NodeID: node.ID, Detail: fmt.Sprintf("jump target %q does not exist", target)})
		} else if targetNode.Type == models.NodeTypeTrigger {
			issues = append(issues, Issue{Code: InvalidJumpTarget, NodeID: node.ID, Detail: "jump cannot target the trigger"})
		}
	}

	return issues
}

// checkReachability walks the graph breadth-first from the trigger and
// reports every node the walk never reaches. Jump targets count as
// reachable through their jump node.
func checkReachability(all []*models.Node, outbound map[string][]*models.Edge, triggerID string) []Issue {
	visited := map[string]bool{triggerID: true}
	queue := []string{triggerID}

	nodesByID := make(map[string]*models.Node, len(all))
	for _, node := range all {
		nodesByID[node.ID] = node
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next := make([]string, 0, 2)
		for _, edge := range outbound[current] {
			next = append(next, edge.Target)
		}

		if node := nodesByID[current]; node != nil && node.Kind == models.ActionJump && node.Action != nil {
			next = append(next, node.Action.JumpTo)
		}

		for _, id := range next {
			if visited[id] {
				continue
			}

			visited[id] = true
			queue = append(queue, id)
		}
	}

	var issues []Issue

	for _, node := range all {
		if !visited[node.ID] {
			issues = append(issues, Issue{Code: UnreachableNode, NodeID: node.ID, Detail: "no path from the trigger"})
		}
	}

	return issues
}

// TriggerID returns the id of the graph's single trigger node.
func (g *ValidatedGraph) TriggerID() string {
	return g.triggerID
}

// EntryNodeID returns the trigger's successor, where new enrollments
// start. It is empty for a graph whose trigger has no successor.
func (g *ValidatedGraph) EntryNodeID() string {
	if next, ok := g.SuccessorOf(g.triggerID); ok {
		return next
	}

	return ""
}

// Node returns the node with the given id, or nil.
func (g *ValidatedGraph) Node(id string) *models.Node {
	return g.nodes[id]
}

// SuccessorOf returns the single unlabeled successor of a node.
func (g *ValidatedGraph) SuccessorOf(nodeID string) (string, bool) {
	edges := g.outbound[nodeID]
	if len(edges) == 0 {
		return "", false
	}

	return edges[0].Target, true
}

// Branch returns the target of a condition node's true or false edge.
func (g *ValidatedGraph) Branch(nodeID string, result bool) (string, bool) {
	label := models.EdgeLabelFalse
	if result {
		label = models.EdgeLabelTrue
	}

	for _, edge := range g.outbound[nodeID] {
		if edge.Label == label {
			return edge.Target, true
		}
	}

	return "", false
}
