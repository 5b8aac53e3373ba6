//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package orchestrator schedules multiple flows across a dependency graph
// with bounded concurrency, checkpointing and critical-path analysis.
//
// Flows are registered as nodes; directed dependencies carry an optional
// gating condition and a data-mapping function. Execute runs the graph to
// completion: a node launches once every predecessor has completed and
// every inbound edge condition holds against its predecessor's result.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/flow"
)

// Runner is what the orchestrator needs from a registered flow: a single
// entry point invoked once per node execution.
type Runner interface {
	// Run executes the unit of work with the given input.
	Run(ctx context.Context, input any) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, input any) (any, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// FlowRunner adapts a *flow.Flow to the Runner interface. The node result
// is the flow run's final output; partial branch failures inside the flow
// do not fail the node.
func FlowRunner(f *flow.Flow) Runner {
	return RunnerFunc(func(ctx context.Context, input any) (any, error) {
		res, err := f.Run(ctx, input)
		if err != nil {
			return nil, err
		}
		return res.Output, nil
	})
}

// NodeStatus is the scheduling status of a registered node.
type NodeStatus string

// Node status constants.
const (
	// NodeStatusPending marks a node not yet launched.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusRunning marks a node currently executing.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusCompleted marks a node that finished successfully.
	NodeStatusCompleted NodeStatus = "completed"
	// NodeStatusFailed marks a node that exhausted its retries.
	NodeStatusFailed NodeStatus = "failed"
	// NodeStatusSkipped marks a node that can never become ready, for
	// example a dependent of a failed node.
	NodeStatusSkipped NodeStatus = "skipped"
)

// node is the orchestrator-side record for one registered flow.
type node struct {
	id       string
	runner   Runner
	priority int
	metadata map[string]any
	// regIndex breaks priority ties by registration order.
	regIndex int

	status    NodeStatus
	result    any
	err       error
	attempts  int
	startTime time.Time
	endTime   time.Time
	duration  time.Duration
}

// edge is one directed dependency between nodes.
type edge struct {
	from string
	to   string
	// condition gates whether the edge counts as satisfied given the
	// source node's result. A nil condition is always satisfied.
	condition func(result any) bool
	// mapping transforms the source result before it is handed to the
	// target as input. A nil mapping passes the result through.
	mapping func(result any) any
}

// Orchestrator coordinates the execution of registered flows. The zero
// value is not usable; create one with New.
type Orchestrator struct {
	mu    sync.Mutex
	nodes map[string]*node
	// order preserves registration order for deterministic tie-breaks.
	order []string
	out   map[string][]*edge
	in    map[string][]*edge
	// executing guards against re-entrant Execute calls.
	executing bool
	profiling bool
	lastWall  time.Duration
}

// New creates an empty orchestrator.
func New() *Orchestrator {
	return &Orchestrator{
		nodes: make(map[string]*node),
		out:   make(map[string][]*edge),
		in:    make(map[string][]*edge),
	}
}

// NodeOption configures a registered node.
type NodeOption func(*node)

// WithNodeID assigns an explicit node id instead of a generated one.
func WithNodeID(id string) NodeOption {
	return func(n *node) {
		n.id = id
	}
}

// WithPriority sets the node priority. When more ready nodes exist than the
// concurrency budget allows, higher priority launches first.
func WithPriority(priority int) NodeOption {
	return func(n *node) {
		n.priority = priority
	}
}

// WithMetadata attaches arbitrary metadata to the node, surfaced in graph
// snapshots and metrics.
func WithMetadata(metadata map[string]any) NodeOption {
	return func(n *node) {
		for k, v := range metadata {
			n.metadata[k] = v
		}
	}
}

// RegisterFlow registers a runner as a graph node and returns its id.
func (o *Orchestrator) RegisterFlow(runner Runner, opts ...NodeOption) (string, error) {
	if runner == nil {
		return "", fmt.Errorf("%w: runner cannot be nil", ErrInvalidNode)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executing {
		return "", ErrExecuteInProgress
	}

	n := &node{
		runner:   runner,
		metadata: make(map[string]any),
		status:   NodeStatusPending,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.id == "" {
		n.id = uuid.New().String()
	}
	if _, exists := o.nodes[n.id]; exists {
		return "", fmt.Errorf("%w: node %q already registered", ErrInvalidNode, n.id)
	}
	n.regIndex = len(o.order)
	o.nodes[n.id] = n
	o.order = append(o.order, n.id)
	return n.id, nil
}

// EdgeOption configures a dependency edge.
type EdgeOption func(*edge)

// WithCondition gates the edge on the source node's result. The dependent
// only becomes ready if the condition evaluates true; a false condition
// skips the dependent once the source completes.
func WithCondition(condition func(result any) bool) EdgeOption {
	return func(e *edge) {
		e.condition = condition
	}
}

// WithDataMapping transforms the source node's result before it is passed
// to the dependent as input.
func WithDataMapping(mapping func(result any) any) EdgeOption {
	return func(e *edge) {
		e.mapping = mapping
	}
}

// AddDependency inserts a directed edge from fromID to toID, meaning toID
// runs after fromID. The insertion is rejected with a *CycleError when it
// would create a directed cycle; the graph is left unchanged.
func (o *Orchestrator) AddDependency(fromID, toID string, opts ...EdgeOption) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executing {
		return ErrExecuteInProgress
	}

	if _, ok := o.nodes[fromID]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, fromID)
	}
	if _, ok := o.nodes[toID]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, toID)
	}
	if fromID == toID {
		return &CycleError{From: fromID, To: toID}
	}
	for _, e := range o.out[fromID] {
		if e.to == toID {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, fromID, toID)
		}
	}
	// Reachability from toID back to fromID proves the new edge would
	// close a cycle. Checked before insertion so a rejection never
	// mutates the graph.
	if o.reachable(toID, fromID) {
		return &CycleError{From: fromID, To: toID}
	}

	e := &edge{from: fromID, to: toID}
	for _, opt := range opts {
		opt(e)
	}
	o.out[fromID] = append(o.out[fromID], e)
	o.in[toID] = append(o.in[toID], e)
	return nil
}

// reachable reports whether target can be reached from start following
// outbound edges, using iterative DFS.
func (o *Orchestrator) reachable(start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range o.out[cur] {
			if e.to == target {
				return true
			}
			if _, ok := visited[e.to]; !ok {
				visited[e.to] = struct{}{}
				stack = append(stack, e.to)
			}
		}
	}
	return false
}

// EdgeCount returns the number of dependency edges in the graph.
func (o *Orchestrator) EdgeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, edges := range o.out {
		count += len(edges)
	}
	return count
}

// NodeInfo describes one node in a graph snapshot.
type NodeInfo struct {
	// ID is the node id.
	ID string
	// Priority is the scheduling priority.
	Priority int
	// Metadata is a copy of the node metadata.
	Metadata map[string]any
	// Status is the node's scheduling status.
	Status NodeStatus
	// StartTime and EndTime bound the last execution; zero when the node
	// has not run.
	StartTime time.Time
	EndTime   time.Time
	// Duration is the recorded execution duration.
	Duration time.Duration
}

// EdgeInfo describes one edge in a graph snapshot.
type EdgeInfo struct {
	// From and To are the endpoint node ids.
	From string
	To   string
	// Conditional reports whether the edge carries a gating condition.
	Conditional bool
	// Mapped reports whether the edge carries a data-mapping function.
	Mapped bool
}

// GraphSnapshot is a read-only view of the dependency graph, suitable for
// visualization collaborators.
type GraphSnapshot struct {
	// Nodes lists all nodes in registration order.
	Nodes []NodeInfo
	// Edges lists all dependency edges.
	Edges []EdgeInfo
}

// FlowGraph returns a snapshot of the current graph with node statuses and
// timings.
func (o *Orchestrator) FlowGraph() *GraphSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := &GraphSnapshot{}
	for _, id := range o.order {
		n := o.nodes[id]
		meta := make(map[string]any, len(n.metadata))
		for k, v := range n.metadata {
			meta[k] = v
		}
		snap.Nodes = append(snap.Nodes, NodeInfo{
			ID:        n.id,
			Priority:  n.priority,
			Metadata:  meta,
			Status:    n.status,
			StartTime: n.startTime,
			EndTime:   n.endTime,
			Duration:  n.duration,
		})
	}
	for _, id := range o.order {
		for _, e := range o.out[id] {
			snap.Edges = append(snap.Edges, EdgeInfo{
				From:        e.from,
				To:          e.to,
				Conditional: e.condition != nil,
				Mapped:      e.mapping != nil,
			})
		}
	}
	return snap
}
