//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package orchestrator

import (
	"time"
)

// CalculateCriticalPath computes the longest-duration path through the
// completed dependency graph using the recorded per-node execution times.
// It returns the ordered node ids of the path and its total duration; both
// are empty when nothing has completed.
func (o *Orchestrator) CalculateCriticalPath() ([]string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Restrict the DAG to completed nodes with recorded durations.
	completed := make(map[string]struct{})
	for _, id := range o.order {
		if o.nodes[id].status == NodeStatusCompleted {
			completed[id] = struct{}{}
		}
	}
	if len(completed) == 0 {
		return nil, 0
	}

	indegree := make(map[string]int, len(completed))
	for id := range completed {
		indegree[id] = 0
	}
	for id := range completed {
		for _, e := range o.out[id] {
			if _, ok := completed[e.to]; ok {
				indegree[e.to]++
			}
		}
	}

	// Kahn topological order over the completed subgraph, with dynamic
	// programming on the maximum-weight path ending at each node.
	dist := make(map[string]time.Duration, len(completed))
	prev := make(map[string]string, len(completed))
	var queue []string
	for _, id := range o.order {
		if _, ok := completed[id]; ok && indegree[id] == 0 {
			queue = append(queue, id)
			dist[id] = o.nodes[id].duration
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range o.out[cur] {
			if _, ok := completed[e.to]; !ok {
				continue
			}
			if d := dist[cur] + o.nodes[e.to].duration; d > dist[e.to] {
				dist[e.to] = d
				prev[e.to] = cur
			}
			indegree[e.to]--
			if indegree[e.to] == 0 {
				queue = append(queue, e.to)
			}
		}
	}

	// The critical path ends at the node with the largest accumulated
	// duration; walk the predecessor chain back to a source.
	var end string
	var total time.Duration
	for _, id := range o.order {
		if d, ok := dist[id]; ok && (end == "" || d > total) {
			end = id
			total = d
		}
	}
	var path []string
	for cur := end; cur != ""; {
		path = append([]string{cur}, path...)
		cur = prev[cur]
	}
	return path, total
}

// CalculateCriticalPathTime returns only the total duration of the
// critical path.
func (o *Orchestrator) CalculateCriticalPathTime() time.Duration {
	_, total := o.CalculateCriticalPath()
	return total
}
