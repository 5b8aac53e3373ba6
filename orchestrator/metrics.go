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

// NodeMetrics is the per-node execution detail, populated when profiling
// is enabled on Execute.
type NodeMetrics struct {
	// ID is the node id.
	ID string
	// Status is the node's scheduling status.
	Status NodeStatus
	// Attempts counts execution attempts including retries.
	Attempts int
	// StartTime and EndTime bound the last execution.
	StartTime time.Time
	EndTime   time.Time
	// Duration is the recorded execution duration.
	Duration time.Duration
	// Error holds the failure message for failed nodes.
	Error string
}

// Metrics summarizes the last execution.
type Metrics struct {
	// TotalNodes is the number of registered nodes.
	TotalNodes int
	// Completed, Failed, Skipped, Pending and Running count nodes by
	// status.
	Completed int
	Failed    int
	Skipped   int
	Pending   int
	Running   int
	// Stalled lists nodes that could never become ready: the dependents
	// of failed nodes and of unsatisfied edge conditions.
	Stalled []string
	// WallTime is the wall-clock duration of the last Execute call.
	WallTime time.Duration
	// Nodes holds per-node detail; nil unless profiling was enabled.
	Nodes map[string]NodeMetrics
}

// ExecutionMetrics returns a summary of the last execution. Callers can
// distinguish "some branches failed" from "everything failed" by comparing
// the status counts and inspecting per-node errors.
func (o *Orchestrator) ExecutionMetrics() *Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := &Metrics{
		TotalNodes: len(o.nodes),
		WallTime:   o.lastWall,
	}
	if o.profiling {
		m.Nodes = make(map[string]NodeMetrics, len(o.nodes))
	}
	for _, id := range o.order {
		n := o.nodes[id]
		switch n.status {
		case NodeStatusCompleted:
			m.Completed++
		case NodeStatusFailed:
			m.Failed++
		case NodeStatusSkipped:
			m.Skipped++
			m.Stalled = append(m.Stalled, id)
		case NodeStatusRunning:
			m.Running++
		default:
			m.Pending++
		}
		if m.Nodes != nil {
			nm := NodeMetrics{
				ID:        n.id,
				Status:    n.status,
				Attempts:  n.attempts,
				StartTime: n.startTime,
				EndTime:   n.endTime,
				Duration:  n.duration,
			}
			if n.err != nil {
				nm.Error = n.err.Error()
			}
			m.Nodes[id] = nm
		}
	}
	return m
}
