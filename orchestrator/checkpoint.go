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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NodeTiming records the execution window of one node.
type NodeTiming struct {
	// Start and End bound the execution.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Duration is End minus Start.
	Duration time.Duration `json:"duration"`
}

// Checkpoint is an immutable snapshot of scheduling progress, captured only
// at loop-iteration boundaries so it never observes a torn graph update.
type Checkpoint struct {
	// ID is the unique identifier of the checkpoint.
	ID string `json:"id"`
	// CapturedAt is the wall-clock capture time.
	CapturedAt time.Time `json:"captured_at"`
	// Completed maps completed node ids to their results.
	Completed map[string]any `json:"completed"`
	// Running lists node ids that were in flight at capture time; a
	// restore re-queues them as pending.
	Running []string `json:"running"`
	// Pending lists node ids not yet launched.
	Pending []string `json:"pending"`
	// Failed maps failed node ids to their error messages.
	Failed map[string]string `json:"failed"`
	// Timings records per-node execution windows.
	Timings map[string]NodeTiming `json:"timings"`
}

// Saver persists checkpoints. Implementations must be safe for concurrent
// use.
type Saver interface {
	// Save persists a checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
	// Load retrieves a checkpoint by id.
	Load(ctx context.Context, id string) (*Checkpoint, error)
	// Latest retrieves the most recently captured checkpoint.
	Latest(ctx context.Context) (*Checkpoint, error)
	// List returns the stored checkpoint ids.
	List(ctx context.Context) ([]string, error)
	// Delete removes a checkpoint by id.
	Delete(ctx context.Context, id string) error
}

// SaveExecutionCheckpoint captures the current scheduling progress. During
// an Execute run the scheduler calls it between loop iterations; callers
// may also capture one while the orchestrator is idle.
func (o *Orchestrator) SaveExecutionCheckpoint() *Checkpoint {
	o.mu.Lock()
	defer o.mu.Unlock()

	cp := &Checkpoint{
		ID:         uuid.New().String(),
		CapturedAt: time.Now(),
		Completed:  make(map[string]any),
		Failed:     make(map[string]string),
		Timings:    make(map[string]NodeTiming),
	}
	for _, id := range o.order {
		n := o.nodes[id]
		switch n.status {
		case NodeStatusCompleted:
			cp.Completed[id] = n.result
		case NodeStatusRunning:
			cp.Running = append(cp.Running, id)
		case NodeStatusFailed:
			cp.Failed[id] = n.err.Error()
		default:
			cp.Pending = append(cp.Pending, id)
		}
		if !n.startTime.IsZero() && !n.endTime.IsZero() {
			cp.Timings[id] = NodeTiming{
				Start:    n.startTime,
				End:      n.endTime,
				Duration: n.duration,
			}
		}
	}
	return cp
}

// RestoreFromCheckpoint reinitializes scheduling state from a snapshot
// instead of from scratch. Completed nodes keep their results and timings
// and are skipped by the next Execute; nodes that were running at capture
// time are re-queued as pending.
func (o *Orchestrator) RestoreFromCheckpoint(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("%w: checkpoint cannot be nil", ErrCheckpointNotFound)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executing {
		return ErrExecuteInProgress
	}
	// Validate before mutating anything.
	for id := range cp.Completed {
		if _, ok := o.nodes[id]; !ok {
			return fmt.Errorf("%w: checkpoint references %q", ErrNodeNotFound, id)
		}
	}
	for id := range cp.Failed {
		if _, ok := o.nodes[id]; !ok {
			return fmt.Errorf("%w: checkpoint references %q", ErrNodeNotFound, id)
		}
	}
	for _, ids := range [][]string{cp.Running, cp.Pending} {
		for _, id := range ids {
			if _, ok := o.nodes[id]; !ok {
				return fmt.Errorf("%w: checkpoint references %q", ErrNodeNotFound, id)
			}
		}
	}

	for _, n := range o.nodes {
		n.status = NodeStatusPending
		n.result = nil
		n.err = nil
		n.attempts = 0
		n.startTime = time.Time{}
		n.endTime = time.Time{}
		n.duration = 0
	}
	for id, result := range cp.Completed {
		n := o.nodes[id]
		n.status = NodeStatusCompleted
		n.result = result
	}
	for id, msg := range cp.Failed {
		n := o.nodes[id]
		n.status = NodeStatusFailed
		n.err = fmt.Errorf("%s", msg)
	}
	for id, timing := range cp.Timings {
		n := o.nodes[id]
		n.startTime = timing.Start
		n.endTime = timing.End
		n.duration = timing.Duration
	}
	return nil
}

// InMemorySaver is a Saver backed by process memory, suitable for tests
// and single-process recovery.
type InMemorySaver struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewInMemorySaver creates an empty in-memory saver.
func NewInMemorySaver() *InMemorySaver {
	return &InMemorySaver{checkpoints: make(map[string]*Checkpoint)}
}

// Save persists a checkpoint.
func (s *InMemorySaver) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return fmt.Errorf("checkpoint requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cp
	return nil
}

// Load retrieves a checkpoint by id.
func (s *InMemorySaver) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCheckpointNotFound, id)
	}
	return cp, nil
}

// Latest retrieves the most recently captured checkpoint.
func (s *InMemorySaver) Latest(ctx context.Context) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Checkpoint
	for _, cp := range s.checkpoints {
		if latest == nil || cp.CapturedAt.After(latest.CapturedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrCheckpointNotFound
	}
	return latest, nil
}

// List returns the stored checkpoint ids sorted by capture time.
func (s *InMemorySaver) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.checkpoints[ids[i]].CapturedAt.Before(s.checkpoints[ids[j]].CapturedAt)
	})
	return ids, nil
}

// Delete removes a checkpoint by id.
func (s *InMemorySaver) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[id]; !ok {
		return fmt.Errorf("%w: %q", ErrCheckpointNotFound, id)
	}
	delete(s.checkpoints, id)
	return nil
}
