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
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when an operation references an
	// unregistered node id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidNode is returned for invalid node registrations.
	ErrInvalidNode = errors.New("invalid node")
	// ErrDuplicateEdge is returned when a dependency already exists.
	ErrDuplicateEdge = errors.New("duplicate edge")
	// ErrEmptyGraph is returned by Execute when no nodes are registered.
	ErrEmptyGraph = errors.New("no flows registered")
	// ErrExecuteInProgress is returned for re-entrant Execute calls.
	ErrExecuteInProgress = errors.New("execution already in progress")
	// ErrCheckpointNotFound is returned when a checkpoint id is unknown.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// CycleError reports a dependency insertion that would create a directed
// cycle. The offending edge is never added.
type CycleError struct {
	// From and To are the endpoints of the rejected edge.
	From string
	To   string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}
