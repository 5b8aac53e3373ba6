//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package flowstate defines the persistence contract for flow state.
// Storage format and transport are implementation concerns; the engine and
// orchestrator only depend on the Service interface.
package flowstate

import (
	"context"
	"errors"
	"time"
)

// ErrStateNotFound is returned when no state exists for the given id.
var ErrStateNotFound = errors.New("flow state not found")

// Record is one persisted flow state.
type Record struct {
	// ID is the state identifier.
	ID string
	// FlowName is the name of the owning flow.
	FlowName string
	// Data is the state content.
	Data map[string]any
	// SavedAt is when the record was persisted.
	SavedAt time.Time
}

// Clone returns a copy of the record with its own data map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	return &Record{
		ID:       r.ID,
		FlowName: r.FlowName,
		Data:     data,
		SavedAt:  r.SavedAt,
	}
}

// Service persists flow state. Implementations must be safe for concurrent
// use.
type Service interface {
	// SaveState persists a state record, replacing any existing record
	// with the same id.
	SaveState(ctx context.Context, record *Record) error
	// LoadState retrieves a state record by id. It returns
	// ErrStateNotFound when absent.
	LoadState(ctx context.Context, id string) (*Record, error)
	// DeleteState removes a state record by id. Deleting an absent id is
	// not an error.
	DeleteState(ctx context.Context, id string) error
	// ListStates returns the ids of all persisted states.
	ListStates(ctx context.Context) ([]string, error)
}
