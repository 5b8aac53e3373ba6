//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package flow

import (
	"sync"

	"github.com/google/uuid"
)

// State is the mutable data bag owned by a single Flow instance. It is
// created when the Flow is built, mutated in place by the Flow's own
// methods, and lives until the Flow is discarded or reset.
type State struct {
	mu   sync.RWMutex
	id   string
	data map[string]any
}

// NewState creates an empty state with a generated unique identifier.
func NewState() *State {
	return &State{
		id:   uuid.New().String(),
		data: make(map[string]any),
	}
}

// ID returns the unique identifier of the state.
func (s *State) ID() string {
	return s.id
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key from the state.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Keys returns the keys currently stored in the state.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the state data.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// clear removes all entries and assigns a fresh identifier.
func (s *State) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.New().String()
	s.data = make(map[string]any)
}
