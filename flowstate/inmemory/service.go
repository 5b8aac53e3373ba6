//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory flow state service implementation.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/flowstate"
)

// recordWithTTL wraps a record with its expiration time.
type recordWithTTL struct {
	record    *flowstate.Record
	expiredAt time.Time
}

// isExpired checks if the given time has passed.
func isExpired(expiredAt time.Time) bool {
	return !expiredAt.IsZero() && time.Now().After(expiredAt)
}

var _ flowstate.Service = (*Service)(nil)

// Service is an in-memory implementation of flowstate.Service, suitable
// for tests and single-process deployments.
type Service struct {
	mu      sync.RWMutex
	records map[string]*recordWithTTL
	ttl     time.Duration
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithStateTTL expires saved states after the given duration. Zero (the
// default) keeps states until deleted.
func WithStateTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// NewService creates an empty in-memory state service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{records: make(map[string]*recordWithTTL)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveState persists a deep copy of the record.
func (s *Service) SaveState(ctx context.Context, record *flowstate.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("record requires an id")
	}
	stored := record.Clone()
	stored.SavedAt = time.Now()
	var expiredAt time.Time
	if s.ttl > 0 {
		expiredAt = stored.SavedAt.Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = &recordWithTTL{record: stored, expiredAt: expiredAt}
	return nil
}

// LoadState retrieves a copy of the record by id.
func (s *Service) LoadState(ctx context.Context, id string) (*flowstate.Record, error) {
	s.mu.RLock()
	entry, ok := s.records[id]
	s.mu.RUnlock()
	if !ok || isExpired(entry.expiredAt) {
		return nil, fmt.Errorf("%w: %q", flowstate.ErrStateNotFound, id)
	}
	return entry.record.Clone(), nil
}

// DeleteState removes the record by id.
func (s *Service) DeleteState(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// ListStates returns the ids of all live records, sorted.
func (s *Service) ListStates(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id, entry := range s.records {
		if isExpired(entry.expiredAt) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
