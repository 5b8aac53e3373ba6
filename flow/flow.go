//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package flow provides a reactive, dependency-driven method-graph executor.
//
// A Flow is one runnable unit of work: a mutable State plus a registry of
// methods wired together by trigger conditions. Start methods run first;
// listener methods run once their condition over already-completed methods
// is satisfied; router methods are listeners whose return value additionally
// gates propagation through the Stop and Continue sentinels.
//
// Flows are assembled with Builder and executed with Run:
//
//	f, err := flow.NewBuilder("pipeline").
//	  Start("fetch", fetchFunc).
//	  Listen("parse", flow.On("fetch"), parseFunc).
//	  Listen("store", flow.And(flow.On("parse"), flow.On("audit")), storeFunc).
//	  Build()
package flow

import (
	"context"
	"sync"
)

// MethodKind classifies a registered flow method.
type MethodKind string

// Method kind constants.
const (
	// MethodKindStart marks a method in the initial runnable set.
	MethodKindStart MethodKind = "start"
	// MethodKindListener marks a method triggered by a condition.
	MethodKindListener MethodKind = "listener"
	// MethodKindRouter marks a listener whose result gates propagation.
	MethodKindRouter MethodKind = "router"
)

// sentinel is the type of the propagation-control return values.
type sentinel string

// Propagation-control sentinels for router methods.
const (
	// Stop terminates propagation along the branch that produced it.
	Stop sentinel = "STOP"
	// Continue permits propagation with no payload.
	Continue sentinel = "CONTINUE"
)

// MethodFunc is the signature of a flow method. The input is the trigger
// payload: the initial input for start methods, the triggering predecessor's
// result for simple and OR conditions, and a map of member results keyed by
// method name for AND conditions.
type MethodFunc func(ctx context.Context, state *State, input any) (any, error)

// methodDescriptor is the registry entry for one flow method.
type methodDescriptor struct {
	name      string
	kind      MethodKind
	condition Condition
	fn        MethodFunc

	// Per-run bookkeeping, guarded by the run record.
	lastResult any
	executed   bool
}

// Flow is a reactive method-graph executor for a single unit of work.
// Build one with Builder; the zero value is not usable.
type Flow struct {
	name    string
	state   *State
	methods map[string]*methodDescriptor
	// order preserves registration order for deterministic fan-out.
	order []string
	// listenerIndex maps a method name to the listeners whose condition
	// references it, so trigger evaluation only visits candidates.
	listenerIndex map[string][]string
	// predicated lists listeners with predicate conditions, which must be
	// re-evaluated after every completion batch.
	predicated []string

	emitter Emitter

	mu  sync.Mutex
	run *runRecord
}

// Name returns the flow name.
func (f *Flow) Name() string {
	return f.name
}

// State returns the flow's state. The state is owned by the flow; callers
// may read it at any time and must not retain it past the flow's lifetime.
func (f *Flow) State() *State {
	return f.state
}

// Methods returns the registered method names in registration order.
func (f *Flow) Methods() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Reset discards all per-run bookkeeping so the flow can run from scratch.
func (f *Flow) Reset(opts ...ResetOption) {
	var options resetOptions
	for _, opt := range opts {
		opt(&options)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = nil
	for _, m := range f.methods {
		m.lastResult = nil
		m.executed = false
	}
	if options.clearState {
		f.state.clear()
	}
}

// ResetOption configures Reset.
type ResetOption func(*resetOptions)

type resetOptions struct {
	clearState bool
}

// WithStateReset clears the flow state in addition to run bookkeeping and
// assigns the state a fresh identifier.
func WithStateReset() ResetOption {
	return func(o *resetOptions) {
		o.clearState = true
	}
}
