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
	"errors"
	"fmt"
)

// Builder provides a fluent interface for assembling flows.
// Registration errors are collected and returned from Build, so call
// chains stay uncluttered:
//
//	f, err := flow.NewBuilder("ingest").
//	  Start("begin", beginFunc).
//	  Router("route", flow.On("begin"), routeFunc).
//	  Listen("finish", flow.On("route"), finishFunc).
//	  Build()
type Builder struct {
	name    string
	state   *State
	emitter Emitter
	methods map[string]*methodDescriptor
	order   []string
	errs    []error
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithInitialState seeds the flow state with the given key/value pairs.
func WithInitialState(data map[string]any) BuilderOption {
	return func(b *Builder) {
		for k, v := range data {
			b.state.Set(k, v)
		}
	}
}

// WithEmitter sets the lifecycle event emitter for the flow.
// By default lifecycle events are discarded.
func WithEmitter(emitter Emitter) BuilderOption {
	return func(b *Builder) {
		b.emitter = emitter
	}
}

// NewBuilder creates a flow builder.
func NewBuilder(name string, opts ...BuilderOption) *Builder {
	b := &Builder{
		name:    name,
		state:   NewState(),
		emitter: NopEmitter(),
		methods: make(map[string]*methodDescriptor),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start registers a method in the initial runnable set.
func (b *Builder) Start(name string, fn MethodFunc) *Builder {
	b.register(name, MethodKindStart, Condition{}, fn)
	return b
}

// Listen registers a method that runs once its condition is satisfied.
func (b *Builder) Listen(name string, condition Condition, fn MethodFunc) *Builder {
	b.register(name, MethodKindListener, condition, fn)
	return b
}

// Router registers a listener whose return value gates further propagation:
// returning Stop halts the branch, returning Continue propagates with no
// payload, and any other value propagates as an ordinary result.
func (b *Builder) Router(name string, condition Condition, fn MethodFunc) *Builder {
	b.register(name, MethodKindRouter, condition, fn)
	return b
}

func (b *Builder) register(name string, kind MethodKind, condition Condition, fn MethodFunc) {
	if name == "" {
		b.errs = append(b.errs, errors.New("method name cannot be empty"))
		return
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("method %q: function cannot be nil", name))
		return
	}
	if _, exists := b.methods[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("method %q already registered", name))
		return
	}
	if kind != MethodKindStart {
		if err := condition.validate(); err != nil {
			b.errs = append(b.errs, fmt.Errorf("method %q: %w", name, err))
			return
		}
	}
	b.methods[name] = &methodDescriptor{
		name:      name,
		kind:      kind,
		condition: condition,
		fn:        fn,
	}
	b.order = append(b.order, name)
}

// Build validates the registered methods and returns the flow.
func (b *Builder) Build() (*Flow, error) {
	errs := b.errs
	hasStart := false
	for _, name := range b.order {
		if b.methods[name].kind == MethodKindStart {
			hasStart = true
			break
		}
	}
	if !hasStart {
		errs = append(errs, errors.New("flow requires at least one start method"))
	}
	// Conditions may only reference registered methods; a dangling name
	// could never fire and would silently stall the run.
	for _, name := range b.order {
		m := b.methods[name]
		if m.kind == MethodKindStart {
			continue
		}
		for _, dep := range m.condition.Methods() {
			if _, ok := b.methods[dep]; !ok {
				errs = append(errs, fmt.Errorf("method %q: condition references unknown method %q", name, dep))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	f := &Flow{
		name:          b.name,
		state:         b.state,
		methods:       b.methods,
		order:         b.order,
		listenerIndex: make(map[string][]string),
		emitter:       b.emitter,
	}
	// Index listeners by the methods their conditions depend on, so the
	// trigger loop only re-evaluates candidates after each completion.
	for _, name := range b.order {
		m := b.methods[name]
		if m.kind == MethodKindStart {
			continue
		}
		if m.condition.kind == conditionPredicate {
			f.predicated = append(f.predicated, name)
			continue
		}
		for _, dep := range m.condition.Methods() {
			f.listenerIndex[dep] = append(f.listenerIndex[dep], name)
		}
	}
	return f, nil
}

// MustBuild builds the flow or panics on error.
func (b *Builder) MustBuild() *Flow {
	f, err := b.Build()
	if err != nil {
		panic(err)
	}
	return f
}
