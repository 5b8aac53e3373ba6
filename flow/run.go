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
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/telemetry"
)

// RunResult is the outcome of one flow run.
type RunResult struct {
	// RunID identifies the run.
	RunID string
	// Output is the result of the last method to complete. Propagation
	// sentinels are reported as nil.
	Output any
	// Results maps every completed method to its result.
	Results map[string]any
	// Executed lists completed methods in completion order.
	Executed []string
	// Failed maps failed methods to their errors. A failure is scoped to
	// its branch; the rest of the run proceeds.
	Failed map[string]error
	// Unexecuted lists registered methods whose condition never fired,
	// for example listeners behind an AND condition with a failed member.
	Unexecuted []string
	// Rounds is the number of fan-out rounds executed.
	Rounds int
}

// runRecord is the per-run bookkeeping, reset whenever a flow is re-run.
type runRecord struct {
	id string
	mu sync.Mutex

	results map[string]any
	// executed holds methods that ran to completion.
	executed map[string]struct{}
	// completionOrder records completion sequence for deterministic OR
	// trigger payloads and the final output.
	completionOrder []string
	// propagating is the executed set minus methods whose router returned
	// Stop; trigger conditions evaluate against this set.
	propagating map[string]struct{}
	failed      map[string]error
	// triggered holds methods already scheduled in some round, so a
	// condition satisfied twice (e.g. OR with two completing members)
	// fires its listener at most once.
	triggered map[string]struct{}
}

func newRunRecord() *runRecord {
	return &runRecord{
		id:          uuid.New().String(),
		results:     make(map[string]any),
		executed:    make(map[string]struct{}),
		propagating: make(map[string]struct{}),
		failed:      make(map[string]error),
		triggered:   make(map[string]struct{}),
	}
}

// task is one method scheduled for the current fan-out round.
type task struct {
	method string
	input  any
}

// Run executes the flow to completion and returns the run result.
//
// All runnable methods of a round execute concurrently; after the round the
// trigger conditions of candidate listeners are re-evaluated against the
// completed set, and newly satisfied listeners form the next round. The run
// terminates when no method is runnable. Run returns ErrNoProgress when not
// a single method completed.
//
// Only one run may be active per flow; Run resets per-run bookkeeping from
// any previous run, while the flow state persists across runs.
func (f *Flow) Run(ctx context.Context, initialInput any) (*RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := newRunRecord()
	f.run = rec
	for _, m := range f.methods {
		m.lastResult = nil
		m.executed = false
	}

	ctx, span := telemetry.Tracer().Start(ctx, "flow.run",
		trace.WithAttributes(
			attribute.String("flow.name", f.name),
			attribute.String("flow.run_id", rec.id),
		))
	defer span.End()

	f.emitFlowEvent(rec, EventFlowStart, "")
	log.Debugf("flow %s: run %s started", f.name, rec.id)

	// Start methods form round zero.
	var round []task
	for _, name := range f.order {
		m := f.methods[name]
		if m.kind == MethodKindStart {
			rec.triggered[name] = struct{}{}
			round = append(round, task{method: name, input: initialInput})
		}
	}

	rounds := 0
	for len(round) > 0 {
		if err := ctx.Err(); err != nil {
			f.emitFlowEvent(rec, EventFlowError, err.Error())
			return f.result(rec, rounds), err
		}
		f.executeRound(ctx, rec, round, rounds)
		round = f.nextRound(rec)
		rounds++
	}

	res := f.result(rec, rounds)
	if len(res.Executed) == 0 {
		f.emitFlowEvent(rec, EventFlowError, ErrNoProgress.Error())
		return res, ErrNoProgress
	}
	f.emitFlowEvent(rec, EventFlowComplete, "")
	log.Debugf("flow %s: run %s finished after %d rounds, %d methods completed, %d failed",
		f.name, rec.id, rounds, len(res.Executed), len(res.Failed))
	return res, nil
}

// executeRound fans out all tasks of one round concurrently and records
// their outcomes. A method failure fails only its own branch.
func (f *Flow) executeRound(ctx context.Context, rec *runRecord, round []task, roundNum int) {
	var wg sync.WaitGroup
	for _, t := range round {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			f.executeMethod(ctx, rec, t, roundNum)
		}(t)
	}
	wg.Wait()
}

func (f *Flow) executeMethod(ctx context.Context, rec *runRecord, t task, roundNum int) {
	m := f.methods[t.method]

	ctx, span := telemetry.Tracer().Start(ctx, "flow.method",
		trace.WithAttributes(
			attribute.String("flow.name", f.name),
			attribute.String("flow.method", t.method),
			attribute.Int("flow.round", roundNum),
		))
	defer span.End()

	f.emitMethodEvent(rec, EventMethodStart, t.method, roundNum, nil, "")
	result, err := m.fn(ctx, f.state, t.input)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err != nil {
		rec.failed[t.method] = err
		f.emitMethodEvent(rec, EventMethodError, t.method, roundNum, nil, err.Error())
		log.Warnf("flow %s: method %s failed: %v", f.name, t.method, err)
		return
	}
	m.lastResult = result
	m.executed = true
	rec.results[t.method] = result
	rec.executed[t.method] = struct{}{}
	rec.completionOrder = append(rec.completionOrder, t.method)
	if !(m.kind == MethodKindRouter && result == Stop) {
		rec.propagating[t.method] = struct{}{}
	}
	f.emitMethodEvent(rec, EventMethodComplete, t.method, roundNum, result, "")
}

// nextRound re-evaluates trigger conditions and returns the newly runnable
// tasks. Candidates come from the listener index of methods completed so
// far plus all predicate-conditioned listeners; evaluation is deterministic
// given the completed set, so execution order never depends on timing.
func (f *Flow) nextRound(rec *runRecord) []task {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	candidateSet := make(map[string]struct{})
	var candidates []string
	add := func(name string) {
		if _, seen := candidateSet[name]; seen {
			return
		}
		candidateSet[name] = struct{}{}
		candidates = append(candidates, name)
	}
	for name := range rec.propagating {
		for _, listener := range f.listenerIndex[name] {
			add(listener)
		}
	}
	for _, listener := range f.predicated {
		add(listener)
	}

	var next []task
	for _, name := range f.order {
		if _, ok := candidateSet[name]; !ok {
			continue
		}
		if _, done := rec.triggered[name]; done {
			continue
		}
		m := f.methods[name]
		ok, sources := m.condition.satisfied(rec.propagating, rec.completionOrder)
		if !ok {
			continue
		}
		rec.triggered[name] = struct{}{}
		next = append(next, task{method: name, input: f.triggerInput(rec, m, sources)})
	}
	return next
}

// triggerInput assembles the payload handed to a newly triggered listener.
func (f *Flow) triggerInput(rec *runRecord, m *methodDescriptor, sources []string) any {
	payload := func(name string) any {
		r := rec.results[name]
		if s, ok := r.(sentinel); ok && (s == Stop || s == Continue) {
			return nil
		}
		return r
	}
	switch {
	case len(sources) == 0:
		return nil
	case len(sources) == 1:
		return payload(sources[0])
	default:
		in := make(map[string]any, len(sources))
		for _, s := range sources {
			in[s] = payload(s)
		}
		return in
	}
}

func (f *Flow) result(rec *runRecord, rounds int) *RunResult {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	res := &RunResult{
		RunID:    rec.id,
		Results:  make(map[string]any, len(rec.results)),
		Executed: make([]string, len(rec.completionOrder)),
		Failed:   make(map[string]error, len(rec.failed)),
		Rounds:   rounds,
	}
	copy(res.Executed, rec.completionOrder)
	for k, v := range rec.results {
		res.Results[k] = v
	}
	for k, v := range rec.failed {
		res.Failed[k] = v
	}
	for _, name := range f.order {
		if _, ok := rec.executed[name]; ok {
			continue
		}
		if _, ok := rec.failed[name]; ok {
			continue
		}
		res.Unexecuted = append(res.Unexecuted, name)
	}
	if n := len(rec.completionOrder); n > 0 {
		last := rec.results[rec.completionOrder[n-1]]
		if s, ok := last.(sentinel); ok && (s == Stop || s == Continue) {
			last = nil
		}
		res.Output = last
	}
	return res
}

func (f *Flow) emitFlowEvent(rec *runRecord, typ EventType, errMsg string) {
	evt := newEvent(f.name, rec.id, typ)
	evt.Error = errMsg
	f.emitter.Emit(evt)
}

func (f *Flow) emitMethodEvent(rec *runRecord, typ EventType, method string, round int, result any, errMsg string) {
	evt := newEvent(f.name, rec.id, typ)
	evt.Method = method
	evt.Round = round
	evt.Result = result
	evt.Error = errMsg
	f.emitter.Emit(evt)
}
