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
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/telemetry"
)

// ExecOption configures one Execute call.
type ExecOption func(*execOptions)

type execOptions struct {
	maxConcurrency     int
	timeout            time.Duration
	retryCount         int
	retryDelay         time.Duration
	failFast           bool
	enableProfiling    bool
	checkpointInterval int
	checkpointEvery    time.Duration
	inputData          map[string]any
	saver              Saver
}

func newExecOptions(opts ...ExecOption) (*execOptions, error) {
	options := &execOptions{
		maxConcurrency: 4,
		retryDelay:     time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.maxConcurrency < 1 {
		return nil, fmt.Errorf("maxConcurrency must be at least 1, got %d", options.maxConcurrency)
	}
	if options.retryCount < 0 {
		return nil, fmt.Errorf("retryCount cannot be negative, got %d", options.retryCount)
	}
	return options, nil
}

// WithMaxConcurrency bounds the number of nodes executing at once
// (default 4).
func WithMaxConcurrency(n int) ExecOption {
	return func(o *execOptions) {
		o.maxConcurrency = n
	}
}

// WithTimeout bounds the wall-clock duration of any single node attempt.
// Exceeding it is treated as that node's failure, subject to retry policy.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) {
		o.timeout = d
	}
}

// WithRetryCount re-queues a failed node up to count times before giving up.
func WithRetryCount(count int) ExecOption {
	return func(o *execOptions) {
		o.retryCount = count
	}
}

// WithRetryDelay sets the pause before each retry (default one second).
func WithRetryDelay(d time.Duration) ExecOption {
	return func(o *execOptions) {
		o.retryDelay = d
	}
}

// WithFailFast aborts all remaining pending and running work as soon as one
// node fails; without it, branches unaffected by the failure keep running.
func WithFailFast() ExecOption {
	return func(o *execOptions) {
		o.failFast = true
	}
}

// WithProfiling enables per-node detail in ExecutionMetrics.
func WithProfiling() ExecOption {
	return func(o *execOptions) {
		o.enableProfiling = true
	}
}

// WithCheckpointInterval persists a checkpoint each time n nodes complete.
// Requires a checkpoint saver.
func WithCheckpointInterval(n int) ExecOption {
	return func(o *execOptions) {
		o.checkpointInterval = n
	}
}

// WithCheckpointEvery additionally persists a checkpoint when d has elapsed
// since the last snapshot. Requires a checkpoint saver.
func WithCheckpointEvery(d time.Duration) ExecOption {
	return func(o *execOptions) {
		o.checkpointEvery = d
	}
}

// WithInputData merges the given map into the input of every root node.
func WithInputData(data map[string]any) ExecOption {
	return func(o *execOptions) {
		o.inputData = data
	}
}

// WithCheckpointSaver sets the saver used for periodic checkpoints.
func WithCheckpointSaver(saver Saver) ExecOption {
	return func(o *execOptions) {
		o.saver = saver
	}
}

// settlement is one finished node execution reported back to the loop.
type settlement struct {
	id       string
	result   any
	err      error
	attempts int
	end      time.Time
}

// Execute runs the scheduler to completion and returns every completed
// node's final result keyed by node id.
//
// The scheduling loop is strictly sequential: it alone mutates the graph
// and the status sets, while the node work it dispatches runs concurrently
// on a bounded pool. Execute always returns; node failures surface in the
// result and metrics rather than as an error, except under WithFailFast
// where the first failure aborts the run.
func (o *Orchestrator) Execute(ctx context.Context, opts ...ExecOption) (map[string]any, error) {
	options, err := newExecOptions(opts...)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.executing {
		o.mu.Unlock()
		return nil, ErrExecuteInProgress
	}
	if len(o.nodes) == 0 {
		o.mu.Unlock()
		return nil, ErrEmptyGraph
	}
	o.executing = true
	o.profiling = options.enableProfiling
	// Nodes left running by a restored checkpoint are re-queued; skipped
	// nodes from a previous run get another chance under the new results.
	for _, n := range o.nodes {
		if n.status == NodeStatusRunning || n.status == NodeStatusSkipped {
			n.status = NodeStatusPending
		}
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.executing = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.execute",
		trace.WithAttributes(attribute.Int("orchestrator.nodes", len(o.nodes))))
	defer span.End()

	pool, err := ants.NewPool(options.maxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	settleCh := make(chan settlement, len(o.nodes))
	running := 0
	startWall := time.Now()
	completedSince := 0
	lastSnapshot := time.Now()

	for {
		o.markBlocked()
		if _, launchErr := o.launchReady(ctx, pool, options, settleCh, &running); launchErr != nil {
			cancel()
			o.drain(settleCh, &running)
			o.finishWall(startWall)
			return o.completedResults(), launchErr
		}
		if running == 0 {
			// Nothing in flight and nothing launchable: every remaining
			// pending node was marked skipped, so the run is finished.
			break
		}

		var s settlement
		select {
		case s = <-settleCh:
		case <-ctx.Done():
			o.drain(settleCh, &running)
			o.finishWall(startWall)
			return o.completedResults(), ctx.Err()
		}
		running--
		failed := o.record(s)
		if failed {
			if options.failFast {
				log.Warnf("orchestrator: node %s failed, aborting (fail-fast)", s.id)
				cancel()
				o.drain(settleCh, &running)
				o.finishWall(startWall)
				return o.completedResults(), fmt.Errorf("node %s failed: %w", s.id, s.err)
			}
			log.Warnf("orchestrator: node %s failed after %d attempts: %v", s.id, s.attempts, s.err)
		} else {
			completedSince++
		}

		// Checkpoints are taken only here, at a loop-iteration boundary,
		// so a snapshot never observes a torn mid-update graph.
		if o.checkpointDue(options, completedSince, lastSnapshot) {
			cp := o.SaveExecutionCheckpoint()
			if err := options.saver.Save(ctx, cp); err != nil {
				log.Errorf("orchestrator: checkpoint save failed: %v", err)
			} else {
				completedSince = 0
				lastSnapshot = time.Now()
			}
		}
	}

	o.finishWall(startWall)
	log.Infof("orchestrator: execution finished in %v", o.lastWall)
	return o.completedResults(), nil
}

// markBlocked marks as skipped every pending node that can never become
// ready: a predecessor failed or was skipped, or a completed predecessor's
// edge condition evaluates false. Skips cascade, so the scan repeats until
// a fixed point.
func (o *Orchestrator) markBlocked() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for changed := true; changed; {
		changed = false
		for _, id := range o.order {
			n := o.nodes[id]
			if n.status != NodeStatusPending {
				continue
			}
			for _, e := range o.in[id] {
				src := o.nodes[e.from]
				blocked := src.status == NodeStatusFailed || src.status == NodeStatusSkipped ||
					(src.status == NodeStatusCompleted && e.condition != nil && !e.condition(src.result))
				if blocked {
					n.status = NodeStatusSkipped
					changed = true
					log.Debugf("orchestrator: node %s skipped, dependency %s cannot satisfy it", id, e.from)
					break
				}
			}
		}
	}
}

// launchReady computes the ready set and launches nodes up to the
// concurrency budget, preferring higher priority and breaking ties by
// registration order.
func (o *Orchestrator) launchReady(ctx context.Context, pool *ants.Pool,
	options *execOptions, settleCh chan<- settlement, running *int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var ready []*node
	for _, id := range o.order {
		n := o.nodes[id]
		if n.status != NodeStatusPending {
			continue
		}
		if o.readyLocked(n) {
			ready = append(ready, n)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].priority != ready[j].priority {
			return ready[i].priority > ready[j].priority
		}
		return ready[i].regIndex < ready[j].regIndex
	})

	launched := 0
	for _, n := range ready {
		if *running >= options.maxConcurrency {
			break
		}
		input := o.assembleInputLocked(n, options)
		n.status = NodeStatusRunning
		n.startTime = time.Now()
		n.endTime = time.Time{}
		n.err = nil
		target := n
		if err := pool.Submit(func() {
			o.runNode(ctx, target, input, options, settleCh)
		}); err != nil {
			n.status = NodeStatusPending
			return launched, fmt.Errorf("submit node %s: %w", n.id, err)
		}
		*running++
		launched++
		log.Debugf("orchestrator: node %s launched (priority %d)", n.id, n.priority)
	}
	return launched, nil
}

// readyLocked reports whether every inbound edge originates from a
// completed node and carries a satisfied condition.
func (o *Orchestrator) readyLocked(n *node) bool {
	for _, e := range o.in[n.id] {
		src := o.nodes[e.from]
		if src.status != NodeStatusCompleted {
			return false
		}
		if e.condition != nil && !e.condition(src.result) {
			return false
		}
	}
	return true
}

// assembleInputLocked builds the input handed to a node: the data-mapped
// results of its predecessors, merged with the global input data for root
// nodes. A single unmapped shape is passed through directly.
func (o *Orchestrator) assembleInputLocked(n *node, options *execOptions) any {
	edges := o.in[n.id]
	if len(edges) == 0 {
		if len(options.inputData) == 0 {
			return nil
		}
		in := make(map[string]any, len(options.inputData))
		for k, v := range options.inputData {
			in[k] = v
		}
		return in
	}
	mapped := func(e *edge) any {
		r := o.nodes[e.from].result
		if e.mapping != nil {
			return e.mapping(r)
		}
		return r
	}
	if len(edges) == 1 {
		return mapped(edges[0])
	}
	in := make(map[string]any, len(edges))
	for _, e := range edges {
		in[e.from] = mapped(e)
	}
	return in
}

// runNode executes one node with timeout and retry handling. It always
// reports exactly one settlement.
func (o *Orchestrator) runNode(ctx context.Context, n *node, input any,
	options *execOptions, settleCh chan<- settlement) {
	var result any
	var err error
	attempts := 0
	for attempt := 0; attempt <= options.retryCount; attempt++ {
		attempts++
		result, err = o.attempt(ctx, n, input, options.timeout)
		if err == nil {
			break
		}
		if ctx.Err() != nil || attempt == options.retryCount {
			break
		}
		log.Debugf("orchestrator: node %s attempt %d failed, retrying in %v: %v",
			n.id, attempts, options.retryDelay, err)
		select {
		case <-time.After(options.retryDelay):
		case <-ctx.Done():
			err = ctx.Err()
			attempt = options.retryCount
		}
	}
	settleCh <- settlement{id: n.id, result: result, err: err, attempts: attempts, end: time.Now()}
}

// attempt runs the node's runner once, bounded by the per-node timeout.
// The runner executes in its own goroutine so a runner that ignores
// cancellation still settles as timed out; the abandoned goroutine exits
// when the runner eventually returns.
func (o *Orchestrator) attempt(ctx context.Context, n *node, input any, timeout time.Duration) (any, error) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	actx, span := telemetry.Tracer().Start(actx, "orchestrator.node",
		trace.WithAttributes(attribute.String("orchestrator.node_id", n.id)))
	defer span.End()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := n.runner.Run(actx, input)
		done <- outcome{result: result, err: err}
	}()
	select {
	case out := <-done:
		return out.result, out.err
	case <-actx.Done():
		return nil, fmt.Errorf("node %s: %w", n.id, actx.Err())
	}
}

// record applies a settlement to the graph and reports whether it failed.
func (o *Orchestrator) record(s settlement) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.nodes[s.id]
	n.attempts = s.attempts
	n.endTime = s.end
	n.duration = s.end.Sub(n.startTime)
	if s.err != nil {
		n.status = NodeStatusFailed
		n.err = s.err
		return true
	}
	n.status = NodeStatusCompleted
	n.result = s.result
	log.Debugf("orchestrator: node %s completed in %v", s.id, n.duration)
	return false
}

// drain consumes outstanding settlements after an abort so dispatched work
// releases its resources before Execute returns.
func (o *Orchestrator) drain(settleCh <-chan settlement, running *int) {
	for *running > 0 {
		s := <-settleCh
		*running--
		o.record(s)
	}
}

func (o *Orchestrator) checkpointDue(options *execOptions, completedSince int, lastSnapshot time.Time) bool {
	if options.saver == nil {
		return false
	}
	if options.checkpointInterval > 0 && completedSince >= options.checkpointInterval {
		return true
	}
	return options.checkpointEvery > 0 && time.Since(lastSnapshot) >= options.checkpointEvery
}

func (o *Orchestrator) finishWall(startWall time.Time) {
	o.mu.Lock()
	o.lastWall = time.Since(startWall)
	o.mu.Unlock()
}

// completedResults collects every completed node's result.
func (o *Orchestrator) completedResults() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	results := make(map[string]any)
	for id, n := range o.nodes {
		if n.status == NodeStatusCompleted {
			results[id] = n.result
		}
	}
	return results
}

// Reset returns every node to pending and clears results, timings and
// errors, so the next Execute runs the whole graph from scratch.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range o.nodes {
		n.status = NodeStatusPending
		n.result = nil
		n.err = nil
		n.attempts = 0
		n.startTime = time.Time{}
		n.endTime = time.Time{}
		n.duration = 0
	}
	o.lastWall = 0
}
