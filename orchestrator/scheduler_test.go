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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRunner completes after d and returns result.
func sleepRunner(d time.Duration, result any) Runner {
	return RunnerFunc(func(ctx context.Context, input any) (any, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func register(t *testing.T, o *Orchestrator, id string, r Runner, opts ...NodeOption) {
	t.Helper()
	_, err := o.RegisterFlow(r, append([]NodeOption{WithNodeID(id)}, opts...)...)
	require.NoError(t, err)
}

func TestExecuteEmptyGraph(t *testing.T) {
	_, err := New().Execute(context.Background())
	assert.ErrorIs(t, err, ErrEmptyGraph)
}

func TestExecuteInvalidOptions(t *testing.T) {
	o := New()
	register(t, o, "a", noopRunner())
	_, err := o.Execute(context.Background(), WithMaxConcurrency(0))
	assert.Error(t, err)
	_, err = o.Execute(context.Background(), WithRetryCount(-1))
	assert.Error(t, err)
}

func TestDiamondExecutionAndCriticalPath(t *testing.T) {
	o := New()
	register(t, o, "A", sleepRunner(10*time.Millisecond, "ra"))
	register(t, o, "B", sleepRunner(80*time.Millisecond, "rb"))
	register(t, o, "C", sleepRunner(10*time.Millisecond, "rc"))
	register(t, o, "D", sleepRunner(10*time.Millisecond, "rd"))
	require.NoError(t, o.AddDependency("A", "B"))
	require.NoError(t, o.AddDependency("A", "C"))
	require.NoError(t, o.AddDependency("B", "D"))
	require.NoError(t, o.AddDependency("C", "D"))

	results, err := o.Execute(context.Background(), WithMaxConcurrency(2))
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "rd", results["D"])

	// B's branch dominates: critical path is A -> B -> D.
	path, total := o.CalculateCriticalPath()
	assert.Equal(t, []string{"A", "B", "D"}, path)
	assert.Greater(t, total, 90*time.Millisecond)
	assert.Equal(t, total, o.CalculateCriticalPathTime())
}

func TestMaxConcurrencyOne(t *testing.T) {
	o := New()
	var running, peak atomic.Int32
	track := func(id string) Runner {
		return RunnerFunc(func(ctx context.Context, input any) (any, error) {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return id, nil
		})
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		register(t, o, id, track(id))
	}

	results, err := o.Execute(context.Background(), WithMaxConcurrency(1))
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, int32(1), peak.Load(), "never more than one node running")
}

func TestPriorityOrderWithinConcurrencyLimit(t *testing.T) {
	o := New()
	var mu sync.Mutex
	var order []string
	record := func(id string) Runner {
		return RunnerFunc(func(ctx context.Context, input any) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		})
	}
	register(t, o, "low", record("low"), WithPriority(1))
	register(t, o, "tie1", record("tie1"), WithPriority(5))
	register(t, o, "tie2", record("tie2"), WithPriority(5))
	register(t, o, "high", record("high"), WithPriority(9))

	_, err := o.Execute(context.Background(), WithMaxConcurrency(1))
	require.NoError(t, err)
	// Higher priority first; ties break by registration order.
	assert.Equal(t, []string{"high", "tie1", "tie2", "low"}, order)
}

func TestFailFastAbortsDependentsNotIndependents(t *testing.T) {
	o := New()
	var dependentRan, independentRan atomic.Bool
	register(t, o, "A", noopRunner())
	register(t, o, "B", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("b exploded")
	}))
	register(t, o, "C", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		dependentRan.Store(true)
		return nil, nil
	}))
	// E is independent of B; the abort must not erase work that already
	// completed on an unaffected branch.
	register(t, o, "E", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		independentRan.Store(true)
		return "re", nil
	}))
	require.NoError(t, o.AddDependency("A", "B"))
	require.NoError(t, o.AddDependency("B", "C"))

	results, err := o.Execute(context.Background(), WithMaxConcurrency(4), WithFailFast())
	require.Error(t, err)
	assert.False(t, dependentRan.Load(), "dependents of the failure never start")
	assert.True(t, independentRan.Load(), "independent node ran")
	assert.Contains(t, results, "E")
}

func TestPartialCompletionWithoutFailFast(t *testing.T) {
	o := New()
	register(t, o, "A", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("a exploded")
	}))
	register(t, o, "B", noopRunner())
	register(t, o, "C", sleepRunner(5*time.Millisecond, "rc"))
	require.NoError(t, o.AddDependency("A", "B"))

	results, err := o.Execute(context.Background(), WithProfiling())
	require.NoError(t, err, "branch failures are partial completion, not an Execute error")
	assert.NotContains(t, results, "A")
	assert.NotContains(t, results, "B")
	assert.Contains(t, results, "C")

	m := o.ExecutionMetrics()
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 1, m.Skipped)
	assert.Equal(t, []string{"B"}, m.Stalled)
	require.NotNil(t, m.Nodes)
	assert.Equal(t, "a exploded", m.Nodes["A"].Error)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	o := New()
	var calls atomic.Int32
	register(t, o, "flaky", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}))

	results, err := o.Execute(context.Background(),
		WithRetryCount(2), WithRetryDelay(time.Millisecond), WithProfiling())
	require.NoError(t, err)
	assert.Equal(t, "ok", results["flaky"])
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, o.ExecutionMetrics().Nodes["flaky"].Attempts)
}

func TestRetryExhaustion(t *testing.T) {
	o := New()
	register(t, o, "doomed", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("always")
	}))

	results, err := o.Execute(context.Background(),
		WithRetryCount(1), WithRetryDelay(time.Millisecond), WithProfiling())
	require.NoError(t, err)
	assert.Empty(t, results)
	m := o.ExecutionMetrics()
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 2, m.Nodes["doomed"].Attempts)
}

func TestTimeoutFailsNode(t *testing.T) {
	o := New()
	register(t, o, "slow", sleepRunner(time.Second, nil))

	start := time.Now()
	results, err := o.Execute(context.Background(),
		WithTimeout(20*time.Millisecond), WithProfiling())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	m := o.ExecutionMetrics()
	assert.Equal(t, NodeStatusFailed, m.Nodes["slow"].Status)
	assert.Contains(t, m.Nodes["slow"].Error, context.DeadlineExceeded.Error())
}

func TestEdgeConditionGatesAndSkips(t *testing.T) {
	o := New()
	var taken, skipped atomic.Bool
	register(t, o, "src", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return 7, nil
	}))
	register(t, o, "evenOnly", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		skipped.Store(true)
		return nil, nil
	}))
	register(t, o, "oddOnly", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		taken.Store(true)
		return input, nil
	}))
	require.NoError(t, o.AddDependency("src", "evenOnly",
		WithCondition(func(r any) bool { return r.(int)%2 == 0 })))
	require.NoError(t, o.AddDependency("src", "oddOnly",
		WithCondition(func(r any) bool { return r.(int)%2 == 1 }),
		WithDataMapping(func(r any) any { return r.(int) * 10 })))

	results, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, taken.Load())
	assert.False(t, skipped.Load())
	assert.Equal(t, 70, results["oddOnly"], "data mapping transforms the input")
	m := o.ExecutionMetrics()
	assert.Equal(t, []string{"evenOnly"}, m.Stalled)
}

func TestFanInInputKeyedByPredecessor(t *testing.T) {
	o := New()
	register(t, o, "left", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return "L", nil
	}))
	register(t, o, "right", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return "R", nil
	}))
	var got any
	register(t, o, "join", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		got = input
		return nil, nil
	}))
	require.NoError(t, o.AddDependency("left", "join"))
	require.NoError(t, o.AddDependency("right", "join"))

	_, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"left": "L", "right": "R"}, got)
}

func TestInputDataReachesRoots(t *testing.T) {
	o := New()
	var rootInput, childInput any
	register(t, o, "root", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		rootInput = input
		return "root-result", nil
	}))
	register(t, o, "child", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		childInput = input
		return nil, nil
	}))
	require.NoError(t, o.AddDependency("root", "child"))

	_, err := o.Execute(context.Background(), WithInputData(map[string]any{"seed": 1}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seed": 1}, rootInput)
	assert.Equal(t, "root-result", childInput, "non-roots receive predecessor results")
}

func TestExecuteIsNotReentrant(t *testing.T) {
	o := New()
	release := make(chan struct{})
	register(t, o, "hold", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		<-release
		return nil, nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Execute(context.Background())
		assert.NoError(t, err)
	}()
	// Wait for the run to be in flight, then verify mutation is refused.
	require.Eventually(t, func() bool {
		_, err := o.Execute(context.Background())
		return errors.Is(err, ErrExecuteInProgress)
	}, time.Second, 5*time.Millisecond)
	_, err := o.RegisterFlow(noopRunner())
	assert.ErrorIs(t, err, ErrExecuteInProgress)
	close(release)
	<-done
}

func TestResetClearsRunState(t *testing.T) {
	o := New()
	var calls atomic.Int32
	register(t, o, "a", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return calls.Add(1), nil
	}))

	_, err := o.Execute(context.Background())
	require.NoError(t, err)
	// Completed nodes are not re-run without a reset.
	results, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), results["a"])

	o.Reset()
	results, err = o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), results["a"])
}
