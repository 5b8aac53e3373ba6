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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	o := New()
	register(t, o, "ok", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return "done", nil
	}))
	register(t, o, "bad", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		return nil, errors.New("broken")
	}))
	register(t, o, "blocked", noopRunner())
	require.NoError(t, o.AddDependency("bad", "blocked"))

	_, err := o.Execute(context.Background())
	require.NoError(t, err)

	cp := o.SaveExecutionCheckpoint()
	require.NotEmpty(t, cp.ID)
	assert.Equal(t, map[string]any{"ok": "done"}, cp.Completed)
	assert.Equal(t, map[string]string{"bad": "broken"}, cp.Failed)
	assert.Contains(t, cp.Timings, "ok")

	// Restoring the snapshot reproduces the capture-time sets exactly.
	o.Reset()
	require.NoError(t, o.RestoreFromCheckpoint(cp))
	restored := o.SaveExecutionCheckpoint()
	assert.Equal(t, cp.Completed, restored.Completed)
	assert.Equal(t, cp.Failed, restored.Failed)
	assert.Equal(t, cp.Running, restored.Running)
	assert.ElementsMatch(t, cp.Pending, restored.Pending)
	assert.Equal(t, cp.Timings, restored.Timings)
}

func TestRestoreSkipsCompletedWork(t *testing.T) {
	o := New()
	var firstRuns, secondRuns int
	register(t, o, "first", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		firstRuns++
		return "r1", nil
	}))
	register(t, o, "second", RunnerFunc(func(ctx context.Context, input any) (any, error) {
		secondRuns++
		return "r2", nil
	}))
	require.NoError(t, o.AddDependency("first", "second"))

	cp := &Checkpoint{
		ID:         "manual",
		CapturedAt: time.Now(),
		Completed:  map[string]any{"first": "r1"},
		Pending:    []string{"second"},
		Failed:     map[string]string{},
		Timings:    map[string]NodeTiming{},
	}
	require.NoError(t, o.RestoreFromCheckpoint(cp))

	results, err := o.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, firstRuns, "completed work is not re-run")
	assert.Equal(t, 1, secondRuns)
	assert.Equal(t, "r1", results["first"], "restored result is preserved")
	assert.Equal(t, "r2", results["second"])
}

func TestRestoreRejectsUnknownNodes(t *testing.T) {
	o := New()
	register(t, o, "a", noopRunner())

	err := o.RestoreFromCheckpoint(&Checkpoint{
		ID:        "bad",
		Completed: map[string]any{"ghost": nil},
	})
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Error(t, o.RestoreFromCheckpoint(nil))
}

func TestPeriodicCheckpointing(t *testing.T) {
	o := New()
	saver := NewInMemorySaver()
	for _, id := range []string{"a", "b", "c"} {
		register(t, o, id, sleepRunner(time.Millisecond, id))
	}

	_, err := o.Execute(context.Background(),
		WithCheckpointSaver(saver), WithCheckpointInterval(1))
	require.NoError(t, err)

	ids, err := saver.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ids, "a checkpoint per completed node was requested")

	latest, err := saver.Latest(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, latest.Completed)
}

func TestInMemorySaver(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySaver()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.Error(t, s.Save(ctx, nil))

	older := &Checkpoint{ID: "one", CapturedAt: time.Now().Add(-time.Hour)}
	newer := &Checkpoint{ID: "two", CapturedAt: time.Now()}
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", latest.ID)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, ids)

	require.NoError(t, s.Delete(ctx, "one"))
	assert.ErrorIs(t, s.Delete(ctx, "one"), ErrCheckpointNotFound)
}
