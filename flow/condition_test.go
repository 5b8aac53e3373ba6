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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnCondition(t *testing.T) {
	c := On("fetch")
	require.NoError(t, c.validate())
	assert.Equal(t, []string{"fetch"}, c.Methods())

	ok, sources := c.satisfied(map[string]struct{}{"fetch": {}}, []string{"fetch"})
	assert.True(t, ok)
	assert.Equal(t, []string{"fetch"}, sources)

	ok, _ = c.satisfied(map[string]struct{}{"other": {}}, []string{"other"})
	assert.False(t, ok)
}

func TestOnEmptyName(t *testing.T) {
	c := On("")
	err := c.validate()
	require.Error(t, err)
	var condErr *ConditionError
	assert.ErrorAs(t, err, &condErr)
}

func TestAndFlattensAndDeduplicates(t *testing.T) {
	c := And(On("a"), And(On("b"), On("a")), On("c"))
	require.NoError(t, c.validate())
	assert.Equal(t, []string{"a", "b", "c"}, c.Methods())
}

func TestOrFlattensAndDeduplicates(t *testing.T) {
	c := Or(On("a"), Or(On("a"), On("b")))
	require.NoError(t, c.validate())
	assert.Equal(t, []string{"a", "b"}, c.Methods())
}

func TestCombinatorZeroArguments(t *testing.T) {
	for _, c := range []Condition{And(), Or()} {
		err := c.validate()
		require.Error(t, err)
		var condErr *ConditionError
		assert.ErrorAs(t, err, &condErr)
	}
}

func TestMixedOperatorNesting(t *testing.T) {
	c := And(On("a"), Or(On("b"), On("c")))
	require.Error(t, c.validate())
}

func TestSingleMemberCombinerCollapses(t *testing.T) {
	c := Or(On("a"))
	require.NoError(t, c.validate())
	assert.Equal(t, conditionSimple, c.kind)
}

func TestAndSatisfaction(t *testing.T) {
	c := And(On("a"), On("b"))

	ok, _ := c.satisfied(map[string]struct{}{"a": {}}, []string{"a"})
	assert.False(t, ok, "AND must wait for every member")

	ok, sources := c.satisfied(map[string]struct{}{"a": {}, "b": {}}, []string{"b", "a"})
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, sources)
}

func TestOrSatisfactionPicksFirstCompleted(t *testing.T) {
	c := Or(On("a"), On("b"))

	ok, sources := c.satisfied(map[string]struct{}{"b": {}}, []string{"b"})
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, sources)

	// Both completed: the earlier completion wins.
	ok, sources = c.satisfied(map[string]struct{}{"a": {}, "b": {}}, []string{"b", "a"})
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, sources)
}

func TestPredicateCondition(t *testing.T) {
	c := When(func(completed map[string]struct{}) bool {
		_, a := completed["a"]
		_, b := completed["b"]
		return a && b
	})
	require.NoError(t, c.validate())

	ok, _ := c.satisfied(map[string]struct{}{"a": {}}, []string{"a"})
	assert.False(t, ok)
	ok, _ = c.satisfied(map[string]struct{}{"a": {}, "b": {}}, []string{"a", "b"})
	assert.True(t, ok)
}

func TestPredicateCannotBeCombined(t *testing.T) {
	c := And(On("a"), When(func(map[string]struct{}) bool { return true }))
	require.Error(t, c.validate())
}
