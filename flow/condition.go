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
	"fmt"
	"sort"
)

// ConditionOp is the boolean operator of a complex condition.
type ConditionOp string

// Condition operator constants.
const (
	// OpAND requires every referenced method to have completed.
	OpAND ConditionOp = "AND"
	// OpOR requires at least one referenced method to have completed.
	OpOR ConditionOp = "OR"
)

// conditionKind discriminates the condition variants.
type conditionKind int

const (
	conditionSimple conditionKind = iota
	conditionComplex
	conditionPredicate
)

// PredicateFunc is a custom trigger predicate evaluated against the set of
// methods already completed in the current run.
type PredicateFunc func(completed map[string]struct{}) bool

// Condition describes when a listener or router method becomes runnable.
// Build conditions with On, And, Or or When; the zero value is invalid.
type Condition struct {
	kind      conditionKind
	op        ConditionOp
	methods   []string
	predicate PredicateFunc
	err       error
}

// ConditionError reports a malformed or unsupported condition shape.
// It is always raised at build or registration time, never during a run.
type ConditionError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("invalid condition: %s", e.Reason)
}

// On creates a condition satisfied once the named method has completed.
func On(method string) Condition {
	if method == "" {
		return Condition{err: &ConditionError{Reason: "method name cannot be empty"}}
	}
	return Condition{kind: conditionSimple, methods: []string{method}}
}

// When creates a condition evaluated by a custom predicate over the
// completed-method set.
func When(predicate PredicateFunc) Condition {
	if predicate == nil {
		return Condition{err: &ConditionError{Reason: "predicate cannot be nil"}}
	}
	return Condition{kind: conditionPredicate, predicate: predicate}
}

// And combines conditions so that every referenced method must complete.
// Nested And combinators are flattened and duplicate method names removed.
// Calling And with no arguments is an error, surfaced when the condition is
// registered.
func And(conditions ...Condition) Condition {
	return combine(OpAND, conditions)
}

// Or combines conditions so that any one referenced method completing
// satisfies the result. Nested Or combinators are flattened and duplicate
// method names removed. Calling Or with no arguments is an error, surfaced
// when the condition is registered.
func Or(conditions ...Condition) Condition {
	return combine(OpOR, conditions)
}

// combine flattens same-operator combinators into one complex condition.
func combine(op ConditionOp, conditions []Condition) Condition {
	if len(conditions) == 0 {
		return Condition{err: &ConditionError{Reason: fmt.Sprintf("%s requires at least one condition", op)}}
	}
	seen := make(map[string]struct{})
	var methods []string
	for _, c := range conditions {
		if c.err != nil {
			return Condition{err: c.err}
		}
		switch c.kind {
		case conditionSimple:
			if _, ok := seen[c.methods[0]]; !ok {
				seen[c.methods[0]] = struct{}{}
				methods = append(methods, c.methods[0])
			}
		case conditionComplex:
			if c.op != op {
				return Condition{err: &ConditionError{
					Reason: fmt.Sprintf("cannot nest %s inside %s", c.op, op),
				}}
			}
			for _, m := range c.methods {
				if _, ok := seen[m]; !ok {
					seen[m] = struct{}{}
					methods = append(methods, m)
				}
			}
		case conditionPredicate:
			return Condition{err: &ConditionError{
				Reason: "predicate conditions cannot be combined",
			}}
		}
	}
	if len(methods) == 1 {
		return Condition{kind: conditionSimple, methods: methods}
	}
	return Condition{kind: conditionComplex, op: op, methods: methods}
}

// validate reports the deferred construction error, if any.
func (c Condition) validate() error {
	if c.err != nil {
		return c.err
	}
	switch c.kind {
	case conditionSimple:
		if len(c.methods) != 1 {
			return &ConditionError{Reason: "simple condition requires exactly one method"}
		}
	case conditionComplex:
		if len(c.methods) == 0 {
			return &ConditionError{Reason: "complex condition requires at least one method"}
		}
		if c.op != OpAND && c.op != OpOR {
			return &ConditionError{Reason: fmt.Sprintf("unsupported operator %q", c.op)}
		}
	case conditionPredicate:
		if c.predicate == nil {
			return &ConditionError{Reason: "predicate cannot be nil"}
		}
	default:
		return &ConditionError{Reason: "unknown condition kind"}
	}
	return nil
}

// Methods returns the method names the condition references, sorted.
// Predicate conditions reference no methods statically.
func (c Condition) Methods() []string {
	out := make([]string, len(c.methods))
	copy(out, c.methods)
	sort.Strings(out)
	return out
}

// satisfied evaluates the condition against the executed-set of the current
// run. For satisfied conditions it also returns the method names whose
// completion contributes the trigger payload: the single member for simple
// conditions, the earliest completed member for OR, and every member for AND.
func (c Condition) satisfied(completed map[string]struct{}, order []string) (bool, []string) {
	switch c.kind {
	case conditionSimple:
		if _, ok := completed[c.methods[0]]; ok {
			return true, c.methods
		}
		return false, nil
	case conditionComplex:
		if c.op == OpAND {
			for _, m := range c.methods {
				if _, ok := completed[m]; !ok {
					return false, nil
				}
			}
			return true, c.methods
		}
		// OR: pick the member that completed first so the trigger payload
		// is deterministic across evaluation batches. The order slice may
		// include methods excluded from the completed set, such as routers
		// that halted their branch; those must not satisfy the condition.
		for _, m := range order {
			if _, ok := completed[m]; !ok {
				continue
			}
			if contains(c.methods, m) {
				return true, []string{m}
			}
		}
		return false, nil
	case conditionPredicate:
		if c.predicate(completed) {
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func contains(methods []string, name string) bool {
	for _, m := range methods {
		if m == name {
			return true
		}
	}
	return false
}
