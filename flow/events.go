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
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event emitted during a flow run.
type EventType string

// Lifecycle event types, emitted in run order.
const (
	// EventFlowStart is emitted once when a run begins.
	EventFlowStart EventType = "flow.start"
	// EventFlowComplete is emitted once when a run finishes.
	EventFlowComplete EventType = "flow.complete"
	// EventFlowError is emitted when a run ends without any completed method.
	EventFlowError EventType = "flow.error"
	// EventMethodStart is emitted before a method executes.
	EventMethodStart EventType = "method.start"
	// EventMethodComplete is emitted after a method returns successfully.
	EventMethodComplete EventType = "method.complete"
	// EventMethodError is emitted after a method returns an error.
	EventMethodError EventType = "method.error"
)

// Event is one lifecycle notification. Events are safe to retain; the
// engine never mutates an event after emitting it.
type Event struct {
	// ID is the unique identifier of the event.
	ID string
	// FlowName is the name of the emitting flow.
	FlowName string
	// RunID identifies the run that produced the event.
	RunID string
	// Type is the lifecycle event type.
	Type EventType
	// Method is the method name for method-scoped events.
	Method string
	// Round is the fan-out round the event belongs to.
	Round int
	// Result carries the method result for method.complete events.
	Result any
	// Error carries the failure message for error events.
	Error string
	// Timestamp is when the event was created.
	Timestamp time.Time
}

// newEvent creates a lifecycle event with a generated id.
func newEvent(flowName, runID string, typ EventType) *Event {
	return &Event{
		ID:        uuid.New().String(),
		FlowName:  flowName,
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now(),
	}
}
