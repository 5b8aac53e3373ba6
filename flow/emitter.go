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
	"trpc.group/trpc-go/trpc-flow-go/log"
)

// Emitter receives lifecycle events from a flow run. Implementations must
// not block: the engine emits from the scheduling path.
type Emitter interface {
	// Emit delivers one lifecycle event.
	Emit(evt *Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(evt *Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(evt *Event) {
	f(evt)
}

// NopEmitter returns an emitter that discards all events.
func NopEmitter() Emitter {
	return EmitterFunc(func(*Event) {})
}

// ChannelEmitter forwards events to a buffered channel. When the buffer is
// full the event is dropped and a warning logged, so a slow consumer never
// stalls the run.
type ChannelEmitter struct {
	ch chan *Event
}

// ChannelEmitterOption configures a ChannelEmitter.
type ChannelEmitterOption func(*channelEmitterOptions)

type channelEmitterOptions struct {
	bufferSize int
}

// WithBufferSize sets the event channel buffer size (default 256).
func WithBufferSize(size int) ChannelEmitterOption {
	return func(o *channelEmitterOptions) {
		o.bufferSize = size
	}
}

// NewChannelEmitter creates a channel-backed emitter.
func NewChannelEmitter(opts ...ChannelEmitterOption) *ChannelEmitter {
	options := channelEmitterOptions{bufferSize: 256}
	for _, opt := range opts {
		opt(&options)
	}
	return &ChannelEmitter{ch: make(chan *Event, options.bufferSize)}
}

// Events returns the receive side of the event channel.
func (e *ChannelEmitter) Events() <-chan *Event {
	return e.ch
}

// Emit implements Emitter.
func (e *ChannelEmitter) Emit(evt *Event) {
	select {
	case e.ch <- evt:
	default:
		log.Warnf("flow %s: event channel full, dropping %s event", evt.FlowName, evt.Type)
	}
}

// Close closes the event channel. Call only after the run has finished.
func (e *ChannelEmitter) Close() {
	close(e.ch)
}
