//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry provides OpenTelemetry tracing plumbing for flow and
// orchestrator execution. Only the API surface is wired here; exporter and
// provider setup belongs to the embedding application.
package telemetry

import (
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer instrumentation scope name.
const InstrumentationName = "trpc.group/trpc-go/trpc-flow-go"

var tracer atomic.Pointer[trace.Tracer]

func init() {
	t := otel.Tracer(InstrumentationName)
	tracer.Store(&t)
}

// Tracer returns the tracer used for flow and node spans.
func Tracer() trace.Tracer {
	return *tracer.Load()
}

// SetTracerProvider installs a tracer provider, replacing the global one
// picked up at init time.
func SetTracerProvider(tp trace.TracerProvider) {
	t := tp.Tracer(InstrumentationName)
	tracer.Store(&t)
}
