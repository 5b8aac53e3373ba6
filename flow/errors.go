//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package flow

import "errors"

var (
	// ErrNoProgress is returned by Run when not a single method ran to
	// completion, so the flow never reached a terminal state.
	ErrNoProgress = errors.New("flow made no progress")
)
