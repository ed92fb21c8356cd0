// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parliatest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/luxfi/trace"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer records the names of the spans it starts. Its spans do not record.
type Tracer struct {
	trace.Tracer

	lock  sync.Mutex
	spans []string
}

func (t *Tracer) Start(ctx context.Context, name string, _ ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.spans = append(t.spans, name)
	return ctx, noop.Span{}
}

// Spans returns the started span names in order.
func (t *Tracer) Spans() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.spans...)
}
