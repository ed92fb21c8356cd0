// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/luxfi/trace"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// traceHandler starts a span named name around every request served by h.
func traceHandler(h http.Handler, name string, tracer trace.Tracer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name, oteltrace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.Redacted()),
			attribute.Int64("http.content_length", r.ContentLength),
			attribute.String("http.host", r.Host),
		))
		defer span.End()

		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
