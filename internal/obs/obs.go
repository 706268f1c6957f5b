// Package obs installs the process-wide tracer provider and exposes the
// tracer the reconciliation loop wraps its periodic work in.
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by this daemon's reconciliation loop.
const TracerName = "netmgr/engine"

// Install creates and registers a process-wide tracer provider, mirroring
// the daemon entrypoint's in-memory provider setup. The returned shutdown
// func flushes and releases the provider; call it once at process exit.
func Install() (shutdown func(context.Context) error) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the reconciliation loop's tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
