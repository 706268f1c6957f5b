package obs

import (
	"context"
	"testing"
)

func TestInstallRegistersProviderAndTracerIsUsable(t *testing.T) {
	shutdown := Install()
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	tr := Tracer()
	_, span := tr.Start(context.Background(), "test-span")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a valid span context from the installed provider")
	}
}
