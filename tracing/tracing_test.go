package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTracingFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "span_test.txt")

	if err := Init("skald", "0.0.1", fname); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "scheduler.begin", "INTERNAL")
	span.WithAttributes(map[string]string{"scheduler.instance": "test"})
	EndSpan(span, nil)
	_ = ctx

	data, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("no data written to trace file")
	}
}

func TestSpanFromContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "scheduler.finish", "INTERNAL")
	defer EndSpan(span, nil)

	if _, ok := SpanFromContext(ctx); !ok {
		t.Fatalf("expected span in context")
	}
}
