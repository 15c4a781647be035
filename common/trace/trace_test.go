package trace_test

import (
	"context"
	"testing"

	"github.com/majorhost/taskexec/common/trace"
)

func TestNewID_Unique(t *testing.T) {
	a, b := trace.NewID(), trace.NewID()
	if a == b {
		t.Fatalf("expected unique IDs, got %q twice", a)
	}
	if len(a) < 10 {
		t.Fatalf("suspiciously short ID: %q", a)
	}
}

func TestWithID_RoundTrip(t *testing.T) {
	ctx := trace.WithID(context.Background(), "te_abc")
	if got := trace.FromContext(ctx); got != "te_abc" {
		t.Fatalf("expected te_abc, got %q", got)
	}
}

func TestFromContext_Absent(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty ID, got %q", got)
	}
}
