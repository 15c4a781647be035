package task_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/majorhost/taskexec/internal/taskexec/task"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", task.Transient(base), true},
		{"terminal", task.Terminal(base), false},
		{"unclassified defaults to retryable", base, true},
		{"wrapped transient", fmt.Errorf("pull image: %w", task.Transient(base)), true},
		{"wrapped terminal", fmt.Errorf("load spec: %w", task.Terminal(base)), false},
		{"terminalf", task.Terminalf("no spec for %q", "nginx"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := task.IsRetryable(tt.err); got != tt.retryable {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestClassification_NilPassthrough(t *testing.T) {
	if task.Transient(nil) != nil || task.Terminal(nil) != nil {
		t.Fatal("classifying nil must return nil")
	}
	if task.IsRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}
	if task.IsTerminal(nil) {
		t.Fatal("nil error is not terminal")
	}
}

func TestClassification_UnwrapPreservesSentinel(t *testing.T) {
	sentinel := errors.New("no such container")
	err := task.Transient(fmt.Errorf("inspect: %w", sentinel))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to see through classification, got %v", err)
	}
}
