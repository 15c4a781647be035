// Package task defines the unit of work flowing from the message queue (or
// the scheduler) through the dispatcher into resource-type handlers, plus the
// error taxonomy handlers use to signal whether a failure is worth retrying.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/majorhost/taskexec/common/trace"
)

// Operation is the requested action on a resource.
type Operation string

const (
	OpCreate      Operation = "create"
	OpUpdate      Operation = "update"
	OpDelete      Operation = "delete"
	OpReload      Operation = "reload"
	OpBackup      Operation = "backup"
	OpQuotaReport Operation = "quota-report"
)

// State tracks a task through its lifecycle.
type State int

const (
	StateNew State = iota
	StateProcessing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is a unit of requested work, immutable once created. Params are
// opaque to the dispatcher and interpreted by the resource-type handler.
type Task struct {
	// ID identifies the operation across the control plane.
	ID string
	// ResourceType selects the handler and the worker pool
	// (e.g. "service", "website", "unix-account", "database").
	ResourceType string
	// Operation is what the handler should do to the target.
	Operation Operation
	// Target names the resource instance (service name, account name, ...).
	Target string
	// Params is the handler-specific payload from the queue message.
	Params json.RawMessage
	// AttemptsRemaining, when positive, overrides the dispatcher's
	// configured retry budget for this task alone.
	AttemptsRemaining int
	// EnqueuedAt is when the task entered the system.
	EnqueuedAt time.Time
	// CorrelationID ties log lines and outcome reports to the source message.
	CorrelationID string
}

// New builds a locally originated task (scheduler ticks, startup sweeps).
// Queue-delivered tasks carry their upstream operation identity instead.
func New(resourceType string, op Operation, target string, params json.RawMessage) Task {
	return Task{
		ID:            uuid.NewString(),
		ResourceType:  resourceType,
		Operation:     op,
		Target:        target,
		Params:        params,
		EnqueuedAt:    time.Now().UTC(),
		CorrelationID: trace.NewID(),
	}
}

func (t Task) String() string {
	return fmt.Sprintf("Task(id=%s, resource_type=%s, operation=%s, target=%s)",
		t.ID, t.ResourceType, t.Operation, t.Target)
}

// Delivery couples a task with its queue acknowledgement. Ack must be called
// exactly once, after the task reaches a terminal outcome (success or
// exhausted retries), never on receipt: at-least-once upstream, idempotent
// handlers downstream.
type Delivery struct {
	Task Task
	// Ack acknowledges the source message. For scheduler-synthesized tasks
	// it signals completion back to the scheduler. May be nil.
	Ack func(ctx context.Context) error
}
