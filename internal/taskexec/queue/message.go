// Package queue consumes inbound task messages from the Redis-backed queue.
//
// Each resource type has a pending list and a claimed list. A message is
// claimed atomically (BLMOVE), handled, and acknowledged by removing it from
// the claimed list only once the task reaches a terminal outcome. Entries
// left on claimed lists by a crashed agent are moved back to pending on
// startup, giving at-least-once delivery; handlers are idempotent so
// redelivery never double-applies.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// Message is the wire shape of an inbound task.
type Message struct {
	// OperationIdentity correlates the task across the control plane.
	OperationIdentity string `json:"operationIdentity"`
	// ResourceType routes the task to a handler and worker pool.
	ResourceType string `json:"resourceType"`
	// Operation is the requested action.
	Operation string `json:"operation"`
	// Target names the resource instance.
	Target string `json:"target"`
	// Params is the handler-specific payload.
	Params json.RawMessage `json:"params"`
}

// messageSchema rejects structurally invalid messages before any decode into
// domain types. Retrying cannot fix a malformed message, so violations are
// terminal.
const messageSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["operationIdentity", "resourceType", "operation", "target"],
	"properties": {
		"operationIdentity": {"type": "string", "minLength": 1},
		"resourceType": {"type": "string", "minLength": 1},
		"operation": {
			"type": "string",
			"enum": ["create", "update", "delete", "reload", "backup", "quota-report"]
		},
		"target": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("taskexec/message.json", messageSchema)

// ParseMessage validates and decodes a queue message.
// Validation failures are terminal configuration errors.
func ParseMessage(data []byte) (Message, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Message{}, task.Terminal(fmt.Errorf("queue message: malformed JSON: %w", err))
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return Message{}, task.Terminal(fmt.Errorf("queue message: schema violation: %w", err))
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, task.Terminal(fmt.Errorf("queue message: decode: %w", err))
	}
	return m, nil
}

// Task converts a validated message into the dispatcher's task type.
func (m Message) Task() task.Task {
	return task.Task{
		ID:            m.OperationIdentity,
		ResourceType:  strings.ToLower(m.ResourceType),
		Operation:     task.Operation(m.Operation),
		Target:        m.Target,
		Params:        m.Params,
		EnqueuedAt:    time.Now().UTC(),
		CorrelationID: m.OperationIdentity,
	}
}
