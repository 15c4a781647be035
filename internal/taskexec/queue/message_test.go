package queue_test

import (
	"testing"

	"github.com/majorhost/taskexec/internal/taskexec/queue"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

func TestParseMessage_Valid(t *testing.T) {
	raw := `{
		"operationIdentity": "op-123",
		"resourceType": "Website",
		"operation": "create",
		"target": "example.com",
		"params": {"objRef": "/website/abc"}
	}`
	msg, err := queue.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tk := msg.Task()
	if tk.ID != "op-123" || tk.CorrelationID != "op-123" {
		t.Fatalf("identity not propagated: %+v", tk)
	}
	if tk.ResourceType != "website" {
		t.Fatalf("resource type not normalized: %q", tk.ResourceType)
	}
	if tk.Operation != task.OpCreate {
		t.Fatalf("operation: %q", tk.Operation)
	}
	if tk.Target != "example.com" {
		t.Fatalf("target: %q", tk.Target)
	}
	if len(tk.Params) == 0 {
		t.Fatal("params dropped")
	}
}

func TestParseMessage_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "garbage"},
		{"missing operation", `{"operationIdentity":"x","resourceType":"service","target":"nginx"}`},
		{"unknown operation", `{"operationIdentity":"x","resourceType":"service","operation":"explode","target":"nginx"}`},
		{"empty target", `{"operationIdentity":"x","resourceType":"service","operation":"create","target":""}`},
		{"params not object", `{"operationIdentity":"x","resourceType":"service","operation":"create","target":"nginx","params":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := queue.ParseMessage([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if task.IsRetryable(err) {
				t.Fatalf("schema violations must be terminal, got retryable %v", err)
			}
		})
	}
}
