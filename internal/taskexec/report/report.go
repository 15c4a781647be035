// Package report publishes terminal task outcomes back to the control plane
// so operators can see what the agent did without shelling into the node.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is the wire form of a finished task.
type Outcome struct {
	OperationIdentity string    `json:"operationIdentity"`
	TaskID            string    `json:"taskId"`
	ResourceType      string    `json:"resourceType"`
	Operation         string    `json:"operation"`
	Target            string    `json:"target"`
	Success           bool      `json:"success"`
	Attempts          int       `json:"attempts"`
	Reason            string    `json:"reason,omitempty"`
	Hostname          string    `json:"hostname"`
	FinishedAt        time.Time `json:"finishedAt"`
}

// Usage is a point-in-time disk usage measurement for one resource.
type Usage struct {
	ResourceType string    `json:"resourceType"`
	Target       string    `json:"target"`
	Hostname     string    `json:"hostname"`
	BytesUsed    int64     `json:"bytesUsed"`
	MeasuredAt   time.Time `json:"measuredAt"`
}

// Reporter delivers task outcomes.
type Reporter interface {
	Report(ctx context.Context, o Outcome) error
}

// UsageReporter delivers quota measurements.
type UsageReporter interface {
	ReportUsage(ctx context.Context, u Usage) error
}

// RedisReporter pushes outcomes onto a Redis list consumed by the control
// plane. Delivery is fire-and-forget: a failed push is the caller's problem
// to log, never a reason to re-run the task.
type RedisReporter struct {
	rdb *redis.Client
	key string
}

// NewRedis returns a reporter publishing to the given list key.
func NewRedis(rdb *redis.Client, key string) *RedisReporter {
	return &RedisReporter{rdb: rdb, key: key}
}

func (r *RedisReporter) Report(ctx context.Context, o Outcome) error {
	if o.FinishedAt.IsZero() {
		o.FinishedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("report: marshal outcome %s: %w", o.TaskID, err)
	}
	if err := r.rdb.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("report: push outcome %s: %w", o.TaskID, err)
	}
	return nil
}

// ReportUsage pushes a quota measurement onto the outcome list's companion
// usage list ("<key>:usage").
func (r *RedisReporter) ReportUsage(ctx context.Context, u Usage) error {
	if u.MeasuredAt.IsZero() {
		u.MeasuredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("report: marshal usage %s/%s: %w", u.ResourceType, u.Target, err)
	}
	if err := r.rdb.LPush(ctx, r.key+":usage", payload).Err(); err != nil {
		return fmt.Errorf("report: push usage %s/%s: %w", u.ResourceType, u.Target, err)
	}
	return nil
}

// Null discards all outcomes. Used when no control plane is configured.
type Null struct{}

func (Null) Report(context.Context, Outcome) error    { return nil }
func (Null) ReportUsage(context.Context, Usage) error { return nil }
