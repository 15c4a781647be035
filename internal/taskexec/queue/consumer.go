package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/majorhost/taskexec/internal/taskexec/report"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// claimTimeout bounds each blocking claim so the consumer notices context
// cancellation promptly.
const claimTimeout = 5 * time.Second

// Sink receives claimed tasks. The dispatcher implements it.
type Sink interface {
	// Submit hands a delivery to a worker pool. It may block when the
	// pool's queue is full; it must not run the task inline.
	Submit(ctx context.Context, d task.Delivery)
}

// Consumer claims task messages from per-resource-type Redis lists and feeds
// them to the sink. Acknowledgement is deferred to the delivery's Ack, which
// the dispatcher invokes on terminal outcome only.
type Consumer struct {
	rdb       *redis.Client
	hostname  string
	resources []string
	sink      Sink
	reporter  report.Reporter
	log       *slog.Logger
}

// NewConsumer builds a consumer for the given resource types. The hostname
// namespaces the lists so several agents can share one Redis. Messages the
// consumer rejects before dispatch (schema violations) are reported as
// failed through reporter.
func NewConsumer(rdb *redis.Client, hostname string, resources []string, sink Sink, reporter report.Reporter, log *slog.Logger) *Consumer {
	if reporter == nil {
		reporter = report.Null{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{rdb: rdb, hostname: hostname, resources: resources, sink: sink, reporter: reporter, log: log}
}

// PendingKey is the pending list for one resource type on one host.
func PendingKey(hostname, resourceType string) string {
	return fmt.Sprintf("tasks:%s:%s", hostname, resourceType)
}

// ClaimedKey is the in-flight list paired with PendingKey.
func ClaimedKey(hostname, resourceType string) string {
	return PendingKey(hostname, resourceType) + ":claimed"
}

// Recover moves entries stranded on claimed lists (an earlier agent run died
// mid-task) back to pending, so they are redelivered. Safe to call on every
// startup: handlers are idempotent.
func (c *Consumer) Recover(ctx context.Context) error {
	for _, rt := range c.resources {
		pending, claimed := PendingKey(c.hostname, rt), ClaimedKey(c.hostname, rt)
		recovered := 0
		for {
			_, err := c.rdb.LMove(ctx, claimed, pending, "RIGHT", "LEFT").Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return fmt.Errorf("queue recover %s: %w", rt, err)
			}
			recovered++
		}
		if recovered > 0 {
			c.log.Info("requeued stranded tasks", "resource_type", rt, "count", recovered)
		}
	}
	return nil
}

// Run claims and dispatches messages until ctx is cancelled. One goroutine
// per resource type; blocking claims never stall other types.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, rt := range c.resources {
		wg.Add(1)
		go func(rt string) {
			defer wg.Done()
			c.consume(ctx, rt)
		}(rt)
	}
	wg.Wait()
}

func (c *Consumer) consume(ctx context.Context, resourceType string) {
	pending := PendingKey(c.hostname, resourceType)
	claimed := ClaimedKey(c.hostname, resourceType)
	c.log.Info("consuming task queue", "resource_type", resourceType, "key", pending)

	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := c.rdb.BLMove(ctx, pending, claimed, "RIGHT", "LEFT", claimTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("queue claim failed", "resource_type", resourceType, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, resourceType, claimed, raw)
	}
}

func (c *Consumer) handle(ctx context.Context, resourceType, claimed, raw string) {
	ack := func(ctx context.Context) error {
		return c.rdb.LRem(ctx, claimed, 1, raw).Err()
	}

	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		// Malformed messages can never succeed; report them as failed so
		// the control plane sees the rejection, then drop them.
		c.log.Error("rejecting invalid task message", "resource_type", resourceType, "error", err)
		outcome := report.Outcome{
			OperationIdentity: operationIdentity(raw),
			ResourceType:      resourceType,
			Success:           false,
			Attempts:          1,
			Reason:            err.Error(),
			Hostname:          c.hostname,
		}
		if repErr := c.reporter.Report(ctx, outcome); repErr != nil {
			c.log.Error("failed to report rejected message", "error", repErr)
		}
		if ackErr := ack(ctx); ackErr != nil {
			c.log.Error("failed to drop invalid message", "error", ackErr)
		}
		return
	}

	t := msg.Task()
	c.log.Info("task received", "task", t.String(), "correlation_id", t.CorrelationID)
	c.sink.Submit(ctx, task.Delivery{Task: t, Ack: ack})
}

// operationIdentity makes a best effort at extracting the upstream identity
// from a message that failed validation, so the rejection report is still
// attributable.
func operationIdentity(raw string) string {
	var partial struct {
		OperationIdentity string `json:"operationIdentity"`
	}
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return ""
	}
	return partial.OperationIdentity
}
