// Package dispatcher runs claimed tasks on bounded per-resource-type worker
// pools, retrying transient failures and recording every terminal outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/majorhost/taskexec/common/retry"
	"github.com/majorhost/taskexec/common/trace"
	"github.com/majorhost/taskexec/internal/taskexec/journal"
	"github.com/majorhost/taskexec/internal/taskexec/metrics"
	"github.com/majorhost/taskexec/internal/taskexec/observability"
	"github.com/majorhost/taskexec/internal/taskexec/report"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// BackupPool is the pool name shared by all backup operations, regardless of
// the resource type they target. Backups are long and IO-heavy; confining
// them to one pool keeps them from starving interactive operations.
const BackupPool = "backup"

// Handler executes one task.
type Handler interface {
	Handle(ctx context.Context, t task.Task) error
}

// Resolver maps a task to the handler responsible for it.
type Resolver interface {
	Resolve(t task.Task) (Handler, error)
}

// Config controls execution limits.
type Config struct {
	// Pools maps pool name to worker count. The pool for a task is its
	// resource type, except backup operations which run in BackupPool.
	Pools map[string]int
	// DefaultPoolSize bounds pools absent from Pools.
	DefaultPoolSize int
	// MaxAttempts is how many times a task is tried before it is failed.
	MaxAttempts int
	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
	// TaskTimeout bounds a single attempt.
	TaskTimeout time.Duration
}

// Dispatcher owns the worker pools. It implements the queue sink contract:
// Submit never blocks the queue consumer beyond pool admission.
type Dispatcher struct {
	cfg      Config
	resolver Resolver
	journal  *journal.Journal
	reporter report.Reporter
	metrics  *metrics.Metrics
	log      *slog.Logger
	hostname string

	mu    sync.Mutex
	pools map[string]chan struct{}
	wg    sync.WaitGroup
}

// New builds a dispatcher. journal and metrics may be nil; reporter must not.
func New(cfg Config, resolver Resolver, j *journal.Journal, rep report.Reporter, m *metrics.Metrics, hostname string, log *slog.Logger) *Dispatcher {
	if cfg.DefaultPoolSize <= 0 {
		cfg.DefaultPoolSize = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if rep == nil {
		rep = report.Null{}
	}
	return &Dispatcher{
		cfg:      cfg,
		resolver: resolver,
		journal:  j,
		reporter: rep,
		metrics:  m,
		log:      log,
		hostname: hostname,
		pools:    make(map[string]chan struct{}),
	}
}

// poolFor returns the admission semaphore for the named pool.
func (d *Dispatcher) poolFor(name string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sem, ok := d.pools[name]; ok {
		return sem
	}
	size := d.cfg.DefaultPoolSize
	if n, ok := d.cfg.Pools[name]; ok && n > 0 {
		size = n
	}
	sem := make(chan struct{}, size)
	d.pools[name] = sem
	return sem
}

func poolName(t task.Task) string {
	if t.Operation == task.OpBackup {
		return BackupPool
	}
	return t.ResourceType
}

// Submit queues the delivery for execution. It blocks until the task's pool
// admits it or ctx is cancelled; execution itself runs in the background.
func (d *Dispatcher) Submit(ctx context.Context, del task.Delivery) {
	pool := poolName(del.Task)
	sem := d.poolFor(pool)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	d.metrics.PoolEnter(pool)
	d.wg.Add(1)
	go func() {
		defer func() {
			<-sem
			d.metrics.PoolExit(pool)
			d.wg.Done()
		}()
		d.execute(ctx, del)
	}()
}

// Wait blocks until every in-flight task has reached a terminal outcome.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// execute drives one delivery to a terminal state and acknowledges it.
func (d *Dispatcher) execute(ctx context.Context, del task.Delivery) {
	t := del.Task
	ctx = trace.WithID(ctx, t.CorrelationID)
	log := observability.WithTrace(ctx, d.log).With(
		slog.String("task_id", t.ID),
		slog.String("resource_type", t.ResourceType),
		slog.String("operation", string(t.Operation)),
		slog.String("target", t.Target),
	)

	start := time.Now()
	attempts := 0
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  d.attemptsFor(t),
		InitialDelay: d.cfg.RetryDelay,
		ShouldRetry:  task.IsRetryable,
		OnRetry: func(attempt int, err error) {
			d.metrics.TaskRetried(t.ResourceType)
			log.Warn("task attempt failed, retrying",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
	}, func() error {
		attempts++
		return d.attempt(ctx, t)
	})

	// A failure while the dispatch context is cancelled is shutdown, not an
	// outcome. The message stays claimed so startup recovery redelivers it;
	// acking it here would lose the task for good.
	if err != nil && ctx.Err() != nil {
		log.Warn("shutdown interrupted task, leaving it claimed for recovery",
			slog.Int("attempts", attempts), slog.String("error", err.Error()))
		return
	}

	state := task.StateDone
	reason := ""
	if err != nil {
		state = task.StateFailed
		reason = err.Error()
		log.Error("task failed", slog.String("error", reason), slog.Int("attempts", attempts))
	} else {
		log.Info("task done",
			slog.Int("attempts", attempts),
			slog.Duration("took", time.Since(start)))
	}

	d.finish(ctx, t, state, attempts, reason, time.Since(start))

	// Acknowledge only after the outcome is terminal and recorded; a crash
	// before this point leaves the task claimed for Recover to requeue.
	if del.Ack != nil {
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := del.Ack(ackCtx); err != nil {
			log.Error("failed to acknowledge task", slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) attemptsFor(t task.Task) int {
	if t.AttemptsRemaining > 0 {
		return t.AttemptsRemaining
	}
	return d.cfg.MaxAttempts
}

// attempt runs a single bounded execution of the task.
func (d *Dispatcher) attempt(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = task.Terminalf("task handler panicked: %v", r)
		}
	}()

	h, err := d.resolver.Resolve(t)
	if err != nil {
		return task.Terminal(fmt.Errorf("resolve handler: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	err = h.Handle(ctx, t)
	if errors.Is(err, context.DeadlineExceeded) {
		return task.Transient(fmt.Errorf("task timed out after %s: %w", d.cfg.TaskTimeout, err))
	}
	return err
}

// finish records the terminal outcome in the journal, metrics, and reporter.
func (d *Dispatcher) finish(ctx context.Context, t task.Task, state task.State, attempts int, reason string, took time.Duration) {
	outcome := "done"
	if state == task.StateFailed {
		outcome = "failed"
	}
	d.metrics.TaskFinished(t.ResourceType, string(t.Operation), state == task.StateDone, took)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if d.journal != nil {
		err := d.journal.Record(recordCtx, journal.Entry{
			TaskID:       t.ID,
			ResourceType: t.ResourceType,
			Operation:    string(t.Operation),
			Target:       t.Target,
			State:        outcome,
			Attempts:     attempts,
			Reason:       reason,
		})
		if err != nil {
			d.log.Error("failed to journal task outcome",
				slog.String("task_id", t.ID), slog.String("error", err.Error()))
		}
	}

	err := d.reporter.Report(recordCtx, report.Outcome{
		OperationIdentity: t.CorrelationID,
		TaskID:            t.ID,
		ResourceType:      t.ResourceType,
		Operation:         string(t.Operation),
		Target:            t.Target,
		Success:           state == task.StateDone,
		Attempts:          attempts,
		Reason:            reason,
		Hostname:          d.hostname,
	})
	if err != nil {
		d.log.Error("failed to report task outcome",
			slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}
