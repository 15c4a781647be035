// Package scheduler generates recurring maintenance tasks (backups, quota
// reports) on daily or fixed-interval timetables and feeds them to the
// execution pools alongside queue-delivered work.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode controls how one firing fans out across targets.
type Mode string

const (
	// ModeSerial submits targets one at a time, waiting for each task to
	// reach a terminal outcome before the next. Used for IO-heavy work.
	ModeSerial Mode = "serial"
	// ModeParallel submits all targets at once and lets the pools bound
	// actual concurrency.
	ModeParallel Mode = "parallel"
)

// Template describes one recurring task family.
type Template struct {
	ResourceType string
	Operation    task.Operation
	// Daily fires once per day at the wall-clock time At ("HH:MM", local).
	// When false, Interval drives the timetable instead.
	Daily    bool
	At       string
	Interval time.Duration
	Mode     Mode
	// Targets enumerates the resources to act on at firing time. It is
	// re-evaluated on every firing so config reloads take effect.
	Targets func() []string
}

// Sink receives generated deliveries. The dispatcher satisfies this.
type Sink interface {
	Submit(ctx context.Context, del task.Delivery)
}

// Scheduler drives a set of templates.
type Scheduler struct {
	templates []Template
	sink      Sink
	clock     Clock
	log       *slog.Logger
}

// New builds a scheduler. A nil clock means wall-clock time.
func New(templates []Template, sink Sink, clock Clock, log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{templates: templates, sink: sink, clock: clock, log: log}
}

// Run blocks until ctx is cancelled, firing each template on its timetable.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tpl := range s.templates {
		wg.Add(1)
		go func(tpl Template) {
			defer wg.Done()
			s.runTemplate(ctx, tpl)
		}(tpl)
	}
	wg.Wait()
}

func (s *Scheduler) runTemplate(ctx context.Context, tpl Template) {
	log := s.log.With(
		slog.String("resource_type", tpl.ResourceType),
		slog.String("operation", string(tpl.Operation)))

	for {
		delay := s.nextDelay(tpl)
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}

		// Firing runs inline so a slow serial fan-out naturally skips
		// missed firings: the next delay is computed from now, after
		// the previous run finished.
		s.fire(ctx, tpl, log)
	}
}

// nextDelay computes how long to sleep before the template's next firing.
func (s *Scheduler) nextDelay(tpl Template) time.Duration {
	if !tpl.Daily {
		return tpl.Interval
	}
	now := s.clock.Now()
	at, err := time.ParseInLocation("15:04", tpl.At, now.Location())
	if err != nil {
		// Validated at config load; fall back to a daily cadence.
		return 24 * time.Hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *Scheduler) fire(ctx context.Context, tpl Template, log *slog.Logger) {
	targets := tpl.Targets()
	log.Info("scheduled run starting",
		slog.Int("targets", len(targets)), slog.String("mode", string(tpl.Mode)))

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		tsk := task.New(tpl.ResourceType, tpl.Operation, target, nil)

		if tpl.Mode == ModeSerial {
			done := make(chan struct{})
			s.sink.Submit(ctx, task.Delivery{
				Task: tsk,
				Ack: func(context.Context) error {
					close(done)
					return nil
				},
			})
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}

		s.sink.Submit(ctx, task.Delivery{Task: tsk})
	}
}
