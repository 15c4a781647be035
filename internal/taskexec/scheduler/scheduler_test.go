package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// fakeClock fires on demand.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, tick: make(chan time.Time)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.tick }

func (c *fakeClock) fire(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.tick <- t
}

// recordingSink collects deliveries and acknowledges them immediately unless
// hold is set.
type recordingSink struct {
	mu    sync.Mutex
	tasks []task.Task
	hold  chan struct{} // when non-nil, acks wait for it
}

func (s *recordingSink) Submit(ctx context.Context, del task.Delivery) {
	s.mu.Lock()
	s.tasks = append(s.tasks, del.Task)
	s.mu.Unlock()
	if del.Ack != nil {
		go func() {
			if s.hold != nil {
				<-s.hold
			}
			del.Ack(ctx)
		}()
	}
}

func (s *recordingSink) submitted() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Task(nil), s.tasks...)
}

func waitForTasks(t *testing.T, s *recordingSink, n int) []task.Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if tasks := s.submitted(); len(tasks) >= n {
			return tasks
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d tasks, have %d", n, len(s.submitted()))
		case <-time.After(time.Millisecond):
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextDelayDaily(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	s := New(nil, nil, clock, testLogger())

	tests := []struct {
		at   string
		want time.Duration
	}{
		{"11:30", 90 * time.Minute},
		{"10:00", 24 * time.Hour}, // exactly now fires tomorrow
		{"09:00", 23 * time.Hour},
	}
	for _, tt := range tests {
		got := s.nextDelay(Template{Daily: true, At: tt.at})
		if got != tt.want {
			t.Errorf("nextDelay(at=%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestNextDelayInterval(t *testing.T) {
	s := New(nil, nil, newFakeClock(time.Now()), testLogger())
	got := s.nextDelay(Template{Interval: 5 * time.Minute})
	if got != 5*time.Minute {
		t.Errorf("nextDelay = %v, want 5m", got)
	}
}

func TestParallelFiringSubmitsAllTargets(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	s := New([]Template{{
		ResourceType: "website",
		Operation:    task.OpQuotaReport,
		Interval:     time.Hour,
		Mode:         ModeParallel,
		Targets:      func() []string { return []string{"a.com", "b.com", "c.com"} },
	}}, sink, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	clock.fire(clock.Now().Add(time.Hour))
	tasks := waitForTasks(t, sink, 3)

	seen := map[string]bool{}
	for _, tsk := range tasks {
		if tsk.Operation != task.OpQuotaReport {
			t.Errorf("unexpected operation %q", tsk.Operation)
		}
		seen[tsk.Target] = true
	}
	for _, want := range []string{"a.com", "b.com", "c.com"} {
		if !seen[want] {
			t.Errorf("target %q never submitted", want)
		}
	}
}

func TestSerialFiringWaitsForAck(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
	hold := make(chan struct{})
	sink := &recordingSink{hold: hold}
	s := New([]Template{{
		ResourceType: "website",
		Operation:    task.OpBackup,
		Interval:     time.Hour,
		Mode:         ModeSerial,
		Targets:      func() []string { return []string{"a.com", "b.com"} },
	}}, sink, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	clock.fire(clock.Now().Add(time.Hour))

	waitForTasks(t, sink, 1)
	time.Sleep(20 * time.Millisecond)
	if got := len(sink.submitted()); got != 1 {
		t.Fatalf("second target submitted before first was acknowledged: %d tasks", got)
	}

	close(hold)
	tasks := waitForTasks(t, sink, 2)
	if tasks[0].Target != "a.com" || tasks[1].Target != "b.com" {
		t.Errorf("serial order wrong: %q then %q", tasks[0].Target, tasks[1].Target)
	}
}

func TestTargetsReevaluatedEachFiring(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))
	sink := &recordingSink{}

	var mu sync.Mutex
	targets := []string{"a.com"}
	s := New([]Template{{
		ResourceType: "website",
		Operation:    task.OpBackup,
		Interval:     time.Hour,
		Mode:         ModeParallel,
		Targets: func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), targets...)
		},
	}}, sink, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	clock.fire(clock.Now().Add(time.Hour))
	waitForTasks(t, sink, 1)

	mu.Lock()
	targets = []string{"a.com", "new.com"}
	mu.Unlock()

	clock.fire(clock.Now().Add(time.Hour))
	tasks := waitForTasks(t, sink, 3)
	if tasks[len(tasks)-1].Target != "new.com" {
		t.Errorf("new target not picked up on second firing: %+v", tasks)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock(time.Now())
	sink := &recordingSink{}
	s := New([]Template{{
		ResourceType: "website",
		Operation:    task.OpBackup,
		Interval:     time.Hour,
		Mode:         ModeParallel,
		Targets:      func() []string { return nil },
	}}, sink, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
