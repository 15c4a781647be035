// Package app assembles the agent: config source, container runtime, task
// queue, execution pools, scheduler, and the metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/majorhost/taskexec/common/environment"
	"github.com/majorhost/taskexec/internal/taskexec/config"
	"github.com/majorhost/taskexec/internal/taskexec/dispatcher"
	"github.com/majorhost/taskexec/internal/taskexec/handler"
	"github.com/majorhost/taskexec/internal/taskexec/journal"
	"github.com/majorhost/taskexec/internal/taskexec/metrics"
	"github.com/majorhost/taskexec/internal/taskexec/queue"
	"github.com/majorhost/taskexec/internal/taskexec/report"
	"github.com/majorhost/taskexec/internal/taskexec/runtime/docker"
	"github.com/majorhost/taskexec/internal/taskexec/scheduler"
	"github.com/majorhost/taskexec/internal/taskexec/service"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// Config holds application configuration.
type Config struct {
	// ConfigPath is the node properties YAML document.
	ConfigPath string
	// ConfigTTL bounds how long fetched properties are served from cache.
	ConfigTTL time.Duration
	// JournalPath is the SQLite task journal. Empty disables journaling.
	JournalPath string
	// MetricsAddr is the Prometheus listen address (e.g. ":9090"). Empty
	// disables the endpoint.
	MetricsAddr string
	// ReportsKey is the Redis list outcome reports are pushed to.
	ReportsKey string
	// DrainTimeout bounds how long shutdown waits for in-flight tasks.
	DrainTimeout time.Duration
}

// App is the wired agent.
type App struct {
	config    *Config
	source    *config.CachedSource
	rdb       *redis.Client
	journal   *journal.Journal
	metrics   *metrics.Metrics
	dispatch  *dispatcher.Dispatcher
	consumer  *queue.Consumer
	scheduler *scheduler.Scheduler
}

// New wires the agent from its configuration.
func New(cfg *Config) (*App, error) {
	if cfg.ReportsKey == "" {
		cfg.ReportsKey = "reports"
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	log := slog.Default()

	source := config.NewCachedSource(config.FileSource{Path: cfg.ConfigPath}, cfg.ConfigTTL, log)
	props, err := source.Properties(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load initial config: %w", err)
	}
	// Deployment-local overrides beat the fetched document.
	hostname := environment.StringOr("TE_HOSTNAME", props.Hostname)
	queueAddr := environment.StringOr("TE_QUEUE_ADDR", props.Queue.Addr)
	queuePassword := environment.StringOr("TE_QUEUE_PASSWORD", props.Queue.Password)

	slog.Info("node config loaded",
		"hostname", hostname,
		"resource_types", props.EnabledResources,
		"services", len(props.Services))

	rdb := redis.NewClient(&redis.Options{
		Addr:     queueAddr,
		Password: queuePassword,
		DB:       props.Queue.DB,
	})

	rt, err := docker.New()
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect container runtime: %w", err)
	}
	rec := service.NewReconciler(rt, log)

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		slog.Info("opening task journal", "path", cfg.JournalPath)
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			rdb.Close()
			return nil, err
		}
	}

	reporter := report.NewRedis(rdb, cfg.ReportsKey)
	m := metrics.New()

	svcHandler := handler.NewService(source, rec, log)
	registry := handler.NewRegistry(
		handler.NewBackup(source, rec, log),
		handler.NewQuota(source, reporter, hostname, log),
	)
	for _, rtName := range props.EnabledResources {
		registry.Register(rtName, svcHandler)
	}

	disp := dispatcher.New(dispatcher.Config{
		Pools:           props.Pools,
		DefaultPoolSize: props.DefaultPoolSize,
		MaxAttempts:     props.Retry.MaxAttempts,
		RetryDelay:      props.Retry.InitialDelay,
		TaskTimeout:     props.TaskTimeout,
	}, registry, jnl, reporter, m, hostname, log)

	consumer := queue.NewConsumer(rdb, hostname, props.EnabledResources, disp, reporter, log)

	templates, err := scheduleTemplates(props.Schedule, source)
	if err != nil {
		rdb.Close()
		if jnl != nil {
			jnl.Close()
		}
		return nil, err
	}
	sched := scheduler.New(templates, disp, nil, log)

	return &App{
		config:    cfg,
		source:    source,
		rdb:       rdb,
		journal:   jnl,
		metrics:   m,
		dispatch:  disp,
		consumer:  consumer,
		scheduler: sched,
	}, nil
}

// scheduleTemplates expands the config's schedule map into scheduler
// templates. Keys are "<resource-type>.<operation>"; the resource-type
// segment selects declared services by kind, so a "database.backup" entry
// only fires at database services. Targets re-enumerate the declared
// services on every firing so config changes take effect without a restart.
func scheduleTemplates(entries map[string]config.ScheduleEntry, source *config.CachedSource) ([]scheduler.Template, error) {
	var templates []scheduler.Template
	for key, entry := range entries {
		resourceType, op, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("schedule key %q: want \"<resource-type>.<operation>\"", key)
		}

		mode := scheduler.ModeSerial
		if entry.Mode == "parallel" {
			mode = scheduler.ModeParallel
		}

		templates = append(templates, scheduler.Template{
			ResourceType: resourceType,
			Operation:    task.Operation(op),
			Daily:        entry.Daily,
			At:           entry.At,
			Interval:     entry.Interval,
			Mode:         mode,
			Targets: func() []string {
				props, err := source.Properties(context.Background())
				if err != nil {
					slog.Warn("schedule: config unavailable, skipping firing", "err", err)
					return nil
				}
				var names []string
				for _, decl := range props.Services {
					if decl.Kind == resourceType {
						names = append(names, decl.Name)
					}
				}
				return names
			},
		})
	}
	return templates, nil
}

// Run starts the agent and blocks until ctx is cancelled, then drains
// in-flight tasks before returning.
func (a *App) Run(ctx context.Context) error {
	var metricsServer *http.Server
	if a.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		metricsServer = &http.Server{Addr: a.config.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", a.config.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "err", err)
			}
		}()
	}

	// Requeue tasks a previous run left claimed before accepting new work.
	if err := a.consumer.Recover(ctx); err != nil {
		return fmt.Errorf("recover claimed tasks: %w", err)
	}

	consumerDone := make(chan struct{})
	go func() {
		a.consumer.Run(ctx)
		close(consumerDone)
	}()
	go a.scheduler.Run(ctx)

	slog.Info("agent is running")
	<-ctx.Done()

	slog.Info("shutting down, draining in-flight tasks",
		"timeout", a.config.DrainTimeout)
	<-consumerDone

	drained := make(chan struct{})
	go func() {
		a.dispatch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("all tasks drained")
	case <-time.After(a.config.DrainTimeout):
		slog.Warn("drain timeout reached; abandoning in-flight tasks")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	if a.journal != nil {
		a.journal.Close()
	}
	return a.rdb.Close()
}
