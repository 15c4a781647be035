// Package handler maps tasks onto concrete resource operations. Each
// resource type has a handler; the registry routes tasks to them, with
// backups and quota reports handled by dedicated handlers that work across
// all containerized resource types.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/majorhost/taskexec/internal/taskexec/config"
	"github.com/majorhost/taskexec/internal/taskexec/dispatcher"
	"github.com/majorhost/taskexec/internal/taskexec/observability"
	"github.com/majorhost/taskexec/internal/taskexec/report"
	"github.com/majorhost/taskexec/internal/taskexec/runtime"
	"github.com/majorhost/taskexec/internal/taskexec/service"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// PropertySource yields the current node configuration.
type PropertySource interface {
	Properties(ctx context.Context) (*config.Properties, error)
}

// ServiceReconciler is the slice of the reconciler the handlers drive.
type ServiceReconciler interface {
	Start(ctx context.Context, spec service.Spec) error
	Stop(ctx context.Context, spec service.Spec) error
	Reload(ctx context.Context, spec service.Spec) error
	ExecDefined(ctx context.Context, spec service.Spec, cmdName string, vars map[string]string) (string, error)
}

// resolveSpec finds the declared spec for a task target. Task params take
// precedence over the node config so that newly created resources are
// actionable before a config refresh lands.
func resolveSpec(ctx context.Context, src PropertySource, t task.Task) (service.Spec, error) {
	if len(t.Params) > 0 {
		var decl config.ServiceDecl
		if err := json.Unmarshal(t.Params, &decl); err != nil {
			return service.Spec{}, task.Terminal(fmt.Errorf("decode service params for %q: %w", t.Target, err))
		}
		if decl.Name != "" {
			return decl.Spec(), nil
		}
	}

	props, err := src.Properties(ctx)
	if err != nil {
		return service.Spec{}, task.Transient(fmt.Errorf("load node config: %w", err))
	}
	decl, ok := props.ServiceByName(t.Target)
	if !ok {
		return service.Spec{}, task.Terminal(fmt.Errorf("service %q is not declared on this node", t.Target))
	}
	return decl.Spec(), nil
}

// Service handles create/update/delete/reload for containerized services.
type Service struct {
	source PropertySource
	rec    ServiceReconciler
	log    *slog.Logger
}

func NewService(source PropertySource, rec ServiceReconciler, log *slog.Logger) *Service {
	return &Service{source: source, rec: rec, log: log}
}

func (h *Service) Handle(ctx context.Context, t task.Task) error {
	switch t.Operation {
	case task.OpCreate, task.OpUpdate:
		spec, err := resolveSpec(ctx, h.source, t)
		if err != nil {
			return err
		}
		return h.rec.Start(ctx, spec)
	case task.OpDelete:
		// The declaration is usually gone from config by the time the
		// delete task arrives; the container name is all we need.
		return h.rec.Stop(ctx, service.Spec{Name: t.Target})
	case task.OpReload:
		spec, err := resolveSpec(ctx, h.source, t)
		if err != nil {
			return err
		}
		return h.rec.Reload(ctx, spec)
	default:
		return task.Terminalf("operation %q is not supported for services", t.Operation)
	}
}

// Backup runs the image-defined backup command of a target service.
type Backup struct {
	source PropertySource
	rec    ServiceReconciler
	log    *slog.Logger
}

func NewBackup(source PropertySource, rec ServiceReconciler, log *slog.Logger) *Backup {
	return &Backup{source: source, rec: rec, log: log}
}

// backupCommand is the exec label key (without prefix) images define for
// their backup procedure.
const backupCommand = "backup-cmd"

func (h *Backup) Handle(ctx context.Context, t task.Task) error {
	spec, err := resolveSpec(ctx, h.source, t)
	if err != nil {
		return err
	}

	vars := map[string]string{}
	for _, m := range spec.Mounts {
		if m.Kind == runtime.MountBind {
			vars["dir"] = m.Target
			break
		}
	}

	out, err := h.rec.ExecDefined(ctx, spec, backupCommand, vars)
	if err != nil {
		return fmt.Errorf("backup %q: %w", t.Target, err)
	}
	observability.WithTrace(ctx, h.log).Info("backup finished",
		slog.String("service", t.Target), slog.String("output", out))
	return nil
}

// Quota measures disk usage of a service's bind mounts and reports it.
type Quota struct {
	source   PropertySource
	usage    report.UsageReporter
	hostname string
	log      *slog.Logger
}

func NewQuota(source PropertySource, usage report.UsageReporter, hostname string, log *slog.Logger) *Quota {
	return &Quota{source: source, usage: usage, hostname: hostname, log: log}
}

func (h *Quota) Handle(ctx context.Context, t task.Task) error {
	spec, err := resolveSpec(ctx, h.source, t)
	if err != nil {
		return err
	}

	var total int64
	for _, m := range spec.Mounts {
		if m.Kind != runtime.MountBind {
			continue
		}
		n, err := dirSize(m.Source)
		if err != nil {
			return task.Transient(fmt.Errorf("measure %q: %w", m.Source, err))
		}
		total += n
	}

	return h.usage.ReportUsage(ctx, report.Usage{
		ResourceType: t.ResourceType,
		Target:       t.Target,
		Hostname:     h.hostname,
		BytesUsed:    total,
	})
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Registry routes tasks to handlers. It satisfies the dispatcher's resolver
// contract.
type Registry struct {
	byType map[string]dispatcher.Handler
	backup dispatcher.Handler
	quota  dispatcher.Handler
}

func NewRegistry(backup, quota dispatcher.Handler) *Registry {
	return &Registry{
		byType: make(map[string]dispatcher.Handler),
		backup: backup,
		quota:  quota,
	}
}

// Register binds a handler to a resource type.
func (r *Registry) Register(resourceType string, h dispatcher.Handler) {
	r.byType[resourceType] = h
}

func (r *Registry) Resolve(t task.Task) (dispatcher.Handler, error) {
	switch t.Operation {
	case task.OpBackup:
		if r.backup == nil {
			return nil, fmt.Errorf("backups are not configured on this node")
		}
		return r.backup, nil
	case task.OpQuotaReport:
		if r.quota == nil {
			return nil, fmt.Errorf("quota reporting is not configured on this node")
		}
		return r.quota, nil
	}
	h, ok := r.byType[t.ResourceType]
	if !ok {
		return nil, fmt.Errorf("no handler for resource type %q", t.ResourceType)
	}
	return h, nil
}
