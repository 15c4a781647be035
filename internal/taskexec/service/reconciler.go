package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/majorhost/taskexec/internal/taskexec/observability"
	"github.com/majorhost/taskexec/internal/taskexec/runtime"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

// Status is the observed state of a named service. It is always recomputed
// from the runtime, never persisted, which makes every reconcile operation
// self-healing after an agent restart.
type Status int

const (
	StatusDown Status = iota
	StatusUp
)

func (s Status) String() string {
	if s == StatusUp {
		return "UP"
	}
	return "DOWN"
}

// Reconciler translates a Spec into concrete container-runtime operations and
// computes idempotent transitions between desired and observed state.
// Operations against the same service name are serialized; distinct services
// reconcile fully in parallel.
type Reconciler struct {
	rt  runtime.Client
	log *slog.Logger

	mu    sync.Mutex
	names map[string]*sync.Mutex
}

// NewReconciler creates a Reconciler over the given runtime client.
func NewReconciler(rt runtime.Client, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{rt: rt, log: log, names: make(map[string]*sync.Mutex)}
}

// lock acquires the per-service-name exclusive section and returns the
// unlock function.
func (r *Reconciler) lock(name string) func() {
	r.mu.Lock()
	m, ok := r.names[name]
	if !ok {
		m = &sync.Mutex{}
		r.names[name] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Status reports whether the named service is up. Absence of the container
// is DOWN, not an error.
func (r *Reconciler) Status(ctx context.Context, spec Spec) (Status, error) {
	defer r.lock(spec.Name)()
	return r.status(ctx, spec.Name)
}

func (r *Reconciler) status(ctx context.Context, name string) (Status, error) {
	info, err := r.rt.Inspect(ctx, name)
	if errors.Is(err, runtime.ErrNotFound) {
		return StatusDown, nil
	}
	if err != nil {
		return StatusDown, err
	}
	if info.Running {
		return StatusUp, nil
	}
	return StatusDown, nil
}

// Start brings the service up. Idempotent: a live container already matching
// the spec is left untouched; a stale or conflicting container with the same
// name is stopped and removed before the new one starts.
func (r *Reconciler) Start(ctx context.Context, spec Spec) error {
	defer r.lock(spec.Name)()
	return r.start(ctx, spec)
}

func (r *Reconciler) start(ctx context.Context, spec Spec) error {
	log := observability.WithTrace(ctx, r.log)
	if err := spec.Validate(); err != nil {
		return task.Terminal(err)
	}

	info, err := r.rt.Inspect(ctx, spec.Name)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		// fresh start
	case err != nil:
		return err
	case info.Running && r.upToDate(info, spec):
		log.Debug("service already up with matching spec", "service", spec.Name)
		return nil
	default:
		// A stopped, stale, or otherwise conflicting container occupies the
		// name. Any mismatch means full recreation.
		log.Info("removing conflicting container before start",
			"service", spec.Name, "running", info.Running)
		if err := r.stopRemove(ctx, spec.Name); err != nil {
			return err
		}
	}

	if err := r.rt.PullImage(ctx, spec.Image); err != nil {
		// The image may still be present locally; Run will tell.
		log.Warn("image pull failed, trying local image",
			"service", spec.Name, "image", spec.Image, "error", err)
	}

	for _, m := range spec.Mounts {
		if m.Kind == runtime.MountBind {
			if err := os.MkdirAll(m.Source, 0o755); err != nil {
				return task.Transient(fmt.Errorf("create bind source %s: %w", m.Source, err))
			}
		}
	}

	hints, err := HintsFor(spec).Encode()
	if err != nil {
		return task.Terminal(err)
	}

	log.Info("starting service", "service", spec.Name, "image", spec.Image,
		"network_mode", spec.NetworkMode, "mounts", len(spec.Mounts))
	id, err := r.rt.Run(ctx, runtime.RunConfig{
		Name:        spec.Name,
		Image:       spec.Image,
		Mounts:      spec.Mounts,
		NetworkMode: spec.NetworkMode,
		Hostname:    spec.Hostname,
		Env:         spec.Env,
		Labels:      map[string]string{RunHintsLabel: hints},
	})
	if err != nil {
		return err
	}

	status, err := r.status(ctx, spec.Name)
	if err != nil {
		return err
	}
	if status != StatusUp {
		return task.Transient(fmt.Errorf("service %s (container %s) not up after start", spec.Name, id))
	}
	return nil
}

// Stop takes the service down. Idempotent: an already-absent container is a
// successful no-op.
func (r *Reconciler) Stop(ctx context.Context, spec Spec) error {
	defer r.lock(spec.Name)()
	return r.stop(ctx, spec)
}

func (r *Reconciler) stop(ctx context.Context, spec Spec) error {
	log := observability.WithTrace(ctx, r.log)
	_, err := r.rt.Inspect(ctx, spec.Name)
	if errors.Is(err, runtime.ErrNotFound) {
		log.Debug("service already down", "service", spec.Name)
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("stopping service", "service", spec.Name)
	if err := r.stopRemove(ctx, spec.Name); err != nil {
		return err
	}

	status, err := r.status(ctx, spec.Name)
	if err != nil {
		return err
	}
	if status != StatusDown {
		return task.Transient(fmt.Errorf("service %s still up after stop", spec.Name))
	}
	return nil
}

func (r *Reconciler) stopRemove(ctx context.Context, name string) error {
	if err := r.rt.Stop(ctx, name); err != nil {
		return err
	}
	return r.rt.Remove(ctx, name)
}

// Reload refreshes the service's configuration with as little disruption as
// the variant allows. A DOWN service is started instead (self-healing); an
// outdated image forces recreation; otherwise the kind's reload strategy
// runs: image-defined reload command, then SIGHUP, then stop+start.
func (r *Reconciler) Reload(ctx context.Context, spec Spec) error {
	defer r.lock(spec.Name)()
	log := observability.WithTrace(ctx, r.log)

	info, err := r.rt.Inspect(ctx, spec.Name)
	if errors.Is(err, runtime.ErrNotFound) || (err == nil && !info.Running) {
		log.Warn("reload requested but service is down, starting it", "service", spec.Name)
		return r.start(ctx, spec)
	}
	if err != nil {
		return err
	}

	if err := r.rt.PullImage(ctx, spec.Image); err != nil {
		log.Warn("image pull failed during reload", "service", spec.Name, "error", err)
	} else if img, ierr := r.rt.InspectImage(ctx, spec.Image); ierr == nil && img.ID != info.ImageID {
		log.Info("image changed, recreating service", "service", spec.Name, "image", spec.Image)
		if err := r.stopRemove(ctx, spec.Name); err != nil {
			return err
		}
		return r.start(ctx, spec)
	}

	v := variantFor(spec.Kind)

	if v.reloadCommand != "" {
		if cmd, ok := DefinedCommands(info.Labels)[v.reloadCommand]; ok {
			log.Info("reloading service via image-defined command",
				"service", spec.Name, "command", cmd)
			_, err := r.rt.Exec(ctx, spec.Name, strings.Fields(cmd))
			return err
		}
	}

	if v.signalReload && info.Pid > 0 {
		log.Info("reloading service via SIGHUP", "service", spec.Name, "pid", info.Pid)
		return r.rt.Signal(ctx, spec.Name, "SIGHUP")
	}

	log.Info("no in-place reload for service, recreating", "service", spec.Name, "kind", spec.Kind)
	if err := r.stopRemove(ctx, spec.Name); err != nil {
		return err
	}
	return r.start(ctx, spec)
}

// ExecDefined runs an image-defined command (a "taskexec.exec.<name>" label)
// inside the running service container, expanding ${var} references from
// vars. Used by handlers for maintenance actions such as backups.
func (r *Reconciler) ExecDefined(ctx context.Context, spec Spec, cmdName string, vars map[string]string) (string, error) {
	defer r.lock(spec.Name)()
	log := observability.WithTrace(ctx, r.log)

	info, err := r.rt.Inspect(ctx, spec.Name)
	if errors.Is(err, runtime.ErrNotFound) {
		return "", task.Terminalf("exec %s: service %s is not running", cmdName, spec.Name)
	}
	if err != nil {
		return "", err
	}
	if !info.Running {
		return "", task.Terminalf("exec %s: service %s is not running", cmdName, spec.Name)
	}

	tpl, ok := DefinedCommands(info.Labels)[cmdName]
	if !ok {
		return "", task.Terminalf("command %s is not defined for %s, see image labels", cmdName, spec.Name)
	}

	cmd := os.Expand(tpl, func(key string) string { return vars[key] })
	log.Info("running image-defined command", "service", spec.Name, "name", cmdName, "command", cmd)
	return r.rt.Exec(ctx, spec.Name, strings.Fields(cmd))
}

// upToDate compares the live container's recorded run hints against the
// desired spec. Missing or unparseable hints count as divergence.
func (r *Reconciler) upToDate(info runtime.ContainerInfo, spec Spec) bool {
	raw, ok := info.Labels[RunHintsLabel]
	if !ok {
		return false
	}
	live, err := ParseRunHints(raw)
	if err != nil {
		r.log.Warn("unreadable run hints on live container", "service", spec.Name, "error", err)
		return false
	}
	return live.Equal(HintsFor(spec))
}

// DefinedCommands extracts image-defined command templates from labels.
func DefinedCommands(labels map[string]string) map[string]string {
	cmds := make(map[string]string)
	for k, v := range labels {
		if strings.HasPrefix(k, ExecLabelPrefix) {
			cmds[strings.TrimPrefix(k, ExecLabelPrefix)] = v
		}
	}
	return cmds
}
