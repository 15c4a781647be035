// Package docker provides a Docker Engine adapter for the runtime.Client
// capability the service reconciler drives.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/majorhost/taskexec/internal/taskexec/runtime"
	"github.com/majorhost/taskexec/internal/taskexec/task"
)

const (
	labelManagedBy = "taskexec.managed-by"
	managedByValue = "taskexec"

	// stopTimeout is how long to wait for graceful container stop before SIGKILL.
	stopTimeout = 10 * time.Second
)

// Adapter implements runtime.Client using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
}

// New creates a Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli}, nil
}

// classify wraps Docker Engine errors per the task taxonomy: invalid
// specifications and definitively missing objects are terminal, everything
// else (daemon unreachable, registry flakiness) is worth retrying.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errdefs.IsInvalidParameter(err) || errdefs.IsNotFound(err) {
		return task.Terminal(wrapped)
	}
	return task.Transient(wrapped)
}

// PullImage fetches ref from its registry. Registry unavailability is
// retryable; a reference that does not exist is not.
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("pull image "+ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return task.Transient(fmt.Errorf("pull image %s: read progress: %w", ref, err))
	}
	return nil
}

// InspectImage returns the ID and config labels of a locally present image.
func (a *Adapter) InspectImage(ctx context.Context, ref string) (runtime.ImageInfo, error) {
	inspect, _, err := a.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return runtime.ImageInfo{}, classify("inspect image "+ref, err)
	}
	labels := map[string]string{}
	if inspect.Config != nil {
		labels = inspect.Config.Labels
	}
	return runtime.ImageInfo{ID: inspect.ID, Labels: labels}, nil
}

// Inspect returns the live state of the named container.
func (a *Adapter) Inspect(ctx context.Context, name string) (runtime.ContainerInfo, error) {
	inspect, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.ContainerInfo{}, runtime.ErrNotFound
		}
		return runtime.ContainerInfo{}, classify("inspect container "+name, err)
	}

	info := runtime.ContainerInfo{
		ID:      inspect.ID,
		ImageID: inspect.Image,
	}
	if inspect.Config != nil {
		info.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		info.Running = inspect.State.Running
		info.Pid = inspect.State.Pid
	}
	return info, nil
}

// Run creates and starts a detached container with restart policy "always".
func (a *Adapter) Run(ctx context.Context, cfg runtime.RunConfig) (string, error) {
	if cfg.Image == "" {
		return "", task.Terminalf("run %s: image reference is required", cfg.Name)
	}

	mounts, err := translateMounts(cfg.Mounts)
	if err != nil {
		return "", task.Terminal(fmt.Errorf("run %s: %w", cfg.Name, err))
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{labelManagedBy: managedByValue}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	containerCfg := &container.Config{
		Image:  cfg.Image,
		Env:    env,
		Labels: labels,
	}
	// The engine rejects a custom hostname together with host networking.
	if cfg.NetworkMode != "host" {
		containerCfg.Hostname = cfg.Hostname
	}
	hostCfg := &container.HostConfig{
		Mounts:        mounts,
		NetworkMode:   container.NetworkMode(cfg.NetworkMode),
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", classify("create container "+cfg.Name, err)
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup so a retried Run does not hit a name conflict.
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", classify("start container "+cfg.Name, err)
	}
	return resp.ID, nil
}

// Stop gracefully stops the named container.
func (a *Adapter) Stop(ctx context.Context, name string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return classify("stop container "+name, err)
	}
	return nil
}

// Remove deletes the named container. Absence is not an error.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	err := a.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return classify("remove container "+name, err)
	}
	return nil
}

// Exec runs cmd inside the named container and returns its combined output.
func (a *Adapter) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	exec, err := a.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	})
	if err != nil {
		return "", classify("exec create in "+name, err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, exec.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return "", classify("exec attach in "+name, err)
	}
	defer attach.Close()

	out, err := io.ReadAll(attach.Reader)
	if err != nil {
		return "", task.Transient(fmt.Errorf("exec read in %s: %w", name, err))
	}

	inspect, err := a.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return "", classify("exec inspect in "+name, err)
	}
	if inspect.ExitCode != 0 {
		return string(out), task.Transient(fmt.Errorf("exec in %s: exit code %d: %s",
			name, inspect.ExitCode, string(out)))
	}
	return string(out), nil
}

// Signal delivers sig to the container's first process.
func (a *Adapter) Signal(ctx context.Context, name, sig string) error {
	if err := a.client.ContainerKill(ctx, name, sig); err != nil {
		return classify("signal "+sig+" to "+name, err)
	}
	return nil
}

// translateMounts converts declarative mounts into Docker mount objects,
// propagating type, source, target and the read-only flag faithfully.
func translateMounts(specs []runtime.Mount) ([]mount.Mount, error) {
	mounts := make([]mount.Mount, 0, len(specs))
	for _, m := range specs {
		switch m.Kind {
		case runtime.MountBind:
			if m.Source == "" {
				return nil, fmt.Errorf("bind mount %s: source is required", m.Target)
			}
			mounts = append(mounts, mount.Mount{
				Type:     mount.TypeBind,
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			})
		case runtime.MountTmpfs:
			if m.Source != "" {
				return nil, fmt.Errorf("tmpfs mount %s: source must be empty", m.Target)
			}
			mounts = append(mounts, mount.Mount{
				Type:     mount.TypeTmpfs,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			})
		default:
			return nil, fmt.Errorf("mount %s: unknown kind %q", m.Target, m.Kind)
		}
	}
	return mounts, nil
}

// ensure the adapter satisfies the capability interface.
var _ runtime.Client = (*Adapter)(nil)
