// Package runtime defines shared types for the container runtime abstraction.
package runtime

import "errors"

// ErrNotFound is returned by Inspect when no container with the given name
// exists. Callers treat it as status DOWN, never as a failure.
var ErrNotFound = errors.New("runtime: container not found")

// MountKind discriminates mount specifications.
type MountKind string

const (
	MountBind  MountKind = "bind"
	MountTmpfs MountKind = "tmpfs"
)

// Mount is one declarative mount of a service specification.
type Mount struct {
	// Kind is bind or tmpfs.
	Kind MountKind `json:"kind" yaml:"kind"`
	// Source is the host directory. Required for bind mounts, forbidden
	// for tmpfs.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Target is the path inside the container. Unique within a spec.
	Target string `json:"target" yaml:"target"`
	// ReadOnly mounts the target read-only.
	ReadOnly bool `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// RunConfig describes a container to create and start detached.
type RunConfig struct {
	// Name is the container name. At most one live container per name.
	Name string
	// Image is the image reference to run.
	Image string
	// Mounts are translated faithfully into runtime mount objects.
	Mounts []Mount
	// NetworkMode is the runtime network mode (e.g. "host", "bridge").
	NetworkMode string
	// Hostname inside the container. Empty means runtime default.
	Hostname string
	// Env holds environment entries for the container process.
	Env map[string]string
	// Labels are attached to the container (ownership, run hints).
	Labels map[string]string
}

// ContainerInfo is the observed state of a named container.
type ContainerInfo struct {
	// ID is the runtime container ID.
	ID string
	// Running reports whether the container process is up.
	Running bool
	// Labels are the container's effective labels (image labels included).
	Labels map[string]string
	// ImageID is the ID of the image the container was created from.
	ImageID string
	// Pid is the container's first process, 0 when not running.
	Pid int
}

// ImageInfo is the observed state of a pulled image.
type ImageInfo struct {
	// ID is the content-addressed image ID.
	ID string
	// Labels are the image's config labels (self-describing metadata).
	Labels map[string]string
}
