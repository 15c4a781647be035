// Package runtime defines the Client interface the service reconciler drives.
package runtime

import "context"

// Client abstracts the container runtime backend (Docker Engine in
// production, a fake in tests). All calls must be cancellable through ctx so
// a stuck daemon cannot block a dispatch worker permanently.
//
// Implementations classify their failures: transport/daemon-unreachable
// conditions are wrapped retryable, invalid specifications terminal
// (see the task package).
type Client interface {
	// PullImage fetches the image from its registry.
	PullImage(ctx context.Context, ref string) error

	// InspectImage returns the locally available image's ID and labels.
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)

	// Inspect returns the state of the named container, or ErrNotFound.
	Inspect(ctx context.Context, name string) (ContainerInfo, error)

	// Run creates and starts a detached container with restart policy
	// "always" and returns its container ID.
	Run(ctx context.Context, cfg RunConfig) (string, error)

	// Stop gracefully stops the named container.
	Stop(ctx context.Context, name string) error

	// Remove deletes the named container, force-stopping if needed.
	// Removing an absent container is not an error.
	Remove(ctx context.Context, name string) error

	// Exec runs cmd inside the named container and returns combined output.
	// A non-zero exit code is an error.
	Exec(ctx context.Context, name string, cmd []string) (string, error)

	// Signal delivers sig (e.g. "SIGHUP") to the container's first process.
	Signal(ctx context.Context, name, sig string) error
}
