package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an image or container does not exist.
var ErrNotFound = errors.New("not found")

// Runtime is the set of container-engine operations the engine relies on.
// Every method may block on I/O and honors ctx cancellation.
type Runtime interface {
	// InspectImage returns nil when ref is present locally and ErrNotFound
	// when it is not. Any other error means the runtime could not answer.
	InspectImage(ctx context.Context, ref string) error

	// PullImage fetches ref and reports each progress message to progress,
	// which may be nil.
	PullImage(ctx context.Context, ref string, progress func(PullEvent)) error

	// CreateContainer creates (but does not start) a container and returns its ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// WaitContainer blocks until the container is no longer running and
	// returns its exit code.
	WaitContainer(ctx context.Context, id string) (int64, error)

	// StopContainer asks the container to stop, killing it after grace.
	StopContainer(ctx context.Context, id string, grace time.Duration) error

	// RemoveContainer deletes the container. With force, a running container
	// is killed first. Returns ErrNotFound if the container does not exist.
	RemoveContainer(ctx context.Context, id string, force bool) error

	// ListContainers returns containers matching opts.
	ListContainers(ctx context.Context, opts ListOptions) ([]Container, error)
}

// ContainerSpec describes a container to be created.
type ContainerSpec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Cmd         []string          `json:"cmd,omitempty"`
	Env         []string          `json:"env,omitempty"`
	Binds       []string          `json:"binds,omitempty"`
	NetworkMode string            `json:"network_mode,omitempty"`
	Privileged  bool              `json:"privileged,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Container is a summary of a container known to the runtime.
type Container struct {
	ID     string            `json:"id"`
	Names  []string          `json:"names"`
	Image  string            `json:"image"`
	State  string            `json:"state"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Container states reported by runtimes.
const (
	StateCreated = "created"
	StateRunning = "running"
	StateExited  = "exited"
)

// HasName reports whether the container is known under exactly name. Docker
// reports names with a leading slash; both forms match.
func (c Container) HasName(name string) bool {
	for _, n := range c.Names {
		if n == name || n == "/"+name {
			return true
		}
	}
	return false
}

// ListOptions filters ListContainers.
type ListOptions struct {
	// All includes stopped containers.
	All bool
	// Name restricts results to containers whose name contains Name.
	Name string
	// Labels restricts results to containers carrying every key=value pair.
	Labels map[string]string
	// Running restricts results to running containers.
	Running bool
}

// PullEvent is one progress message from an image pull.
type PullEvent struct {
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}
