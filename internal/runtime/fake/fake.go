// Package fake provides an in-memory runtime.Runtime with deterministic,
// test-controlled container lifecycles.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/dsplatform/internal/runtime"
)

// Operation names used by Calls and FailOn.
const (
	OpInspectImage    = "inspect_image"
	OpPullImage       = "pull_image"
	OpCreateContainer = "create_container"
	OpStartContainer  = "start_container"
	OpWaitContainer   = "wait_container"
	OpStopContainer   = "stop_container"
	OpRemoveContainer = "remove_container"
	OpListContainers  = "list_containers"
)

// Exit codes reported for containers terminated by the runtime itself.
const (
	ExitCodeStopped = 143
	ExitCodeKilled  = 137
)

// ErrConflict is returned when creating a container whose name is taken.
var ErrConflict = errors.New("container name already in use")

// ErrRunning is returned when removing a running container without force.
var ErrRunning = errors.New("container is running")

// Compile-time interface satisfaction check.
var _ runtime.Runtime = (*Runtime)(nil)

// AutoExitFunc decides, when a container starts, whether it exits on its own
// and after how long. Returning ok=false leaves the container running until
// Exit, StopContainer or a forced RemoveContainer.
type AutoExitFunc func(spec runtime.ContainerSpec) (after time.Duration, code int64, ok bool)

type container struct {
	id       string
	spec     runtime.ContainerSpec
	state    string
	exitCode int64
	done     chan struct{}
}

// Runtime is an in-memory container runtime. It is safe for concurrent use.
type Runtime struct {
	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*container
	nextID     int
	calls      map[string]int
	failures   map[string]error
	lastGrace  map[string]time.Duration
	autoExit   AutoExitFunc
	pullEvents []runtime.PullEvent
}

// Option configures a fake Runtime.
type Option func(*Runtime)

// WithImages marks refs as already present.
func WithImages(refs ...string) Option {
	return func(r *Runtime) {
		for _, ref := range refs {
			r.images[ref] = true
		}
	}
}

// WithAutoExit installs fn to schedule container exits on start.
func WithAutoExit(fn AutoExitFunc) Option {
	return func(r *Runtime) {
		r.autoExit = fn
	}
}

// New creates an empty fake runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		images:     make(map[string]bool),
		containers: make(map[string]*container),
		calls:      make(map[string]int),
		failures:   make(map[string]error),
		lastGrace:  make(map[string]time.Duration),
		pullEvents: []runtime.PullEvent{
			{Status: "Pulling fs layer", ID: "layer0"},
			{Status: "Download complete", ID: "layer0"},
			{Status: "Pull complete", ID: "layer0"},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FailOn makes every subsequent call to op return err. A nil err clears it.
func (r *Runtime) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Calls returns how many times op was invoked.
func (r *Runtime) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// TotalCalls returns the number of runtime calls across all operations.
func (r *Runtime) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

// HasImage reports whether ref is present.
func (r *Runtime) HasImage(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[ref]
}

// AddContainer registers an already-running container that was not created
// through this runtime, such as a service under test.
func (r *Runtime) AddContainer(name string, labels map[string]string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.newContainerLocked(runtime.ContainerSpec{Name: name, Image: "service:latest", Labels: labels})
	c.state = runtime.StateRunning
	return c.id
}

// Spec returns the spec a container was created from, looked up by name.
func (r *Runtime) Spec(name string) (runtime.ContainerSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byNameLocked(name)
	if c == nil {
		return runtime.ContainerSpec{}, false
	}
	return c.spec, true
}

// State returns the state of the named container, or "" if it does not exist.
func (r *Runtime) State(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.byNameLocked(name); c != nil {
		return c.state
	}
	return ""
}

// LastStopGrace returns the grace period passed to the last StopContainer
// call for the container ID.
func (r *Runtime) LastStopGrace(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGrace[id]
}

// Exit makes the named running container exit with code.
func (r *Runtime) Exit(name string, code int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byNameLocked(name)
	if c == nil {
		return fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	r.exitLocked(c, code)
	return nil
}

// InspectImage implements runtime.Runtime.
func (r *Runtime) InspectImage(ctx context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpInspectImage); err != nil {
		return err
	}
	if !r.images[ref] {
		return fmt.Errorf("image %s: %w", ref, runtime.ErrNotFound)
	}
	return nil
}

// PullImage implements runtime.Runtime.
func (r *Runtime) PullImage(ctx context.Context, ref string, progress func(runtime.PullEvent)) error {
	r.mu.Lock()
	if err := r.enterLocked(ctx, OpPullImage); err != nil {
		r.mu.Unlock()
		return err
	}
	events := append([]runtime.PullEvent(nil), r.pullEvents...)
	r.images[ref] = true
	r.mu.Unlock()

	if progress != nil {
		for _, ev := range events {
			progress(ev)
		}
	}
	return nil
}

// CreateContainer implements runtime.Runtime.
func (r *Runtime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpCreateContainer); err != nil {
		return "", err
	}
	if !r.images[spec.Image] {
		return "", fmt.Errorf("image %s: %w", spec.Image, runtime.ErrNotFound)
	}
	if spec.Name != "" && r.byNameLocked(spec.Name) != nil {
		return "", fmt.Errorf("create %s: %w", spec.Name, ErrConflict)
	}
	return r.newContainerLocked(spec).id, nil
}

// StartContainer implements runtime.Runtime.
func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpStartContainer); err != nil {
		return err
	}
	c, ok := r.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
	}
	if c.state == runtime.StateRunning {
		return nil
	}
	c.state = runtime.StateRunning

	if r.autoExit != nil {
		if after, code, ok := r.autoExit(c.spec); ok {
			time.AfterFunc(after, func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				r.exitLocked(c, code)
			})
		}
	}
	return nil
}

// WaitContainer implements runtime.Runtime.
func (r *Runtime) WaitContainer(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	if err := r.enterLocked(ctx, OpWaitContainer); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	c, ok := r.containers[id]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
	}
	done := c.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return c.exitCode, nil
}

// StopContainer implements runtime.Runtime.
func (r *Runtime) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpStopContainer); err != nil {
		return err
	}
	c, ok := r.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
	}
	r.lastGrace[id] = grace
	r.exitLocked(c, ExitCodeStopped)
	return nil
}

// RemoveContainer implements runtime.Runtime.
func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpRemoveContainer); err != nil {
		return err
	}
	c, ok := r.containers[id]
	if !ok {
		return fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
	}
	if c.state == runtime.StateRunning {
		if !force {
			return fmt.Errorf("remove %s: %w", id, ErrRunning)
		}
		r.exitLocked(c, ExitCodeKilled)
	}
	delete(r.containers, id)
	return nil
}

// ListContainers implements runtime.Runtime.
func (r *Runtime) ListContainers(ctx context.Context, opts runtime.ListOptions) ([]runtime.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enterLocked(ctx, OpListContainers); err != nil {
		return nil, err
	}

	var out []runtime.Container
	for _, c := range r.containers {
		running := c.state == runtime.StateRunning
		if (opts.Running || !opts.All) && !running {
			continue
		}
		if opts.Name != "" && !strings.Contains(c.spec.Name, opts.Name) {
			continue
		}
		if !hasLabels(c.spec.Labels, opts.Labels) {
			continue
		}
		out = append(out, runtime.Container{
			ID:     c.id,
			Names:  []string{"/" + c.spec.Name},
			Image:  c.spec.Image,
			State:  c.state,
			Labels: copyLabels(c.spec.Labels),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// enterLocked records a call to op and returns any injected failure.
func (r *Runtime) enterLocked(ctx context.Context, op string) error {
	r.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.failures[op]
}

func (r *Runtime) newContainerLocked(spec runtime.ContainerSpec) *container {
	r.nextID++
	c := &container{
		id:    fmt.Sprintf("%012x", r.nextID),
		spec:  spec,
		state: runtime.StateCreated,
		done:  make(chan struct{}),
	}
	r.containers[c.id] = c
	return c
}

func (r *Runtime) byNameLocked(name string) *container {
	for _, c := range r.containers {
		if c.spec.Name == name {
			return c
		}
	}
	return nil
}

// exitLocked transitions a running container to exited. Repeated exits are ignored.
func (r *Runtime) exitLocked(c *container, code int64) {
	if c.state != runtime.StateRunning {
		return
	}
	c.state = runtime.StateExited
	c.exitCode = code
	close(c.done)
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
