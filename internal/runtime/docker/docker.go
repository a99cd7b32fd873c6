// Package docker implements runtime.Runtime against a Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/seantiz/dsplatform/internal/runtime"
)

// Compile-time interface satisfaction check.
var _ runtime.Runtime = (*Runtime)(nil)

// Runtime talks to a Docker daemon.
type Runtime struct {
	client *client.Client
	logger *slog.Logger
}

// Option configures the underlying Docker client.
type Option = client.Opt

// New creates a Docker runtime for the daemon at host, e.g.
// "unix:///var/run/docker.sock". Extra client options are applied last.
// The API version is negotiated on first use unless an option pins it.
func New(host string, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	all := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		all = append(all, client.WithHost(host))
	}
	all = append(all, opts...)

	cli, err := client.NewClientWithOpts(all...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{client: cli, logger: logger}, nil
}

// Close releases the client's transport.
func (r *Runtime) Close() error {
	return r.client.Close()
}

// InspectImage implements runtime.Runtime.
func (r *Runtime) InspectImage(ctx context.Context, ref string) error {
	if _, err := r.client.ImageInspect(ctx, ref); err != nil {
		return wrapNotFound(fmt.Sprintf("inspect image %s", ref), err)
	}
	return nil
}

// PullImage implements runtime.Runtime. The pull stream is drained to
// completion; an error message inside the stream fails the pull.
func (r *Runtime) PullImage(ctx context.Context, ref string, progress func(runtime.PullEvent)) error {
	rc, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return wrapNotFound(fmt.Sprintf("pull image %s", ref), err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read pull stream for %s: %w", ref, err)
		}

		ev := runtime.PullEvent{ID: msg.ID, Status: msg.Status}
		if msg.Progress != nil {
			ev.Progress = msg.Progress.String()
		}
		if msg.Error != nil {
			ev.Error = msg.Error.Message
		}
		if progress != nil {
			progress(ev)
		}
		if ev.Error != "" {
			return fmt.Errorf("pull image %s: %s", ref, ev.Error)
		}
	}
}

// CreateContainer implements runtime.Runtime.
func (r *Runtime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds:       spec.Binds,
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		Privileged:  spec.Privileged,
		AutoRemove:  false,
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", wrapNotFound(fmt.Sprintf("create container %s", spec.Name), err)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn("container create warning", "container_name", spec.Name, "warning", w)
	}
	return resp.ID, nil
}

// StartContainer implements runtime.Runtime.
func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return wrapNotFound(fmt.Sprintf("start container %s", id), err)
	}
	return nil
}

// WaitContainer implements runtime.Runtime.
func (r *Runtime) WaitContainer(ctx context.Context, id string) (int64, error) {
	respCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-respCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return resp.StatusCode, fmt.Errorf("wait container %s: %s", id, resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return 0, wrapNotFound(fmt.Sprintf("wait container %s", id), err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// StopContainer implements runtime.Runtime.
func (r *Runtime) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	if err := r.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrapNotFound(fmt.Sprintf("stop container %s", id), err)
	}
	return nil
}

// RemoveContainer implements runtime.Runtime.
func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return wrapNotFound(fmt.Sprintf("remove container %s", id), err)
	}
	return nil
}

// ListContainers implements runtime.Runtime.
func (r *Runtime) ListContainers(ctx context.Context, opts runtime.ListOptions) ([]runtime.Container, error) {
	args := filters.NewArgs()
	if opts.Name != "" {
		args.Add("name", opts.Name)
	}
	for k, v := range opts.Labels {
		args.Add("label", k+"="+v)
	}
	if opts.Running {
		args.Add("status", "running")
	}

	summaries, err := r.client.ContainerList(ctx, container.ListOptions{All: opts.All, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.Container, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, runtime.Container{
			ID:     s.ID,
			Names:  s.Names,
			Image:  s.Image,
			State:  string(s.State),
			Labels: s.Labels,
		})
	}
	return out, nil
}

// wrapNotFound maps the daemon's not-found errors onto runtime.ErrNotFound.
func wrapNotFound(op string, err error) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w: %v", op, runtime.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
