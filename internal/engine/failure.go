package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/runtime"
)

// Label values for failure-injection containers.
const (
	failureContainerType = "pumba-failure"
	failureTypeDelay     = "network-delay"
)

// NetworkDelayRequest asks for added latency on the containers whose names
// match ContainerName. The name is an RE2 pattern anchored at both ends, so a
// plain name targets one container and "service-.*" targets a family.
type NetworkDelayRequest struct {
	ContainerName   string `json:"container_name"`
	DelayMS         int    `json:"delay_ms"`
	JitterMS        int    `json:"jitter_ms,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Validate checks the request fields.
func (r NetworkDelayRequest) Validate() error {
	if r.ContainerName == "" {
		return errors.New("container_name is required")
	}
	if _, err := regexp.Compile(containerNameExpr(r.ContainerName)); err != nil {
		return fmt.Errorf("container_name %q is not a valid pattern: %w", r.ContainerName, err)
	}
	if r.DelayMS < 0 {
		return errors.New("delay_ms must not be negative")
	}
	if r.JitterMS < 0 {
		return errors.New("jitter_ms must not be negative")
	}
	if r.DurationSeconds <= 0 {
		return errors.New("duration_seconds must be positive")
	}
	return nil
}

// ApplyNetworkDelay launches a pumba netem container that delays the target
// container's traffic for the requested duration. The record expires at
// start + duration and is then completed by the sweeper if nothing else
// finalized it first.
func (e *Engine) ApplyNetworkDelay(ctx context.Context, req NetworkDelayRequest) Result {
	id := model.NewID(model.NetworkDelayPrefix)
	duration := time.Duration(req.DurationSeconds) * time.Second

	res := e.launch(ctx, launchPlan{
		id:     id,
		kind:   model.KindNetworkDelay,
		images: []string{e.opts.PumbaImage, e.opts.TCImage},
		spec:   e.delaySpec(id, req),
		record: func(_ string, startedAt time.Time) *model.Experiment {
			expires := startedAt.Add(duration)
			return &model.Experiment{
				Delay: &model.DelayTarget{
					ContainerName: req.ContainerName,
					DelayMS:       req.DelayMS,
					JitterMS:      req.JitterMS,
					DurationS:     req.DurationSeconds,
				},
				StartedAt: startedAt,
				ExpiresAt: &expires,
			}
		},
		okStatus: model.StatusActive,
		okMessage: fmt.Sprintf("Network delay of %dms applied to %s for %ds",
			req.DelayMS, req.ContainerName, req.DurationSeconds),
	})

	if res.Status == model.StatusActive {
		e.logger.Info("network delay applied",
			"experiment_id", id,
			"container_name", req.ContainerName,
			"delay_ms", req.DelayMS,
			"jitter_ms", req.JitterMS,
			"duration_s", req.DurationSeconds,
		)
	}
	return res
}

// StopFailure stops a failure injection. pumba restores the target's qdisc
// on SIGTERM.
func (e *Engine) StopFailure(ctx context.Context, id string) Result {
	return e.stop(ctx, model.KindNetworkDelay, id, e.opts.FailureStopGrace)
}

func (e *Engine) delaySpec(id string, req NetworkDelayRequest) runtime.ContainerSpec {
	cmd := []string{
		"--log-level", "info",
		"netem",
		"--duration", strconv.Itoa(req.DurationSeconds) + "s",
		"--tc-image", e.opts.TCImage,
		"delay",
		"--time", strconv.Itoa(req.DelayMS),
	}
	if req.JitterMS > 0 {
		cmd = append(cmd, "--jitter", strconv.Itoa(req.JitterMS))
	}
	cmd = append(cmd, "re2:"+containerNameExpr(req.ContainerName))

	return runtime.ContainerSpec{
		Name:        id,
		Image:       e.opts.PumbaImage,
		Cmd:         cmd,
		Binds:       []string{e.opts.DockerSocketPath + ":/var/run/docker.sock:ro"},
		NetworkMode: "host",
		Privileged:  true,
		Labels: map[string]string{
			LabelPlatform:     e.opts.PlatformID,
			LabelType:         failureContainerType,
			LabelFailureType:  failureTypeDelay,
			LabelExperimentID: id,
		},
	}
}

// containerNameExpr anchors a container-name pattern the way pumba applies it.
func containerNameExpr(name string) string {
	return "^" + name + "$"
}
