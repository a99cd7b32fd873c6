package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/runtime"
)

// launchPlan is everything a launcher needs to bring one workload up.
type launchPlan struct {
	id     string
	kind   model.Kind
	images []string
	spec   runtime.ContainerSpec

	// record builds the active record once the container has started.
	record func(containerID string, startedAt time.Time) *model.Experiment

	okStatus  model.Status
	okMessage string
}

// stepError tags a launch failure with the error kind reported to callers.
type stepError struct {
	kind model.ErrorKind
	err  error
}

func (s *stepError) Error() string { return s.err.Error() }
func (s *stepError) Unwrap() error { return s.err }

func fail(kind model.ErrorKind, format string, args ...any) error {
	return &stepError{kind: kind, err: fmt.Errorf(format, args...)}
}

// launch ensures images, creates and starts the container, then publishes the
// active record and detaches its monitor. Nothing is stored unless the
// container has started.
func (e *Engine) launch(ctx context.Context, p launchPlan) Result {
	ctx, span := e.tracer.Start(ctx, "engine.launch", trace.WithAttributes(
		attribute.String("experiment.id", p.id),
		attribute.String("experiment.kind", string(p.kind)),
	))
	defer span.End()

	containerID, err := e.provision(ctx, p)
	if err != nil {
		kind := model.ErrorKindCreateFailed
		var se *stepError
		if errors.As(err, &se) {
			kind = se.kind
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		launchesTotal.WithLabelValues(string(p.kind), "failed").Inc()

		e.logger.Error("experiment launch failed",
			"experiment_id", p.id,
			"kind", p.kind,
			"error_kind", kind,
			"error", err,
		)
		return Result{
			ID:        p.id,
			Status:    model.StatusFailed,
			Message:   failureMessage(kind),
			ErrorKind: kind,
		}
	}

	rec := p.record(containerID, e.opts.Now().UTC())
	rec.ID = p.id
	rec.Kind = p.kind
	rec.Status = model.StatusActive
	rec.ContainerID = containerID
	e.registry.Upsert(rec)

	launchesTotal.WithLabelValues(string(p.kind), "started").Inc()
	activeExperiments.WithLabelValues(string(p.kind)).Inc()
	span.SetAttributes(attribute.String("container.id", containerID))

	e.emit(model.Event{
		ExperimentID: rec.ID,
		Kind:         rec.Kind,
		To:           model.StatusActive,
		Source:       model.SourceLaunch,
		At:           rec.StartedAt,
	})
	e.startMonitor(rec)

	return Result{ID: p.id, Status: p.okStatus, Message: p.okMessage}
}

// provision runs the runtime side of a launch and returns the started
// container's ID.
func (e *Engine) provision(ctx context.Context, p launchPlan) (string, error) {
	if err := e.ensureImages(ctx, p.images...); err != nil {
		return "", err
	}

	containerID, err := e.rt.CreateContainer(ctx, p.spec)
	if err != nil {
		return "", fail(model.ErrorKindCreateFailed, "create container %s: %w", p.spec.Name, err)
	}

	if err := e.rt.StartContainer(ctx, containerID); err != nil {
		if rmErr := e.rt.RemoveContainer(context.WithoutCancel(ctx), containerID, true); rmErr != nil && !errors.Is(rmErr, runtime.ErrNotFound) {
			e.logger.Debug("remove unstarted container", "container_id", containerID, "error", rmErr)
		}
		return "", fail(model.ErrorKindStartFailed, "start container %s: %w", p.spec.Name, err)
	}
	return containerID, nil
}

// ensureImages makes every ref present locally. Refs are checked
// concurrently; concurrent launches may pull the same image twice.
func (e *Engine) ensureImages(ctx context.Context, refs ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error {
			return e.ensureImage(gctx, ref)
		})
	}
	return g.Wait()
}

func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	err := e.rt.InspectImage(ctx, ref)
	if err == nil {
		e.logger.Debug("image already present", "image", ref)
		return nil
	}
	if !errors.Is(err, runtime.ErrNotFound) {
		return fail(model.ErrorKindRuntimeUnavailable, "inspect image %s: %w", ref, err)
	}

	e.logger.Info("pulling image", "image", ref)
	err = e.rt.PullImage(ctx, ref, func(ev runtime.PullEvent) {
		if ev.Status != "" {
			e.logger.Debug("pull progress", "image", ref, "layer", ev.ID, "status", ev.Status)
		}
	})
	if err != nil {
		imagePullsTotal.WithLabelValues("failed").Inc()
		return fail(model.ErrorKindImageUnavailable, "pull image %s: %w", ref, err)
	}
	imagePullsTotal.WithLabelValues("pulled").Inc()
	e.logger.Info("image pulled", "image", ref)
	return nil
}

func failureMessage(kind model.ErrorKind) string {
	switch kind {
	case model.ErrorKindImageUnavailable:
		return "workload image could not be pulled"
	case model.ErrorKindRuntimeUnavailable:
		return "container runtime is unavailable"
	case model.ErrorKindStartFailed:
		return "workload container failed to start"
	case model.ErrorKindStopFailed:
		return "workload container could not be stopped"
	default:
		return "workload container could not be created"
	}
}
