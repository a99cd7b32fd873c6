package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/runtime"
)

// stop resolves id to a container by exact name, stops it gracefully, force
// removes it and finalizes the record as stopped. An unknown or already
// removed container yields not_found, so repeated stops are harmless.
func (e *Engine) stop(ctx context.Context, kind model.Kind, id string, grace time.Duration) Result {
	ctx, span := e.tracer.Start(ctx, "engine.stop", trace.WithAttributes(
		attribute.String("experiment.id", id),
		attribute.String("experiment.kind", string(kind)),
	))
	defer span.End()

	containers, err := e.rt.ListContainers(ctx, runtime.ListOptions{All: true, Name: id})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.ErrorKindRuntimeUnavailable))
		e.logger.Error("list containers for stop", "experiment_id", id, "error", err)
		return Result{
			ID:        id,
			Status:    model.StatusError,
			Message:   failureMessage(model.ErrorKindRuntimeUnavailable),
			ErrorKind: model.ErrorKindRuntimeUnavailable,
		}
	}

	var target *runtime.Container
	for i := range containers {
		if containers[i].HasName(id) {
			target = &containers[i]
			break
		}
	}
	if target == nil {
		return Result{ID: id, Status: model.StatusNotFound, Message: notFoundMessage(kind)}
	}
	span.SetAttributes(attribute.String("container.id", target.ID))

	// Mark the record before touching the runtime so that a monitor observing
	// the resulting exit reports stopped rather than failed.
	_, marked := e.registry.UpdateIfStatus(id, model.StatusActive, func(rec *model.Experiment) {
		rec.StopRequested = true
	})

	err = e.rt.StopContainer(ctx, target.ID, grace)
	if err == nil || errors.Is(err, runtime.ErrNotFound) {
		err = e.rt.RemoveContainer(ctx, target.ID, true)
	}
	if err != nil && !errors.Is(err, runtime.ErrNotFound) {
		if marked {
			e.registry.UpdateIfStatus(id, model.StatusActive, func(rec *model.Experiment) {
				rec.StopRequested = false
			})
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.ErrorKindStopFailed))
		e.logger.Error("stop experiment container",
			"experiment_id", id,
			"container_id", target.ID,
			"error", err,
		)
		return Result{
			ID:        id,
			Status:    model.StatusError,
			Message:   failureMessage(model.ErrorKindStopFailed),
			ErrorKind: model.ErrorKindStopFailed,
		}
	}

	now := e.opts.Now().UTC()
	updated, ok := e.registry.UpdateIfStatus(id, model.StatusActive, func(rec *model.Experiment) {
		rec.Status = model.StatusStopped
		rec.FinishedAt = &now
	})
	if ok {
		e.finalized(updated, model.SourceStop)
	}

	e.logger.Info("experiment stopped", "experiment_id", id, "container_id", target.ID)
	return Result{ID: id, Status: model.StatusStopped, Message: stoppedMessage(kind)}
}

func notFoundMessage(kind model.Kind) string {
	if kind == model.KindNetworkDelay {
		return "Failure simulation not found"
	}
	return "Job not found"
}

func stoppedMessage(kind model.Kind) string {
	if kind == model.KindNetworkDelay {
		return "Failure simulation stopped"
	}
	return "Traffic generation stopped"
}
