package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/runtime"
)

// MonitorInfo describes one in-flight completion monitor.
type MonitorInfo struct {
	ExperimentID string     `json:"experiment_id"`
	ContainerID  string     `json:"container_id"`
	Kind         model.Kind `json:"kind"`
	Since        time.Time  `json:"since"`
}

// startMonitor detaches the completion monitor for a freshly started
// container. Each container gets exactly one monitor.
func (e *Engine) startMonitor(rec *model.Experiment) {
	info := MonitorInfo{
		ExperimentID: rec.ID,
		ContainerID:  rec.ContainerID,
		Kind:         rec.Kind,
		Since:        rec.StartedAt,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		e.logger.Warn("engine shutting down, container left unmonitored",
			"experiment_id", info.ExperimentID,
			"container_id", info.ContainerID,
		)
		return
	}
	e.inflight[info.ExperimentID] = info
	monitorsInFlight.Inc()

	e.wg.Go(func() {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, info.ExperimentID)
			e.mu.Unlock()
			monitorsInFlight.Dec()
		}()
		e.monitor(info)
	})
}

// monitor waits for the container to exit, finalizes the record if nothing
// else has, then removes the container. Runtime errors are logged only.
func (e *Engine) monitor(info MonitorInfo) {
	code, err := e.rt.WaitContainer(e.monitorCtx, info.ContainerID)
	if err != nil {
		if e.monitorCtx.Err() != nil {
			e.logger.Warn("monitor abandoned",
				"experiment_id", info.ExperimentID,
				"container_id", info.ContainerID,
			)
			return
		}
		e.logger.Error("wait for container exit",
			"experiment_id", info.ExperimentID,
			"container_id", info.ContainerID,
			"error", err,
		)
		return
	}

	now := e.opts.Now().UTC()
	exitCode := int(code)
	updated, ok := e.registry.UpdateIfStatus(info.ExperimentID, model.StatusActive, func(rec *model.Experiment) {
		rec.FinishedAt = &now
		rec.ExitCode = &exitCode
		switch {
		case rec.StopRequested:
			rec.Status = model.StatusStopped
		case code == 0:
			rec.Status = model.StatusCompleted
		default:
			rec.Status = model.StatusFailed
			rec.ErrorKind = model.ErrorKindNonzeroExit
			rec.Error = fmt.Sprintf("exit code: %d", code)
		}
	})
	if ok {
		e.finalized(updated, model.SourceMonitor)
	} else {
		e.logger.Debug("record already finalized",
			"experiment_id", info.ExperimentID,
			"exit_code", code,
		)
	}

	if err := e.rt.RemoveContainer(e.monitorCtx, info.ContainerID, false); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		e.logger.Debug("remove exited container",
			"experiment_id", info.ExperimentID,
			"container_id", info.ContainerID,
			"error", err,
		)
	}
}

// Monitors returns the in-flight monitors ordered by start time.
func (e *Engine) Monitors() []MonitorInfo {
	e.mu.Lock()
	out := make([]MonitorInfo, 0, len(e.inflight))
	for _, info := range e.inflight {
		out = append(out, info)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ExperimentID < out[j].ExperimentID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Shutdown stops accepting new monitors and waits for in-flight ones until
// ctx is done. Monitors still waiting at that point are cancelled without
// finalizing their records and returned; their containers keep running.
func (e *Engine) Shutdown(ctx context.Context) []MonitorInfo {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelMonitors()
		return nil
	case <-ctx.Done():
	}

	abandoned := e.Monitors()
	e.cancelMonitors()
	<-done

	for _, info := range abandoned {
		e.logger.Warn("abandoning monitor on shutdown",
			"experiment_id", info.ExperimentID,
			"container_id", info.ContainerID,
			"kind", info.Kind,
		)
	}
	return abandoned
}
