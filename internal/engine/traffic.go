package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/runtime"
)

// TrafficRequest asks for a k6 load-generation job.
type TrafficRequest struct {
	TargetURL       string `json:"target_url"`
	RPS             int    `json:"rps"`
	DurationSeconds int    `json:"duration_seconds"`
	MaxVUs          int    `json:"max_vus,omitempty"`
}

// Validate checks the request fields.
func (r TrafficRequest) Validate() error {
	if r.TargetURL == "" {
		return errors.New("target_url is required")
	}
	u, err := url.Parse(r.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target_url %q is not an absolute URL", r.TargetURL)
	}
	if r.RPS <= 0 {
		return errors.New("rps must be positive")
	}
	if r.DurationSeconds <= 0 {
		return errors.New("duration_seconds must be positive")
	}
	if r.MaxVUs < 0 {
		return errors.New("max_vus must not be negative")
	}
	return nil
}

// StartTraffic launches a k6 job against the request's target. It returns as
// soon as the container has started; the job is finalized by its monitor or
// by StopTraffic.
func (e *Engine) StartTraffic(ctx context.Context, req TrafficRequest) Result {
	id := model.NewID(model.TrafficJobPrefix)
	maxVUs := req.MaxVUs
	if maxVUs == 0 {
		maxVUs = e.opts.DefaultMaxVUs
	}

	res := e.launch(ctx, launchPlan{
		id:     id,
		kind:   model.KindTrafficJob,
		images: []string{e.opts.K6Image},
		spec:   e.trafficSpec(id, req.TargetURL, req.RPS, req.DurationSeconds, maxVUs),
		record: func(containerID string, startedAt time.Time) *model.Experiment {
			return &model.Experiment{
				Traffic: &model.TrafficTarget{
					URL:       req.TargetURL,
					RPS:       req.RPS,
					DurationS: req.DurationSeconds,
					MaxVUs:    maxVUs,
				},
				StartedAt: startedAt,
			}
		},
		okStatus:  model.StatusStarted,
		okMessage: fmt.Sprintf("Traffic generation started with %d RPS for %ds", req.RPS, req.DurationSeconds),
	})

	if res.Status == model.StatusStarted {
		e.logger.Info("traffic job started",
			"experiment_id", id,
			"target_url", req.TargetURL,
			"rps", req.RPS,
			"duration_s", req.DurationSeconds,
		)
	}
	return res
}

// StopTraffic stops a traffic job, allowing k6 a short grace period to flush.
func (e *Engine) StopTraffic(ctx context.Context, id string) Result {
	return e.stop(ctx, model.KindTrafficJob, id, e.opts.TrafficStopGrace)
}

func (e *Engine) trafficSpec(id, target string, rps, durationS, maxVUs int) runtime.ContainerSpec {
	return runtime.ContainerSpec{
		Name:  id,
		Image: e.opts.K6Image,
		Cmd:   []string{"run", "-o", "experimental-prometheus-rw", "/scripts/load-test.js"},
		Env: []string{
			"TARGET_URL=" + target,
			"RPS=" + strconv.Itoa(rps),
			"DURATION=" + strconv.Itoa(durationS) + "s",
			"VUS=" + strconv.Itoa(min(rps*2, maxVUs)),
			"MAX_VUS=" + strconv.Itoa(maxVUs),
			"K6_PROMETHEUS_RW_SERVER_URL=" + e.opts.PrometheusRWURL,
		},
		Binds:       []string{e.opts.ScriptsPath + ":/scripts:ro"},
		NetworkMode: e.opts.Network,
		Labels: map[string]string{
			LabelPlatform:     e.opts.PlatformID,
			LabelType:         model.TrafficJobPrefix,
			LabelExperimentID: id,
		},
	}
}
