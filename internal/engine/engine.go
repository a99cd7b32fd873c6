package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/registry"
	"github.com/seantiz/dsplatform/internal/runtime"
)

const tracerName = "github.com/seantiz/dsplatform/internal/engine"

// sinkPublishTimeout bounds each sink delivery so a stalled sink cannot hold
// up a lifecycle transition.
const sinkPublishTimeout = 2 * time.Second

// Label keys attached to every container the engine creates.
const (
	LabelPlatform     = "platform"
	LabelType         = "type"
	LabelFailureType  = "failure-type"
	LabelExperimentID = "experiment-id"
)

// Options holds the static settings the launchers and stop handler need.
type Options struct {
	PlatformID       string
	Network          string
	ScriptsPath      string
	PrometheusRWURL  string
	DockerSocketPath string

	K6Image    string
	PumbaImage string
	TCImage    string

	DefaultMaxVUs    int
	TrafficStopGrace time.Duration
	FailureStopGrace time.Duration

	// Now is the clock used for lifecycle timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		PlatformID:       "distributed-system-platform",
		Network:          "distributed-system-platform_default",
		ScriptsPath:      "/app/k6/scripts",
		PrometheusRWURL:  "http://prometheus:9090/api/v1/write",
		DockerSocketPath: "/var/run/docker.sock",
		K6Image:          "grafana/k6:0.54.0",
		PumbaImage:       "gaiaadm/pumba:0.10.0",
		TCImage:          "gaiadocker/iproute2",
		DefaultMaxVUs:    100,
		TrafficStopGrace: 5 * time.Second,
		FailureStopGrace: 2 * time.Second,
	}
}

// Result is the synchronous outcome of a launch or stop request.
type Result struct {
	ID        string          `json:"id"`
	Status    model.Status    `json:"status"`
	Message   string          `json:"message"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
}

// Engine launches experiment containers, tracks them in the registry and
// reconciles their completion, stop and expiry.
type Engine struct {
	rt       runtime.Runtime
	registry *registry.Registry
	logger   *slog.Logger
	opts     Options
	broker   *EventBroker
	sinks    []EventSink
	tracer   trace.Tracer

	// Monitor supervision.
	monitorCtx     context.Context
	cancelMonitors context.CancelFunc
	wg             sync.WaitGroup
	mu             sync.Mutex
	inflight       map[string]MonitorInfo
	closing        bool
}

// NewEngine creates an engine over the given runtime and registry. Extra sinks
// receive every lifecycle event alongside the engine's own broker.
func NewEngine(rt runtime.Runtime, reg *registry.Registry, logger *slog.Logger, opts Options, sinks ...EventSink) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultMaxVUs <= 0 {
		opts.DefaultMaxVUs = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	broker := NewEventBroker()
	return &Engine{
		rt:             rt,
		registry:       reg,
		logger:         logger,
		opts:           opts,
		broker:         broker,
		sinks:          append([]EventSink{broker}, sinks...),
		tracer:         otel.Tracer(tracerName),
		monitorCtx:     ctx,
		cancelMonitors: cancel,
		inflight:       make(map[string]MonitorInfo),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Options returns the engine's effective settings.
func (e *Engine) Options() Options {
	return e.opts
}

// Experiment returns a snapshot of any experiment record.
func (e *Engine) Experiment(id string) (*model.Experiment, bool) {
	return e.registry.Get(id)
}

// TrafficJobs returns every traffic-job record, including finished ones.
func (e *Engine) TrafficJobs() []*model.Experiment {
	return e.byKind(model.KindTrafficJob)
}

// TrafficJob returns the traffic-job record with the given ID.
func (e *Engine) TrafficJob(id string) (*model.Experiment, bool) {
	rec, ok := e.registry.Get(id)
	if !ok || rec.Kind != model.KindTrafficJob {
		return nil, false
	}
	return rec, true
}

// AvailableContainers returns the names of running platform containers that
// can be targeted by failure injection. The engine's own workload containers
// are excluded.
func (e *Engine) AvailableContainers(ctx context.Context) ([]string, error) {
	containers, err := e.rt.ListContainers(ctx, runtime.ListOptions{
		Labels:  map[string]string{LabelPlatform: e.opts.PlatformID},
		Running: true,
	})
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, c := range containers {
		if isWorkloadContainer(c) {
			continue
		}
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func isWorkloadContainer(c runtime.Container) bool {
	for _, n := range c.Names {
		if strings.Contains(n, "pumba") || strings.Contains(n, model.TrafficJobPrefix) {
			return true
		}
	}
	return false
}

func (e *Engine) byKind(kind model.Kind) []*model.Experiment {
	var out []*model.Experiment
	for _, rec := range e.registry.List() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// emit hands ev to every sink. Sink failures are logged only.
func (e *Engine) emit(ev model.Event) {
	if ev.At.IsZero() {
		ev.At = e.opts.Now().UTC()
	}
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
		err := s.Publish(ctx, ev)
		cancel()
		if err != nil {
			e.logger.Warn("event sink publish failed",
				"experiment_id", ev.ExperimentID,
				"to", ev.To,
				"error", err,
			)
		}
	}
}

// finalized records a winning terminal transition applied by source.
func (e *Engine) finalized(rec *model.Experiment, source string) {
	finalizationsTotal.WithLabelValues(string(rec.Kind), string(rec.Status), source).Inc()
	activeExperiments.WithLabelValues(string(rec.Kind)).Dec()

	e.logger.Info("experiment finalized",
		"experiment_id", rec.ID,
		"kind", rec.Kind,
		"status", rec.Status,
		"source", source,
	)
	e.emit(model.Event{
		ExperimentID: rec.ID,
		Kind:         rec.Kind,
		From:         model.StatusActive,
		To:           rec.Status,
		Source:       source,
		ErrorKind:    rec.ErrorKind,
		Detail:       rec.Error,
	})
}
