package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_experiment_launches_total",
			Help: "Total number of experiment launches by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	finalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_experiment_finalizations_total",
			Help: "Total number of terminal transitions by kind, status and finalizer.",
		},
		[]string{"kind", "status", "source"},
	)

	imagePullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_image_pulls_total",
			Help: "Total number of image pulls by outcome.",
		},
		[]string{"outcome"},
	)

	activeExperiments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "platform_active_experiments",
			Help: "Number of experiments currently in the active state.",
		},
		[]string{"kind"},
	)

	monitorsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "platform_monitors_in_flight",
			Help: "Number of completion monitors waiting on a container exit.",
		},
	)
)

func init() {
	prometheus.MustRegister(launchesTotal)
	prometheus.MustRegister(finalizationsTotal)
	prometheus.MustRegister(imagePullsTotal)
	prometheus.MustRegister(activeExperiments)
	prometheus.MustRegister(monitorsInFlight)
}
