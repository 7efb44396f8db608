package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TargetsActive *prometheus.GaugeVec
	DeploysTotal  *prometheus.CounterVec
	DeploysFailed *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	RunsTotal     prometheus.Counter
)

// Init registers the deployment metrics under the given subsystem.
// Call once per process.
func Init(subsystem string) {
	TargetsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetdeploy",
			Subsystem: subsystem,
			Name:      "targets_active",
			Help:      fmt.Sprintf("Targets currently being deployed by %s", subsystem),
		},
		[]string{"target"},
	)

	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetdeploy",
			Subsystem: subsystem,
			Name:      "deploys_total",
			Help:      fmt.Sprintf("Total target deployments handled by %s", subsystem),
		},
		[]string{"target", "outcome"},
	)

	DeploysFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetdeploy",
			Subsystem: subsystem,
			Name:      "deploys_failed_total",
			Help:      fmt.Sprintf("Failed target deployments in %s", subsystem),
		},
		[]string{"target", "error_kind"},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetdeploy",
			Subsystem: subsystem,
			Name:      "phase_duration_seconds",
			Help:      fmt.Sprintf("Pipeline phase duration in %s", subsystem),
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	RunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetdeploy",
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      fmt.Sprintf("Total deployment runs started by %s", subsystem),
		},
	)

	prometheus.MustRegister(TargetsActive, DeploysTotal, DeploysFailed, PhaseDuration, RunsTotal)
}

// StartServer exposes /metrics on the given port.
func StartServer(port int) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
			panic("metrics server failed: " + err.Error())
		}
	}()
}
