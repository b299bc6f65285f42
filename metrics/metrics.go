package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ncwatch"

var (
	bootTimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "boot_time_seconds",
		Help:      "Boot time of this instance since epoch (1970)",
	})

	ServerThrottled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_throttled",
		Help:      "1 while the server is reported as throttled by the control panel",
	}, []string{"server"})
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "State changes recorded in the ledger, by new state",
	}, []string{"server", "state"})
	RemediationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remediation_actions_total",
		Help:      "Actions sent to torrent clients, by verb and result",
	}, []string{"server", "verb", "result"})
	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one control loop tick",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	})
	RemoteUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_unavailable_total",
		Help:      "Remote calls that timed out or could not connect, by collaborator",
	}, []string{"collaborator"})
)

func init() {
	bootTimeSeconds.Set(float64(time.Now().UnixNano()) / 1e9)
}

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetThrottled records the throttle state of a server.
func SetThrottled(server string, throttled bool) {
	v := 0.0
	if throttled {
		v = 1
	}
	ServerThrottled.WithLabelValues(server).Set(v)
}

// ObserveAction counts one remediation action. An empty error counts as ok.
func ObserveAction(server, verb string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	RemediationActionsTotal.WithLabelValues(server, verb, result).Inc()
}

// DeleteServer removes the labels of a server that is no longer configured.
// Previously scraped data is still persisted by Prometheus.
func DeleteServer(server string) {
	ServerThrottled.DeleteLabelValues(server)
	StateTransitionsTotal.DeletePartialMatch(prometheus.Labels{"server": server})
	RemediationActionsTotal.DeletePartialMatch(prometheus.Labels{"server": server})
}
