package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "records_gateway"

var (
	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by outcome (forwarded, open, or rejection kind)",
		},
		[]string{"outcome"},
	)

	revocationLookupSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "revocation_lookup_seconds",
			Help:      "Latency of revocation store lookups",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"result"},
	)

	upstreamRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Latency of forwarded upstream requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"upstream", "code"},
	)
)

func init() {
	prometheus.MustRegister(gateDecisionsTotal, revocationLookupSeconds, upstreamRequestSeconds)
}

func RecordGateDecision(outcome string) {
	gateDecisionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRevocationLookup(result string, d time.Duration) {
	revocationLookupSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveUpstream records a forwarded request; code 0 means the upstream was unreachable.
func ObserveUpstream(upstream string, code int, d time.Duration) {
	upstreamRequestSeconds.WithLabelValues(upstream, strconv.Itoa(code)).Observe(d.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
