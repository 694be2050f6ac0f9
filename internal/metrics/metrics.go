// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// The collectors cover the event pipeline (received, deduplicated, processed,
// dropped), decryption outcomes, publish attempts, the relay connection
// status, and the size of the seen-event cache. Label cardinality is kept
// deliberately small:
//
//   - kind:    the numeric event kind as a string ("0", "1", "4", "41")
//   - outcome: a small closed set per metric (e.g. "ok", "rejected")
//
// All collectors are registered once at package init and are safe for
// concurrent use.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// eventsReceived counts inbound relay events before deduplication.
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_received_total",
			Help: "Total number of events received from relays.",
		},
		[]string{"kind"},
	)

	// eventsDeduped counts events dropped by the seen-event cache.
	eventsDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_deduplicated_total",
			Help: "Total number of events dropped as already seen.",
		},
	)

	// eventsProcessed counts events that made it through the processor, by
	// kind and outcome ("applied", "dropped").
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_processed_total",
			Help: "Total number of events handled by the processor.",
		},
		[]string{"kind", "outcome"},
	)

	// decryptFailures counts messages that could not be decrypted and were
	// surfaced as placeholders.
	decryptFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_decrypt_failures_total",
			Help: "Total number of messages that failed to decrypt.",
		},
		[]string{"kind"},
	)

	// publishResults counts publish attempts by outcome ("ok" when at least
	// one relay acknowledged, "rejected" when every relay refused).
	publishResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_publish_total",
			Help: "Total number of event publish attempts.",
		},
		[]string{"outcome"},
	)

	// connStatus reflects the relay connection state as a one-hot gauge over
	// the "status" label (disconnected/connecting/connected).
	connStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_connection_status",
			Help: "Current relay connection status (one-hot by status label).",
		},
		[]string{"status"},
	)

	// seenCacheSize gauges the current number of ids held by the seen-event
	// cache.
	seenCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_seen_cache_size",
			Help: "Current number of event ids in the seen-event cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsReceived, eventsDeduped, eventsProcessed,
		decryptFailures, publishResults, connStatus, seenCacheSize,
	)
}

// EventReceived records one inbound event of the given kind.
func EventReceived(kind int) {
	eventsReceived.WithLabelValues(strconv.Itoa(kind)).Inc()
}

// EventDeduplicated records one event dropped by the seen-event cache.
func EventDeduplicated() { eventsDeduped.Inc() }

// EventApplied records a processed event that changed state.
func EventApplied(kind int) {
	eventsProcessed.WithLabelValues(strconv.Itoa(kind), "applied").Inc()
}

// EventDropped records a processed event that was discarded (bad signature,
// unknown kind, missing key material).
func EventDropped(kind int) {
	eventsProcessed.WithLabelValues(strconv.Itoa(kind), "dropped").Inc()
}

// DecryptFailure records a message surfaced as a placeholder.
func DecryptFailure(kind int) {
	decryptFailures.WithLabelValues(strconv.Itoa(kind)).Inc()
}

// PublishOK records a publish acknowledged by at least one relay.
func PublishOK() { publishResults.WithLabelValues("ok").Inc() }

// PublishRejected records a publish refused by every relay.
func PublishRejected() { publishResults.WithLabelValues("rejected").Inc() }

// SetConnStatus flips the one-hot connection gauge to the given status.
func SetConnStatus(status string) {
	for _, s := range []string{"disconnected", "connecting", "connected"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		connStatus.WithLabelValues(s).Set(v)
	}
}

// SetSeenCacheSize updates the seen-event cache gauge.
func SetSeenCacheSize(n int) { seenCacheSize.Set(float64(n)) }
