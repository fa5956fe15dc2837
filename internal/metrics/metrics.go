// Package metrics provides Prometheus metrics for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loreleaf_mutations_total",
			Help: "Structural mutations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	pushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loreleaf_push_events_total",
			Help: "Push events received by type",
		},
		[]string{"type"},
	)

	pushDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loreleaf_push_events_deferred_total",
			Help: "Push events deferred behind an in-flight mutation",
		},
	)

	draftFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loreleaf_draft_flushes_total",
			Help: "Draft cache flushes by outcome (written, refused, failed)",
		},
		[]string{"outcome"},
	)

	remoteDiscardsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loreleaf_remote_discards_total",
			Help: "Local drafts discarded by a completed remote update",
		},
	)

	resyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loreleaf_subtree_resyncs_total",
			Help: "Subtree re-fetches triggered by partial push information",
		},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loreleaf_tree_nodes",
			Help: "Number of nodes in the in-memory tree",
		},
	)
)

// RecordMutation records a structural mutation outcome.
func RecordMutation(kind, outcome string) {
	mutationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordPushEvent records a received push event.
func RecordPushEvent(eventType string) {
	pushEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPushDeferred records a push event deferred behind a pending mutation.
func RecordPushDeferred() {
	pushDeferredTotal.Inc()
}

// RecordDraftFlush records a draft cache flush outcome.
func RecordDraftFlush(outcome string) {
	draftFlushesTotal.WithLabelValues(outcome).Inc()
}

// RecordRemoteDiscard records a draft discarded by a remote update.
func RecordRemoteDiscard() {
	remoteDiscardsTotal.Inc()
}

// RecordResync records a subtree re-fetch.
func RecordResync() {
	resyncsTotal.Inc()
}

// SetTreeNodes sets the current tree size gauge.
func SetTreeNodes(n int) {
	treeNodes.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
