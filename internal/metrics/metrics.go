// Package metrics holds the prometheus collectors for layer scans, index
// lookups and query execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeaturesRead counts features returned by sequential reads, by layer kind.
	FeaturesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitab_layer_features_read_total",
			Help: "Features returned by sequential layer reads",
		},
		[]string{"kind"},
	)
	// IndexEntriesAdded counts entries written to attribute indexes.
	IndexEntriesAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitab_index_entries_added_total",
			Help: "Entries added to attribute indexes",
		},
	)
	// IndexLookups counts attribute index lookups by outcome (hit, miss).
	IndexLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitab_index_lookups_total",
			Help: "Attribute index lookups",
		},
		[]string{"result"},
	)
	// JoinLookups counts secondary-table lookups by outcome (matched, unmatched, skipped).
	JoinLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitab_join_lookups_total",
			Help: "Join lookups against secondary tables",
		},
		[]string{"outcome"},
	)
	// SummaryPasses counts summary computations by path (fast, scan).
	SummaryPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitab_summary_passes_total",
			Help: "Summary and distinct computations",
		},
		[]string{"path"},
	)
	// OrderIndexBuilds counts ORDER BY permutation builds.
	OrderIndexBuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitab_order_index_builds_total",
			Help: "ORDER BY permutation index builds",
		},
	)
)
