// Package metrics exposes the engine's Prometheus collectors. Everything
// registers on the default registry; serve it with promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Joins counts join attempts by outcome: created, joined,
	// already_member, error.
	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablematch_joins_total",
		Help: "Join attempts by outcome.",
	}, []string{"result"})

	// Confirmations counts waiting -> confirmed transitions.
	Confirmations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablematch_confirmations_total",
		Help: "Groups confirmed at capacity.",
	})

	// Reversions counts confirmed -> waiting downgrades.
	Reversions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablematch_reversions_total",
		Help: "Confirmed groups reverted to waiting.",
	})

	// CountCorrections counts reconciliation writes that changed a
	// stored member count.
	CountCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablematch_count_corrections_total",
		Help: "Member-count drift corrections written by the reconciler.",
	})

	// VenueAssignments counts assignment attempts by outcome:
	// assigned, noop, error.
	VenueAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablematch_venue_assignments_total",
		Help: "Venue assignment attempts by outcome.",
	}, []string{"result"})

	// CleanupRuns counts completed cleanup passes.
	CleanupRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablematch_cleanup_runs_total",
		Help: "Completed cleanup scheduler passes.",
	})

	// CleanupStepFailures counts failed cleanup steps by step name.
	CleanupStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablematch_cleanup_step_failures_total",
		Help: "Cleanup steps that returned an error.",
	}, []string{"step"})
)
