package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RosterRefetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlive_roster_refetch_total",
		Help: "Roster refetches triggered by change feed notifications.",
	})

	RosterRefetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlive_roster_refetch_failures_total",
		Help: "Roster refetches that failed and fell back to the previous snapshot.",
	})

	RosterSnapshotsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlive_roster_snapshots_discarded_total",
		Help: "Completed fetches discarded because a newer snapshot was already applied.",
	})

	RevealSequencesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizlive_reveal_sequences_started_total",
		Help: "Reveal sequences started on results views.",
	})
)
