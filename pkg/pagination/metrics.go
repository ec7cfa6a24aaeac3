package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for harvest runs.
var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_ticks_total",
		Help: "Cadence ticks by result (page, exhausted, error)",
	}, []string{"result"})

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_pages_total",
		Help: "Total pages fetched and upserted",
	})

	itemsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_items_upserted_total",
		Help: "Total items written to the store",
	})

	fetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_fetches_in_flight",
		Help: "Fetch jobs currently executing (never above 1 per run)",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_runs_total",
		Help: "Finished runs by outcome (success, failed, stopped)",
	}, []string{"outcome"})
)
