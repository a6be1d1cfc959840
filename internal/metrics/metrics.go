// Package metrics собирает показатели работы конвейера подбора для
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns — запуски конвейера по типу: scoped, batch, incremental
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swaploop_pipeline_runs_total",
		Help: "Количество запусков конвейера подбора",
	}, []string{"scope"})

	// MatchesCreated — сохранённые двусторонние матчи
	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaploop_matches_created_total",
		Help: "Количество созданных двусторонних матчей",
	})

	// ChainsDiscovered — сохранённые цепочки обмена
	ChainsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaploop_chains_discovered_total",
		Help: "Количество найденных цепочек обмена",
	})

	// TruncatedRuns — запуски, в которых поиск цепочек упёрся в бюджет
	TruncatedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaploop_truncated_runs_total",
		Help: "Количество запусков с усечённым поиском цепочек",
	})

	// RunDuration — длительность запуска конвейера
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swaploop_pipeline_run_duration_seconds",
		Help:    "Длительность запуска конвейера подбора",
		Buckets: prometheus.DefBuckets,
	})
)
