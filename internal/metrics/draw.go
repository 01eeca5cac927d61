package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	drawTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingo_draws_total",
			Help: "Number draws by source and result",
		},
		[]string{"source", "result"},
	)

	drawDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bingo_draw_duration_ms",
			Help:    "Time to draw and durably record one number in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"source"},
	)

	tickSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bingo_draw_ticks_skipped_total",
			Help: "Scheduler ticks dropped because the previous tick was still running",
		},
	)

	activeSchedulers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bingo_active_schedulers",
			Help: "Cashier draw loops currently running",
		},
	)
)

// RecordDraw records one draw attempt.
// source: "auto" | "manual"; result: "success" | "exhausted" | "fail"
func RecordDraw(source, result string, started time.Time) {
	drawTotal.WithLabelValues(source, result).Inc()
	drawDuration.WithLabelValues(source).Observe(float64(time.Since(started).Milliseconds()))
}

func RecordTickSkipped() { tickSkipped.Inc() }

func SchedulerStarted() { activeSchedulers.Inc() }

func SchedulerStopped() { activeSchedulers.Dec() }
