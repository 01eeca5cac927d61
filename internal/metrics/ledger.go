package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingo_ticket_operations_total",
			Help: "Ticket operations by kind and result",
		},
		[]string{"op", "result"},
	)

	redemptionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingo_redemptions_total",
			Help: "Redemptions by outcome (claimed, lost, race_lost, unchanged)",
		},
		[]string{"outcome"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingo_verifications_total",
			Help: "Card verifications by outcome",
		},
		[]string{"outcome"},
	)

	recomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bingo_financial_recomputes_total",
			Help: "Financial recomputes, split by whether the 24h reset applied",
		},
		[]string{"kind"},
	)
)

func RecordTicketOp(op string, err error) {
	result := "success"
	if err != nil {
		result = "fail"
	}
	ticketTotal.WithLabelValues(op, result).Inc()
}

func RecordRedemption(outcome string) { redemptionTotal.WithLabelValues(outcome).Inc() }

func RecordVerification(winner, locked bool) {
	switch {
	case locked:
		verificationTotal.WithLabelValues("locked").Inc()
	case winner:
		verificationTotal.WithLabelValues("won").Inc()
	default:
		verificationTotal.WithLabelValues("lost").Inc()
	}
}

func RecordRecompute(stale bool) {
	if stale {
		recomputeTotal.WithLabelValues("stale_reset").Inc()
		return
	}
	recomputeTotal.WithLabelValues("full").Inc()
}
