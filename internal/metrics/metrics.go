// Package metrics defines the Prometheus instruments for bet lifecycle
// transitions and exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsCreated counts createBet operations.
	BetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinduel_bets_created_total",
		Help: "Number of bets created.",
	})

	// LegsFunded counts successful deposits, per leg.
	LegsFunded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinduel_legs_funded_total",
		Help: "Number of successfully funded legs.",
	}, []string{"leg"})

	// BetsActivated counts bets whose settlement window started.
	BetsActivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinduel_bets_activated_total",
		Help: "Number of bets that reached both-legs-funded activation.",
	})

	// BetsSettled counts settlements, per winning side.
	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinduel_bets_settled_total",
		Help: "Number of settled bets.",
	}, []string{"winner_side"})

	// BetsWithdrawn counts stale withdrawals that refunded a leg.
	BetsWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinduel_bets_withdrawn_total",
		Help: "Number of stale withdrawals that refunded at least one leg.",
	})

	// SettlementFailures counts failed settlement attempts, per reason.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinduel_settlement_failures_total",
		Help: "Number of failed settlement attempts.",
	}, []string{"reason"})
)

// Handler returns the Prometheus scrape handler for mounting on the API
// server mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
