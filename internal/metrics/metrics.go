// Package metrics provides Prometheus instrumentation for the roommate
// matching service. It exposes counters for like and response throughput,
// side-effect failures and store retries, and a histogram for
// recommendation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LikesTotal counts sendLike and cancelLike calls, labeled by outcome:
	// "created", "mutual", "canceled", "rejected".
	LikesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_likes_total",
		Help: "Total number of like operations by outcome",
	}, []string{"outcome"})

	// ResponsesTotal counts confirm/reject calls, labeled by response
	// ("ACCEPTED", "REJECTED") and outcome ("recorded", "rejected").
	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_responses_total",
		Help: "Total number of match responses",
	}, []string{"response", "outcome"})

	// StatusTransitions counts derived status changes of a match.
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_match_status_transitions_total",
		Help: "Derived match status transitions",
	}, []string{"status"})

	// SideEffectFailures counts best-effort collaborator calls that failed,
	// labeled by collaborator: "chatroom", "notification".
	SideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_side_effect_failures_total",
		Help: "Failed best-effort side effects after a committed transition",
	}, []string{"collaborator"})

	// StoreRetries counts transactions retried after a pair or version
	// conflict.
	StoreRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_store_retries_total",
		Help: "Match transactions retried after a concurrency conflict",
	}, []string{"op"})

	// RecommendationLatency records the time to build a recommendation list.
	RecommendationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roommate_recommendation_latency_seconds",
		Help:    "Recommendation ranking latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CandidateCache counts candidate snapshot lookups by result: "hit",
	// "miss", "error".
	CandidateCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_candidate_cache_total",
		Help: "Candidate snapshot cache lookups",
	}, []string{"result"})

	// RateLimited counts requests refused by the rate limiter, by rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roommate_rate_limited_total",
		Help: "Requests refused by the rate limiter",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		LikesTotal,
		ResponsesTotal,
		StatusTransitions,
		SideEffectFailures,
		StoreRetries,
		RecommendationLatency,
		CandidateCache,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
