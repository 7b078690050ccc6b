package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bidOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid submissions by outcome",
		},
		[]string{"result"},
	)

	fastPathRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bid_fast_path_rejections_total",
			Help: "Bids rejected from the highest-bid cache without touching the store",
		},
		[]string{"reason"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bid_cache_errors_total",
			Help: "Highest-bid cache failures by operation",
		},
		[]string{"operation"},
	)

	proxyEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_proxy_escalations_total",
			Help: "Accepted bids that triggered automatic proxy bidding",
		},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_lifecycle_transitions_total",
			Help: "Auction status transitions by target status",
		},
		[]string{"to"},
	)

	sellerDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_seller_decisions_total",
			Help: "Seller decisions on ended auctions",
		},
		[]string{"decision"},
	)

	bidLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_bid_duration_seconds",
			Help:    "Time spent deciding a bid",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"result"},
	)
)

func TrackBid(result string, took time.Duration) {
	bidOutcomes.WithLabelValues(result).Inc()
	bidLatency.WithLabelValues(result).Observe(took.Seconds())
}

func TrackFastPathRejection(reason string) {
	fastPathRejections.WithLabelValues(reason).Inc()
}

func TrackCacheError(operation string) {
	cacheErrors.WithLabelValues(operation).Inc()
}

func TrackProxyEscalation() {
	proxyEscalations.Inc()
}

func TrackTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

func TrackSellerDecision(decision string) {
	sellerDecisions.WithLabelValues(decision).Inc()
}
