package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SearchTierHits counts which resolution tier produced the final
	// result set for a search.
	SearchTierHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kosaten",
			Name:      "search_tier_hits_total",
			Help:      "Searches resolved per tier",
		},
		[]string{"tier"},
	)

	// UpstreamRequests counts outbound calls per external service.
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kosaten",
			Name:      "upstream_requests_total",
			Help:      "Outbound requests per upstream service",
		},
		[]string{"service", "status"},
	)

	// CenterCacheTotal counts geocode center cache hits and misses.
	CenterCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kosaten",
			Name:      "center_cache_total",
			Help:      "Geocode center cache lookups by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(SearchTierHits)
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(CenterCacheTotal)
}
