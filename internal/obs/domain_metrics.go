package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// FeeReviewTotal counts review computations by plan and outcome.
	FeeReviewTotal *prometheus.CounterVec
	// FeeReviewFallbackTotal counts reviews replaced by the degraded summary.
	FeeReviewFallbackTotal prometheus.Counter
	// ReviewCacheLookups counts review cache lookups per cache layer.
	ReviewCacheLookups *prometheus.CounterVec
	// CRMSyncTotal tracks CRM lead delivery outcomes.
	CRMSyncTotal *prometheus.CounterVec
	// CRMSyncLatency records CRM delivery attempt latency in milliseconds.
	CRMSyncLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		FeeReviewTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_review_total",
			Help:      "Count of fee review computations by plan and result.",
		}, []string{"plan", "result"})
		FeeReviewFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_review_fallback_total",
			Help:      "Number of fee reviews served as the degraded summary.",
		})
		ReviewCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_cache_lookups_total",
			Help:      "Review cache lookups by layer and result.",
		}, []string{"layer", "result"})
		CRMSyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_sync_total",
			Help:      "Count of CRM lead sync outcomes.",
		}, []string{"result"})
		CRMSyncLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crm_sync_duration_ms",
			Help:      "Latency for CRM delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, FeeReviewTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				FeeReviewTotal = v
			}
		})
		mustRegisterCollector(reg, FeeReviewFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				FeeReviewFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, ReviewCacheLookups, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReviewCacheLookups = v
			}
		})
		mustRegisterCollector(reg, CRMSyncTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CRMSyncTotal = v
			}
		})
		mustRegisterCollector(reg, CRMSyncLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CRMSyncLatency = v
			}
		})
	})
}

// RecordFeeReview counts a review outcome when domain metrics are registered.
func RecordFeeReview(plan, result string) {
	if FeeReviewTotal != nil {
		FeeReviewTotal.WithLabelValues(plan, result).Inc()
	}
	if result == "fallback" && FeeReviewFallbackTotal != nil {
		FeeReviewFallbackTotal.Inc()
	}
}

// RecordCacheLookup counts a hit or miss for a review cache layer.
func RecordCacheLookup(layer string, hit bool) {
	if ReviewCacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	ReviewCacheLookups.WithLabelValues(layer, result).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
