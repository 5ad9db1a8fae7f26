package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	metricsOnce sync.Once

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Approximate number of ready tasks per kind",
		},
		[]string{"kind"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Total tasks processed grouped by status",
		},
		[]string{"kind", "status"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_dlq_size",
			Help: "Number of tasks stored in DLQ",
		},
		[]string{"kind"},
	)
)

// MustRegisterMetrics registers the queue collectors once.
func MustRegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{QueueDepth, QueueProcessedTotal, QueueDLQSize} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	})
}

func recordProcessed(kind, status string) {
	QueueProcessedTotal.WithLabelValues(kind, status).Inc()
}

func recordDepth(ctx context.Context, r *redis.Client, keys keyspace) {
	if n, err := r.ZCard(ctx, keys.ready()).Result(); err == nil {
		QueueDepth.WithLabelValues(keys.kind).Set(float64(n))
	}
}

func recordDLQ(ctx context.Context, r *redis.Client, keys keyspace) {
	if n, err := r.LLen(ctx, keys.dlq()).Result(); err == nil {
		QueueDLQSize.WithLabelValues(keys.kind).Set(float64(n))
	}
}
