package portfolioqa

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// clientMetrics holds prometheus metrics registered for the client.
type clientMetrics struct {
	answers     *prometheus.CounterVec
	duration    prometheus.Histogram
	retrieved   prometheus.Histogram
	indexBuilds *prometheus.CounterVec
	operations  *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	m := &clientMetrics{
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolioqa",
			Subsystem: "client",
			Name:      "answers_total",
			Help:      "Answered questions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portfolioqa",
			Subsystem: "client",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portfolioqa",
			Subsystem: "client",
			Name:      "retrieved_documents",
			Help:      "Documents passing the similarity threshold per question.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolioqa",
			Subsystem: "client",
			Name:      "index_builds_total",
			Help:      "Index builds by backend and status.",
		}, []string{"backend", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolioqa",
			Subsystem: "client",
			Name:      "operations_total",
			Help:      "Client operations by type and status.",
		}, []string{"operation", "status"}),
	}
	if err := registerOrReuse(reg, &m.answers); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.retrieved); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.indexBuilds); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("portfolioqa: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("portfolioqa: register metric: %w", err)
	}
	return nil
}

// observer logs and counts client operations.
type observer struct {
	logger  *zap.Logger
	metrics *clientMetrics
}

func (o *observer) observe(op string, start time.Time, err error) {
	dur := time.Since(start)

	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.operations.WithLabelValues(op, status).Inc()
	}

	if err != nil {
		o.logger.Warn("operation failed",
			zap.String("op", op),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("operation completed",
		zap.String("op", op),
		zap.Duration("duration", dur),
	)
}
