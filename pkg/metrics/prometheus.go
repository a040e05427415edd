package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "market_forecast"

// Recorder collects pipeline and provider metrics. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	providerRequests *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	barsIngested     *prometheus.CounterVec
	pipelineRuns     *prometheus.CounterVec
	predictedReturn  *prometheus.GaugeVec
	modelScore       *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Requests sent to the market-data provider by outcome code",
			},
			[]string{"provider", "request_type", "code"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_rate_limited_total",
				Help:      "Requests refused locally because the request budget was spent",
			},
			[]string{"provider"},
		),
		barsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bars_ingested_total",
				Help:      "Bars read from files or providers",
			},
			[]string{"source"},
		),
		pipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by source and status",
			},
			[]string{"source", "status"},
		),
		predictedReturn: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "predicted_return",
				Help:      "Latest predicted next-day return per symbol",
			},
			[]string{"symbol"},
		),
		modelScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_holdout_r2",
				Help:      "Holdout R squared of the active model per target",
			},
			[]string{"target"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of pipeline operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordProviderRequest(provider, requestType, code string) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(provider, requestType, code).Inc()
}

func (r *Recorder) RecordRateLimited(provider string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordBars(source string, n int) {
	if r == nil {
		return
	}
	r.barsIngested.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) RecordPipelineRun(source, status string) {
	if r == nil {
		return
	}
	r.pipelineRuns.WithLabelValues(source, status).Inc()
}

func (r *Recorder) RecordPrediction(symbol string, predictedReturn float64) {
	if r == nil {
		return
	}
	r.predictedReturn.WithLabelValues(symbol).Set(predictedReturn)
}

func (r *Recorder) RecordModelScore(target string, r2 float64) {
	if r == nil {
		return
	}
	r.modelScore.WithLabelValues(target).Set(r2)
}

// ObserveSince records the time elapsed since start for op.
func (r *Recorder) ObserveSince(op string, start time.Time) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
