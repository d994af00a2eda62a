// Package observability exports scoring counters to Prometheus.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"equipguard/internal/model"
)

type PromObs struct {
	predictions *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	counters    map[string]prometheus.Counter
	gauges      map[string]prometheus.Gauge
	histos      map[string]prometheus.Observer
}

const (
	anomaliesTotal  = "equipguard_anomalies_total"
	notReadyTotal   = "equipguard_not_ready_total"
	modelsReady     = "equipguard_models_ready"
	scoringLatency  = "equipguard_scoring_latency_seconds"
	ingestQueueSize = "equipguard_ingest_queue_length"
)

// NewPromObs registers the collectors on reg, or on the default registerer
// when reg is nil.
func NewPromObs(reg prometheus.Registerer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	predictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "equipguard_predictions_total",
		Help: "Predictions served, by classified status.",
	}, []string{"status"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "equipguard_alerts_total",
		Help: "Alerts raised, by alert type.",
	}, []string{"type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "equipguard_ingest_rejected_total",
		Help: "Ingested lines that could not be parsed into a reading.",
	}, []string{"source"})
	anomalies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: anomaliesTotal,
		Help: "Predictions flagged as anomalous by the detector.",
	})
	notReady := prometheus.NewCounter(prometheus.CounterOpts{
		Name: notReadyTotal,
		Help: "Scoring requests refused because models were not loaded.",
	})
	ready := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: modelsReady,
		Help: "1 when the scaler and both models are loaded.",
	})
	queue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ingestQueueSize,
		Help: "Readings buffered between ingest and the engine.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    scoringLatency,
		Help:    "Time to scale and score one feature vector.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	reg.MustRegister(predictions, alerts, rejected, anomalies, notReady, ready, queue, latency)

	for st := model.StatusHealthy; st <= model.StatusCritical; st++ {
		predictions.WithLabelValues(st.String())
	}

	return &PromObs{
		predictions: predictions,
		alerts:      alerts,
		rejected:    rejected,
		counters: map[string]prometheus.Counter{
			anomaliesTotal: anomalies,
			notReadyTotal:  notReady,
		},
		gauges: map[string]prometheus.Gauge{
			modelsReady:     ready,
			ingestQueueSize: queue,
		},
		histos: map[string]prometheus.Observer{
			scoringLatency: latency,
		},
	}
}

func (p *PromObs) ObservePrediction(res model.PredictionResult, took time.Duration) {
	if p == nil {
		return
	}
	p.predictions.WithLabelValues(res.Status.String()).Inc()
	if res.IsAnomaly {
		p.counters[anomaliesTotal].Inc()
	}
	p.histos[scoringLatency].Observe(took.Seconds())
}

func (p *PromObs) IncNotReady() {
	if p == nil {
		return
	}
	p.counters[notReadyTotal].Inc()
}

func (p *PromObs) IncAlert(alertType string) {
	if p == nil {
		return
	}
	p.alerts.WithLabelValues(alertType).Inc()
}

func (p *PromObs) IncRejected(source string) {
	if p == nil {
		return
	}
	p.rejected.WithLabelValues(source).Inc()
}

func (p *PromObs) SetReady(ready bool) {
	if p == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1
	}
	p.gauges[modelsReady].Set(v)
}

func (p *PromObs) SetQueueLength(n int) {
	if p == nil {
		return
	}
	p.gauges[ingestQueueSize].Set(float64(n))
}
