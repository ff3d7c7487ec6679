package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iantaiahn/topicscraper/internal/progress"
)

// PrometheusSink exports job lifecycle metrics derived from progress events.
type PrometheusSink struct {
	events     *prometheus.CounterVec
	runtime    *prometheus.HistogramVec
	memory     prometheus.Histogram
	lastReport *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_job_events_total",
			Help: "Job progress events partitioned by stage.",
		}, []string{"stage"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		memory: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_job_memory_mb",
			Help:    "Browser memory samples reported with job progress.",
			Buckets: []float64{64, 128, 256, 512, 768, 1024, 2048},
		}),
		lastReport: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_job_last_progress_timestamp_seconds",
			Help: "Unix time of the most recent event per stage.",
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{s.events, s.runtime, s.memory, s.lastReport} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		stage := string(evt.Stage)
		s.events.WithLabelValues(stage).Inc()
		s.lastReport.WithLabelValues(stage).Set(float64(evt.TS.Unix()))
		if evt.MemoryMB > 0 {
			s.memory.Observe(evt.MemoryMB)
		}
		if evt.Terminal() && evt.Dur > 0 {
			result := "success"
			if evt.Stage == progress.StageJobError {
				result = evt.Kind
			}
			s.runtime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
