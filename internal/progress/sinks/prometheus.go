package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
)

// PrometheusSink exports run lifecycle metrics via Prometheus.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	lastPercent   *prometheus.GaugeVec
	lastResults   *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs started per source.",
		}, []string{"source"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs completed partitioned by source and result.",
		}, []string{"source", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		lastPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_run_progress_percent",
			Help: "Last reported progress percent per source.",
		}, []string{"source"}),
		lastResults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_run_results",
			Help: "Ranked results in the last successful run per source.",
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.lastPercent,
		s.lastResults,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(source).Inc()
		s.lastPercent.WithLabelValues(source).Set(0)
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunProgress:
		s.lastPercent.WithLabelValues(source).Set(float64(evt.Percent))
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(source, "success").Inc()
		s.lastResults.WithLabelValues(source).Set(float64(evt.Results))
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(source, "error").Inc()
		s.observeRuntime(evt, "error")
	default:
		return
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
