// Package metrics records per-run pipeline counters and pushes them to a
// Prometheus Pushgateway. A cron-driven CLI has no long-lived /metrics
// endpoint, so the gateway is the only sink.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "hnpoll"

// Recorder holds the metrics of one process. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	StoriesIngested *prometheus.CounterVec
	FetchFailures   prometheus.Counter
	Watermark       prometheus.Gauge

	ScoreResults *prometheus.CounterVec
	ContentState *prometheus.CounterVec
	SyncResults  *prometheus.CounterVec
	CleanResults *prometheus.CounterVec

	StageDuration *prometheus.GaugeVec
	StageFailures *prometheus.CounterVec
	LastSuccess   prometheus.Gauge
}

// New registers every metric on a private registry so tests and repeated
// runs in one process never collide on the default one.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		StoriesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_ingested_total",
			Help:      "Stories written by fetch, by outcome (inserted, updated).",
		}, []string{"outcome"}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_item_failures_total",
			Help:      "Items whose detail fetch failed.",
		}),
		Watermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_id",
			Help:      "Oldest item id processed by the last incremental fetch.",
		}),
		ScoreResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_results_total",
			Help:      "Relevance scoring outcomes (scored, cached, failed).",
		}, []string{"outcome"}),
		ContentState: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extract_results_total",
			Help:      "Content extraction outcomes by resulting state.",
		}, []string{"state"}),
		SyncResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_results_total",
			Help:      "Readwise delivery outcomes (synced, skipped, failed).",
		}, []string{"outcome"}),
		CleanResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clean_results_total",
			Help:      "Liveness probe outcomes (checked, deleted, errors).",
		}, []string{"outcome"}),
		StageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last execution of each stage.",
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stages that ended with a fatal error.",
		}, []string{"stage"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without a fatal error.",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveFetch(inserted, updated, failed int, watermark int64) {
	if r == nil {
		return
	}
	r.StoriesIngested.WithLabelValues("inserted").Add(float64(inserted))
	r.StoriesIngested.WithLabelValues("updated").Add(float64(updated))
	r.FetchFailures.Add(float64(failed))
	if watermark > 0 {
		r.Watermark.Set(float64(watermark))
	}
}

func (r *Recorder) ObserveScore(scored, cached, failed int) {
	if r == nil {
		return
	}
	r.ScoreResults.WithLabelValues("scored").Add(float64(scored))
	r.ScoreResults.WithLabelValues("cached").Add(float64(cached))
	r.ScoreResults.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ObserveExtract(state string) {
	if r == nil {
		return
	}
	r.ContentState.WithLabelValues(state).Inc()
}

func (r *Recorder) ObserveSync(synced, skipped, failed int) {
	if r == nil {
		return
	}
	r.SyncResults.WithLabelValues("synced").Add(float64(synced))
	r.SyncResults.WithLabelValues("skipped").Add(float64(skipped))
	r.SyncResults.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ObserveClean(checked, deleted, errors int) {
	if r == nil {
		return
	}
	r.CleanResults.WithLabelValues("checked").Add(float64(checked))
	r.CleanResults.WithLabelValues("deleted").Add(float64(deleted))
	r.CleanResults.WithLabelValues("errors").Add(float64(errors))
}

// ObserveStage records how long a stage took and whether it failed.
func (r *Recorder) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Set(d.Seconds())
	if err != nil {
		r.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (r *Recorder) MarkSuccess(t time.Time) {
	if r == nil {
		return
	}
	r.LastSuccess.Set(float64(t.Unix()))
}

// Pusher sends a registry to a Pushgateway.
type Pusher struct {
	url  string
	job  string
	http push.HTTPDoer
}

// NewPusher returns nil when url is empty; a nil *Pusher is a no-op.
func NewPusher(url, job string, client push.HTTPDoer) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	return &Pusher{url: url, job: job, http: client}
}

// Push replaces the job's metrics on the gateway, grouped by instance.
func (p *Pusher) Push(ctx context.Context, r *Recorder, instance string) error {
	if p == nil || r == nil {
		return nil
	}
	pusher := push.New(p.url, p.job).Gatherer(r.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if p.http != nil {
		pusher = pusher.Client(p.http)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", p.url, err)
	}
	return nil
}
