// Package telemetry holds the prometheus collectors and the tracer shared by stores.
package telemetry

import (
	"context"
	"time"

	"github.com/kevinxiao27/mutstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutstate_commits_total",
		Help: "Commits by store and result",
	}, []string{"store", "result"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutstate_actions_total",
		Help: "Write-intents recorded by store and action kind",
	}, []string{"store", "kind"})

	commitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mutstate_commit_duration_seconds",
		Help:    "Time spent replaying a pending log",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	}, []string{"store"})

	commitSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mutstate_commit_actions",
		Help:    "Actions replayed per commit",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 1000},
	}, []string{"store"})

	listeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mutstate_listeners",
		Help: "Registered listeners by store",
	}, []string{"store"})
)

var tracer = otel.Tracer("github.com/kevinxiao27/mutstate/store")

func RecordAction(store, kind string) {
	actionsTotal.WithLabelValues(store, kind).Inc()
}

func SetListeners(store string, n int) {
	listeners.WithLabelValues(store).Set(float64(n))
}

// Commit tracks a single commit from replay to notification.
type Commit struct {
	store string
	start time.Time
	span  trace.Span
}

func StartCommit(ctx context.Context, store string, actions int) (context.Context, *Commit) {
	ctx, span := tracer.Start(ctx, "store.commit", trace.WithAttributes(
		attribute.String("store", store),
		attribute.Int("actions", actions),
	))
	commitSize.WithLabelValues(store).Observe(float64(actions))
	return ctx, &Commit{store: store, start: time.Now(), span: span}
}

func (c *Commit) End(err error) {
	commitDuration.WithLabelValues(c.store).Observe(time.Since(c.start).Seconds())
	result := util.Choose(err == nil, "ok", "error")
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	commitsTotal.WithLabelValues(c.store, result).Inc()
	c.span.End()
}

// Notified annotates the commit span with the number of listeners called.
func (c *Commit) Notified(n int) {
	c.span.SetAttributes(attribute.Int("listeners", n))
}
