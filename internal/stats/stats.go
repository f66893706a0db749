// Package stats implements the periodic rolling-aggregate computation
// (spec.md §4.7, component C6): on a fixed tick it reduces raw audit
// attempts into per-(subnetwork, strategy, content_type) windows over
// 1h/24h/7d horizons and writes them idempotently.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/store"
)

// storeBackend is the slice of StoreLayer the aggregator needs.
type storeBackend interface {
	SamplesSince(ctx context.Context, subnet store.Subnetwork, strategy store.Strategy, since time.Time) ([]store.AuditSample, error)
	UpsertStatsWindow(ctx context.Context, w store.AuditStatsWindow) error
}

// horizon names one of the three rolling windows computed every tick.
type horizon struct {
	name string
	span time.Duration
}

var horizons = []horizon{
	{"1h", time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
}

var allStrategies = []store.Strategy{
	store.StrategyLatest,
	store.StrategyFourFours,
	store.StrategyRandom,
	store.StrategyFailed,
	store.StrategyOldest,
	store.StrategySync,
}

var allSubnetworks = []store.Subnetwork{
	store.SubnetworkHistory,
	store.SubnetworkState,
	store.SubnetworkBeacon,
}

// Config controls the aggregator's tick cadence.
type Config struct {
	Interval time.Duration // default 15m
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	return c
}

// Aggregator runs the fixed-tick rollup loop.
type Aggregator struct {
	cfg     Config
	store   storeBackend
	log     *logrus.Entry
	metrics *config.Metrics
}

func New(cfg Config, st storeBackend, log *logrus.Entry, metrics *config.Metrics) *Aggregator {
	return &Aggregator{cfg: cfg.withDefaults(), store: st, log: log, metrics: metrics}
}

// Run ticks at cfg.Interval until ctx is cancelled, computing one full set
// of window cells per tick. It returns nil on graceful cancellation.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	if err := a.tick(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
		a.log.WithError(err).Error("stats tick failed")
		a.metrics.ObserveError(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := a.tick(ctx, now.UTC()); err != nil && ctx.Err() == nil {
				a.log.WithError(err).Error("stats tick failed")
				a.metrics.ObserveError(err)
			}
		}
	}
}

// tick recomputes every (subnetwork, strategy, horizon) cell. Each cell is
// an independent idempotent upsert, so a failure partway through a tick
// loses nothing already written and is simply retried on the next tick.
func (a *Aggregator) tick(ctx context.Context, now time.Time) error {
	for _, subnet := range allSubnetworks {
		for _, strategy := range allStrategies {
			for _, h := range horizons {
				if err := a.computeCell(ctx, subnet, strategy, h, now); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (a *Aggregator) computeCell(ctx context.Context, subnet store.Subnetwork, strategy store.Strategy, h horizon, now time.Time) error {
	windowStart := now.Add(-h.span)
	samples, err := a.store.SamplesSince(ctx, subnet, strategy, windowStart)
	if err != nil {
		return err
	}

	byType := groupByContentType(samples)
	for contentType, group := range byType {
		w := reduce(group, subnet, strategy, contentType, windowStart, now, h.span)
		if err := a.store.UpsertStatsWindow(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func groupByContentType(samples []store.AuditSample) map[string][]store.AuditSample {
	out := make(map[string][]store.AuditSample)
	for _, s := range samples {
		out[s.ContentType] = append(out[s.ContentType], s)
	}
	return out
}

// reduce folds one group of samples into a single AuditStatsWindow cell.
// Latency percentiles are computed over the group regardless of strategy;
// per-segment Sync latency is the same reduction scoped by the caller to
// Sync-strategy samples, since StoreLayer already filters samples by
// strategy before they reach here.
func reduce(samples []store.AuditSample, subnet store.Subnetwork, strategy store.Strategy, contentType string, start, end time.Time, span time.Duration) store.AuditStatsWindow {
	w := store.AuditStatsWindow{
		WindowStart: start,
		WindowEnd:   end,
		Subnetwork:  subnet,
		Strategy:    string(strategy),
		ContentType: contentType,
	}

	total := len(samples)
	w.TotalAudits = int64(total)
	if total == 0 {
		return w
	}

	var passes, failures, errs int
	latencies := make([]float64, 0, total)
	for _, s := range samples {
		switch s.Outcome {
		case store.OutcomeSuccess:
			passes++
		case store.OutcomeFailure:
			failures++
		}
		if s.IsClientErr {
			errs++
		}
		latencies = append(latencies, s.LatencyMs)
	}
	sort.Float64s(latencies)

	w.Passes = int64(passes)
	w.Failures = int64(failures)
	w.ErrorCount = int64(errs)
	w.PassPercent = 100 * float64(passes) / float64(total)
	w.FailPercent = 100 * float64(failures) / float64(total)
	w.AuditsPerMinute = float64(total) / span.Minutes()

	w.LatencyMinMs = floatPtr(latencies[0])
	w.LatencyMaxMs = floatPtr(latencies[len(latencies)-1])
	w.LatencyMeanMs = floatPtr(mean(latencies))
	w.LatencyMedianMs = floatPtr(percentile(latencies, 0.50))
	w.LatencyP99Ms = floatPtr(percentile(latencies, 0.99))

	return w
}

func floatPtr(f float64) *float64 { return &f }

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// percentile assumes xs is already sorted ascending and interpolates
// linearly between the two closest ranks, adequate for the window sizes this
// aggregator deals with (tens to low thousands of samples per tick).
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 1 {
		return xs[0]
	}
	idx := p * float64(len(xs)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(xs) {
		return xs[lo]
	}
	frac := idx - float64(lo)
	return xs[lo] + frac*(xs[hi]-xs[lo])
}
