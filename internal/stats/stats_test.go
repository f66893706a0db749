package stats

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/store"
)

func discardLogger() *logrus.Entry {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg.WithField("component", "test")
}

func TestPercentileSingleValue(t *testing.T) {
	if got := percentile([]float64{42}, 0.99); got != 42 {
		t.Fatalf("percentile of a single sample should be that sample, got %v", got)
	}
}

func TestPercentileInterpolatesBetweenRanks(t *testing.T) {
	xs := []float64{10, 20, 30, 40, 50}
	if got := percentile(xs, 0.50); got != 30 {
		t.Fatalf("median of 5 samples should be the middle one, got %v", got)
	}
	if got := percentile(xs, 0); got != 10 {
		t.Fatalf("p0 should be the minimum, got %v", got)
	}
	if got := percentile(xs, 1); got != 50 {
		t.Fatalf("p100 should be the maximum, got %v", got)
	}
	if got := percentile(xs, 0.125); got != 15 {
		t.Fatalf("p12.5 should fall halfway between 10 and 20, got %v", got)
	}
}

func TestMean(t *testing.T) {
	if got := mean([]float64{1, 2, 3}); got != 2 {
		t.Fatalf("mean([1,2,3]) = %v, want 2", got)
	}
}

func TestReduceEmptyGroupLeavesLatencyFieldsNil(t *testing.T) {
	w := reduce(nil, store.SubnetworkHistory, store.StrategyLatest, "header-by-hash", time.Unix(0, 0), time.Unix(3600, 0), time.Hour)
	if w.TotalAudits != 0 {
		t.Fatalf("expected zero total for an empty group, got %d", w.TotalAudits)
	}
	if w.LatencyMeanMs != nil {
		t.Fatal("expected nil latency fields for an empty group")
	}
}

func TestReduceComputesPassFailPercentages(t *testing.T) {
	samples := []store.AuditSample{
		{Outcome: store.OutcomeSuccess, LatencyMs: 100},
		{Outcome: store.OutcomeSuccess, LatencyMs: 200},
		{Outcome: store.OutcomeFailure, LatencyMs: 300},
		{Outcome: store.OutcomeFailure, LatencyMs: 400, IsClientErr: true},
	}
	w := reduce(samples, store.SubnetworkHistory, store.StrategyFourFours, "body", time.Unix(0, 0), time.Unix(3600, 0), time.Hour)

	if w.TotalAudits != 4 || w.Passes != 2 || w.Failures != 2 || w.ErrorCount != 1 {
		t.Fatalf("unexpected counts: %+v", w)
	}
	if w.PassPercent != 50 || w.FailPercent != 50 {
		t.Fatalf("unexpected percentages: pass=%v fail=%v", w.PassPercent, w.FailPercent)
	}
	if w.LatencyMinMs == nil || *w.LatencyMinMs != 100 {
		t.Fatalf("unexpected min latency: %+v", w.LatencyMinMs)
	}
	if w.LatencyMaxMs == nil || *w.LatencyMaxMs != 400 {
		t.Fatalf("unexpected max latency: %+v", w.LatencyMaxMs)
	}
	if w.LatencyMeanMs == nil || *w.LatencyMeanMs != 250 {
		t.Fatalf("unexpected mean latency: %+v", w.LatencyMeanMs)
	}
}

// fakeStore feeds a single (subnetwork, strategy, content type) sample
// through one tick and records every upserted window.
type fakeStore struct {
	windows []store.AuditStatsWindow
}

func (f *fakeStore) SamplesSince(ctx context.Context, subnet store.Subnetwork, strategy store.Strategy, since time.Time) ([]store.AuditSample, error) {
	if subnet == store.SubnetworkHistory && strategy == store.StrategyLatest {
		return []store.AuditSample{{ContentType: "header-by-hash", Outcome: store.OutcomeSuccess, LatencyMs: 50}}, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertStatsWindow(ctx context.Context, w store.AuditStatsWindow) error {
	f.windows = append(f.windows, w)
	return nil
}

func TestTickUpsertsOneWindowPerNonEmptyCell(t *testing.T) {
	fs := &fakeStore{}
	agg := New(Config{}, fs, discardLogger(), config.NewMetrics("stats_test"))

	if err := agg.tick(context.Background(), time.Unix(10_000, 0)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(fs.windows) != len(horizons) {
		t.Fatalf("expected one window per horizon for the one populated cell, got %d", len(fs.windows))
	}
	for _, w := range fs.windows {
		if w.Subnetwork != store.SubnetworkHistory || w.Strategy != string(store.StrategyLatest) {
			t.Fatalf("unexpected window cell: %+v", w)
		}
	}
}
