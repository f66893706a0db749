package auditor

import (
	"math"
	"testing"

	"github.com/overlaywatch/canopy/internal/store"
)

// TestWeightedPickSteadyStateDistribution is testable property #6 from
// spec.md §8: over many draws the dispatcher's strategy distribution must
// land within ±5% of the normalized configured weights.
func TestWeightedPickSteadyStateDistribution(t *testing.T) {
	weights := StrategyWeights{Latest: 6, FourFours: 80, Random: 1, Failed: 1}
	entries := weights.ordered()

	const draws = 20000
	counts := make(map[store.Strategy]int)
	for i := 0; i < draws; i++ {
		counts[weightedPick(entries)]++
	}

	total := 0
	for _, e := range entries {
		total += e.weight
	}
	for _, e := range entries {
		if e.weight == 0 {
			continue
		}
		expected := float64(e.weight) / float64(total)
		actual := float64(counts[e.strategy]) / float64(draws)
		if math.Abs(actual-expected) > 0.05 {
			t.Fatalf("strategy %s: expected share %.3f, got %.3f", e.strategy, expected, actual)
		}
	}
}

func TestWeightedDefaultsMakeForwardProgress(t *testing.T) {
	var zero StrategyWeights
	entries := zero.withDefaults().ordered()
	total := 0
	for _, e := range entries {
		total += e.weight
	}
	if total == 0 {
		t.Fatal("a zero-value StrategyWeights must still draw something")
	}
	if got := weightedPick(entries); got == "" {
		t.Fatal("weightedPick returned an empty strategy")
	}
}
