package auditor

import (
	"context"
	"math/rand"
	"time"

	"github.com/overlaywatch/canopy/internal/store"
)

// StrategyWeights configures the weighted dispatcher. Per spec.md §9's
// resolution of the open question, a zero-value StrategyWeights must still
// make forward progress: when every weight is left at zero, the documented
// defaults (Latest=6, FourFours=80, Random=1, Failed=1) are applied; if any
// weight is nonzero, the weights are used as given.
type StrategyWeights struct {
	Latest    int
	Random    int
	FourFours int
	Failed    int
	Oldest    int
	Sync      int
}

func (w StrategyWeights) withDefaults() StrategyWeights {
	if w.Latest == 0 && w.Random == 0 && w.FourFours == 0 && w.Failed == 0 && w.Oldest == 0 && w.Sync == 0 {
		w.Latest, w.FourFours, w.Random, w.Failed = 6, 80, 1, 1
	}
	return w
}

// weightedStrategy pairs a strategy with its configured weight, in a fixed
// order so weightedPick's cumulative-sum draw is deterministic given a
// fixed rand source.
type weightedStrategy struct {
	strategy store.Strategy
	weight   int
}

func (w StrategyWeights) ordered() []weightedStrategy {
	return []weightedStrategy{
		{store.StrategyLatest, w.Latest},
		{store.StrategyFourFours, w.FourFours},
		{store.StrategyRandom, w.Random},
		{store.StrategyFailed, w.Failed},
		{store.StrategyOldest, w.Oldest},
		{store.StrategySync, w.Sync},
	}
}

// weightedPick draws one strategy with probability proportional to its
// weight. Strategies with weight 0 are never drawn.
func weightedPick(entries []weightedStrategy) store.Strategy {
	total := 0
	for _, e := range entries {
		total += e.weight
	}
	if total <= 0 {
		return store.StrategyRandom
	}
	r := rand.Intn(total)
	for _, e := range entries {
		if r < e.weight {
			return e.strategy
		}
		r -= e.weight
	}
	return entries[len(entries)-1].strategy
}

// SelectBackend is the slice of StoreLayer the dispatcher needs to pull the
// next content item for a strategy.
type SelectBackend interface {
	SelectContentForStrategy(ctx context.Context, strategy store.Strategy, subnet store.Subnetwork) (store.ContentItem, bool, error)
}

// dispatchTask is one unit of work handed to a worker.
type dispatchTask struct {
	item     store.ContentItem
	strategy store.Strategy
}

// strategyQueues holds one bounded in-process queue per strategy with a
// nonzero weight (spec.md §4.6: "workers pull audit tasks from in-process
// queues, one queue per strategy"). Strategies left at weight 0 get no
// queue and no producer, since weightedPick never draws them.
type strategyQueues map[store.Strategy]chan store.ContentItem

// newStrategyQueues allocates one bounded channel per weighted strategy,
// capacity depth (spec.md §5 default 128 per strategy).
func newStrategyQueues(entries []weightedStrategy, depth int) strategyQueues {
	qs := make(strategyQueues)
	for _, e := range entries {
		if e.weight <= 0 {
			continue
		}
		qs[e.strategy] = make(chan store.ContentItem, depth)
	}
	return qs
}

// produceStrategy is the per-strategy feeder: it repeatedly asks the store
// for the next selectable item under strategy and pushes it onto queue.
// Pushing blocks when the queue is full, which is the backpressure
// mechanism spec.md §5 describes ("when full, the dispatcher waits. This
// naturally throttles selection when the RPC client or store is slow" —
// here it throttles at the producer instead of a single shared dispatcher,
// since each strategy now has its own queue to fill).
func produceStrategy(ctx context.Context, st SelectBackend, subnet store.Subnetwork, strategy store.Strategy, queue chan<- store.ContentItem) {
	empty := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, err := st.SelectContentForStrategy(ctx, strategy, subnet)
		if err != nil || !ok {
			empty++
			backoff := time.Duration(min(empty, 20)) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		empty = 0

		select {
		case queue <- item:
		case <-ctx.Done():
			return
		}
	}
}

// runDispatcher is the single goroutine that repeatedly picks a strategy by
// weighted random choice and, if that strategy's queue already has an item
// ready, forwards it to a worker. The check on the chosen queue is
// non-blocking: a strategy whose queue is momentarily empty is simply not
// dispatched on this draw, and the next iteration draws again (possibly the
// same strategy, possibly another). A blocking receive on the one chosen
// queue would let a single sparsely-populated strategy stall every other
// strategy's dispatch whenever it was drawn; polling keeps the loop live and
// lets whichever queues actually have work flow through, while the repeated
// weighted draw still keeps the long-run dispatch share close to the
// configured weights (spec.md §8 property 6).
func runDispatcher(ctx context.Context, queues strategyQueues, entries []weightedStrategy, tasks chan<- dispatchTask) {
	empty := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		strategy := weightedPick(entries)
		queue, ok := queues[strategy]
		if !ok {
			continue
		}

		select {
		case item := <-queue:
			empty = 0
			select {
			case tasks <- dispatchTask{item: item, strategy: strategy}:
			case <-ctx.Done():
				return
			}
		default:
			empty++
			backoff := time.Duration(min(empty, 20)) * 5 * time.Millisecond
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}
