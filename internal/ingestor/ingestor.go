package ingestor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/store"
)

// storeBackend is the slice of StoreLayer the Ingestor needs.
type storeBackend interface {
	InsertContentIfAbsent(ctx context.Context, item store.ContentItem) (bool, error)
	LastIngestedBlock(ctx context.Context, subnet store.Subnetwork) (uint64, bool, error)
}

// deriveFunc turns one block into the content items it contributes.
type deriveFunc func(BlockData) []store.ContentItem

// Ingestor follows (or backfills) one chain and writes ContentItems. Items
// for block n are only committed after block n-1's, and re-running over an
// already-ingested range is a no-op by way of InsertContentIfAbsent.
type Ingestor struct {
	store    storeBackend
	provider ChainProvider
	derive   deriveFunc
	subnet   store.Subnetwork
	log      *logrus.Entry

	pollInterval time.Duration // FollowHead poll cadence, default 12s
}

// New builds an Ingestor for subnet, deriving content with derive (see
// deriveHistoryItems / deriveBeaconItems) from blocks fetched via provider.
func New(st storeBackend, provider ChainProvider, subnet store.Subnetwork, derive deriveFunc, log *logrus.Entry) *Ingestor {
	return &Ingestor{store: st, provider: provider, derive: derive, subnet: subnet, log: log, pollInterval: 12 * time.Second}
}

// BackfillRange derives and inserts content for every block in [start, end],
// in ascending order, used for bootstrap and for populate-state-roots-range.
func (ig *Ingestor) BackfillRange(ctx context.Context, start, end uint64) error {
	for n := start; n <= end; n++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ig.ingestBlock(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// FollowHead polls the chain provider for its head and ingests every newly
// seen block in order, resuming from the highest block already recorded in
// the store so a restart does not re-derive from genesis.
func (ig *Ingestor) FollowHead(ctx context.Context) error {
	next, err := ig.resumePoint(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(ig.pollInterval)
	defer ticker.Stop()
	for {
		head, err := ig.provider.HeadNumber(ctx)
		if err == nil {
			for ; next <= head; next++ {
				if err := ig.ingestBlock(ctx, next); err != nil {
					ig.log.WithError(err).WithField("block", next).Warn("ingest failed, will retry next tick")
					break
				}
			}
		} else {
			ig.log.WithError(err).Warn("head lookup failed, will retry next tick")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (ig *Ingestor) resumePoint(ctx context.Context) (uint64, error) {
	last, ok, err := ig.store.LastIngestedBlock(ctx, ig.subnet)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last + 1, nil
}

func (ig *Ingestor) ingestBlock(ctx context.Context, number uint64) error {
	block, err := ig.provider.BlockByNumber(ctx, number)
	if err != nil {
		return err
	}
	for _, item := range ig.derive(block) {
		if _, err := ig.store.InsertContentIfAbsent(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
