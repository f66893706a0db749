package store

import (
	"context"
	"time"
)

// InsertContentIfAbsent inserts a content item derived by the ingestor.
// It is idempotent by ContentKey: re-running the ingestor over a range it
// has already processed leaves existing rows untouched and their original
// FirstAvailableAt intact, which is what preserves insertion-order
// monotonicity across restarts (spec.md §4.3 Ingestor edge cases).
func (s *Store) InsertContentIfAbsent(ctx context.Context, item ContentItem) (inserted bool, err error) {
	const q = `
		INSERT INTO content_items (content_key, content_id, origin_block_num, origin_slot, subnetwork, first_available_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_key) DO NOTHING`
	firstAvailable := item.FirstAvailableAt
	if firstAvailable.IsZero() {
		firstAvailable = time.Now().UTC()
	}
	err = withRetry(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, q, item.ContentKey, item.ContentID.Hex(), item.OriginBlockNum, item.OriginSlot, item.Subnetwork, firstAvailable)
		if execErr != nil {
			return wrapErr(execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return wrapErr(raErr)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// LastIngestedBlock returns the highest block (or, for the beacon
// subnetwork, slot) recorded for a subnetwork, or ok=false if nothing has
// been ingested yet or the highest recorded value is 0 (so a store holding
// only block 0 resumes at 0 again, which InsertContentIfAbsent makes
// harmless). FollowHead mode resumes from this value on restart instead of
// re-deriving from genesis.
//
// Beacon-derived rows always carry origin_block_num=0 (derive.go packs the
// slot into origin_slot instead), so MAX(origin_block_num) would report 0
// forever for that subnetwork and FollowHead would never advance past
// genesis on restart; MAX(origin_slot) is used there instead.
func (s *Store) LastIngestedBlock(ctx context.Context, subnet Subnetwork) (height uint64, ok bool, err error) {
	q := `SELECT COALESCE(MAX(origin_block_num), 0) FROM content_items WHERE subnetwork = $1`
	if subnet == SubnetworkBeacon {
		q = `SELECT COALESCE(MAX(origin_slot), 0) FROM content_items WHERE subnetwork = $1`
	}
	var max uint64
	if scanErr := s.db.GetContext(ctx, &max, q, subnet); scanErr != nil {
		return 0, false, wrapErr(scanErr)
	}
	return max, max > 0, nil
}
