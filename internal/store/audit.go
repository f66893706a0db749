package store

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// InsertAudit writes one completed probe, its transfer failures (if any),
// and the LatestAudit pointer update, all inside a single transaction.
// LatestAudit is only ever advanced forward in time: an audit finishing out
// of order (possible when workers run concurrently) must never regress the
// pointer (spec.md §8, LatestAudit monotonicity).
func (s *Store) InsertAudit(ctx context.Context, attempt AuditAttempt, failures []TransferFailure) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return withRetry(ctx, func() error {
		return s.insertAuditOnce(ctx, attempt, failures)
	})
}

// insertAuditOnce runs the full transaction once; withRetry re-invokes it
// wholesale on a Store.Transient failure, since a begin/commit span must
// either land entirely or not at all.
func (s *Store) insertAuditOnce(ctx context.Context, attempt AuditAttempt, failures []TransferFailure) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertAttempt = `
		INSERT INTO audit_attempts
			(id, content_key, strategy, started_at, finished_at, outcome, failure_reason, client_identity, trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(ctx, insertAttempt,
		attempt.ID, attempt.ContentKey, attempt.Strategy, attempt.StartedAt, attempt.FinishedAt,
		attempt.Outcome, nullableFailureReason(attempt), attempt.ClientIdentity, attempt.Trace,
	); err != nil {
		return wrapErr(err)
	}

	const insertFailure = `
		INSERT INTO transfer_failures (audit_attempt_id, sender_identity, reason)
		VALUES ($1, $2, $3)`
	for _, f := range failures {
		if _, err := tx.ExecContext(ctx, insertFailure, attempt.ID, f.SenderIdentity[:], f.Reason); err != nil {
			return wrapErr(err)
		}
	}

	const upsertLatest = `
		INSERT INTO latest_audits (content_key, audit_attempt_id, finished_at, outcome)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_key) DO UPDATE SET
			audit_attempt_id = EXCLUDED.audit_attempt_id,
			finished_at = EXCLUDED.finished_at,
			outcome = EXCLUDED.outcome
		WHERE latest_audits.finished_at < EXCLUDED.finished_at`
	if _, err := tx.ExecContext(ctx, upsertLatest, attempt.ContentKey, attempt.ID, attempt.FinishedAt, attempt.Outcome); err != nil {
		return wrapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func nullableFailureReason(a AuditAttempt) sql.NullString {
	if a.Outcome != OutcomeFailure || a.FailureReason == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(a.FailureReason), Valid: true}
}

// Strategy names the six content-selection policies the auditor's weighted
// dispatcher chooses among (spec.md §4.4).
type Strategy string

const (
	StrategyLatest    Strategy = "latest"
	StrategyRandom    Strategy = "random"
	StrategyFourFours Strategy = "four_fours"
	StrategyFailed    Strategy = "failed"
	StrategyOldest    Strategy = "oldest"
	StrategySync      Strategy = "sync"
)

var errUnknownStrategy = errors.New("store: unknown selection strategy")

// SelectContentForStrategy returns one content item chosen according to
// strategy, scoped to subnet. It is the StoreLayer half of the auditor's
// strategy contract; the auditor owns only the weighted choice of which
// strategy to invoke.
func (s *Store) SelectContentForStrategy(ctx context.Context, strategy Strategy, subnet Subnetwork) (ContentItem, bool, error) {
	switch strategy {
	case StrategyLatest:
		return s.selectOne(ctx, `
			SELECT c.content_key, c.content_id, c.origin_block_num, c.origin_slot, c.subnetwork, c.first_available_at
			FROM content_items c
			LEFT JOIN latest_audits la ON la.content_key = c.content_key
			WHERE c.subnetwork = $1 AND la.content_key IS NULL
			ORDER BY c.origin_block_num DESC LIMIT 1`, subnet)
	case StrategyRandom:
		return s.selectOne(ctx, `
			SELECT content_key, content_id, origin_block_num, origin_slot, subnetwork, first_available_at
			FROM content_items WHERE subnetwork = $1
			ORDER BY random() LIMIT 1`, subnet)
	case StrategyFourFours:
		return s.selectFourFours(ctx, subnet)
	case StrategyFailed:
		return s.selectOne(ctx, `
			SELECT c.content_key, c.content_id, c.origin_block_num, c.origin_slot, c.subnetwork, c.first_available_at
			FROM content_items c
			JOIN latest_audits la ON la.content_key = c.content_key
			WHERE c.subnetwork = $1 AND la.outcome = 'failure'
			ORDER BY random() LIMIT 1`, subnet)
	case StrategyOldest:
		return s.selectOne(ctx, `
			SELECT c.content_key, c.content_id, c.origin_block_num, c.origin_slot, c.subnetwork, c.first_available_at
			FROM content_items c
			LEFT JOIN latest_audits la ON la.content_key = c.content_key
			WHERE c.subnetwork = $1
			ORDER BY la.finished_at ASC NULLS FIRST LIMIT 1`, subnet)
	case StrategySync:
		return s.selectOne(ctx, `
			SELECT content_key, content_id, origin_block_num, origin_slot, subnetwork, first_available_at
			FROM content_items WHERE subnetwork = $1
			ORDER BY origin_block_num DESC LIMIT 1`, subnet)
	default:
		return ContentItem{}, false, errUnknownStrategy
	}
}

// MergeBlockNumber is the execution-layer block at which the chain's
// history the "four fours" strategy samples ends (spec.md §4.6: "Items
// with block_number ∈ [0, merge_block)"). History past this point is the
// post-merge chain and is covered instead by StrategyLatest/StrategyOldest.
const MergeBlockNumber uint64 = 15_537_394

// fourFoursEpochSize is the batch width "four fours" draws are aligned to,
// matching the execution-layer epoch length used by era/era1 archives (one
// epoch = 8192 blocks) so that a drawn batch lines up with the archival
// boundary the strategy's name refers to.
const fourFoursEpochSize uint64 = 8192

// selectFourFours picks a pseudorandom epoch-aligned batch within
// [0, MergeBlockNumber) and then a random item inside that batch. This is
// the "four fours" coverage strategy: unlike StrategyRandom it guarantees,
// over many draws, even pressure across pre-merge history rather than a
// distribution skewed toward whichever epoch happens to hold the most
// content, and it never selects post-merge blocks.
func (s *Store) selectFourFours(ctx context.Context, subnet Subnetwork) (ContentItem, bool, error) {
	epochLo, epochHi := fourFoursEpochBounds(randomInt(fourFoursEpochCount()))
	return s.selectOne(ctx, `
		SELECT content_key, content_id, origin_block_num, origin_slot, subnetwork, first_available_at
		FROM content_items
		WHERE subnetwork = $1 AND origin_block_num BETWEEN $2 AND $3
		ORDER BY random() LIMIT 1`, subnet, epochLo, epochHi)
}

// fourFoursEpochCount is the number of epoch-aligned batches that fit in
// [0, MergeBlockNumber), rounding up so the final, partial epoch is still
// reachable.
func fourFoursEpochCount() int {
	n := MergeBlockNumber / fourFoursEpochSize
	if MergeBlockNumber%fourFoursEpochSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}

// fourFoursEpochBounds returns the inclusive block-number range of the
// given epoch index, clamped so the last epoch never reaches
// MergeBlockNumber.
func fourFoursEpochBounds(epoch int) (lo, hi uint64) {
	lo = uint64(epoch) * fourFoursEpochSize
	hi = lo + fourFoursEpochSize - 1
	if hi >= MergeBlockNumber {
		hi = MergeBlockNumber - 1
	}
	return lo, hi
}

func (s *Store) selectOne(ctx context.Context, query string, args ...interface{}) (ContentItem, bool, error) {
	row := contentRow{}
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, false, nil
	}
	if err != nil {
		return ContentItem{}, false, wrapErr(err)
	}
	return row.toContentItem(), true, nil
}

// contentRow mirrors ContentItem's column layout for sqlx scanning; the hex
// content_id and the domain uint256.Int are bridged in toContentItem.
type contentRow struct {
	ContentKey       []byte     `db:"content_key"`
	ContentID        string     `db:"content_id"`
	OriginBlockNum   uint64     `db:"origin_block_num"`
	OriginSlot       *uint64    `db:"origin_slot"`
	Subnetwork       Subnetwork `db:"subnetwork"`
	FirstAvailableAt time.Time  `db:"first_available_at"`
}

func (r contentRow) toContentItem() ContentItem {
	item := ContentItem{
		ContentKey:       r.ContentKey,
		OriginBlockNum:   r.OriginBlockNum,
		OriginSlot:       r.OriginSlot,
		Subnetwork:       r.Subnetwork,
		FirstAvailableAt: r.FirstAvailableAt,
	}
	_, _ = item.ContentID.SetFromHex(r.ContentID)
	return item
}

// randomInt returns a value in [0,n).
func randomInt(n int) int {
	return rand.Intn(n)
}
