package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestRecordCensusStart(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO censuses`).
		WithArgs(sqlmock.AnyArg(), SubnetworkHistory, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := s.RecordCensusStart(context.Background(), SubnetworkHistory)
	if err != nil {
		t.Fatalf("RecordCensusStart: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil census id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseCensusNotFoundIsPermanent(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE censuses`).
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CloseCensus(context.Background(), id)
	if err == nil {
		t.Fatal("expected error for missing census")
	}
	if !xerrors.Is(err, xerrors.KindStorePermanent) {
		t.Fatalf("expected a permanent store error, got %v", err)
	}
}

func TestInsertContentIfAbsentIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	item := ContentItem{
		ContentKey:       []byte{0x00, 0x01, 0x02},
		OriginBlockNum:   100,
		Subnetwork:       SubnetworkHistory,
		FirstAvailableAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO content_items`).
		WithArgs(item.ContentKey, sqlmock.AnyArg(), item.OriginBlockNum, item.OriginSlot, item.Subnetwork, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := s.InsertContentIfAbsent(context.Background(), item)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report inserted=true")
	}

	mock.ExpectExec(`INSERT INTO content_items`).
		WithArgs(item.ContentKey, sqlmock.AnyArg(), item.OriginBlockNum, item.OriginSlot, item.Subnetwork, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = s.InsertContentIfAbsent(context.Background(), item)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("expected re-run to report inserted=false")
	}
}

func TestInsertAuditTransactional(t *testing.T) {
	s, mock := newMockStore(t)
	attempt := AuditAttempt{
		ContentKey: []byte{0x01},
		Strategy:   string(StrategyLatest),
		StartedAt:  time.Now().Add(-time.Second).UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    OutcomeSuccess,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_attempts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO latest_audits`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.InsertAudit(context.Background(), attempt, nil); err != nil {
		t.Fatalf("InsertAudit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertAuditRollsBackOnFailureInsert(t *testing.T) {
	s, mock := newMockStore(t)
	attempt := AuditAttempt{
		ContentKey: []byte{0x01},
		Strategy:   string(StrategyRandom),
		StartedAt:  time.Now().Add(-time.Second).UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    OutcomeFailure,
	}
	failures := []TransferFailure{{SenderIdentity: NodeIdentity{0xaa}, Reason: "invalid_payload"}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_attempts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO transfer_failures`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := s.InsertAudit(context.Background(), attempt, failures); err == nil {
		t.Fatal("expected error to surface from the failed transfer_failures insert")
	}
}

func TestFourFoursEpochBoundsStaysBeforeMergeBlock(t *testing.T) {
	count := fourFoursEpochCount()
	if count < 1 {
		t.Fatalf("expected at least one epoch, got %d", count)
	}
	for epoch := 0; epoch < count; epoch++ {
		lo, hi := fourFoursEpochBounds(epoch)
		if lo > hi {
			t.Fatalf("epoch %d: lo %d > hi %d", epoch, lo, hi)
		}
		if hi >= MergeBlockNumber {
			t.Fatalf("epoch %d: hi %d is not strictly before MergeBlockNumber %d", epoch, hi, MergeBlockNumber)
		}
	}
	_, lastHi := fourFoursEpochBounds(count - 1)
	if lastHi != MergeBlockNumber-1 {
		t.Fatalf("expected final epoch to reach MergeBlockNumber-1 (%d), got %d", MergeBlockNumber-1, lastHi)
	}
}

func TestSelectFourFoursQueriesWithinMergeBlockRange(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"content_key", "content_id", "origin_block_num", "origin_slot", "subnetwork", "first_available_at"}).
		AddRow([]byte{0x01}, "00", uint64(100), nil, SubnetworkHistory, time.Now().UTC())
	mock.ExpectQuery(`SELECT .* FROM content_items`).
		WithArgs(SubnetworkHistory, belowMergeBlock{}, belowMergeBlock{}).
		WillReturnRows(rows)

	item, ok, err := s.SelectContentForStrategy(context.Background(), StrategyFourFours, SubnetworkHistory)
	if err != nil {
		t.Fatalf("SelectContentForStrategy: %v", err)
	}
	if !ok {
		t.Fatal("expected an item")
	}
	if item.OriginBlockNum != 100 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// belowMergeBlock matches a block-number query argument in [0, MergeBlockNumber).
type belowMergeBlock struct{}

func (belowMergeBlock) Match(v driver.Value) bool {
	switch n := v.(type) {
	case int64:
		return n >= 0 && uint64(n) < MergeBlockNumber
	case uint64:
		return n < MergeBlockNumber
	}
	return false
}

func TestLastIngestedBlockUsesSlotForBeacon(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(origin_slot\), 0\) FROM content_items`).
		WithArgs(SubnetworkBeacon).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(uint64(4200)))

	height, ok, err := s.LastIngestedBlock(context.Background(), SubnetworkBeacon)
	if err != nil {
		t.Fatalf("LastIngestedBlock: %v", err)
	}
	if !ok || height != 4200 {
		t.Fatalf("expected (4200, true), got (%d, %v)", height, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLastIngestedBlockUsesBlockNumForHistory(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(origin_block_num\), 0\) FROM content_items`).
		WithArgs(SubnetworkHistory).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(uint64(1000000)))

	height, ok, err := s.LastIngestedBlock(context.Background(), SubnetworkHistory)
	if err != nil {
		t.Fatalf("LastIngestedBlock: %v", err)
	}
	if !ok || height != 1000000 {
		t.Fatalf("expected (1000000, true), got (%d, %v)", height, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
