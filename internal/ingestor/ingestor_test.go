package ingestor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/store"
)

type fakeProvider struct {
	head   uint64
	blocks map[uint64]BlockData
}

func (f *fakeProvider) HeadNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeProvider) BlockByNumber(ctx context.Context, number uint64) (BlockData, error) {
	b, ok := f.blocks[number]
	if !ok {
		b = BlockData{Number: number, Hash: common.BytesToHash([]byte{byte(number)}), Timestamp: time.Unix(int64(number), 0)}
	}
	return b, nil
}

type fakeContentStore struct {
	seen   map[string]store.ContentItem
	order  []string
	inserts int
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{seen: make(map[string]store.ContentItem)}
}

func (f *fakeContentStore) InsertContentIfAbsent(ctx context.Context, item store.ContentItem) (bool, error) {
	key := string(item.ContentKey)
	if _, ok := f.seen[key]; ok {
		return false, nil
	}
	f.seen[key] = item
	f.order = append(f.order, key)
	f.inserts++
	return true, nil
}

func (f *fakeContentStore) LastIngestedBlock(ctx context.Context, subnet store.Subnetwork) (uint64, bool, error) {
	var max uint64
	found := false
	for _, item := range f.seen {
		if !found || item.OriginBlockNum > max {
			max = item.OriginBlockNum
			found = true
		}
	}
	return max, found, nil
}

func discardLogger() *logrus.Entry {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg.WithField("component", "test")
}

func TestBackfillRangeIsIdempotent(t *testing.T) {
	st := newFakeContentStore()
	prov := &fakeProvider{blocks: map[uint64]BlockData{}}
	ig := New(st, prov, store.SubnetworkHistory, deriveHistoryItems, discardLogger())

	if err := ig.BackfillRange(context.Background(), 0, 10); err != nil {
		t.Fatalf("first backfill: %v", err)
	}
	firstCount := st.inserts

	if err := ig.BackfillRange(context.Background(), 0, 10); err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if st.inserts != firstCount {
		t.Fatalf("re-running backfill inserted more rows: %d -> %d", firstCount, st.inserts)
	}
}

func TestBackfillRangeInsertsFourItemsPerBlock(t *testing.T) {
	st := newFakeContentStore()
	prov := &fakeProvider{}
	ig := New(st, prov, store.SubnetworkHistory, deriveHistoryItems, discardLogger())

	if err := ig.BackfillRange(context.Background(), 5, 5); err != nil {
		t.Fatalf("BackfillRange: %v", err)
	}
	if st.inserts != 4 {
		t.Fatalf("expected 4 content items for one history block, got %d", st.inserts)
	}
}

func TestFollowHeadResumesFromLastIngested(t *testing.T) {
	st := newFakeContentStore()
	// Pre-seed block 0 as already ingested.
	_, _ = st.InsertContentIfAbsent(context.Background(), store.ContentItem{
		ContentKey: []byte{0xff}, OriginBlockNum: 0, Subnetwork: store.SubnetworkHistory,
	})

	resumeIg := New(st, &fakeProvider{head: 0}, store.SubnetworkHistory, deriveHistoryItems, discardLogger())
	next, err := resumeIg.resumePoint(context.Background())
	if err != nil {
		t.Fatalf("resumePoint: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected to resume at block 1, got %d", next)
	}
}
