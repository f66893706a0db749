package auditor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/keyspace"
	"github.com/overlaywatch/canopy/internal/rpcclient"
	"github.com/overlaywatch/canopy/internal/store"
)

// fakeAuditBackend hands out exactly one selectable item, then reports
// nothing selectable, so Run's dispatcher backs off instead of busy-looping
// once the suite has what it needs.
type fakeAuditBackend struct {
	mu       sync.Mutex
	item     store.ContentItem
	served   bool
	attempts []store.AuditAttempt
}

func (f *fakeAuditBackend) SelectContentForStrategy(ctx context.Context, strategy store.Strategy, subnet store.Subnetwork) (store.ContentItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.served {
		return store.ContentItem{}, false, nil
	}
	f.served = true
	return f.item, true, nil
}

func (f *fakeAuditBackend) InsertAudit(ctx context.Context, attempt store.AuditAttempt, failures []store.TransferFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeAuditBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeProbeRPC struct {
	content []byte
}

func (f *fakeProbeRPC) RecursiveFindContent(ctx context.Context, contentKey []byte) (rpcclient.FindContentResult, error) {
	return rpcclient.FindContentResult{Content: f.content}, nil
}

func discardLogger() *logrus.Entry {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg.WithField("component", "test")
}

// TestRunRecordsOneAuditThenStopsOnCancel exercises the dispatcher and
// worker pool end to end with a fake backend and RPC client: once a single
// item has been dispatched, probed and recorded, the context is cancelled
// and Run must return.
func TestRunRecordsOneAuditThenStopsOnCancel(t *testing.T) {
	key := keyspace.NewHeaderByHashKey([32]byte{1})
	backend := &fakeAuditBackend{
		item: store.ContentItem{ContentKey: key.Encode(), Subnetwork: store.SubnetworkHistory},
	}
	rpc := &fakeProbeRPC{content: []byte{0xde, 0xad}}

	a := New(Config{Subnetwork: store.SubnetworkHistory, Concurrency: 2, QueueDepth: 4},
		backend, rpc, discardLogger(), config.NewMetrics("auditor_test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for backend.count() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for an audit attempt to be recorded")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if backend.count() == 0 {
		t.Fatal("expected at least one recorded audit attempt")
	}
}
