package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

// retryWindow bounds how long a single write will retry a Store.Transient
// failure before giving up, per spec.md §7: "retried with jittered
// exponential backoff; if recovery fails beyond a bounded window, the
// component logs and pauses its loop." The "pauses its loop" half of that
// sentence is the caller's responsibility — withRetry only owns the bounded
// retry, returning the classified error once the window elapses so the
// calling component's own cycle (census tick, ingest poll, audit dispatch)
// can log it and wait for its next turn.
const retryWindow = 2 * time.Second

// withRetry runs op, retrying with jittered exponential backoff while op
// keeps failing with a Store.Transient error. A Store.Permanent error (or
// any error not classified by this package) is returned immediately:
// retrying an identical statement that violates a constraint can never
// succeed.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = retryWindow
	bctx := backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if xerrors.Is(err, xerrors.KindStoreTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, bctx)
}
