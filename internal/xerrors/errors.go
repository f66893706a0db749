// Package xerrors defines the error taxonomy shared by every component, as
// specified in spec.md §7. Components classify failures into one of these
// kinds so that callers (and the prometheus counters in internal/config)
// can react uniformly without string-matching error messages.
package xerrors

import "errors"

// Kind classifies an error into one of the taxonomy's buckets.
type Kind string

const (
	KindConfig         Kind = "config"          // fatal at startup
	KindStoreTransient Kind = "store_transient"  // retried with backoff
	KindStorePermanent Kind = "store_permanent"  // logic bug, task discarded
	KindRpcTransport   Kind = "rpc_transport"     // one retry, then ClientError
	KindRpcSemantic    Kind = "rpc_semantic"      // not retried, surfaced
	KindProviderRetry  Kind = "provider_transient" // sleep + retry
	KindProviderSkip   Kind = "provider_permanent" // move to next block
	KindDecode         Kind = "decode"             // malformed record/payload
)

// Error wraps an underlying error with a taxonomy Kind, so callers can
// classify with errors.As without relying on message content.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under the given Kind. A nil err returns nil, matching the
// behavior of the repo's existing utils.Wrap helper.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or any error it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the classified Kind of err, and false if err was never
// classified through this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
