package auditor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/overlaywatch/canopy/internal/keyspace"
	"github.com/overlaywatch/canopy/internal/rpcclient"
	"github.com/overlaywatch/canopy/internal/store"
)

// RPCBackend is the slice of RpcClient the Auditor needs.
type RPCBackend interface {
	RecursiveFindContent(ctx context.Context, contentKey []byte) (rpcclient.FindContentResult, error)
}

// probeAndClassify performs one probe and returns the resulting attempt and
// any transfer failures, following the classification rules in spec.md
// §4.6. It is deterministic given the same RPC response bytes (testable
// property #7): no clock reads or randomness influence the outcome. Only
// the timestamps depend on the clock: StartedAt is supplied by the caller
// and FinishedAt is read once the probe returns.
func probeAndClassify(ctx context.Context, rpc RPCBackend, item store.ContentItem, strategy store.Strategy, startedAt time.Time) (store.AuditAttempt, []store.TransferFailure) {
	key, parseErr := keyspace.ParseContentKey(item.ContentKey)

	result, rpcErr := rpc.RecursiveFindContent(ctx, item.ContentKey)
	finishedAt := time.Now().UTC()

	attempt := store.AuditAttempt{
		ContentKey: item.ContentKey,
		Strategy:   string(strategy),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	failures := transferFailuresFromTrace(result.Trace)

	switch {
	case rpcErr != nil:
		attempt.Outcome = store.OutcomeClientError
		attempt.Trace = marshalTrace(result.Trace)
	case parseErr != nil || len(result.Content) == 0:
		attempt.Outcome = store.OutcomeFailure
		attempt.FailureReason = store.FailureNotFound
		attempt.Trace = marshalTrace(result.Trace)
	default:
		if err := validatePayload(ctx, rpc, key, result.Content); err != nil {
			attempt.Outcome = store.OutcomeFailure
			attempt.FailureReason = store.FailureInvalidPayload
			attempt.Trace = marshalTrace(result.Trace)
			if sender := result.Trace.RespondingNode(); sender != "" {
				failures = append(failures, transferFailure(sender, "invalid_payload"))
			}
		} else {
			attempt.Outcome = store.OutcomeSuccess
		}
	}

	return attempt, dedupFailures(failures)
}

// transferFailuresFromTrace extracts every responder the overlay client
// itself flagged as having delivered an invalid payload, independent of
// the attempt's overall outcome (spec.md §4.6).
func transferFailuresFromTrace(trace rpcclient.Trace) []store.TransferFailure {
	var out []store.TransferFailure
	for nodeID, info := range trace.Responses {
		if info.InvalidPayload {
			out = append(out, transferFailure(nodeID, "invalid_payload"))
		}
	}
	return out
}

func transferFailure(nodeIDHex, reason string) store.TransferFailure {
	var tf store.TransferFailure
	tf.Reason = reason
	copy(tf.SenderIdentity[:], decodeNodeIDHex(nodeIDHex))
	return tf
}

func dedupFailures(in []store.TransferFailure) []store.TransferFailure {
	if len(in) < 2 {
		return in
	}
	seen := make(map[store.NodeIdentity]struct{}, len(in))
	out := in[:0]
	for _, f := range in {
		if _, ok := seen[f.SenderIdentity]; ok {
			continue
		}
		seen[f.SenderIdentity] = struct{}{}
		out = append(out, f)
	}
	return out
}

func marshalTrace(trace rpcclient.Trace) []byte {
	b, err := json.Marshal(trace)
	if err != nil {
		return nil
	}
	return b
}
