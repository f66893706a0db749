// Package rpcclient is a thin typed wrapper over the overlay's local
// JSON-RPC surface (spec.md §4.3, component C2). It never interprets
// semantic error codes or trace contents — that is every caller's job.
package rpcclient

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// hexBytes decodes the "0x"-prefixed hex strings the overlay's JSON-RPC
// uses for binary payloads, the same convention go-ethereum's RPC layer
// uses for byte slices.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("rpcclient: invalid hex payload: %w", err)
	}
	*h = b
	return nil
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// NodeInfo is the client's self-reported identity.
type NodeInfo struct {
	ENR    string `json:"enr"`
	NodeID string `json:"node_id"`
}

// RoutingTableBucket is one (node_id, enr) pair as returned by
// routingTableInfo.
type RoutingTableBucket [2]string

// RoutingTableInfo is the local client's k-bucket snapshot.
type RoutingTableInfo struct {
	Buckets     []RoutingTableBucket `json:"buckets"`
	LocalNodeID string               `json:"local_node_id"`
}

// ResponderInfo describes one node that answered during a
// recursiveFindContent walk. InvalidPayload is set by overlay clients that
// report per-node content validation results; it is independent of the
// lookup's overall outcome, since a later responder can still deliver a
// valid payload after an earlier one failed validation.
type ResponderInfo struct {
	DurationMs     int64    `json:"durationMs"`
	RespondedWith  []string `json:"respondedWith"`
	InvalidPayload bool     `json:"invalidPayload,omitempty"`
}

// NodeMetadata describes one node mentioned anywhere in a trace.
type NodeMetadata struct {
	ENR      string `json:"enr"`
	Distance int    `json:"distance"`
}

// Trace is the lookup trace attached to recursiveFindContent. Its shape
// varies across overlay client versions: older clients emit
// found_content_at, newer ones receivedFrom. Both are accepted; ReceivedFrom
// wins when both are present (spec.md §9 open question).
type Trace struct {
	Origin          string                  `json:"origin"`
	ReceivedFrom    string                  `json:"receivedFrom,omitempty"`
	FoundContentAt  string                  `json:"found_content_at,omitempty"`
	Responses       map[string]ResponderInfo `json:"responses"`
	Metadata        map[string]NodeMetadata  `json:"metadata"`
	Cancelled       []string                `json:"cancelled"`
}

// RespondingNode returns the node the classifier should treat as having
// delivered the content, preferring the newer receivedFrom field.
func (t Trace) RespondingNode() string {
	if t.ReceivedFrom != "" {
		return t.ReceivedFrom
	}
	return t.FoundContentAt
}

// FindContentResult is the reply to recursiveFindContent.
type FindContentResult struct {
	Content     hexBytes `json:"content"`
	UTPTransfer bool     `json:"utpTransfer"`
	Trace       Trace    `json:"trace"`
}
