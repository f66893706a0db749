package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTP(srv.URL, 2*time.Second, 4), srv
}

func TestNodeInfoHappyPath(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"enr":"enr:-abc","node_id":"0xdead"}`)}
		_ = json.NewEncoder(w).Encode(resp)
	})

	info, err := client.NodeInfo(context.Background())
	if err != nil {
		t.Fatalf("NodeInfo: %v", err)
	}
	if info.NodeID != "0xdead" {
		t.Fatalf("unexpected node id: %q", info.NodeID)
	}
}

func TestSemanticErrorIsNotRetried(t *testing.T) {
	calls := 0
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req jsonrpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &jsonrpcError{Code: -32000, Message: "content not found"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := client.Radius(context.Background())
	if !xerrors.Is(err, xerrors.KindRpcSemantic) {
		t.Fatalf("expected a semantic error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestServerErrorIsRetriedOnce(t *testing.T) {
	calls := 0
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Radius(context.Background())
	if !xerrors.Is(err, xerrors.KindRpcTransport) {
		t.Fatalf("expected a transport error, got %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected at least one retry, got %d total calls", calls)
	}
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := client.Radius(context.Background())
	if !xerrors.Is(err, xerrors.KindDecode) {
		t.Fatalf("expected a decode error, got %v", err)
	}
}

func TestTraceRespondingNodePrefersReceivedFrom(t *testing.T) {
	older := Trace{FoundContentAt: "0xaaa"}
	if older.RespondingNode() != "0xaaa" {
		t.Fatalf("expected fallback to found_content_at")
	}
	both := Trace{FoundContentAt: "0xaaa", ReceivedFrom: "0xbbb"}
	if both.RespondingNode() != "0xbbb" {
		t.Fatalf("expected receivedFrom to win when both are present")
	}
}
