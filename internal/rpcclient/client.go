package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Transport selects how the Client reaches the local overlay peer.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportUDS  Transport = "uds"
)

// Client is a JSON-RPC caller bound to exactly one local overlay peer over
// exactly one transport, per spec.md §4.3.
type Client struct {
	endpoint  string
	doer      httpDoer
	timeout   time.Duration
	nextID    atomic.Int64
	pool      *udsConnPool
	namespace string // "portal_history", "portal_state" or "portal_beacon"
}

// WithNamespace returns a shallow copy of the client scoped to a different
// overlay namespace, so one underlying transport can serve all three
// subnetworks' analogous methods.
func (c *Client) WithNamespace(ns string) *Client {
	cp := *c
	cp.namespace = ns
	return &cp
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// NewHTTP builds a Client backed by retryablehttp, retrying once on
// transport-level failures and never on a well-formed JSON-RPC error
// response (those arrive as HTTP 200 and are handled after decoding).
func NewHTTP(url string, timeout time.Duration, maxConns int) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
		t.MaxConnsPerHost = maxConns
		t.MaxIdleConnsPerHost = maxConns
	}
	return &Client{endpoint: url, doer: rc.StandardClient(), timeout: timeout, namespace: "portal_history"}
}

// NewUDS builds a Client dialing a Unix domain socket, pooling connections
// the way core/connection_pool.go pools TCP dials in the teacher, adapted
// to a single fixed address and an http.Client transport.
func NewUDS(socketPath string, timeout time.Duration, maxConns int) *Client {
	pool := newUDSConnPool(socketPath, timeout, maxConns, 90*time.Second)
	transport := &http.Transport{
		DialContext:       pool.dialContext,
		DisableKeepAlives: false,
	}
	httpClient := &http.Client{Transport: transport, Timeout: timeout}
	return &Client{endpoint: "http://unix/", doer: httpClient, timeout: timeout, pool: pool, namespace: "portal_history"}
}

// Close releases pooled resources. A no-op for the HTTP transport.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.close()
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return newDecodeErr(err)
		}
		rawParams = b
	}

	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return newDecodeErr(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return newTransportErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		// Timeouts are folded into Rpc.Transport: spec.md §4.3 lists them
		// separately, but both are transient and retried the same way.
		return newTransportErr(err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return newTransportErr(fmt.Errorf("rpc: server error status %d", resp.StatusCode))
	}

	var envelope jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return newDecodeErr(err)
	}
	if envelope.Error != nil {
		return newSemanticErr(envelope.Error.Code, envelope.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return newDecodeErr(err)
	}
	return nil
}
