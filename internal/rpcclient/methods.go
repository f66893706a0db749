package rpcclient

import (
	"context"
	"fmt"
)

func (c *Client) method(suffix string) string {
	return fmt.Sprintf("%s%s", c.namespace, suffix)
}

// NodeInfo learns the local client's identity, called once at startup.
func (c *Client) NodeInfo(ctx context.Context) (NodeInfo, error) {
	var out NodeInfo
	err := c.call(ctx, c.method("NodeInfo"), nil, &out)
	return out, err
}

// RoutingTableInfo returns the local client's k-bucket snapshot, used by
// the Cartographer to seed its enumeration frontier.
func (c *Client) RoutingTableInfo(ctx context.Context) (RoutingTableInfo, error) {
	var out RoutingTableInfo
	err := c.call(ctx, c.method("RoutingTableInfo"), nil, &out)
	return out, err
}

// FindNodes asks a peer, by its enr, for nodes at the given log2 distances.
func (c *Client) FindNodes(ctx context.Context, enr string, distances []int) ([]string, error) {
	var out []string
	err := c.call(ctx, c.method("FindNodes"), []interface{}{enr, distances}, &out)
	return out, err
}

// RecursiveFindContent performs a full recursive content lookup with trace
// enabled. content_key is the wire-encoded key from internal/keyspace.
func (c *Client) RecursiveFindContent(ctx context.Context, contentKey []byte) (FindContentResult, error) {
	var out FindContentResult
	err := c.call(ctx, c.method("RecursiveFindContent"), []interface{}{hexBytes(contentKey)}, &out)
	return out, err
}

// Radius returns the local client's self-declared data radius.
func (c *Client) Radius(ctx context.Context) (string, error) {
	var out string
	err := c.call(ctx, c.method("Radius"), nil, &out)
	return out, err
}
