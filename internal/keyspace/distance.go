// Package keyspace implements the XOR-metric arithmetic shared by every
// component that reasons about node or content placement in the overlay's
// 256-bit keyspace: distance, logarithmic bucketing, and radius coverage.
//
// All arithmetic is unsigned, fixed-width 256-bit and is not constant-time;
// nothing here handles secret material.
package keyspace

import (
	"math/big"

	"github.com/holiman/uint256"
)

// MaxRadius is the largest representable radius: a node advertising it
// claims to cover the entire keyspace.
var MaxRadius = new(uint256.Int).Not(uint256.NewInt(0))

// Distance returns the XOR distance between two 256-bit identifiers.
// It is commutative and Distance(x, x) == 0.
func Distance(a, b uint256.Int) uint256.Int {
	var out uint256.Int
	out.Xor(&a, &b)
	return out
}

// Log2Distance returns 256 - leading_zeros(Distance(a, b)), i.e. the index
// of the highest set bit plus one. By convention Log2Distance(x, x) == 0;
// callers that need to distinguish "identical" from "closest possible but
// distinct" must check Distance directly, since 0 is also a valid sentinel
// for "no common high bits" in some callers' framing.
func Log2Distance(a, b uint256.Int) int {
	d := Distance(a, b)
	if d.IsZero() {
		return 0
	}
	return d.BitLen()
}

// WithinRadius reports whether contentID falls inside nodeID's advertised
// coverage radius: Distance(nodeID, contentID) <= radius.
func WithinRadius(nodeID, contentID, radius uint256.Int) bool {
	d := Distance(nodeID, contentID)
	return d.Cmp(&radius) <= 0
}

// RadiusPrefix buckets a radius into a coverage histogram index: the number
// of leading zero bits in the radius's complement (equivalently, the
// radius's leading one-bits), divided by 8. A radius of
// zero falls in bucket 0; MaxRadius falls in bucket 32 (the high-byte bucket
// covering "whole keyspace"). Ties — radii that sit exactly on a byte
// boundary — round down, consistent with leading_zeros semantics.
func RadiusPrefix(radius uint256.Int) uint8 {
	var complement uint256.Int
	complement.Not(&radius)
	lz := leadingZeros(complement)
	return uint8(lz / 8)
}

// RadiusPercent expresses a radius as a percentage of the full keyspace,
// the display form used by census summaries and the (out-of-scope)
// dashboard.
func RadiusPercent(radius uint256.Int) float64 {
	num := new(big.Float).SetInt(radius.ToBig())
	den := new(big.Float).SetInt(MaxRadius.ToBig())
	pct := new(big.Float).Quo(num, den)
	pct.Mul(pct, big.NewFloat(100))
	f, _ := pct.Float64()
	return f
}

// leadingZeros returns the number of leading zero bits in a 256-bit value.
func leadingZeros(v uint256.Int) int {
	return 256 - v.BitLen()
}
