package keyspace

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestDistanceCommutativeAndZero(t *testing.T) {
	a := *uint256.NewInt(0xdead)
	b := *uint256.NewInt(0xbeef)

	if d1, d2 := Distance(a, b), Distance(b, a); d1.Cmp(&d2) != 0 {
		t.Fatalf("distance not commutative: %s vs %s", d1.Hex(), d2.Hex())
	}
	if d := Distance(a, a); !d.IsZero() {
		t.Fatalf("distance(x, x) = %s, want 0", d.Hex())
	}
}

func TestLog2DistanceSentinel(t *testing.T) {
	a := *uint256.NewInt(123)
	if got := Log2Distance(a, a); got != 0 {
		t.Fatalf("Log2Distance(x, x) = %d, want 0", got)
	}

	one := *uint256.NewInt(1)
	zero := *uint256.NewInt(0)
	if got := Log2Distance(one, zero); got != 1 {
		t.Fatalf("Log2Distance(1, 0) = %d, want 1", got)
	}
}

func TestWithinRadiusBoundaries(t *testing.T) {
	node := *uint256.NewInt(100)
	content := *uint256.NewInt(105)

	if !WithinRadius(node, content, *MaxRadius) {
		t.Fatal("a node advertising MaxRadius must cover any content")
	}
	if WithinRadius(node, content, *uint256.NewInt(0)) {
		t.Fatal("a node advertising radius 0 must only cover distance 0")
	}
	if !WithinRadius(node, node, *uint256.NewInt(0)) {
		t.Fatal("radius 0 must cover the node's own identifier")
	}

	d := Distance(node, content)
	if !WithinRadius(node, content, d) {
		t.Fatal("radius exactly equal to the distance must be within radius")
	}
	one := *uint256.NewInt(1)
	var dMinusOne uint256.Int
	dMinusOne.Sub(&d, &one)
	if WithinRadius(node, content, dMinusOne) {
		t.Fatal("radius one less than the distance must not be within radius")
	}
}

func TestRadiusPrefixBuckets(t *testing.T) {
	if got := RadiusPrefix(*uint256.NewInt(0)); got != 0 {
		t.Fatalf("RadiusPrefix(0) = %d, want 0", got)
	}
	if got := RadiusPrefix(*MaxRadius); got != 32 {
		t.Fatalf("RadiusPrefix(MaxRadius) = %d, want 32", got)
	}
}

func TestRadiusPercent(t *testing.T) {
	if got := RadiusPercent(*uint256.NewInt(0)); got != 0 {
		t.Fatalf("RadiusPercent(0) = %f, want 0", got)
	}
	got := RadiusPercent(*MaxRadius)
	if got < 99.999 || got > 100.0 {
		t.Fatalf("RadiusPercent(MaxRadius) = %f, want ~100", got)
	}
}
