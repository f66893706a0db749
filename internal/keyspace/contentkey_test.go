package keyspace

import (
	"bytes"
	"testing"
)

func TestContentKeyRoundTrip(t *testing.T) {
	var hash [32]byte
	copy(hash[:], []byte("0123456789abcdef0123456789abcde"))

	cases := []ContentKey{
		NewHeaderByHashKey(hash),
		NewHeaderByNumberKey(1_000_000),
		NewBodyKey(hash),
		NewReceiptsKey(hash),
	}

	for _, want := range cases {
		encoded := want.Encode()
		got, err := ParseContentKey(encoded)
		if err != nil {
			t.Fatalf("ParseContentKey: %v", err)
		}
		if got.Unrecognized {
			t.Fatalf("key with selector %#x unexpectedly marked unrecognized", want.Selector)
		}
		reEncoded := got.Encode()
		if !bytes.Equal(encoded, reEncoded) {
			t.Fatalf("round-trip mismatch: %x != %x", encoded, reEncoded)
		}
	}
}

func TestParseContentKeyUnknownSelectorIsTotal(t *testing.T) {
	raw := []byte{0xff, 1, 2, 3}
	got, err := ParseContentKey(raw)
	if err != nil {
		t.Fatalf("parsing an unknown selector must not error: %v", err)
	}
	if !got.Unrecognized {
		t.Fatal("unknown selector must be tagged unrecognized")
	}
	if !bytes.Equal(got.Encode(), raw) {
		t.Fatalf("unrecognized key must still round-trip: got %x want %x", got.Encode(), raw)
	}
}

func TestContentIDIsPureAndStable(t *testing.T) {
	key := NewHeaderByNumberKey(42)
	a := ContentID(key)
	b := ContentID(key)
	if a.Cmp(&b) != 0 {
		t.Fatalf("ContentID is not pure: %s != %s", a.Hex(), b.Hex())
	}

	other := NewHeaderByNumberKey(43)
	c := ContentID(other)
	if a.Cmp(&c) == 0 {
		t.Fatal("distinct content keys must not collide trivially")
	}
}
