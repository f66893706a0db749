package store

import (
	"net"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

// clientTag is the non-standard "c" ENR entry most overlay clients set to
// advertise their implementation name, e.g. "t" for trin, "f" for fluffy.
type clientTag string

func (clientTag) ENRKey() string { return "c" }

// DecodeNodeRecord parses and signature-verifies a binary ENR blob and
// returns the fields record_census_start and record_observation need.
// Any failure here is a Decode error: a malformed or forged record is not
// retryable, it is simply discarded and logged.
func DecodeNodeRecord(blob []byte) (NodeRecord, error) {
	var rec enr.Record
	if err := rlp.DecodeBytes(blob, &rec); err != nil {
		return NodeRecord{}, xerrors.New(xerrors.KindDecode, err)
	}

	node, err := enode.New(enode.ValidSchemes, &rec)
	if err != nil {
		return NodeRecord{}, xerrors.New(xerrors.KindDecode, err)
	}

	var tag clientTag
	_ = rec.Load(&tag) // optional entry; absence is not an error

	out := NodeRecord{
		Sequence:  rec.Seq(),
		IP:        node.IP(),
		UDPPort:   node.UDP(),
		ClientTag: string(tag),
		Signature: rec.Signature(),
		Blob:      append([]byte(nil), blob...),
	}
	copy(out.Identity[:], node.ID().Bytes())
	return out, nil
}

// IP4 is a convenience constructor for IPv4 addresses in fixture records,
// so callers need not pull in net.ParseIP at every call site. Nothing in
// this repository calls it.
func IP4(a, b, c, d byte) net.IP {
	return net.IPv4(a, b, c, d)
}

// DecodeNodeRecordText parses the "enr:"-prefixed base64url textual form
// the overlay's JSON-RPC surface returns from findNodes and routingTableInfo,
// re-encoding it to canonical RLP for storage in NodeRecord.Blob so the
// round-trip law in spec.md §8 holds regardless of which wire form a
// record arrived in.
func DecodeNodeRecordText(text string) (NodeRecord, error) {
	var rec enr.Record
	if err := rec.UnmarshalText([]byte(text)); err != nil {
		return NodeRecord{}, xerrors.New(xerrors.KindDecode, err)
	}
	blob, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return NodeRecord{}, xerrors.New(xerrors.KindDecode, err)
	}
	return DecodeNodeRecord(blob)
}
