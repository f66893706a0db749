package ingestor

import (
	"github.com/overlaywatch/canopy/internal/keyspace"
	"github.com/overlaywatch/canopy/internal/store"
)

// DeriveFuncFor returns the derivation applied to each fetched block for
// subnet, letting cmd/ingestor pick a pipeline by name without reaching
// into this package's unexported plumbing.
func DeriveFuncFor(subnet store.Subnetwork) func(BlockData) []store.ContentItem {
	switch subnet {
	case store.SubnetworkState:
		return deriveStateItems
	case store.SubnetworkBeacon:
		return deriveBeaconItems
	default:
		return deriveHistoryItems
	}
}

// deriveHistoryItems produces the four per-block content items the history
// subnetwork serves: header-by-hash, header-by-number, body and receipts.
// State and beacon derivations (deriveStateItems, deriveBeaconItems) reuse
// the same ContentKey type tagged with their own selector codes rather than
// forking this pipeline.
func deriveHistoryItems(b BlockData) []store.ContentItem {
	keys := []keyspace.ContentKey{
		keyspace.NewHeaderByHashKey(b.Hash),
		keyspace.NewHeaderByNumberKey(b.Number),
		keyspace.NewBodyKey(b.Hash),
		keyspace.NewReceiptsKey(b.Hash),
	}
	items := make([]store.ContentItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, store.ContentItem{
			ContentKey:       k.Encode(),
			ContentID:        keyspace.ContentID(k),
			OriginBlockNum:   b.Number,
			Subnetwork:       store.SubnetworkHistory,
			FirstAvailableAt: b.Timestamp,
		})
	}
	return items
}

// deriveBeaconItems produces the two light-client update content items a
// beacon slot contributes, keyed by slot number packed big-endian into the
// same params layout history uses for header-by-number.
func deriveBeaconItems(b BlockData) []store.ContentItem {
	lightKey := keyspace.ContentKey{Selector: keyspace.SelectorBeaconLightUpdate, Params: beNumber(b.Number)}
	finalityKey := keyspace.ContentKey{Selector: keyspace.SelectorBeaconFinalityUpdate, Params: beNumber(b.Number)}
	keys := []keyspace.ContentKey{lightKey, finalityKey}
	items := make([]store.ContentItem, 0, len(keys))
	slot := b.Number
	for _, k := range keys {
		items = append(items, store.ContentItem{
			ContentKey:       k.Encode(),
			ContentID:        keyspace.ContentID(k),
			OriginBlockNum:   0,
			OriginSlot:       &slot,
			Subnetwork:       store.SubnetworkBeacon,
			FirstAvailableAt: b.Timestamp,
		})
	}
	return items
}

// deriveStateItems produces the one state-root content item a block
// contributes: the trie node for the block's post-state root, which is the
// entry point `populate-state-roots-range` exists to backfill. Individual
// trie nodes and contract storage below the root are discovered by walking
// the overlay itself, not by this ingestor, so only the root is derived
// here.
func deriveStateItems(b BlockData) []store.ContentItem {
	key := keyspace.ContentKey{Selector: keyspace.SelectorStateTrieNode, Params: append([]byte(nil), b.StateRoot[:]...)}
	return []store.ContentItem{{
		ContentKey:       key.Encode(),
		ContentID:        keyspace.ContentID(key),
		OriginBlockNum:   b.Number,
		Subnetwork:       store.SubnetworkState,
		FirstAvailableAt: b.Timestamp,
	}}
}

func beNumber(n uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(n)
		n >>= 8
	}
	return out
}
