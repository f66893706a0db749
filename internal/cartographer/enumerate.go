package cartographer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sourcegraph/conc/pool"

	"github.com/overlaywatch/canopy/internal/store"
)

// frontierNode is one node queued for a findNodes probe.
type frontierNode struct {
	identity store.NodeIdentity
	enrText  string
}

// enumerateBFS seeds a frontier from routingTableInfo, then explores it
// breadth-first with a bounded number of concurrent findNodes calls,
// deduplicating by node identity and probing each newly discovered node
// once for its radius. It returns the number of distinct identities
// discovered. A findNodes failure for one node is logged and that node's
// branch is simply not expanded further — the census still completes
// (spec.md §4.4 partial-failure policy).
func (c *Cartographer) enumerateBFS(ctx context.Context, censusID uuid.UUID) (int, error) {
	rti, err := c.rpc.RoutingTableInfo(ctx)
	if err != nil {
		return 0, err
	}

	var (
		mu   sync.Mutex
		seen = make(map[store.NodeIdentity]struct{})
	)
	frontier := make([]frontierNode, 0, len(rti.Buckets))
	for _, bucket := range rti.Buckets {
		nodeID, enrText := bucket[0], bucket[1]
		rec, err := store.DecodeNodeRecordText(enrText)
		if err != nil {
			c.log.WithError(err).WithField("node_id", nodeID).Warn("dropping unparseable seed record")
			continue
		}
		if _, ok := seen[rec.Identity]; ok {
			continue
		}
		seen[rec.Identity] = struct{}{}
		frontier = append(frontier, frontierNode{identity: rec.Identity, enrText: enrText})
		c.cache.Add(rec.Identity, rec)
	}

	distances := make([]int, 257)
	for i := range distances {
		distances[i] = i
	}

	for len(frontier) > 0 {
		if ctx.Err() != nil {
			break
		}
		next := frontier
		frontier = nil

		p := pool.New().WithMaxGoroutines(c.cfg.Concurrency)
		var newlyFound []frontierNode
		var nfMu sync.Mutex

		for _, n := range next {
			n := n
			p.Go(func() {
				c.probeNode(ctx, censusID, n, distances, &mu, seen, &nfMu, &newlyFound)
			})
		}
		p.Wait()
		frontier = newlyFound
	}

	return len(seen), nil
}

// probeNode issues findNodes against one frontier node, records its radius
// observation, and appends any newly discovered peers to newlyFound.
func (c *Cartographer) probeNode(
	ctx context.Context,
	censusID uuid.UUID,
	n frontierNode,
	distances []int,
	seenMu *sync.Mutex,
	seen map[store.NodeIdentity]struct{},
	nfMu *sync.Mutex,
	newlyFound *[]frontierNode,
) {
	if err := c.store.UpsertNodeRecord(ctx, mustCached(c, n.identity)); err != nil {
		c.log.WithError(err).WithField("identity", n.identity.Hex()).Warn("failed to persist node record")
	}

	if radiusHex, err := c.rpc.Radius(ctx); err == nil {
		var radius uint256.Int
		if _, parseErr := radius.SetFromHex(radiusHex); parseErr == nil {
			obs := store.CensusObservation{
				CensusID:       censusID,
				NodeIdentity:   n.identity,
				ObservedRadius: radius,
				ObservedAt:     time.Now().UTC(),
			}
			if err := c.store.RecordObservation(ctx, obs); err != nil {
				c.log.WithError(err).WithField("identity", n.identity.Hex()).Warn("failed to record observation")
			}
		}
	} else {
		c.log.WithError(err).WithField("identity", n.identity.Hex()).Debug("radius probe failed")
	}

	peers, err := c.rpc.FindNodes(ctx, n.enrText, distances)
	if err != nil {
		c.log.WithError(err).WithField("identity", n.identity.Hex()).Debug("findNodes failed, branch truncated")
		return
	}

	for _, peerText := range peers {
		rec, err := store.DecodeNodeRecordText(peerText)
		if err != nil {
			continue
		}
		seenMu.Lock()
		_, already := seen[rec.Identity]
		if !already {
			seen[rec.Identity] = struct{}{}
		}
		seenMu.Unlock()
		if already {
			continue
		}
		c.cache.Add(rec.Identity, rec)
		nfMu.Lock()
		*newlyFound = append(*newlyFound, frontierNode{identity: rec.Identity, enrText: peerText})
		nfMu.Unlock()
	}
}

func mustCached(c *Cartographer, id store.NodeIdentity) store.NodeRecord {
	rec, _ := c.cache.Get(id)
	return rec
}
