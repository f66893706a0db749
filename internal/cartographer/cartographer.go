// Package cartographer implements the periodic census engine (spec.md
// §4.4, component C3): it enumerates reachable nodes on one subnetwork,
// records their endpoint records and self-declared radius, and tolerates
// per-node failures without losing the rest of the census.
package cartographer

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/rpcclient"
	"github.com/overlaywatch/canopy/internal/store"
)

// StoreBackend is the slice of StoreLayer the Cartographer needs. It exists
// so tests can substitute a fake instead of a live database; *store.Store
// satisfies it directly.
type StoreBackend interface {
	RecordCensusStart(ctx context.Context, subnet store.Subnetwork) (uuid.UUID, error)
	UpsertNodeRecord(ctx context.Context, rec store.NodeRecord) error
	RecordObservation(ctx context.Context, obs store.CensusObservation) error
	CloseCensus(ctx context.Context, censusID uuid.UUID) error
}

// RPCBackend is the slice of RpcClient the Cartographer needs.
type RPCBackend interface {
	RoutingTableInfo(ctx context.Context) (rpcclient.RoutingTableInfo, error)
	FindNodes(ctx context.Context, enr string, distances []int) ([]string, error)
	Radius(ctx context.Context) (string, error)
}

// Config controls one Cartographer instance, which audits exactly one
// subnetwork.
type Config struct {
	Subnetwork     store.Subnetwork
	Concurrency    int           // default 10
	CensusInterval time.Duration // default 15m, time between census starts
	CensusBudget   time.Duration // default 5m, wall-clock cap per census
	CacheSize      int           // default 10000
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.CensusInterval <= 0 {
		c.CensusInterval = 15 * time.Minute
	}
	if c.CensusBudget <= 0 {
		c.CensusBudget = 5 * time.Minute
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10_000
	}
	return c
}

// state names the Idle -> Enumerating -> Persisting -> Sleeping -> Idle
// cycle from spec.md §4.4, kept only for logging and tests; nothing outside
// this package observes it.
type state string

const (
	stateIdle        state = "idle"
	stateEnumerating state = "enumerating"
	statePersisting  state = "persisting"
	stateSleeping    state = "sleeping"
)

// Cartographer runs the census loop for one subnetwork.
type Cartographer struct {
	cfg     Config
	store   StoreBackend
	rpc     RPCBackend
	log     *logrus.Entry
	metrics *config.Metrics
	cache   *lru.Cache[store.NodeIdentity, store.NodeRecord]
	state   state
}

// New constructs a Cartographer. rpc must already be scoped to cfg.Subnetwork's
// JSON-RPC namespace via Client.WithNamespace.
func New(cfg Config, st StoreBackend, rpc RPCBackend, log *logrus.Entry, metrics *config.Metrics) (*Cartographer, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[store.NodeIdentity, store.NodeRecord](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Cartographer{
		cfg:     cfg,
		store:   st,
		rpc:     rpc,
		log:     log,
		metrics: metrics,
		cache:   cache,
		state:   stateIdle,
	}, nil
}

// Run loops censuses at cfg.CensusInterval until ctx is cancelled. It
// returns nil on graceful cancellation.
func (c *Cartographer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.CensusInterval)
	defer ticker.Stop()

	if err := c.runCensus(ctx); err != nil && ctx.Err() == nil {
		c.log.WithError(err).Error("census failed")
		c.metrics.ObserveError(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.runCensus(ctx); err != nil && ctx.Err() == nil {
				c.log.WithError(err).Error("census failed")
				c.metrics.ObserveError(err)
			}
		}
	}
}

// runCensus executes one full Enumerating -> Persisting cycle.
func (c *Cartographer) runCensus(ctx context.Context) error {
	budgetCtx, cancel := context.WithTimeout(ctx, c.cfg.CensusBudget)
	defer cancel()

	c.state = stateEnumerating
	censusID, err := c.store.RecordCensusStart(ctx, c.cfg.Subnetwork)
	if err != nil {
		return err
	}
	c.log.WithField("census_id", censusID).Info("census started")

	discovered, err := c.enumerateBFS(budgetCtx, censusID)
	if err != nil && budgetCtx.Err() == nil {
		return err
	}

	c.state = statePersisting
	if err := c.store.CloseCensus(ctx, censusID); err != nil {
		return err
	}
	c.state = stateSleeping
	c.log.WithFields(logrus.Fields{"census_id": censusID, "discovered": discovered}).Info("census closed")
	return nil
}

