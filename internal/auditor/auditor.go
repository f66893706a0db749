package auditor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/store"
)

// AuditBackend is the slice of StoreLayer the Auditor needs beyond content
// selection: recording the probe outcome transactionally.
type AuditBackend interface {
	SelectBackend
	InsertAudit(ctx context.Context, attempt store.AuditAttempt, failures []store.TransferFailure) error
}

// Config controls one Auditor instance, which audits exactly one
// subnetwork over one RpcClient.
type Config struct {
	Subnetwork  store.Subnetwork
	Concurrency int // default 8
	QueueDepth  int // default 128, capacity of each strategy queue and of the worker task channel
	Weights     StrategyWeights
	RPCTimeout  time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 30 * time.Second
	}
	return c
}

// Auditor runs the weighted-dispatch worker pool for one subnetwork.
type Auditor struct {
	cfg     Config
	store   AuditBackend
	rpc     RPCBackend
	log     *logrus.Entry
	metrics *config.Metrics
}

func New(cfg Config, st AuditBackend, rpc RPCBackend, log *logrus.Entry, metrics *config.Metrics) *Auditor {
	return &Auditor{cfg: cfg.withDefaults(), store: st, rpc: rpc, log: log, metrics: metrics}
}

// Run starts one producer per weighted strategy, the dispatcher, and the
// worker pool, and blocks until ctx is cancelled, at which point it drains
// in-flight probes and returns.
func (a *Auditor) Run(ctx context.Context) error {
	entries := a.cfg.Weights.withDefaults().ordered()
	queues := newStrategyQueues(entries, a.cfg.QueueDepth)

	for strategy, queue := range queues {
		strategy, queue := strategy, queue
		go produceStrategy(ctx, a.store, a.cfg.Subnetwork, strategy, queue)
	}

	tasks := make(chan dispatchTask, a.cfg.QueueDepth)
	go runDispatcher(ctx, queues, entries, tasks)

	p := pool.New().WithMaxGoroutines(a.cfg.Concurrency)
	for i := 0; i < a.cfg.Concurrency; i++ {
		p.Go(func() { a.worker(ctx, tasks) })
	}
	p.Wait()
	return nil
}

func (a *Auditor) worker(ctx context.Context, tasks <-chan dispatchTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			a.metrics.IncWorkersBusy()
			a.handle(ctx, task)
			a.metrics.DecWorkersBusy()
		}
	}
}

func (a *Auditor) handle(ctx context.Context, task dispatchTask) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.RPCTimeout)
	defer cancel()

	startedAt := time.Now().UTC()
	attempt, failures := probeAndClassify(callCtx, a.rpc, task.item, task.strategy, startedAt)

	if err := a.store.InsertAudit(ctx, attempt, failures); err != nil {
		a.log.WithError(err).WithField("content_key", attempt.ContentKey).Error("failed to persist audit attempt")
		a.metrics.ObserveError(err)
		return
	}
	a.log.WithFields(logrus.Fields{
		"strategy": task.strategy,
		"outcome":  attempt.Outcome,
	}).Debug("audit attempt recorded")
}
