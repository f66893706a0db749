// Command auditor runs the weighted-dispatch content audit workers, one
// instance per enabled subnetwork, against a shared overlay client and
// store (spec.md §4.6, §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/overlaywatch/canopy/internal/auditor"
	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/rpcclient"
	"github.com/overlaywatch/canopy/internal/stats"
	"github.com/overlaywatch/canopy/internal/store"
	"github.com/overlaywatch/canopy/internal/xerrors"
)

const drainWindow = 5 * time.Second

func main() {
	_ = godotenv.Load()

	var (
		configPath  string
		databaseURL string
		logLevel    string
		metricsAddr string
		transport   string
		httpURL     string
		udsPath     string
		concurrency int
		queueDepth  int

		history bool
		state   bool
		beacon  bool

		weightLatest, weightFourFours, weightRandom, weightFailed, weightOldest, weightSync int

		statsInterval time.Duration
		dryRun        bool
	)

	root := &cobra.Command{
		Use:   "auditor",
		Short: "Weighted content audit worker pool for one or more overlay subnetworks",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := config.ResolveDatabaseURL(configPath, databaseURL)
			if err != nil {
				return xerrors.New(xerrors.KindConfig, err)
			}

			subnets := enabledSubnetworks(history, state, beacon)
			if len(subnets) == 0 {
				return xerrors.New(xerrors.KindConfig, fmt.Errorf("auditor: at least one of --history, --state, --beacon must be enabled"))
			}

			weights := auditor.StrategyWeights{
				Latest:    weightLatest,
				Random:    weightRandom,
				FourFours: weightFourFours,
				Failed:    weightFailed,
				Oldest:    weightOldest,
				Sync:      weightSync,
			}

			return run(cmd.Context(), dsn, logLevel, metricsAddr, runtimeConfig{
				transport:     transport,
				httpURL:       httpURL,
				udsPath:       udsPath,
				concurrency:   concurrency,
				queueDepth:    queueDepth,
				subnets:       subnets,
				weights:       weights,
				statsInterval: statsInterval,
				dryRun:        dryRun,
			})
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&databaseURL, "database-url", "", "relational store connection string")
	flags.StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
	flags.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "loopback address for /metrics and /healthz")
	flags.StringVar(&transport, "transport", "http", "overlay RPC transport: http or uds")
	flags.StringVar(&httpURL, "portal-client", "", "overlay client JSON-RPC HTTP URL")
	flags.StringVar(&udsPath, "uds-path", "", "overlay client JSON-RPC unix socket path")
	flags.IntVar(&concurrency, "concurrency", 8, "audit worker goroutines per subnetwork")
	flags.IntVar(&queueDepth, "queue-depth", 128, "bounded dispatch queue depth per strategy, per subnetwork")

	flags.BoolVar(&history, "history", true, "audit the history subnetwork")
	flags.BoolVar(&state, "state", false, "audit the state subnetwork")
	flags.BoolVar(&beacon, "beacon", false, "audit the beacon subnetwork")

	flags.IntVar(&weightLatest, "latest-strategy-weight", 6, "dispatch weight for the latest strategy")
	flags.IntVar(&weightFourFours, "four-fours-strategy-weight", 80, "dispatch weight for the four-fours strategy")
	flags.IntVar(&weightRandom, "random-strategy-weight", 1, "dispatch weight for the random strategy")
	flags.IntVar(&weightFailed, "failed-strategy-weight", 1, "dispatch weight for the failed-retry strategy")
	flags.IntVar(&weightOldest, "oldest-strategy-weight", 0, "dispatch weight for the oldest-audited strategy")
	flags.IntVar(&weightSync, "sync-strategy-weight", 0, "dispatch weight for the sync-lag strategy")

	flags.DurationVar(&statsInterval, "stats-interval", 15*time.Minute, "rolling stats aggregation tick")
	flags.BoolVar(&dryRun, "dry-run", false, "classify and log audits without writing them to the store")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

type runtimeConfig struct {
	transport     string
	httpURL       string
	udsPath       string
	concurrency   int
	queueDepth    int
	subnets       []store.Subnetwork
	weights       auditor.StrategyWeights
	statsInterval time.Duration
	dryRun        bool
}

func enabledSubnetworks(history, state, beacon bool) []store.Subnetwork {
	var out []store.Subnetwork
	if history {
		out = append(out, store.SubnetworkHistory)
	}
	if state {
		out = append(out, store.SubnetworkState)
	}
	if beacon {
		out = append(out, store.SubnetworkBeacon)
	}
	return out
}

func exitCodeFor(err error) int {
	switch {
	case xerrors.Is(err, xerrors.KindConfig):
		return 2
	case xerrors.Is(err, xerrors.KindStoreTransient), xerrors.Is(err, xerrors.KindStorePermanent):
		return 3
	default:
		return 1
	}
}

func run(ctx context.Context, databaseURL, logLevel, metricsAddr string, rc runtimeConfig) error {
	log := config.NewLogger(logLevel)
	entry := config.WithComponent(log, "auditor")
	metrics := config.NewMetrics("auditor")

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Warn("metrics server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("signal received, draining")
		cancel()
	}()

	st, err := store.Open(ctx, databaseURL, rc.concurrency*len(rc.subnets)+4)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rpc, err := buildClient(rc)
	if err != nil {
		return xerrors.New(xerrors.KindConfig, err)
	}
	defer rpc.Close()

	var backend auditor.AuditBackend = st
	if rc.dryRun {
		backend = dryRunAuditStore{Store: st, log: entry}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(rc.subnets)+1)

	for _, subnet := range rc.subnets {
		subnet := subnet
		cfg := auditor.Config{
			Subnetwork:  subnet,
			Concurrency: rc.concurrency,
			QueueDepth:  rc.queueDepth,
			Weights:     rc.weights,
		}
		ad := auditor.New(cfg, backend, rpc.WithNamespace("portal_"+string(subnet)), entry.WithField("subnetwork", subnet), metrics)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ad.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	statsCfg := stats.Config{Interval: rc.statsInterval}
	agg := stats.New(statsCfg, st, entry.WithField("component", "stats"), metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	wg.Wait()
	close(errCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainWindow)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	for err := range errCh {
		return err
	}
	return nil
}

func buildClient(rc runtimeConfig) (*rpcclient.Client, error) {
	const timeout = 30 * time.Second
	concurrency := rc.concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	switch rc.transport {
	case "uds":
		if rc.udsPath == "" {
			return nil, fmt.Errorf("auditor: --uds-path is required for transport=uds")
		}
		return rpcclient.NewUDS(rc.udsPath, timeout, concurrency), nil
	default:
		if rc.httpURL == "" {
			return nil, fmt.Errorf("auditor: --portal-client is required for transport=http")
		}
		return rpcclient.NewHTTP(rc.httpURL, timeout, concurrency), nil
	}
}

// dryRunAuditStore embeds *store.Store so it keeps SelectContentForStrategy
// (reads are always live, otherwise the dispatcher would have nothing to
// pick from) while overriding InsertAudit to log instead of write, the
// same log-only stand-in the cartographer's dry-run uses.
type dryRunAuditStore struct {
	*store.Store
	log *logrus.Entry
}

func (d dryRunAuditStore) InsertAudit(ctx context.Context, attempt store.AuditAttempt, failures []store.TransferFailure) error {
	d.log.WithFields(logrus.Fields{
		"content_key": attempt.ContentKey,
		"strategy":    attempt.Strategy,
		"outcome":     attempt.Outcome,
	}).Info("dry-run: would record audit attempt")
	return nil
}
