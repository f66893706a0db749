// Command cartographer runs the periodic census engine for one overlay
// subnetwork (spec.md §4.4): it enumerates reachable nodes, records their
// endpoint records and self-declared radius, and persists a census
// snapshot with partial-failure semantics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/overlaywatch/canopy/internal/cartographer"
	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/rpcclient"
	"github.com/overlaywatch/canopy/internal/store"
	"github.com/overlaywatch/canopy/internal/xerrors"
)

const drainWindow = 5 * time.Second

func main() {
	_ = godotenv.Load()

	var (
		configPath     string
		databaseURL    string
		logLevel       string
		metricsAddr    string
		transport      string
		httpURL        string
		udsPath        string
		concurrency    int
		subnetwork     string
		censusInterval time.Duration
		censusBudget   time.Duration
		cacheSize      int
		dryRun         bool
	)

	root := &cobra.Command{
		Use:   "cartographer",
		Short: "Census engine that enumerates the overlay and records node radii",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := config.ResolveDatabaseURL(configPath, databaseURL)
			if err != nil {
				return xerrors.New(xerrors.KindConfig, err)
			}

			return run(cmd.Context(), dsn, logLevel, metricsAddr, runtimeConfig{
				transport:      transport,
				httpURL:        httpURL,
				udsPath:        udsPath,
				concurrency:    concurrency,
				subnetwork:     subnetwork,
				censusInterval: censusInterval,
				censusBudget:   censusBudget,
				cacheSize:      cacheSize,
				dryRun:         dryRun,
			})
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&databaseURL, "database-url", "", "relational store connection string")
	flags.StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
	flags.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "loopback address for /metrics and /healthz")
	flags.StringVar(&transport, "transport", "http", "overlay RPC transport: http or uds")
	flags.StringVar(&httpURL, "http-url", "", "overlay client JSON-RPC HTTP URL")
	flags.StringVar(&udsPath, "uds-path", "", "overlay client JSON-RPC unix socket path")
	flags.IntVar(&concurrency, "concurrency", 10, "max concurrent findNodes/radius probes")
	flags.StringVar(&subnetwork, "subnetwork", "history", "overlay subnetwork: history, state or beacon")
	flags.DurationVar(&censusInterval, "census-interval", 15*time.Minute, "time between census starts")
	flags.DurationVar(&censusBudget, "census-budget", 5*time.Minute, "wall-clock budget per census")
	flags.IntVar(&cacheSize, "cache-size", 10_000, "decoded node record LRU cache size")
	flags.BoolVar(&dryRun, "dry-run", false, "log store writes instead of persisting them (censuses still repeat every --census-interval)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

type runtimeConfig struct {
	transport      string
	httpURL        string
	udsPath        string
	concurrency    int
	subnetwork     string
	censusInterval time.Duration
	censusBudget   time.Duration
	cacheSize      int
	dryRun         bool
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
	entry := config.WithComponent(log, "cartographer").WithField("subnetwork", rc.subnetwork)
	metrics := config.NewMetrics("cartographer")

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

	st, err := store.Open(ctx, databaseURL, rc.concurrency)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rpc, err := buildClient(rc)
	if err != nil {
		return xerrors.New(xerrors.KindConfig, err)
	}
	defer rpc.Close()

	if info, err := rpc.NodeInfo(ctx); err != nil {
		entry.WithError(err).Warn("nodeInfo lookup failed, continuing without local identity")
	} else {
		entry.WithField("local_node_id", info.NodeID).Info("connected to overlay client")
	}

	subnet := store.Subnetwork(rc.subnetwork)
	rpcNS := rpc.WithNamespace("portal_" + rc.subnetwork)

	var backend cartographer.StoreBackend = st
	if rc.dryRun {
		backend = dryRunStore{log: entry}
	}

	cfg := cartographer.Config{
		Subnetwork:     subnet,
		Concurrency:    rc.concurrency,
		CensusInterval: rc.censusInterval,
		CensusBudget:   rc.censusBudget,
		CacheSize:      rc.cacheSize,
	}
	cg, err := cartographer.New(cfg, backend, rpcNS, entry, metrics)
	if err != nil {
		return xerrors.New(xerrors.KindConfig, err)
	}

	runErr := cg.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainWindow)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return runErr
}

func buildClient(rc runtimeConfig) (*rpcclient.Client, error) {
	const timeout = 30 * time.Second
	switch rc.transport {
	case "uds":
		if rc.udsPath == "" {
			return nil, fmt.Errorf("cartographer: --uds-path is required for transport=uds")
		}
		return rpcclient.NewUDS(rc.udsPath, timeout, rc.concurrency), nil
	default:
		if rc.httpURL == "" {
			return nil, fmt.Errorf("cartographer: --http-url is required for transport=http")
		}
		return rpcclient.NewHTTP(rc.httpURL, timeout, rc.concurrency), nil
	}
}

// dryRunStore implements cartographer.StoreBackend without touching the
// database: every write is logged instead of persisted, and no
// transaction is opened.
type dryRunStore struct {
	log *logrus.Entry
}

func (d dryRunStore) RecordCensusStart(ctx context.Context, subnet store.Subnetwork) (uuid.UUID, error) {
	id := uuid.New()
	d.log.WithField("census_id", id).Info("dry-run: would start census")
	return id, nil
}

func (d dryRunStore) UpsertNodeRecord(ctx context.Context, rec store.NodeRecord) error {
	d.log.WithField("identity", rec.Identity.Hex()).Debug("dry-run: would upsert node record")
	return nil
}

func (d dryRunStore) RecordObservation(ctx context.Context, obs store.CensusObservation) error {
	d.log.WithField("node_identity", obs.NodeIdentity.Hex()).Debug("dry-run: would record observation")
	return nil
}

func (d dryRunStore) CloseCensus(ctx context.Context, censusID uuid.UUID) error {
	d.log.WithField("census_id", censusID).Info("dry-run: would close census")
	return nil
}
