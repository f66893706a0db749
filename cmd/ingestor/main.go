// Command ingestor follows (or backfills) a canonical chain and derives the
// content items the overlay is expected to serve (spec.md §4.5, §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/overlaywatch/canopy/internal/config"
	"github.com/overlaywatch/canopy/internal/ingestor"
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
	)

	root := &cobra.Command{
		Use:   "ingestor",
		Short: "Follows or backfills a chain and derives overlay content items",
	}
	persistent := root.PersistentFlags()
	persistent.StringVar(&configPath, "config", "", "path to a YAML config file")
	persistent.StringVar(&databaseURL, "database-url", "", "relational store connection string")
	persistent.StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
	persistent.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "loopback address for /metrics and /healthz")

	var providerURL string
	followHead := &cobra.Command{
		Use:   "follow-head",
		Short: "Follow the execution chain head, deriving history content items",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := config.ResolveDatabaseURL(configPath, databaseURL)
			if err != nil {
				return xerrors.New(xerrors.KindConfig, err)
			}
			return runExecution(cmd.Context(), dsn, logLevel, metricsAddr, providerURL, "history", func(ig *ingestor.Ingestor, ctx context.Context) error {
				return ig.FollowHead(ctx)
			})
		},
	}
	followHead.Flags().StringVar(&providerURL, "provider-url", "", "execution-layer JSON-RPC URL")

	var startBlock, endBlock uint64
	populateStateRoots := &cobra.Command{
		Use:   "populate-state-roots-range",
		Short: "Backfill state-root content items for a closed block range",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := config.ResolveDatabaseURL(configPath, databaseURL)
			if err != nil {
				return xerrors.New(xerrors.KindConfig, err)
			}
			if endBlock < startBlock {
				return xerrors.New(xerrors.KindConfig, fmt.Errorf("ingestor: --end-block must be >= --start-block"))
			}
			return runExecution(cmd.Context(), dsn, logLevel, metricsAddr, providerURL, "state", func(ig *ingestor.Ingestor, ctx context.Context) error {
				return ig.BackfillRange(ctx, startBlock, endBlock)
			})
		},
	}
	populateStateRoots.Flags().StringVar(&providerURL, "provider-url", "", "execution-layer JSON-RPC URL")
	populateStateRoots.Flags().Uint64Var(&startBlock, "start-block", 0, "first block number to backfill, inclusive")
	populateStateRoots.Flags().Uint64Var(&endBlock, "end-block", 0, "last block number to backfill, inclusive")

	var beaconURL string
	followBeacon := &cobra.Command{
		Use:   "follow-beacon-pandaops",
		Short: "Follow the beacon chain head via a pandaops-hosted beacon API endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := config.ResolveDatabaseURL(configPath, databaseURL)
			if err != nil {
				return xerrors.New(xerrors.KindConfig, err)
			}
			return runBeacon(cmd.Context(), dsn, logLevel, metricsAddr, beaconURL)
		},
	}
	followBeacon.Flags().StringVar(&beaconURL, "beacon-url", "", "beacon-node HTTP API base URL")

	root.AddCommand(followHead, populateStateRoots, followBeacon)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
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

// runExecution wires an execution-layer provider into an Ingestor scoped to
// subnetName ("history" or "state") and runs task against it.
func runExecution(ctx context.Context, databaseURL, logLevel, metricsAddr, providerURL, subnetName string, task func(*ingestor.Ingestor, context.Context) error) error {
	if providerURL == "" {
		return xerrors.New(xerrors.KindConfig, fmt.Errorf("ingestor: --provider-url is required"))
	}

	log := config.NewLogger(logLevel)
	entry := config.WithComponent(log, "ingestor:"+subnetName)
	metrics := config.NewMetrics("ingestor_" + subnetName)

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

	st, err := store.Open(ctx, databaseURL, 5)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	provider, err := ingestor.NewExecutionProvider(providerURL)
	if err != nil {
		return xerrors.New(xerrors.KindConfig, err)
	}
	defer provider.Close()

	subnet := store.Subnetwork(subnetName)
	derive := ingestor.DeriveFuncFor(subnet)
	ig := ingestor.New(st, provider, subnet, derive, entry)

	runErr := task(ig, ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainWindow)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return runErr
}

func runBeacon(ctx context.Context, databaseURL, logLevel, metricsAddr, beaconURL string) error {
	if beaconURL == "" {
		return xerrors.New(xerrors.KindConfig, fmt.Errorf("ingestor: --beacon-url is required"))
	}

	log := config.NewLogger(logLevel)
	entry := config.WithComponent(log, "ingestor:beacon")
	metrics := config.NewMetrics("ingestor_beacon")

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

	st, err := store.Open(ctx, databaseURL, 5)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	provider := ingestor.NewBeaconProvider(beaconURL)

	ig := ingestor.New(st, provider, store.SubnetworkBeacon, ingestor.DeriveFuncFor(store.SubnetworkBeacon), entry)

	runErr := ig.FollowHead(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drainWindow)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return runErr
}
