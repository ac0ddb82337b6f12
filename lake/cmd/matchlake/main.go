package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/logger"
	"github.com/malbeclabs/matchlake/lake/pkg/matches"
	"github.com/malbeclabs/matchlake/lake/pkg/pipeline"
	"github.com/malbeclabs/matchlake/lake/pkg/pipeline/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultDBPath              = ".tmp/matchlake.db"
	defaultDuckLakeCatalogName = "matchlake"
	defaultDuckLakeStorageURI  = "file://.tmp/lake/data"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return newRootCmd(&options{}).ExecuteContext(ctx)
}

type options struct {
	verbose            bool
	inputRoot          string
	bucketCount        int
	medalFilter        string
	concurrency        int
	broadcastThreshold int
	verifyLayouts      bool
	metricsAddr        string

	dbPath              string
	duckLakeCatalogName string
	duckLakeCatalogURI  string
	duckLakeStorageURI  string
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "matchlake",
		Short:         "Load match statistics into bucketed tables, join them and report the top players, playlists and maps.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnv(cmd.Flags(), opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose (debug) logging")
	flags.StringVar(&opts.dbPath, "db-path", defaultDBPath, "path of the local DuckDB database, used when no DuckLake catalog URI is set (or set MATCHLAKE_DB_PATH env var)")
	flags.StringVar(&opts.duckLakeCatalogName, "ducklake-catalog-name", defaultDuckLakeCatalogName, "name of the DuckLake catalog (or set DUCKLAKE_CATALOG_NAME env var)")
	flags.StringVar(&opts.duckLakeCatalogURI, "ducklake-catalog-uri", "", "URI to the DuckLake catalog; empty uses the local database (or set DUCKLAKE_CATALOG_URI env var)")
	flags.StringVar(&opts.duckLakeStorageURI, "ducklake-storage-uri", defaultDuckLakeStorageURI, "URI to the DuckLake storage directory (or set DUCKLAKE_STORAGE_URI env var)")

	runFlags := rootCmd.Flags()
	runFlags.StringVar(&opts.inputRoot, "input-root", pipeline.DefaultInputRoot, "directory holding the input CSV files (or set MATCHLAKE_INPUT_ROOT env var)")
	runFlags.IntVar(&opts.bucketCount, "bucket-count", pipeline.DefaultBucketCount, "number of buckets of the materialized tables (or set MATCHLAKE_BUCKET_COUNT env var)")
	runFlags.StringVar(&opts.medalFilter, "medal-filter", matches.DefaultMedalFilter, "medal name counted by the medals-per-map query (or set MATCHLAKE_MEDAL_FILTER env var)")
	runFlags.IntVar(&opts.concurrency, "concurrency", 0, "number of buckets joined concurrently, 0 for one per CPU (or set MATCHLAKE_CONCURRENCY env var)")
	runFlags.IntVar(&opts.broadcastThreshold, "broadcast-threshold", matches.BroadcastDisabled, "largest row count of a broadcast relation, -1 to disable (or set MATCHLAKE_BROADCAST_THRESHOLD env var)")
	runFlags.BoolVar(&opts.verifyLayouts, "verify-layouts", false, "check every written row against its table's bucket layout (or set MATCHLAKE_VERIFY_LAYOUTS env var)")
	runFlags.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to listen on for prometheus metrics, empty to disable (or set MATCHLAKE_METRICS_ADDR env var)")

	rootCmd.AddCommand(newDescribeCmd(opts))
	return rootCmd
}

// applyEnv overrides flags that were not set on the command line with their environment variables.
func applyEnv(flags *pflag.FlagSet, opts *options) error {
	strVars := []struct {
		flag string
		env  string
		dst  *string
	}{
		{"input-root", "MATCHLAKE_INPUT_ROOT", &opts.inputRoot},
		{"medal-filter", "MATCHLAKE_MEDAL_FILTER", &opts.medalFilter},
		{"metrics-addr", "MATCHLAKE_METRICS_ADDR", &opts.metricsAddr},
		{"db-path", "MATCHLAKE_DB_PATH", &opts.dbPath},
		{"ducklake-catalog-name", "DUCKLAKE_CATALOG_NAME", &opts.duckLakeCatalogName},
		{"ducklake-catalog-uri", "DUCKLAKE_CATALOG_URI", &opts.duckLakeCatalogURI},
		{"ducklake-storage-uri", "DUCKLAKE_STORAGE_URI", &opts.duckLakeStorageURI},
	}
	for _, v := range strVars {
		if flags.Changed(v.flag) {
			continue
		}
		if env := os.Getenv(v.env); env != "" {
			*v.dst = env
		}
	}

	intVars := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"bucket-count", "MATCHLAKE_BUCKET_COUNT", &opts.bucketCount},
		{"concurrency", "MATCHLAKE_CONCURRENCY", &opts.concurrency},
		{"broadcast-threshold", "MATCHLAKE_BROADCAST_THRESHOLD", &opts.broadcastThreshold},
	}
	for _, v := range intVars {
		if flags.Changed(v.flag) {
			continue
		}
		env := os.Getenv(v.env)
		if env == "" {
			continue
		}
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", v.env, env, err)
		}
		*v.dst = n
	}

	if env := os.Getenv("MATCHLAKE_VERIFY_LAYOUTS"); env != "" && !flags.Changed("verify-layouts") {
		b, err := strconv.ParseBool(env)
		if err != nil {
			return fmt.Errorf("invalid MATCHLAKE_VERIFY_LAYOUTS %q: %w", env, err)
		}
		opts.verifyLayouts = b
	}
	if env := os.Getenv("MATCHLAKE_VERBOSE"); env != "" && !flags.Changed("verbose") {
		opts.verbose, _ = strconv.ParseBool(env)
	}
	return nil
}

func runPipeline(ctx context.Context, opts *options) error {
	log := logger.New(opts.verbose)

	metricsServerErrCh := make(chan error, 1)
	if opts.metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		defer listener.Close()
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.Serve(listener, mux); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Error("failed to serve prometheus metrics", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	db, err := openDB(ctx, log, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErrCh := make(chan error, 1)
	go func() {
		_, err := pipeline.Run(runCtx, pipeline.Config{
			Logger:             log,
			DB:                 db,
			InputRoot:          opts.inputRoot,
			BucketCount:        opts.bucketCount,
			MedalFilter:        opts.medalFilter,
			Concurrency:        opts.concurrency,
			BroadcastThreshold: opts.broadcastThreshold,
			VerifyLayouts:      opts.verifyLayouts,
			Output:             os.Stdout,
		})
		runErrCh <- err
	}()

	return awaitRun(cancelRun, runErrCh, metricsServerErrCh)
}

// awaitRun returns the pipeline's result. On a metrics server error it cancels the run and
// waits for it to stop before returning, so the database is not closed under it.
func awaitRun(cancelRun context.CancelFunc, runErrCh, metricsServerErrCh <-chan error) error {
	select {
	case err := <-runErrCh:
		return err
	case err := <-metricsServerErrCh:
		cancelRun()
		<-runErrCh
		return fmt.Errorf("metrics server: %w", err)
	}
}

// openDB returns a DuckLake session when a catalog URI is configured and a local DuckDB
// database otherwise.
func openDB(ctx context.Context, log *slog.Logger, opts *options) (duck.DB, error) {
	if opts.duckLakeCatalogURI == "" {
		if opts.dbPath != "" {
			if err := os.MkdirAll(filepath.Dir(opts.dbPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := duck.NewDB(ctx, opts.dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		log.Info("using local DuckDB database", "path", opts.dbPath)
		return db, nil
	}

	s3Config, err := duck.PrepareS3ConfigForStorageURI(ctx, log, opts.duckLakeStorageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare S3 config: %w", err)
	}
	db, err := duck.NewLake(ctx, log, opts.duckLakeCatalogName, opts.duckLakeCatalogURI, opts.duckLakeStorageURI, s3Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckLake: %w", err)
	}
	log.Info("using DuckLake database", "catalog_name", opts.duckLakeCatalogName, "catalog_uri", duck.RedactedCatalogURI(opts.duckLakeCatalogURI), "storage_uri", duck.RedactedStorageURI(opts.duckLakeStorageURI))
	return db, nil
}
