package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/candle-backfill/internal/config"
	"github.com/ahmethakanbesel/candle-backfill/internal/export"
	"github.com/ahmethakanbesel/candle-backfill/internal/importer"
	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/logging"
	"github.com/ahmethakanbesel/candle-backfill/internal/platform/postgres"
	"github.com/ahmethakanbesel/candle-backfill/internal/platform/sqlite"
	"github.com/ahmethakanbesel/candle-backfill/internal/provider/coinbase"
	importrepo "github.com/ahmethakanbesel/candle-backfill/internal/repository/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/server"
)

const usage = `usage: candle-backfill <command> [flags]

commands:
  import   backfill historical candles into the database
  serve    serve the read-only imports API
  export   write the candles of one import to a Parquet file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	// Cancelled on SIGINT/SIGTERM so a running import or server winds down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "import":
		err = runImport(ctx, cfg, args)
	case "serve":
		err = runServe(ctx, cfg, args)
	case "export":
		err = runExport(ctx, cfg, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		stop()
		_ = closer.Close()
		os.Exit(1)
	}
}

// openStore opens the configured database. The returned func closes it.
func openStore(ctx context.Context, cfg config.Config) (imports.Repository, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return importrepo.NewPostgresRepository(pool), pool.Close, nil
	default:
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return importrepo.NewRepository(db.DB), func() { _ = db.Close() }, nil
	}
}

func runImport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	name := fs.String("name", "", "unique name of the import (required)")
	product := fs.String("product", imports.DefaultProduct, "product to backfill")
	datapoints := fs.Int("datapoints", imports.DefaultDatapoints, "number of candles to fetch")
	granularity := fs.Int("granularity", imports.DefaultGranularity, "candle width in seconds: 60, 300, 900, 3600, 21600 or 86400")
	_ = fs.Parse(args)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeStore()

	opts := []coinbase.Option{
		coinbase.WithBaseURL(cfg.Coinbase.BaseURL),
		coinbase.WithTimeout(cfg.Coinbase.Timeout),
	}
	if cfg.Coinbase.UserAgent != "" {
		opts = append(opts, coinbase.WithUserAgent(cfg.Coinbase.UserAgent))
	}

	im := importer.New(store, coinbase.New(opts...),
		importer.WithSchedulerConfig(cfg.Scheduler()),
		importer.WithRetryPolicy(cfg.RetryPolicy()),
	)

	run, err := im.RunImport(ctx, imports.RunImportRequest{
		Name:        *name,
		Product:     *product,
		Datapoints:  *datapoints,
		Granularity: *granularity,
	})
	if err != nil {
		return err
	}

	st := run.Stats()
	fmt.Fprintf(os.Stdout, "import %q (id %d): %d candles stored, %d fetches, %d splits, %d retries, %d abandoned, %d write failures\n",
		run.Import.Name, run.Import.ID, st.Candles, st.Fetches, st.Splits, st.Retries, st.Abandoned, st.PersistFailures)
	return nil
}

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", cfg.Port, "listen port")
	_ = fs.Parse(args)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeStore()

	srv := server.New(ctx, *port, imports.NewService(store))

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func runExport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	id := fs.Int64("import", 0, "id of the import to export (required)")
	out := fs.String("out", "", "output Parquet file (required)")
	_ = fs.Parse(args)

	if *out == "" {
		return errors.New("-out is required")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeStore()

	n, err := export.New(imports.NewService(store)).Export(ctx, *id, *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "wrote %d candles to %s\n", n, *out)
	return nil
}
