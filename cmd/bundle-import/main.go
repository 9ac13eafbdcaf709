// Command bundle-import creates upsell bundles from gzip-compressed NDJSON
// files. Main products that already own an active bundle are skipped.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		dataDir     string
		databaseURL string
		workers     int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz bundle files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 3, "files imported concurrently")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without creating bundles")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, workers, dryRun); err != nil {
		lg.Fatal("Bundle import failed", zap.Error(err))
	}
	lg.Info("Bundle import completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, workers int, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list input files")
	}
	if len(files) == 0 {
		lg.Info("No input files", zap.String("dir", dataDir))
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	bundles := postgres.NewBundleRepository(pool)
	svc := upsell.NewService(bundles, postgres.NewProductRepository(pool), upsell.ServiceConfig{})

	im := newImporter(lg, bundles, svc, workers)
	im.dryRun = dryRun

	lg.Info("Importing bundles", zap.Int("files", len(files)), zap.Bool("dry_run", dryRun))
	stats, err := im.Run(ctx, files)
	lg.Info("Import finished",
		zap.Int64("created", stats.Created),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	)
	if err != nil && stats.Failed == 0 {
		return errors.Wrap(err, "import")
	}
	if err != nil {
		lineErrs := multierr.Errors(err)
		for _, e := range lineErrs {
			lg.Warn("Line rejected", zap.Error(e))
		}
		return errors.Wrapf(err, "%d lines rejected", len(lineErrs))
	}
	return nil
}
