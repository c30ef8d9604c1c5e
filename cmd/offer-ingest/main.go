// Command offer-ingest bulk-loads promotional offers from gzipped CSV exports
// of the marketing system, skipping offers whose ids appear in the revoked-id
// dump.
//
// Offer files have the header
//
//	id,kind,value,min_order_amount,valid_from,valid_to,description
//
// and the revoked file holds one offer id per line. The revoked dump can hold
// hundreds of millions of single-use ids, so it is never loaded into memory:
// a bloom filter screens offers and only its positives are confirmed by a
// second scan.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/feast/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		revoked     string
		databaseURL string
		dryRun      bool
		expected    uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz offer files")
	flag.StringVar(&revoked, "revoked", "", "gzipped file of revoked offer ids, one per line (optional)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-revoked", 50_000_000, "expected number of revoked ids, sizes the bloom filter")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and filter without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, revoked, databaseURL, dryRun, expected); err != nil {
		slog.Error("offer ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("offer ingest completed successfully")
}

func run(ctx context.Context, dataDir, revoked, databaseURL string, dryRun bool, expectedRevoked uint) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list offer files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}
	slices.Sort(files)

	offers, err := collect(ctx, files, revoked, expectedRevoked)
	if err != nil {
		return err
	}
	slog.Info("offers ready", slog.Int("count", len(offers)))
	if dryRun || len(offers) == 0 {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewOfferRepository(pool)
	for i, o := range offers {
		if err := repo.Upsert(ctx, o); err != nil {
			return errors.Wrapf(err, "upsert offer %s", o.ID)
		}
		if (i+1)%1000 == 0 || i+1 == len(offers) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(offers)))
		}
	}
	return nil
}
