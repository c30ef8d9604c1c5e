package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/feast/internal/domain/pricing"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

var header = []string{"id", "kind", "value", "min_order_amount", "valid_from", "valid_to", "description"}

// collect parses every offer file concurrently and drops revoked offers.
// When an id appears in several files the last file wins.
func collect(ctx context.Context, files []string, revokedPath string, expectedRevoked uint) ([]pricing.Offer, error) {
	var revoked *bloom.BloomFilter
	if revokedPath != "" {
		slog.Info("pass 1: building revoked-id filter", slog.String("path", revokedPath))
		f, err := buildFilter(ctx, revokedPath, expectedRevoked)
		if err != nil {
			return nil, errors.Wrap(err, "build revoked filter")
		}
		revoked = f
	}

	slog.Info("pass 2: parsing offer files", slog.Int("files", len(files)))
	perFile := make([][]pricing.Offer, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			offers, err := parseFile(gctx, path)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			perFile[i] = offers
			slog.Info("parsed offer file", slog.String("path", path), slog.Int("offers", len(offers)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]pricing.Offer)
	var order []string
	for _, offers := range perFile {
		for _, o := range offers {
			if _, ok := merged[o.ID]; !ok {
				order = append(order, o.ID)
			}
			merged[o.ID] = o
		}
	}

	// Offers the filter flags as possibly revoked are confirmed exactly.
	suspects := make(map[string]bool)
	if revoked != nil {
		for _, id := range order {
			if revoked.TestString(id) {
				suspects[id] = false
			}
		}
		if len(suspects) > 0 {
			slog.Info("pass 3: confirming suspects", slog.Int("suspects", len(suspects)))
			if err := streamGz(ctx, revokedPath, func(line string) error {
				if _, ok := suspects[line]; ok {
					suspects[line] = true
				}
				return nil
			}); err != nil {
				return nil, errors.Wrap(err, "confirm revoked ids")
			}
		}
	}

	out := make([]pricing.Offer, 0, len(order))
	skipped := 0
	for _, id := range order {
		if suspects[id] {
			skipped++
			continue
		}
		out = append(out, merged[id])
	}
	slog.Info("filtered revoked offers",
		slog.Int("skipped", skipped),
		slog.Int("false_positives", len(suspects)-skipped),
	)
	return out, nil
}

func buildFilter(ctx context.Context, path string, capacity uint) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(max(capacity, 1024), bloomFPR)
	var count uint64
	err := streamGz(ctx, path, func(line string) error {
		filter.AddString(line)
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.Uint64("ids", count))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("pass 1 complete", slog.Uint64("ids", count))
	return filter, nil
}

// streamGz calls fn for every non-empty trimmed line of a gzip file.
func streamGz(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func parseFile(ctx context.Context, path string) ([]pricing.Offer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return parseCSV(ctx, gz)
}

func parseCSV(ctx context.Context, r io.Reader) ([]pricing.Offer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, name := range header {
		if strings.TrimSpace(strings.ToLower(first[i])) != name {
			return nil, errors.Errorf("unexpected header column %d: %q, want %q", i+1, first[i], name)
		}
	}

	var offers []pricing.Offer
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return offers, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read record")
		}
		o, err := parseRecord(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, errors.Wrapf(err, "line %d", line)
		}
		offers = append(offers, o)
	}
}

// parseRecord converts one CSV row into an offer and validates it the way the
// pricing engine will apply it.
func parseRecord(rec []string) (pricing.Offer, error) {
	o := pricing.Offer{
		ID:          strings.TrimSpace(rec[0]),
		Kind:        pricing.OfferKind(strings.TrimSpace(rec[1])),
		Description: strings.TrimSpace(rec[6]),
	}
	if o.ID == "" {
		return o, errors.New("empty id")
	}
	if !o.Kind.Valid() {
		return o, errors.Errorf("offer %s: unknown kind %q", o.ID, o.Kind)
	}

	var err error
	if o.Value, err = parseAmount(rec[2]); err != nil {
		return o, errors.Wrapf(err, "offer %s: value", o.ID)
	}
	if o.MinOrderAmount, err = parseAmount(rec[3]); err != nil {
		return o, errors.Wrapf(err, "offer %s: min_order_amount", o.ID)
	}
	if o.Kind == pricing.OfferPercentage && o.Value.GreaterThan(decimal.NewFromInt(100)) {
		return o, errors.Errorf("offer %s: percentage above 100", o.ID)
	}
	if o.ValidFrom, err = parseTime(rec[4]); err != nil {
		return o, errors.Wrapf(err, "offer %s: valid_from", o.ID)
	}
	if o.ValidTo, err = parseTime(rec[5]); err != nil {
		return o, errors.Wrapf(err, "offer %s: valid_to", o.ID)
	}
	if o.ValidFrom != nil && o.ValidTo != nil && !o.ValidTo.After(*o.ValidFrom) {
		return o, errors.Errorf("offer %s: valid_to is not after valid_from", o.ID)
	}
	return o, nil
}

func parseAmount(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return d, errors.New("negative amount")
	}
	return d, nil
}

func parseTime(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
