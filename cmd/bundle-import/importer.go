package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
	progressEvery = 10_000
)

// bundleCreator is implemented by *upsell.Service.
type bundleCreator interface {
	CreateBundle(ctx context.Context, in upsell.CreateBundleInput) (*upsell.Bundle, error)
}

// bundleLister is the read side of upsell.Repository used by the importer.
type bundleLister interface {
	List(ctx context.Context, p pagination.Params) ([]upsell.Bundle, string, error)
	FindActiveByMainProduct(ctx context.Context, mainProductID string) (*upsell.Bundle, error)
}

// lineError identifies the input line a failure came from.
type lineError struct {
	File string
	Line int
	Err  error
}

func (e *lineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *lineError) Unwrap() error { return e.Err }

// Stats summarizes an import run.
type Stats struct {
	Created int64
	Skipped int64
	Failed  int64
}

type importer struct {
	lg      *zap.Logger
	bundles bundleLister
	creator bundleCreator
	workers int
	dryRun  bool

	mu      sync.Mutex
	seen    *bloom.BloomFilter
	claimed map[string]struct{}
	errs    error
	stats   struct{ created, skipped, failed atomic.Int64 }

	products keyedMutex
}

// keyedMutex serializes work per key. Unused keys are dropped.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	waiters int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.waiters--; l.waiters == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func newImporter(lg *zap.Logger, bundles bundleLister, creator bundleCreator, workers int) *importer {
	if workers < 1 {
		workers = 1
	}
	return &importer{
		lg:      lg,
		bundles: bundles,
		creator: creator,
		workers: workers,
		seen:    bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		claimed: make(map[string]struct{}),
	}
}

// preload adds the main product of every active bundle in the store to the
// prefilter.
func (im *importer) preload(ctx context.Context) error {
	var (
		cursor string
		count  int
	)
	for {
		page, next, err := im.bundles.List(ctx, pagination.Params{Limit: pagination.MaxLimit, Cursor: cursor})
		if err != nil {
			return errors.Wrap(err, "list bundles")
		}
		im.mu.Lock()
		for _, b := range page {
			if b.IsActive {
				im.seen.AddString(b.MainProductID)
				count++
			}
		}
		im.mu.Unlock()
		if next == "" {
			break
		}
		cursor = next
	}
	im.lg.Info("Prefilter loaded", zap.Int("active_bundles", count))
	return nil
}

// Run imports every file, several at a time. Per-line failures do not stop
// the run; they are returned together once all files are done.
func (im *importer) Run(ctx context.Context, files []string) (Stats, error) {
	if err := im.preload(ctx); err != nil {
		return Stats{}, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for _, path := range files {
		g.Go(func() error {
			return im.importFile(ctx, path)
		})
	}
	err := g.Wait()

	stats := Stats{
		Created: im.stats.created.Load(),
		Skipped: im.stats.skipped.Load(),
		Failed:  im.stats.failed.Load(),
	}
	if err != nil {
		return stats, err
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	return stats, im.errs
}

func (im *importer) importFile(ctx context.Context, path string) error {
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

	lg := im.lg.With(zap.String("file", path))
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var line int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		if err := im.importLine(ctx, data); err != nil {
			im.fail(&lineError{File: path, Line: line, Err: err})
		}
		if line%progressEvery == 0 {
			lg.Info("Import progress", zap.Int("lines", line))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	lg.Info("File imported", zap.Int("lines", line))
	return nil
}

func (im *importer) importLine(ctx context.Context, data []byte) error {
	in, err := parseBundleLine(data)
	if err != nil {
		return err
	}

	// Lines for the same main product in concurrently imported files must
	// not both pass the duplicate check before either create lands.
	unlock := im.products.lock(in.MainProductID)
	defer unlock()

	dup, err := im.alreadyBundled(ctx, in.MainProductID)
	if err != nil {
		return err
	}
	if dup {
		im.stats.skipped.Add(1)
		im.lg.Debug("Main product already bundled", zap.String("main_product", in.MainProductID))
		return nil
	}

	if im.dryRun {
		im.claim(in.MainProductID)
		im.stats.created.Add(1)
		return nil
	}
	b, err := im.creator.CreateBundle(ctx, in)
	if errors.Is(err, upsell.ErrDuplicateBundle) {
		im.stats.skipped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}
	im.claim(in.MainProductID)
	im.stats.created.Add(1)
	im.lg.Debug("Bundle created", zap.String("id", b.ID), zap.String("main_product", b.MainProductID))
	return nil
}

// claim records a main product bundled by this run.
func (im *importer) claim(mainProductID string) {
	im.mu.Lock()
	im.claimed[mainProductID] = struct{}{}
	im.mu.Unlock()
}

// alreadyBundled reports products bundled earlier in this run, then consults
// the prefilter and confirms a positive answer with an exact store lookup.
// Either way the product is recorded as seen.
func (im *importer) alreadyBundled(ctx context.Context, mainProductID string) (bool, error) {
	im.mu.Lock()
	_, claimed := im.claimed[mainProductID]
	maybe := claimed || im.seen.TestOrAddString(mainProductID)
	im.mu.Unlock()
	if claimed {
		return true, nil
	}
	if !maybe {
		return false, nil
	}

	_, err := im.bundles.FindActiveByMainProduct(ctx, mainProductID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, upsell.ErrBundleNotFound):
		return false, nil
	default:
		return false, errors.Wrap(err, "find active bundle")
	}
}

func (im *importer) fail(err error) {
	im.stats.failed.Add(1)
	im.mu.Lock()
	im.errs = multierr.Append(im.errs, err)
	im.mu.Unlock()
}

// parseBundleLine decodes one NDJSON bundle definition:
//
//	{"mainProduct":"m","linkedProducts":["a","b"],"isActive":true,
//	 "discountType":"percentage","discountValue":"10"}
//
// isActive defaults to true. A discount value enables the discount unless
// hasDiscount says otherwise.
func parseBundleLine(data []byte) (upsell.CreateBundleInput, error) {
	in := upsell.CreateBundleInput{IsActive: true}
	var (
		hasDiscount *bool
		value       *decimal.Decimal
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "mainProduct":
			in.MainProductID, err = d.Str()
		case "linkedProducts":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				in.LinkedProductIDs = append(in.LinkedProductIDs, id)
				return nil
			})
		case "isActive":
			in.IsActive, err = d.Bool()
		case "hasDiscount":
			var v bool
			if v, err = d.Bool(); err == nil {
				hasDiscount = &v
			}
		case "discountType":
			var t string
			if t, err = d.Str(); err == nil {
				in.Discount.Type = upsell.DiscountType(t)
			}
		case "discountValue":
			var v decimal.Decimal
			if v, err = decodeDecimal(d); err == nil {
				value = &v
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return upsell.CreateBundleInput{}, errors.Wrap(err, "decode bundle")
	}
	if in.MainProductID == "" {
		return upsell.CreateBundleInput{}, &upsell.ValidationError{Field: "mainProduct", Reason: "is required"}
	}

	if value != nil {
		in.Discount.Value = *value
		in.Discount.HasDiscount = true
	}
	if hasDiscount != nil {
		in.Discount.HasDiscount = *hasDiscount
	}
	return in, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse discount value %q", raw)
	}
	return v, nil
}
