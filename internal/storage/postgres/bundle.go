package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/pkg/pagination"
)

const (
	bundleColumns = `id::text, main_product_id, linked_products, is_active, has_discount,
		discount_type, discount_value, version, created_at, updated_at`

	createBundleSQL = `INSERT INTO upsell_bundles (id, main_product_id, linked_products, is_active,
		has_discount, discount_type, discount_value, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`

	getBundleSQL = `SELECT ` + bundleColumns + ` FROM upsell_bundles WHERE id = $1`

	listBundlesSQL = `SELECT ` + bundleColumns + ` FROM upsell_bundles
		ORDER BY created_at DESC, id DESC LIMIT $1`

	listBundlesAfterSQL = `SELECT ` + bundleColumns + ` FROM upsell_bundles
		WHERE (created_at, id) < ($1, $2::uuid)
		ORDER BY created_at DESC, id DESC LIMIT $3`

	updateBundleSQL = `UPDATE upsell_bundles SET
			linked_products = $2,
			is_active = $3,
			has_discount = $4,
			discount_type = $5,
			discount_value = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING version`

	bundleExistsSQL = `SELECT EXISTS (SELECT 1 FROM upsell_bundles WHERE id = $1)`

	deleteBundleSQL = `DELETE FROM upsell_bundles WHERE id = $1`

	findActiveByMainProductSQL = `SELECT ` + bundleColumns + ` FROM upsell_bundles
		WHERE main_product_id = $1 AND is_active
		ORDER BY created_at LIMIT 1`

	activeDiscountBundlesSQL = `SELECT ` + bundleColumns + ` FROM upsell_bundles
		WHERE is_active AND has_discount AND discount_value > 0
			AND jsonb_path_exists(linked_products, '$[*] ? (@.isActive == true)')
		ORDER BY created_at, id`
)

var _ upsell.Repository = (*BundleRepository)(nil)

// BundleRepository implements upsell.Repository backed by PostgreSQL. Linked
// products live in a JSONB column of the bundle row, so every write replaces
// the whole collection in a single statement.
type BundleRepository struct {
	pool *pgxpool.Pool
}

// NewBundleRepository returns a BundleRepository that uses the given pool.
func NewBundleRepository(pool *pgxpool.Pool) *BundleRepository {
	return &BundleRepository{pool: pool}
}

// Create inserts a new bundle at version 1.
func (r *BundleRepository) Create(ctx context.Context, b *upsell.Bundle) error {
	if _, err := uuid.Parse(b.ID); err != nil {
		return errors.Wrapf(err, "bundle id %q", b.ID)
	}
	links, err := marshalLinks(b.LinkedProducts)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, createBundleSQL,
		b.ID, b.MainProductID, links, b.IsActive,
		b.HasDiscount, string(b.DiscountType), b.DiscountValue,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create bundle %q", b.ID)
	}
	b.Version = 1
	return nil
}

// Get returns a bundle by ID.
func (r *BundleRepository) Get(ctx context.Context, id string) (*upsell.Bundle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, upsell.ErrBundleNotFound
	}
	rows, err := r.pool.Query(ctx, getBundleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get bundle %q", id)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBundle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, upsell.ErrBundleNotFound
		}
		return nil, errors.Wrapf(err, "get bundle %q", id)
	}
	return &b, nil
}

// List returns one page of bundles ordered from newest to oldest.
func (r *BundleRepository) List(ctx context.Context, p pagination.Params) ([]upsell.Bundle, string, error) {
	cursor, err := pagination.ParseCursor(p.Cursor)
	if err != nil {
		return nil, "", err
	}

	limit := pagination.LimitWithBuffer(p.Limit)
	var rows pgx.Rows
	if cursor == nil {
		rows, err = r.pool.Query(ctx, listBundlesSQL, limit)
	} else {
		rows, err = r.pool.Query(ctx, listBundlesAfterSQL, cursor.CreatedAt, cursor.ID.String(), limit)
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "list bundles")
	}

	bundles, err := pgx.CollectRows(rows, scanBundle)
	if err != nil {
		return nil, "", errors.Wrap(err, "list bundles")
	}

	page, next := pagination.Trim(bundles, p.Limit, func(b upsell.Bundle) pagination.Cursor {
		return pagination.Cursor{CreatedAt: b.CreatedAt, ID: uuid.MustParse(b.ID)}
	})
	return page, next, nil
}

// Update replaces the bundle if it is still at expectedVersion.
func (r *BundleRepository) Update(ctx context.Context, b *upsell.Bundle, expectedVersion int64) error {
	if _, err := uuid.Parse(b.ID); err != nil {
		return upsell.ErrBundleNotFound
	}
	links, err := marshalLinks(b.LinkedProducts)
	if err != nil {
		return err
	}

	var version int64
	err = r.pool.QueryRow(ctx, updateBundleSQL,
		b.ID, links, b.IsActive, b.HasDiscount,
		string(b.DiscountType), b.DiscountValue, b.UpdatedAt,
		expectedVersion,
	).Scan(&version)
	if err == nil {
		b.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(err, "update bundle %q", b.ID)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, bundleExistsSQL, b.ID).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check bundle %q", b.ID)
	}
	if !exists {
		return upsell.ErrBundleNotFound
	}
	return upsell.ErrVersionConflict
}

// Delete removes a bundle.
func (r *BundleRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return upsell.ErrBundleNotFound
	}
	tag, err := r.pool.Exec(ctx, deleteBundleSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete bundle %q", id)
	}
	if tag.RowsAffected() == 0 {
		return upsell.ErrBundleNotFound
	}
	return nil
}

// FindActiveByMainProduct returns the oldest active bundle of a main product.
func (r *BundleRepository) FindActiveByMainProduct(ctx context.Context, mainProductID string) (*upsell.Bundle, error) {
	rows, err := r.pool.Query(ctx, findActiveByMainProductSQL, mainProductID)
	if err != nil {
		return nil, errors.Wrapf(err, "find active bundle of %q", mainProductID)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBundle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, upsell.ErrBundleNotFound
		}
		return nil, errors.Wrapf(err, "find active bundle of %q", mainProductID)
	}
	return &b, nil
}

// GetActiveDiscountBundles returns every active bundle with a positive
// discount and at least one active linked product, oldest first.
func (r *BundleRepository) GetActiveDiscountBundles(ctx context.Context) ([]upsell.Bundle, error) {
	rows, err := r.pool.Query(ctx, activeDiscountBundlesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "get active discount bundles")
	}
	bundles, err := pgx.CollectRows(rows, scanBundle)
	if err != nil {
		return nil, errors.Wrap(err, "get active discount bundles")
	}
	return bundles, nil
}

func marshalLinks(links []upsell.LinkedProduct) ([]byte, error) {
	if links == nil {
		links = []upsell.LinkedProduct{}
	}
	data, err := json.Marshal(links)
	if err != nil {
		return nil, errors.Wrap(err, "marshal linked products")
	}
	return data, nil
}

func scanBundle(row pgx.CollectableRow) (upsell.Bundle, error) {
	var (
		b            upsell.Bundle
		links        []byte
		discountType string
	)
	err := row.Scan(
		&b.ID, &b.MainProductID, &links, &b.IsActive, &b.HasDiscount,
		&discountType, &b.DiscountValue, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return b, err
	}
	b.DiscountType = upsell.DiscountType(discountType)
	if err := json.Unmarshal(links, &b.LinkedProducts); err != nil {
		return b, errors.Wrapf(err, "unmarshal linked products of %q", b.ID)
	}
	return b, nil
}
