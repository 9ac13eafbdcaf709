package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-upsell/internal/domain/auth"
	"github.com/xenking/oolio-upsell/internal/domain/product"
	"github.com/xenking/oolio-upsell/internal/domain/upsell"
	"github.com/xenking/oolio-upsell/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	PriceMin decimal.Decimal `json:"priceMin"`
	PriceMax decimal.Decimal `json:"priceMax"`
	Inactive bool            `json:"inactive"`
}

// demoBundle is created once so the storefront and cart endpoints have
// something to show on a fresh database.
var demoBundle = upsell.CreateBundleInput{
	MainProductID:    "burger-classic",
	LinkedProductIDs: []string{"fries-regular", "cola-medium"},
	IsActive:         true,
	Discount: upsell.DiscountSettings{
		HasDiscount: true,
		Type:        upsell.DiscountPercentage,
		Value:       decimal.NewFromInt(10),
	},
}

func main() {
	_ = godotenv.Load()

	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
		skipBundle   bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or UPSELL_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or UPSELL_API_KEY_PEPPER env)")
	flag.BoolVar(&skipBundle, "skip-demo-bundle", false, "do not create the demo upsell bundle")
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
	if apiKey == "" {
		apiKey = os.Getenv("UPSELL_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or UPSELL_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("UPSELL_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := seeder{lg: lg, productsFile: productsFile, apiKey: apiKey, pepper: apiKeyPepper, skipBundle: skipBundle}
	if err := s.run(ctx, databaseURL); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

type seeder struct {
	lg           *zap.Logger
	productsFile string
	apiKey       string
	pepper       string
	skipBundle   bool
}

func (s seeder) run(ctx context.Context, databaseURL string) error {
	s.lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	s.lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := postgres.NewProductRepository(pool)
	if err := s.seedProducts(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if !s.skipBundle {
		if err := s.seedBundle(ctx, pool, products); err != nil {
			return errors.Wrap(err, "seed demo bundle")
		}
	}
	if err := s.seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool)); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func (s seeder) seedProducts(ctx context.Context, repo *postgres.ProductRepository) error {
	data, err := os.ReadFile(s.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	products, err := parseProducts(data)
	if err != nil {
		return err
	}

	s.lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		s.lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}

// parseProducts reads the catalog seed file. A missing priceMax collapses the
// range to priceMin.
func parseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" {
			return nil, errors.New("product without id")
		}
		maxPrice := p.PriceMax
		if maxPrice.IsZero() {
			maxPrice = p.PriceMin
		}
		if maxPrice.LessThan(p.PriceMin) {
			return nil, errors.Errorf("product %s: priceMax %s below priceMin %s", p.ID, maxPrice, p.PriceMin)
		}
		out = append(out, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			MinPrice: p.PriceMin,
			MaxPrice: maxPrice,
			Active:   !p.Inactive,
		})
	}
	return out, nil
}

func (s seeder) seedBundle(ctx context.Context, pool *pgxpool.Pool, products *postgres.ProductRepository) error {
	svc := upsell.NewService(postgres.NewBundleRepository(pool), products, upsell.ServiceConfig{})

	b, err := svc.CreateBundle(ctx, demoBundle)
	switch {
	case errors.Is(err, upsell.ErrDuplicateBundle):
		s.lg.Info("Demo bundle already present", zap.String("main_product", demoBundle.MainProductID))
		return nil
	case err != nil:
		return err
	}
	s.lg.Info("Created demo bundle", zap.String("id", b.ID), zap.String("main_product", b.MainProductID))
	return nil
}

func (s seeder) seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKeyHex([]byte(s.pepper), s.apiKey),
		Name:    "Default key",
		Scopes:  []string{auth.ScopeCreateOrder, auth.ScopeManageUpsell},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	s.lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
