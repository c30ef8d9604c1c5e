// Command seed-db loads reference data (restaurants, menus, customers,
// memberships, offers, delivery agents) and an admin API key into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/feast/internal/domain/agent"
	"github.com/xenking/feast/internal/domain/auth"
	"github.com/xenking/feast/internal/domain/catalog"
	"github.com/xenking/feast/internal/domain/identity"
	"github.com/xenking/feast/internal/domain/pricing"
	"github.com/xenking/feast/internal/handler"
	"github.com/xenking/feast/internal/storage/postgres"
)

type seedFile struct {
	Restaurants []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Menu []struct {
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Price     decimal.Decimal `json:"price"`
			Available bool            `json:"available"`
		} `json:"menu"`
	} `json:"restaurants"`
	Customers []struct {
		ID         string             `json:"id"`
		Name       string             `json:"name"`
		Email      string             `json:"email"`
		Addresses  []identity.Address `json:"addresses"`
		Membership *pricing.Premium   `json:"membership"`
	} `json:"customers"`
	Offers []struct {
		ID             string          `json:"id"`
		Kind           string          `json:"kind"`
		Value          decimal.Decimal `json:"value"`
		MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
		ValidDays      int             `json:"validDays"`
		Description    string          `json:"description"`
	} `json:"offers"`
	Agents []agent.Agent `json:"agents"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/feast.json", "path to seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or FEAST_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or FEAST_AUTH_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("FEAST_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or FEAST_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("FEAST_AUTH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
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

	seeder := postgres.NewSeeder(pool)
	offers := postgres.NewOfferRepository(pool)
	keys := postgres.NewAPIKeyRepository(pool)
	now := time.Now().UTC()

	for _, r := range seed.Restaurants {
		menu := make([]catalog.MenuItem, len(r.Menu))
		for i, m := range r.Menu {
			menu[i] = catalog.MenuItem{ID: m.ID, RestaurantID: r.ID, Name: m.Name, Price: m.Price, Available: m.Available}
		}
		if err := seeder.UpsertRestaurant(ctx, catalog.Restaurant{ID: r.ID, Name: r.Name}, menu); err != nil {
			return err
		}
		slog.Info("upserted restaurant", slog.String("id", r.ID), slog.Int("menu_items", len(menu)))
	}

	for _, c := range seed.Customers {
		if err := seeder.UpsertCustomer(ctx, identity.Customer{ID: c.ID, Name: c.Name, Email: c.Email}, c.Addresses); err != nil {
			return err
		}
		if c.Membership != nil {
			if err := seeder.UpsertMembership(ctx, c.ID, *c.Membership, now.AddDate(0, 0, -1), nil); err != nil {
				return err
			}
		}
		slog.Info("upserted customer", slog.String("id", c.ID), slog.Bool("premium", c.Membership != nil))
	}

	for _, o := range seed.Offers {
		offer := pricing.Offer{
			ID:             o.ID,
			Kind:           pricing.OfferKind(o.Kind),
			Value:          o.Value,
			MinOrderAmount: o.MinOrderAmount,
			Description:    o.Description,
		}
		if !offer.Kind.Valid() {
			return errors.Errorf("offer %s: unknown kind %q", o.ID, o.Kind)
		}
		if o.ValidDays > 0 {
			to := now.AddDate(0, 0, o.ValidDays)
			offer.ValidTo = &to
		}
		if err := offers.Upsert(ctx, offer); err != nil {
			return err
		}
		slog.Info("upserted offer", slog.String("id", o.ID), slog.String("description", o.Description))
	}

	for _, a := range seed.Agents {
		if err := seeder.UpsertAgent(ctx, a); err != nil {
			return err
		}
	}
	slog.Info("upserted agents", slog.Int("count", len(seed.Agents)))

	if err := keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeOrdersAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}
	slog.Info("upserted API key", slog.String("id", "default"))
	return nil
}
