package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/business"
	"github.com/tapfeedhq/tapfeed-backend/internal/modules/connect"
	"github.com/tapfeedhq/tapfeed-backend/internal/modules/feedback"
	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
	"github.com/tapfeedhq/tapfeed-backend/internal/modules/webhook"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("no .env file, using environment")
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Successfully connected to the database!")

	encryptionKey := mustKey32("CREDENTIAL_ENCRYPTION_KEY")
	stateSecret := []byte(mustEnv("OAUTH_STATE_SECRET"))
	publicURL := mustEnv("PUBLIC_URL")

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	pos.RegisterMetrics(prometheus.DefaultRegisterer)
	router.Handle("/metrics", promhttp.Handler())

	// ── Phase 1: Vendor adapters ────────────────────────────
	registry := pos.NewRegistry()
	registry.Register(pos.ProviderSquare, pos.NewSquareFactory(
		os.Getenv("SQUARE_APP_ID"),
		os.Getenv("SQUARE_APP_SECRET"),
	))
	registry.Register(pos.ProviderShopify, pos.NewShopifyFactory(
		os.Getenv("SHOPIFY_API_KEY"),
		os.Getenv("SHOPIFY_API_SECRET"),
	))
	registry.Register(pos.ProviderZettle, pos.NewZettleFactory(
		os.Getenv("ZETTLE_CLIENT_ID"),
		os.Getenv("ZETTLE_CLIENT_SECRET"),
	))

	// ── Phase 2: Credentials & OAuth ────────────────────────
	credRepo := connect.NewPostgresRepository(db, encryptionKey)
	states := connect.NewStateIssuer(stateSecret)
	connectService := connect.NewService(registry, credRepo, states)
	connect.NewHandler(connectService).RegisterRoutes(router)

	// ── Phase 3: Adapter facade ─────────────────────────────
	matcher := pos.NewMatcher()
	posService := pos.NewService(registry, matcher, credRepo)
	pos.NewHandler(posService).RegisterRoutes(router)

	// ── Phase 4: Webhook ingestion ──────────────────────────
	eventStore := webhook.NewPostgresEventStore(db)
	webhookService := webhook.NewService(posService, credRepo, eventStore)
	webhookService.Subscribe(func(ctx context.Context, businessID string, ev *pos.Event) {
		// Refunds and updates make cached match results stale.
		if ev.Transaction != nil &&
			(ev.Type == pos.EventRefundCreated || ev.Type == pos.EventTransactionUpdated) {
			posService.InvalidateLocation(ev.Transaction.LocationID)
		}
	})
	webhook.NewHandler(webhookService, publicURL).RegisterRoutes(router)

	// ── Phase 5: Businesses ─────────────────────────────────
	businessRepo := business.NewPostgresRepository(db)
	businessService := business.NewService(businessRepo, posService)
	business.NewHandler(businessService).RegisterRoutes(router)

	// ── Phase 6: Feedback claims ────────────────────────────
	claimRepo := feedback.NewPostgresRepository(db)
	claimService := feedback.NewService(claimRepo, posService, defaultLocations{businessService})
	feedback.NewHandler(claimService).RegisterRoutes(router)

	// ── Start Server ─────────────────────────────────────────
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	fmt.Printf("Tapfeed API server starting on :%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, router))
}

// defaultLocations adapts the business service to the feedback module's
// default-location lookup.
type defaultLocations struct{ svc business.Service }

func (d defaultLocations) Get(ctx context.Context, id string) (string, error) {
	b, err := d.svc.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return b.DefaultLocationID, nil
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("%s is required", name)
	}
	return v
}

func mustKey32(name string) [32]byte {
	raw, err := hex.DecodeString(mustEnv(name))
	if err != nil || len(raw) != 32 {
		log.Fatalf("%s must be 64 hex chars (32 bytes)", name)
	}
	var key [32]byte
	copy(key[:], raw)
	return key
}
