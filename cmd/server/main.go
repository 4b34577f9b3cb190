package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/miravel/transit-seat-engine/internal/cache"
	"github.com/miravel/transit-seat-engine/internal/config"
	"github.com/miravel/transit-seat-engine/internal/database"
	"github.com/miravel/transit-seat-engine/internal/handler"
	"github.com/miravel/transit-seat-engine/internal/inventory"
	"github.com/miravel/transit-seat-engine/internal/payment"
	"github.com/miravel/transit-seat-engine/internal/queue"
	"github.com/miravel/transit-seat-engine/internal/realtime"
	"github.com/miravel/transit-seat-engine/internal/repository"
	"github.com/miravel/transit-seat-engine/internal/router"
	queue_publisher "github.com/miravel/transit-seat-engine/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// nil Redis disables the ephemeral layer; the engine then works
	// against MySQL alone (no mirrors, no snapshots, no distributed
	// seat locks, no rate limiting).
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; running without cache, locks and rate limiting")
	}

	hub := realtime.NewHub()
	engine := inventory.NewEngine(
		db,
		repository.NewVehicleRepo(db),
		repository.NewSeatBookingRepo(db),
		repository.NewBookingRepo(db),
		cache.NewHoldCache(rdb),
		cache.NewSeatLock(rdb, cfg.LockTTL),
		hub,
		queue_publisher.Publisher{},
		&payment.FakeGateway{},
		inventory.Config{
			HoldTTL:       cfg.HoldTTL,
			HoldTTLMax:    cfg.HoldTTLMax,
			ProjectionTTL: cfg.ProjectionTTL,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The sweeper expires lapsed holds for every scope with connected
	// viewers; lazy checks on the hot paths cover everything else.
	go engine.RunSweeper(ctx, cfg.SweepInterval, hub)

	go func() {
		if err := queue.StartBookedConsumer(); err != nil {
			log.Printf("booked-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e, handler.NewPaymentWebhookHandler(engine, cfg.WebhookSecret))
	router.RegisterInventory(e,
		handler.NewRealtimeHandler(hub, engine),
		handler.NewAvailabilityHandler(engine),
		cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
