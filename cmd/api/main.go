package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/ariefcatur/pet-auction/internal/config"
	"github.com/ariefcatur/pet-auction/internal/httpx"
	kafkax "github.com/ariefcatur/pet-auction/internal/kafka"
	"github.com/ariefcatur/pet-auction/internal/postgres"
	"github.com/ariefcatur/pet-auction/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var store auction.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Println("store: in-memory (data hilang saat restart)")
		store = auction.NewMemoryStore()
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
		store = &postgres.Store{DB: db}
	default:
		log.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	opts := auction.Options{
		GracePeriod:      cfg.DeliveryGracePeriod,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	}

	// Redis snapshot cache (opsional)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Printf("redis %s unreachable, snapshot cache disabled: %v", cfg.RedisAddr, err)
		} else {
			opts.Cache = redisx.NewSnapshotCache(rdb, cfg.SnapshotTTL)
		}
	}

	// Kafka producers (opsional, default log notifier)
	var producers []*kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		pNotify := kafkax.NewProducer(cfg.KafkaBrokers, auction.TopicNotifications, 1024)
		pExpired := kafkax.NewProducer(cfg.KafkaBrokers, auction.TopicDeliveryExpired, 256)
		pNotify.Start(ctx)
		pExpired.Start(ctx)
		producers = append(producers, pNotify, pExpired)
		n := kafkax.NewNotifier(pNotify, pExpired, cfg.ServiceName)
		opts.Notifier, opts.Escalator = n, n
	}

	engine := auction.NewEngine(store, opts)

	router := httpx.NewRouter()
	(&httpx.AuctionsHandler{Engine: engine}).Register(router)
	(&httpx.WSHandler{Engine: engine, PongWait: cfg.HeartbeatTimeout}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx, auction.Intervals{
			SessionTick:   cfg.SessionTickInterval,
			PresenceSweep: cfg.PresenceSweepInterval,
			DeliverySweep: cfg.DeliverySweepInterval,
		})
	})
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}

	// flush sisa event
	for _, p := range producers {
		p.Close()
		p.WaitClosed()
	}
}
