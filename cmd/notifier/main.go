package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/ariefcatur/pet-auction/internal/config"
	kafkax "github.com/ariefcatur/pet-auction/internal/kafka"
	"github.com/ariefcatur/pet-auction/internal/notifier"
	"github.com/ariefcatur/pet-auction/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatalf("redis: %v", err)
	}

	svc := &notifier.Service{
		Dedup:  redisx.NewDeduper(rdb, cfg.ServiceName+"-notifier"),
		Sender: notifier.LogSender{},
	}

	// Consumers: notifikasi member & eskalasi delivery (dua topic berbeda)
	notes := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, auction.TopicNotifications, cfg.NotifierWorkers)
	expired := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.EscalationGroup, auction.TopicDeliveryExpired, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", cfg.NotifierGroup, auction.TopicNotifications, cfg.NotifierWorkers)
		return notes.Start(gctx, svc.HandleNotification)
	})
	g.Go(func() error {
		log.Printf("notifier consumer started: group=%s topic=%s", cfg.EscalationGroup, auction.TopicDeliveryExpired)
		return expired.Start(gctx, svc.HandleDeliveryExpired)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("consumer exit: %v", err)
	}
	log.Println("notifier stopped")
}
