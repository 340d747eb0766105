package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/nl2sql-platform/internal/config"
	"github.com/suPer8Hu/nl2sql-platform/internal/db"
	"github.com/suPer8Hu/nl2sql-platform/internal/history"
	"github.com/suPer8Hu/nl2sql-platform/internal/observability"
	"github.com/suPer8Hu/nl2sql-platform/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg, os.Stdout)

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("db connect", "err", err)
		os.Exit(1)
	}
	repo := history.NewRepo(gdb)
	if err := repo.AutoMigrate(); err != nil {
		logger.Error("automigrate", "err", err)
		os.Exit(1)
	}

	// also declares the retry/dlq topology
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Error("rabbit publisher", "err", err)
		os.Exit(1)
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Error("rabbit dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("rabbit channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Error("qos", "err", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error("consume", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("history worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := logger.With("worker", workerID)
			for d := range jobs {
				handleDelivery(ctx, log, repo, pub, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("history worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, log *slog.Logger, repo *history.Repo, pub *rabbitmq.Publisher, d amqp.Delivery) {
	start := time.Now()
	inserted, err := repo.Ingest(ctx, d.Body)
	switch {
	case err == nil:
		if !inserted {
			log.Info("duplicate history message dropped", "message_id", d.MessageId)
		}
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", "message_id", d.MessageId, "err", err)
		}

	case errors.Is(err, history.ErrMalformed):
		log.Error("bad history message", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, false) // -> dlq

	case rabbitmq.Attempts(d)+1 < maxAttempts:
		log.Warn("history insert failed, retrying",
			"message_id", d.MessageId, "attempt", rabbitmq.Attempts(d)+1, "cost", time.Since(start), "err", err)
		if perr := pub.Retry(ctx, d, retryDelay); perr != nil {
			log.Error("retry publish failed", "message_id", d.MessageId, "err", perr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)

	default:
		observability.IncrementHistoryFailure()
		log.Error("history insert failed, giving up", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, false)
	}
}
