package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"github.com/belialboy/stravatotwitter/internal/config"
	"github.com/belialboy/stravatotwitter/internal/domain"
	persistence "github.com/belialboy/stravatotwitter/internal/persistence/postgres"
	"github.com/belialboy/stravatotwitter/internal/processor"
	"github.com/belialboy/stravatotwitter/internal/render"
	"github.com/belialboy/stravatotwitter/internal/strava"
	httptransport "github.com/belialboy/stravatotwitter/internal/transport/http"
)

func main() {
	cfg := config.Load()

	durationField, err := domain.ParseDurationField(cfg.DurationField)
	if err != nil {
		log.Fatalf("invalid DURATION_FIELD: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	oauth := strava.NewOAuthClient(cfg.StravaClientID, cfg.StravaClientSecret)
	clients := func(record *domain.AthleteRecord) processor.ActivityAPI {
		return strava.NewClient(strava.NewTokenStore(oauth, repo, record.AthleteID, record.Tokens))
	}

	renderer := render.NewRenderer(durationField)
	poster := &processor.LogPoster{}

	pipeline := processor.NewProcessor(repo, clients, renderer, poster, durationField,
		processor.WithSubscriptionID(cfg.SubscriptionID),
		processor.WithStretchFactor(cfg.StretchFactor),
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.WebhookTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	defer reader.Close()

	consumer := processor.NewConsumer(reader, pipeline)

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		log.Printf("worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("worker started (topic=%s, group=%s)", cfg.WebhookTopic, cfg.ConsumerGroupID)
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("worker stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("worker shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	<-done
}
