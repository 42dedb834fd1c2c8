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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/belialboy/stravatotwitter/internal/auth"
	"github.com/belialboy/stravatotwitter/internal/config"
	"github.com/belialboy/stravatotwitter/internal/domain"
	persistence "github.com/belialboy/stravatotwitter/internal/persistence/postgres"
	"github.com/belialboy/stravatotwitter/internal/strava"
	httptransport "github.com/belialboy/stravatotwitter/internal/transport/http"
	"github.com/belialboy/stravatotwitter/internal/webhookapi"
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

	publisher := webhookapi.NewEventPublisher(cfg.KafkaBrokers, cfg.WebhookTopic)
	defer publisher.Close()

	oauth := strava.NewOAuthClient(cfg.StravaClientID, cfg.StravaClientSecret)
	statsFactory := func(athleteID int64, tokens domain.TokenSet) webhookapi.StatsAPI {
		return strava.NewClient(strava.NewTokenStore(oauth, repo, athleteID, tokens))
	}

	handler := webhookapi.NewHandler(repo, publisher, oauth, statsFactory, webhookapi.Settings{
		VerifyToken:     cfg.VerifyToken,
		ClientID:        cfg.StravaClientID,
		RedirectBaseURL: cfg.RedirectBaseURL,
		DurationField:   durationField,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		webhookapi.PublicPaths,
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("webhook front door listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
