// Command backfill rebuilds an athlete's totals by replaying their activity
// history from the upstream listing. Years touched by the replay window are
// recomputed from scratch; other years are left alone. No announcements or
// description updates are dispatched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/belialboy/stravatotwitter/internal/config"
	"github.com/belialboy/stravatotwitter/internal/domain"
	persistence "github.com/belialboy/stravatotwitter/internal/persistence/postgres"
	"github.com/belialboy/stravatotwitter/internal/strava"
)

func main() {
	athleteID := flag.Int64("athlete", 0, "athlete id to backfill (required)")
	afterText := flag.String("after", "", "replay activities after this RFC3339 instant (default: start of current year)")
	dryRun := flag.Bool("dry-run", false, "compute totals without persisting")
	flag.Parse()

	if *athleteID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	after := time.Date(time.Now().Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	if *afterText != "" {
		parsed, err := time.Parse(time.RFC3339, *afterText)
		if err != nil {
			log.Fatalf("invalid -after value: %v", err)
		}
		after = parsed
	}

	cfg := config.Load()
	durationField, err := domain.ParseDurationField(cfg.DurationField)
	if err != nil {
		log.Fatalf("invalid DURATION_FIELD: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	record, err := repo.Get(ctx, *athleteID)
	if err != nil {
		log.Fatalf("loading athlete %d: %v", *athleteID, err)
	}
	if record == nil {
		log.Fatalf("athlete %d is not registered", *athleteID)
	}

	oauth := strava.NewOAuthClient(cfg.StravaClientID, cfg.StravaClientSecret)
	client := strava.NewClient(strava.NewTokenStore(oauth, repo, record.AthleteID, record.Tokens))

	replayed, maxActivityID, count, err := replay(ctx, client, after, durationField)
	if err != nil {
		log.Fatalf("replaying activities: %v", err)
	}
	log.Printf("replayed %d activities after %s for athlete %d", count, after.Format(time.RFC3339), *athleteID)

	// Replace only the years the replay window covered.
	merged := record.Totals.Clone()
	if merged == nil {
		merged = domain.Totals{}
	}
	for year, cells := range replayed {
		merged[year] = cells
	}

	for year, cells := range replayed {
		for activityType, cell := range cells {
			fmt.Printf("%s %-12s count=%-4d distance=%.0fm duration=%.0fs\n", year, activityType, cell.Count, cell.Distance, cell.Duration)
		}
	}

	if *dryRun {
		log.Println("dry run, not persisting")
		return
	}

	if err := repo.UpdateTotals(ctx, record.AthleteID, merged); err != nil {
		log.Fatalf("persisting totals: %v", err)
	}
	if maxActivityID > record.LastActivityID {
		if claimed, err := repo.ClaimActivity(ctx, record.AthleteID, maxActivityID, record.LastActivityID); err != nil {
			log.Fatalf("advancing dedup marker: %v", err)
		} else if !claimed {
			log.Printf("dedup marker moved during backfill, leaving it alone")
		}
	}
	log.Printf("totals updated for athlete %d", *athleteID)
}

func replay(ctx context.Context, client *strava.Client, after time.Time, durationField domain.DurationField) (domain.Totals, int64, int, error) {
	totals := domain.Totals{}
	var maxActivityID int64
	count := 0

	it := client.ListActivitiesAfter(after.Unix())
	for it.Next(ctx) {
		activity := it.Activity()
		year := domain.YearKey(after)
		if activity.StartDateLocal != "" {
			if started, err := time.Parse(time.RFC3339, activity.StartDateLocal); err == nil {
				year = domain.YearKey(started)
			}
		}
		totals = domain.UpdateTotals(totals, year, activity.BaseType(), activity.Distance, activity.DurationSeconds(durationField))
		if activity.ID > maxActivityID {
			maxActivityID = activity.ID
		}
		count++
	}
	if err := it.Err(); err != nil {
		return nil, 0, 0, err
	}
	return totals, maxActivityID, count, nil
}
