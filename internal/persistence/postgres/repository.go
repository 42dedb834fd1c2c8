// Package postgres provides the durable per-athlete aggregation store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

// Schema creates the single-table store. One row per athlete; totals and
// tokens live in JSONB so the year/type map can grow without migrations.
const Schema = `CREATE TABLE IF NOT EXISTS athletes (
    athlete_id       BIGINT PRIMARY KEY,
    tokens           JSONB NOT NULL,
    totals           JSONB NOT NULL DEFAULT '{}',
    last_activity_id BIGINT NOT NULL DEFAULT 0,
    twitter          JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Repository is the pgx-backed AthleteRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema applies the table definition. Safe to run at every startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}

// Get loads one athlete record, returning (nil, nil) when unregistered.
func (r *Repository) Get(ctx context.Context, athleteID int64) (*domain.AthleteRecord, error) {
	const query = `SELECT athlete_id, tokens, totals, last_activity_id, twitter, created_at, updated_at
        FROM athletes WHERE athlete_id=$1`

	var (
		record      domain.AthleteRecord
		tokensJSON  []byte
		totalsJSON  []byte
		twitterJSON []byte
	)
	row := r.pool.QueryRow(ctx, query, athleteID)
	if err := row.Scan(&record.AthleteID, &tokensJSON, &totalsJSON, &record.LastActivityID, &twitterJSON, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(tokensJSON, &record.Tokens); err != nil {
		return nil, fmt.Errorf("decoding tokens for athlete %d: %w", athleteID, err)
	}
	if err := json.Unmarshal(totalsJSON, &record.Totals); err != nil {
		return nil, fmt.Errorf("decoding totals for athlete %d: %w", athleteID, err)
	}
	record.Twitter = twitterJSON
	return &record, nil
}

// Create inserts a new registration. Registration is idempotent per athlete:
// re-registering refreshes tokens but never resets accumulated totals.
func (r *Repository) Create(ctx context.Context, record domain.AthleteRecord) error {
	tokensJSON, err := json.Marshal(record.Tokens)
	if err != nil {
		return err
	}
	totals := record.Totals
	if totals == nil {
		totals = domain.Totals{}
	}
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO athletes (athlete_id, tokens, totals, twitter)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (athlete_id) DO UPDATE SET tokens = EXCLUDED.tokens, updated_at = NOW()`

	_, err = r.pool.Exec(ctx, stmt, record.AthleteID, tokensJSON, totalsJSON, nullIfEmpty(record.Twitter))
	return err
}

// UpdateTokens persists a refreshed token set.
func (r *Repository) UpdateTokens(ctx context.Context, athleteID int64, tokens domain.TokenSet) error {
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE athletes SET tokens=$2, updated_at=NOW() WHERE athlete_id=$1`,
		athleteID, tokensJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAthleteNotFound
	}
	return nil
}

// UpdateTotals persists the full totals document.
func (r *Repository) UpdateTotals(ctx context.Context, athleteID int64, totals domain.Totals) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE athletes SET totals=$2, updated_at=NOW() WHERE athlete_id=$1`,
		athleteID, totalsJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAthleteNotFound
	}
	return nil
}

// ClaimActivity writes the dedup marker only if it is unchanged since the
// caller read it. A false return means a concurrent delivery already claimed
// this or a later activity, and the event must be dropped.
func (r *Repository) ClaimActivity(ctx context.Context, athleteID, activityID, previous int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE athletes SET last_activity_id=$2, updated_at=NOW()
         WHERE athlete_id=$1 AND last_activity_id=$3`,
		athleteID, activityID, previous)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullIfEmpty(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
