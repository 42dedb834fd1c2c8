// Package domain defines the business objects for the webhook pipeline.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrAthleteNotFound is returned when no record exists for an athlete id.
	ErrAthleteNotFound = errors.New("athlete not found")
	// ErrDuplicateEvent marks a webhook delivery already processed. Terminal no-op, not a failure.
	ErrDuplicateEvent = errors.New("duplicate activity event")
	// ErrAuthExpired indicates the refresh-token exchange itself failed.
	ErrAuthExpired = errors.New("token refresh failed")
	// ErrUpstreamRejected indicates a definitive 4xx from the upstream API.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrFetchFailed indicates the retry budget was exhausted on transient failures.
	ErrFetchFailed = errors.New("fetch failed after retries")
)

// TokenSet holds the OAuth bearer credentials persisted per athlete.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Expired reports whether the access token needs a refresh at the given instant.
func (t TokenSet) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// TotalsCell accumulates one (year, activity type) bucket.
// Count equals the number of activities folded into Distance and Duration.
type TotalsCell struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Count    int     `json:"count"`
}

// YearTotals maps activity type to its cumulative cell for a single year.
type YearTotals map[string]TotalsCell

// Totals maps year to per-type cumulative cells. Year keys are created lazily;
// an old year's cells are simply never incremented again.
type Totals map[string]YearTotals

// Clone returns a deep copy so pre- and post-update snapshots can coexist.
func (t Totals) Clone() Totals {
	if t == nil {
		return nil
	}
	out := make(Totals, len(t))
	for year, types := range t {
		yt := make(YearTotals, len(types))
		for at, cell := range types {
			yt[at] = cell
		}
		out[year] = yt
	}
	return out
}

// Year returns the totals for a year, which may be nil.
func (t Totals) Year(year string) YearTotals {
	if t == nil {
		return nil
	}
	return t[year]
}

// YearKey is the totals map key for a point in time.
func YearKey(at time.Time) string {
	return strconv.Itoa(at.Year())
}

// UpdateTotals folds one activity into a copy of the totals, creating the year
// and type cells lazily. It is pure: the receiver is never mutated, so callers
// can hand both snapshots to the milestone detector without refetching.
func UpdateTotals(t Totals, year, activityType string, distance, duration float64) Totals {
	out := t.Clone()
	if out == nil {
		out = make(Totals)
	}
	yt, ok := out[year]
	if !ok {
		yt = make(YearTotals)
		out[year] = yt
	}
	cell, ok := yt[activityType]
	if !ok {
		yt[activityType] = TotalsCell{Distance: distance, Duration: duration, Count: 1}
		return out
	}
	cell.Distance += distance
	cell.Duration += duration
	cell.Count++
	yt[activityType] = cell
	return out
}

// AthleteRecord is the single persisted row per athlete.
type AthleteRecord struct {
	AthleteID      int64
	Tokens         TokenSet
	Totals         Totals
	LastActivityID int64
	// Twitter carries the social-posting side-car credentials. Opaque to the
	// pipeline; passed through to the poster unmodified.
	Twitter   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AthleteRepository captures persistence operations for athlete records.
type AthleteRepository interface {
	Get(ctx context.Context, athleteID int64) (*AthleteRecord, error)
	Create(ctx context.Context, record AthleteRecord) error
	UpdateTokens(ctx context.Context, athleteID int64, tokens TokenSet) error
	UpdateTotals(ctx context.Context, athleteID int64, totals Totals) error
	// ClaimActivity conditionally writes last_activity_id, succeeding only if
	// the stored value still equals previous. A false return means another
	// delivery of the same notification won the race.
	ClaimActivity(ctx context.Context, athleteID, activityID, previous int64) (bool, error)
}
