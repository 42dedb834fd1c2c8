package domain

import (
	"fmt"
	"strings"
)

// WebhookEvent is the notification payload Strava pushes on subscription events.
type WebhookEvent struct {
	ObjectType     string `json:"object_type"`
	ObjectID       int64  `json:"object_id"`
	AspectType     string `json:"aspect_type"`
	OwnerID        int64  `json:"owner_id"`
	SubscriptionID int64  `json:"subscription_id"`
	EventTime      int64  `json:"event_time,omitempty"`
}

// IsActivityCreate reports whether the event is one this pipeline processes.
// Everything else (updates, deletes, athlete events) is discarded upstream.
func (e WebhookEvent) IsActivityCreate() bool {
	return e.ObjectType == "activity" && e.AspectType == "create"
}

// PrimaryPhoto is the highlighted photo block inside the photo summary.
type PrimaryPhoto struct {
	URLs map[string]string `json:"urls"`
}

// ActivityPhotos mirrors the photo summary embedded in an activity detail.
type ActivityPhotos struct {
	Primary *PrimaryPhoto `json:"primary"`
}

// PrimaryURL returns the 600px primary photo URL, or "" when absent.
func (p ActivityPhotos) PrimaryURL() string {
	if p.Primary == nil {
		return ""
	}
	return p.Primary.URLs["600"]
}

// ActivityDetail is the full activity fetched per event. Ephemeral; never persisted.
type ActivityDetail struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	Distance         float64        `json:"distance"`
	ElapsedTime      float64        `json:"elapsed_time"`
	MovingTime       float64        `json:"moving_time"`
	StartDateLocal   string         `json:"start_date_local"`
	DeviceName       string         `json:"device_name"`
	Description      string         `json:"description"`
	Private          bool           `json:"private"`
	AchievementCount int            `json:"achievement_count"`
	PRCount          int            `json:"pr_count"`
	AverageHeartrate float64        `json:"average_heartrate"`
	Photos           ActivityPhotos `json:"photos"`
}

// DurationField selects which upstream timer feeds the YTD duration totals.
// The upstream API reports both and they routinely disagree; the choice is
// configuration, not something to reconcile silently.
type DurationField string

const (
	DurationElapsed DurationField = "elapsed"
	DurationMoving  DurationField = "moving"
)

// ParseDurationField validates a configured duration field name.
func ParseDurationField(s string) (DurationField, error) {
	switch DurationField(strings.ToLower(strings.TrimSpace(s))) {
	case DurationElapsed, "":
		return DurationElapsed, nil
	case DurationMoving:
		return DurationMoving, nil
	}
	return "", fmt.Errorf("unknown duration field %q", s)
}

// DurationSeconds returns the configured duration reading for the activity.
func (a ActivityDetail) DurationSeconds(field DurationField) float64 {
	if field == DurationMoving {
		return a.MovingTime
	}
	return a.ElapsedTime
}

// BaseType collapses virtual variants onto their base type so a Zwift ride
// accumulates in the same bucket as an outdoor one.
func (a ActivityDetail) BaseType() string {
	return strings.Replace(a.Type, "Virtual", "", 1)
}

// Profile is the athlete profile used for announcement attribution.
type Profile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// StatsTotals is one bucket of the athlete stats endpoint response.
type StatsTotals struct {
	Count       int     `json:"count"`
	Distance    float64 `json:"distance"`
	ElapsedTime float64 `json:"elapsed_time"`
	MovingTime  float64 `json:"moving_time"`
}

// AthleteStats is the subset of the stats endpoint used to seed a new
// registration with the current year's history.
type AthleteStats struct {
	YTDRideTotals StatsTotals `json:"ytd_ride_totals"`
	YTDRunTotals  StatsTotals `json:"ytd_run_totals"`
	YTDSwimTotals StatsTotals `json:"ytd_swim_totals"`
}
