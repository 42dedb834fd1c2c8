// Package processor runs the per-event pipeline: dedup, fetch, aggregate,
// detect milestones, render, dispatch.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/belialboy/stravatotwitter/internal/domain"
	"github.com/belialboy/stravatotwitter/internal/milestone"
	"github.com/belialboy/stravatotwitter/internal/render"
)

// ActivityAPI is the per-athlete slice of the upstream client the pipeline needs.
type ActivityAPI interface {
	GetActivity(ctx context.Context, activityID int64) (*domain.ActivityDetail, error)
	GetCurrentAthlete(ctx context.Context) (*domain.Profile, error)
	UpdateActivityDescription(ctx context.Context, activityID int64, description string) error
}

// ClientFactory builds an authenticated ActivityAPI for one athlete record.
// Each event gets a fresh client seeded with the record's stored tokens.
type ClientFactory func(record *domain.AthleteRecord) ActivityAPI

// Announcement is the rendered post handed to the outbound target. PhotoURL
// is the activity's primary photo when one exists, for media upload.
type Announcement struct {
	Text     string
	PhotoURL string
}

// Poster delivers a rendered announcement to its outbound target. The
// credentials blob is the opaque per-athlete side-car stored at registration.
type Poster interface {
	Post(ctx context.Context, athleteID int64, credentials json.RawMessage, announcement Announcement) error
}

// LogPoster writes announcements to the log. It stands in wherever no real
// outbound target is configured.
type LogPoster struct {
	Logger *log.Logger
}

// Post logs the announcement text.
func (p *LogPoster) Post(_ context.Context, athleteID int64, _ json.RawMessage, announcement Announcement) error {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("announcement for athlete %d:\n%s", athleteID, announcement.Text)
	return nil
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the pipeline logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithSubscriptionID enables filtering of events from foreign subscriptions.
// Zero disables the check.
func WithSubscriptionID(id int64) Option {
	return func(p *Processor) { p.subscriptionID = id }
}

// WithStretchFactor overrides the better-than-average multiplier.
func WithStretchFactor(f float64) Option {
	return func(p *Processor) { p.stretch = f }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor applies one webhook event end to end.
type Processor struct {
	repo           domain.AthleteRepository
	clients        ClientFactory
	renderer       *render.Renderer
	poster         Poster
	durationField  domain.DurationField
	subscriptionID int64
	stretch        float64
	logger         *log.Logger
	now            func() time.Time
}

// NewProcessor wires the pipeline together.
func NewProcessor(repo domain.AthleteRepository, clients ClientFactory, renderer *render.Renderer, poster Poster, durationField domain.DurationField, opts ...Option) *Processor {
	p := &Processor{
		repo:          repo,
		clients:       clients,
		renderer:      renderer,
		poster:        poster,
		durationField: durationField,
		stretch:       milestone.DefaultStretchFactor,
		logger:        log.New(log.Writer(), "[processor] ", log.LstdFlags|log.Lshortfile),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes a single webhook delivery. The dedup marker is claimed
// before the upstream fetch, so at-least-once delivery collapses to
// exactly-once aggregation: a redelivery loses the conditional write and is
// dropped. Totals are committed before any outbound dispatch, and the two
// dispatch targets fail independently without affecting each other or the
// stored totals.
func (p *Processor) Handle(ctx context.Context, event domain.WebhookEvent) error {
	if !event.IsActivityCreate() {
		recordSkipped("not_create")
		return nil
	}
	if p.subscriptionID != 0 && event.SubscriptionID != p.subscriptionID {
		p.logger.Printf("dropping event for foreign subscription %d (athlete=%d, activity=%d)", event.SubscriptionID, event.OwnerID, event.ObjectID)
		recordSkipped("foreign_subscription")
		return nil
	}

	record, err := p.repo.Get(ctx, event.OwnerID)
	if err != nil {
		return fmt.Errorf("loading athlete %d: %w", event.OwnerID, err)
	}
	if record == nil {
		p.logger.Printf("dropping event for unregistered athlete %d (activity=%d)", event.OwnerID, event.ObjectID)
		recordSkipped("unregistered")
		return nil
	}

	if record.LastActivityID == event.ObjectID {
		recordDuplicate()
		return nil
	}
	claimed, err := p.repo.ClaimActivity(ctx, event.OwnerID, event.ObjectID, record.LastActivityID)
	if err != nil {
		return fmt.Errorf("claiming activity %d for athlete %d: %w", event.ObjectID, event.OwnerID, err)
	}
	if !claimed {
		recordDuplicate()
		return nil
	}

	api := p.clients(record)
	activity, err := api.GetActivity(ctx, event.ObjectID)
	if err != nil {
		// The claim already advanced the dedup marker, so this event will
		// not come around again. Totals stay untouched.
		p.logger.Printf("fetch failed for activity %d (athlete=%d): %v", event.ObjectID, event.OwnerID, err)
		recordFetchFailure()
		return nil
	}

	year := p.yearOf(*activity, event)
	duration := activity.DurationSeconds(p.durationField)
	prior := record.Totals.Year(year)
	updated := domain.UpdateTotals(record.Totals, year, activity.BaseType(), activity.Distance, duration)

	if err := p.repo.UpdateTotals(ctx, event.OwnerID, updated); err != nil {
		return fmt.Errorf("persisting totals for athlete %d: %w", event.OwnerID, err)
	}

	updatedYear := updated.Year(year)
	tags := milestone.Detect(prior, updatedYear, *activity, p.stretch)

	p.dispatchAnnouncement(ctx, api, record, tags, *activity, updatedYear)
	p.dispatchDescription(ctx, api, *activity, updatedYear)

	recordProcessed(activity.BaseType(), len(tags))
	return nil
}

func (p *Processor) dispatchAnnouncement(ctx context.Context, api ActivityAPI, record *domain.AthleteRecord, tags []milestone.Tag, activity domain.ActivityDetail, year domain.YearTotals) {
	if len(tags) == 0 || activity.Private {
		return
	}

	profile, err := api.GetCurrentAthlete(ctx)
	if err != nil {
		p.logger.Printf("profile fetch failed for athlete %d, skipping announcement: %v", record.AthleteID, err)
		recordDispatchFailure("announcement")
		return
	}

	text, ok := p.renderer.Announcement(tags, activity, *profile, year)
	if !ok {
		return
	}
	announcement := Announcement{Text: text, PhotoURL: activity.Photos.PrimaryURL()}
	if err := p.poster.Post(ctx, record.AthleteID, record.Twitter, announcement); err != nil {
		p.logger.Printf("announcement dispatch failed for athlete %d (activity=%d): %v", record.AthleteID, activity.ID, err)
		recordDispatchFailure("announcement")
	}
}

func (p *Processor) dispatchDescription(ctx context.Context, api ActivityAPI, activity domain.ActivityDetail, year domain.YearTotals) {
	text := p.renderer.DescriptionUpdate(activity, year, activity.Description)
	if err := api.UpdateActivityDescription(ctx, activity.ID, text); err != nil {
		p.logger.Printf("description update failed for activity %d: %v", activity.ID, err)
		recordDispatchFailure("description")
	}
}

// yearOf buckets the activity by its local start date, falling back to the
// event timestamp and then the wall clock when the field is absent.
func (p *Processor) yearOf(activity domain.ActivityDetail, event domain.WebhookEvent) string {
	if activity.StartDateLocal != "" {
		if started, err := time.Parse(time.RFC3339, activity.StartDateLocal); err == nil {
			return domain.YearKey(started)
		}
	}
	if event.EventTime > 0 {
		return domain.YearKey(time.Unix(event.EventTime, 0).UTC())
	}
	return domain.YearKey(p.now())
}
