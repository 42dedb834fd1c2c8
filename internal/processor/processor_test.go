package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/belialboy/stravatotwitter/internal/domain"
	"github.com/belialboy/stravatotwitter/internal/render"
)

type stubRepo struct {
	record *domain.AthleteRecord
	getErr error

	claimOK      bool
	claimErr     error
	claimCalls   int
	claimedID    int64
	claimedPrev  int64
	savedTotals  domain.Totals
	totalsCalls  int
	updTotalsErr error
}

func (r *stubRepo) Get(_ context.Context, _ int64) (*domain.AthleteRecord, error) {
	return r.record, r.getErr
}

func (r *stubRepo) Create(context.Context, domain.AthleteRecord) error { return nil }

func (r *stubRepo) UpdateTokens(context.Context, int64, domain.TokenSet) error { return nil }

func (r *stubRepo) UpdateTotals(_ context.Context, _ int64, totals domain.Totals) error {
	r.totalsCalls++
	r.savedTotals = totals
	return r.updTotalsErr
}

func (r *stubRepo) ClaimActivity(_ context.Context, _, activityID, previous int64) (bool, error) {
	r.claimCalls++
	r.claimedID = activityID
	r.claimedPrev = previous
	return r.claimOK, r.claimErr
}

type stubAPI struct {
	activity    *domain.ActivityDetail
	activityErr error
	profile     domain.Profile
	profileErr  error

	fetchCalls       int
	descriptionCalls int
	description      string
	descriptionErr   error
}

func (a *stubAPI) GetActivity(context.Context, int64) (*domain.ActivityDetail, error) {
	a.fetchCalls++
	return a.activity, a.activityErr
}

func (a *stubAPI) GetCurrentAthlete(context.Context) (*domain.Profile, error) {
	return &a.profile, a.profileErr
}

func (a *stubAPI) UpdateActivityDescription(_ context.Context, _ int64, description string) error {
	a.descriptionCalls++
	a.description = description
	return a.descriptionErr
}

type stubPoster struct {
	calls int
	last  Announcement
	creds json.RawMessage
	err   error
}

func (p *stubPoster) Post(_ context.Context, _ int64, creds json.RawMessage, announcement Announcement) error {
	p.calls++
	p.creds = creds
	p.last = announcement
	return p.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func noShuffle(int, func(i, j int)) {}

func newTestProcessor(t *testing.T, repo *stubRepo, api *stubAPI, poster *stubPoster, opts ...Option) *Processor {
	t.Helper()
	renderer := render.NewRenderer(domain.DurationElapsed, render.WithShuffle(noShuffle))
	factory := func(*domain.AthleteRecord) ActivityAPI { return api }
	opts = append(opts, WithLogger(log.New(testWriter{t}, "", 0)))
	return NewProcessor(repo, factory, renderer, poster, domain.DurationElapsed, opts...)
}

func createEvent(athleteID, activityID int64) domain.WebhookEvent {
	return domain.WebhookEvent{
		ObjectType:     "activity",
		AspectType:     "create",
		ObjectID:       activityID,
		OwnerID:        athleteID,
		SubscriptionID: 77,
	}
}

func registeredAthlete(totals domain.Totals) *domain.AthleteRecord {
	return &domain.AthleteRecord{
		AthleteID: 42,
		Tokens:    domain.TokenSet{AccessToken: "tok"},
		Totals:    totals,
		Twitter:   json.RawMessage(`{"handle":"@jo"}`),
	}
}

func TestHandleAggregatesAndDispatches(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{
		activity: &domain.ActivityDetail{
			ID:             1001,
			Type:           "Ride",
			Distance:       20000,
			ElapsedTime:    3600,
			StartDateLocal: "2026-03-01T10:00:00Z",
			Photos: domain.ActivityPhotos{
				Primary: &domain.PrimaryPhoto{URLs: map[string]string{"600": "https://photos.example/p600.jpg"}},
			},
		},
		profile: domain.Profile{FirstName: "Jo", LastName: "Smith"},
	}
	poster := &stubPoster{}
	p := newTestProcessor(t, repo, api, poster)

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Equal(t, 1, repo.claimCalls)
	require.Equal(t, int64(1001), repo.claimedID)
	require.Equal(t, int64(0), repo.claimedPrev)

	require.Equal(t, 1, repo.totalsCalls)
	cell := repo.savedTotals["2026"]["Ride"]
	require.Equal(t, 20000.0, cell.Distance)
	require.Equal(t, 3600.0, cell.Duration)
	require.Equal(t, 1, cell.Count)

	// First ride of the year fires a milestone, so both targets dispatch.
	require.Equal(t, 1, poster.calls)
	require.Contains(t, poster.last.Text, "First ride of the year!")
	require.Equal(t, "https://photos.example/p600.jpg", poster.last.PhotoURL)
	require.JSONEq(t, `{"handle":"@jo"}`, string(poster.creds))

	require.Equal(t, 1, api.descriptionCalls)
	require.Contains(t, api.description, "YTD rides: 1")
}

func TestHandleDropsKnownDuplicateWithoutClaim(t *testing.T) {
	record := registeredAthlete(nil)
	record.LastActivityID = 1001
	repo := &stubRepo{record: record, claimOK: true}
	api := &stubAPI{}
	p := newTestProcessor(t, repo, api, &stubPoster{})

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Zero(t, repo.claimCalls)
	require.Zero(t, api.fetchCalls)
	require.Zero(t, repo.totalsCalls)
}

func TestHandleDropsWhenClaimLosesRace(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: false}
	api := &stubAPI{}
	p := newTestProcessor(t, repo, api, &stubPoster{})

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Equal(t, 1, repo.claimCalls)
	require.Zero(t, api.fetchCalls)
	require.Zero(t, repo.totalsCalls)
}

func TestHandleDropsUnregisteredAthlete(t *testing.T) {
	repo := &stubRepo{record: nil}
	api := &stubAPI{}
	p := newTestProcessor(t, repo, api, &stubPoster{})

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))
	require.Zero(t, repo.claimCalls)
	require.Zero(t, api.fetchCalls)
}

func TestHandleIgnoresNonCreateEvents(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{}
	p := newTestProcessor(t, repo, api, &stubPoster{})

	event := createEvent(42, 1001)
	event.AspectType = "update"
	require.NoError(t, p.Handle(context.Background(), event))

	event = createEvent(42, 1001)
	event.ObjectType = "athlete"
	require.NoError(t, p.Handle(context.Background(), event))

	require.Zero(t, repo.claimCalls)
}

func TestHandleFiltersForeignSubscription(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{}
	p := newTestProcessor(t, repo, api, &stubPoster{}, WithSubscriptionID(77))

	event := createEvent(42, 1001)
	event.SubscriptionID = 78
	require.NoError(t, p.Handle(context.Background(), event))
	require.Zero(t, repo.claimCalls)

	// Matching subscription flows through.
	api.activity = &domain.ActivityDetail{ID: 1001, Type: "Ride", Distance: 1000, ElapsedTime: 100, StartDateLocal: "2026-03-01T10:00:00Z"}
	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))
	require.Equal(t, 1, repo.claimCalls)
}

func TestHandleFetchFailureLeavesTotalsUntouched(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{activityErr: errors.New("fetch failed after retries")}
	poster := &stubPoster{}
	p := newTestProcessor(t, repo, api, poster)

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Equal(t, 1, api.fetchCalls)
	require.Zero(t, repo.totalsCalls)
	require.Zero(t, poster.calls)
	require.Zero(t, api.descriptionCalls)
}

func TestHandlePropagatesRepositoryErrors(t *testing.T) {
	repo := &stubRepo{getErr: errors.New("connection refused")}
	p := newTestProcessor(t, repo, &stubAPI{}, &stubPoster{})

	require.Error(t, p.Handle(context.Background(), createEvent(42, 1001)))
}

func TestHandlePrivateActivityStillUpdatesDescription(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{
		activity: &domain.ActivityDetail{
			ID:             1001,
			Type:           "Ride",
			Distance:       20000,
			ElapsedTime:    3600,
			StartDateLocal: "2026-03-01T10:00:00Z",
			Private:        true,
		},
	}
	poster := &stubPoster{}
	p := newTestProcessor(t, repo, api, poster)

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Zero(t, poster.calls, "private activities never announce")
	require.Equal(t, 1, api.descriptionCalls)
	require.Equal(t, 1, repo.totalsCalls)
}

func TestHandleDispatchTargetsFailIndependently(t *testing.T) {
	repo := &stubRepo{record: registeredAthlete(nil), claimOK: true}
	api := &stubAPI{
		activity: &domain.ActivityDetail{
			ID:             1001,
			Type:           "Ride",
			Distance:       20000,
			ElapsedTime:    3600,
			StartDateLocal: "2026-03-01T10:00:00Z",
		},
		profile:        domain.Profile{FirstName: "Jo", LastName: "Smith"},
		descriptionErr: errors.New("put rejected"),
	}
	poster := &stubPoster{err: errors.New("post rejected")}
	p := newTestProcessor(t, repo, api, poster)

	// Both targets fail; the event still completes and totals stay committed.
	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))
	require.Equal(t, 1, poster.calls)
	require.Equal(t, 1, api.descriptionCalls)
	require.Equal(t, 1, repo.totalsCalls)
}

func TestHandleFoldsIntoExistingYearTotals(t *testing.T) {
	totals := domain.Totals{"2026": {"Ride": {Distance: 90000, Duration: 10000, Count: 59}}}
	record := registeredAthlete(totals)
	record.LastActivityID = 900
	repo := &stubRepo{record: record, claimOK: true}
	api := &stubAPI{
		activity: &domain.ActivityDetail{
			ID:             1001,
			Type:           "Ride",
			Distance:       10000,
			ElapsedTime:    1000,
			StartDateLocal: "2026-03-01T10:00:00Z",
		},
		profile: domain.Profile{FirstName: "Jo", LastName: "Smith"},
	}
	poster := &stubPoster{}
	p := newTestProcessor(t, repo, api, poster)

	require.NoError(t, p.Handle(context.Background(), createEvent(42, 1001)))

	require.Equal(t, int64(900), repo.claimedPrev)
	cell := repo.savedTotals["2026"]["Ride"]
	require.Equal(t, 100000.0, cell.Distance)
	require.Equal(t, 60, cell.Count)

	// 90000 -> 100000 crosses the 100km line and count hits a multiple of ten.
	require.Equal(t, 1, poster.calls)
	require.Contains(t, poster.last.Text, "Past 100km of rides this year!")
	require.Contains(t, poster.last.Text, "That makes 60 rides this year!")
}
