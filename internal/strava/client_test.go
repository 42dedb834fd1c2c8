package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

type memoryPersister struct {
	athleteID int64
	tokens    domain.TokenSet
	calls     int
	err       error
}

func (p *memoryPersister) UpdateTokens(_ context.Context, athleteID int64, tokens domain.TokenSet) error {
	p.calls++
	p.athleteID = athleteID
	p.tokens = tokens
	return p.err
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestClient(t *testing.T, apiURL string, tokens domain.TokenSet, persister TokenPersister) *Client {
	oauth := NewOAuthClient("client-id", "client-secret")
	store := NewTokenStore(oauth, persister, 42, tokens)
	return NewClient(store,
		WithBaseURL(apiURL),
		WithLogger(testLogger(t)),
		WithRetryPause(time.Millisecond),
	)
}

func validTokens() domain.TokenSet {
	return domain.TokenSet{
		AccessToken:  "live-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
}

func TestGetActivitySendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activities/123", r.URL.Path)
		require.Equal(t, "Bearer live-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(domain.ActivityDetail{ID: 123, Type: "Ride", Distance: 10000, ElapsedTime: 1000})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	activity, err := client.GetActivity(context.Background(), 123)
	require.NoError(t, err)
	require.Equal(t, int64(123), activity.ID)
	require.Equal(t, "Ride", activity.Type)
}

func TestRetriesTransientFailuresThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(domain.ActivityDetail{ID: 7})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	activity, err := client.GetActivity(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), activity.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestRetryBudgetExhaustionYieldsFetchFailed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	_, err := client.GetActivity(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrFetchFailed)
	require.Equal(t, int32(retryAttempts), calls.Load())
}

func TestClientErrorShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	_, err := client.GetActivity(context.Background(), 7)
	require.ErrorIs(t, err, domain.ErrUpstreamRejected)
	require.Equal(t, int32(1), calls.Load())
}

func TestUpdateActivityDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/activities/55", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "updated text", body["description"])
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	err := client.UpdateActivityDescription(context.Background(), 55, "updated text")
	require.NoError(t, err)
}

func TestListActivitiesAfterPaginates(t *testing.T) {
	pageOne := make([]domain.ActivityDetail, listPageSize)
	for i := range pageOne {
		pageOne[i] = domain.ActivityDetail{ID: int64(i + 1)}
	}
	pageTwo := []domain.ActivityDetail{{ID: 100}, {ID: 101}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/athlete/activities", r.URL.Path)
		require.Equal(t, "1700000000", r.URL.Query().Get("after"))
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(pageOne)
		case "2":
			json.NewEncoder(w).Encode(pageTwo)
		default:
			json.NewEncoder(w).Encode([]domain.ActivityDetail{})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, validTokens(), &memoryPersister{})

	it := client.ListActivitiesAfter(1700000000)
	var got []int64
	for it.Next(context.Background()) {
		got = append(got, it.Activity().ID)
	}
	require.NoError(t, it.Err())
	require.Len(t, got, listPageSize+2)
	require.Equal(t, int64(1), got[0])
	require.Equal(t, int64(101), got[len(got)-1])
}
