package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

const (
	retryAttempts = 5
	retryPause    = time.Second
	listPageSize  = 30
)

// Client is the authenticated upstream API wrapper for a single athlete.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	logger     *log.Logger
	pause      time.Duration
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithBaseURL overrides the API base, used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the logger used to report retries and failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetryPause overrides the fixed inter-attempt pause, used by tests.
func WithRetryPause(d time.Duration) Option {
	return func(c *Client) { c.pause = d }
}

// NewClient builds a Client on top of the athlete's token store.
func NewClient(tokens *TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultAPIURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		logger:     log.New(log.Writer(), "[strava] ", log.LstdFlags),
		pause:      retryPause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetActivity fetches the full detail for one activity.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*domain.ActivityDetail, error) {
	var out domain.ActivityDetail
	if err := c.getJSON(ctx, fmt.Sprintf("%s/activities/%d", c.baseURL, activityID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentAthlete fetches the profile of the token's owner.
func (c *Client) GetCurrentAthlete(ctx context.Context) (*domain.Profile, error) {
	var out domain.Profile
	if err := c.getJSON(ctx, c.baseURL+"/athlete", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAthleteStats fetches the lifetime/YTD stat blocks for an athlete.
func (c *Client) GetAthleteStats(ctx context.Context, athleteID int64) (*domain.AthleteStats, error) {
	var out domain.AthleteStats
	if err := c.getJSON(ctx, fmt.Sprintf("%s/athletes/%d/stats", c.baseURL, athleteID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateActivityDescription overwrites the description of an activity.
func (c *Client) UpdateActivityDescription(ctx context.Context, activityID int64, description string) error {
	body, err := json.Marshal(map[string]string{"description": description})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("%s/activities/%d", c.baseURL, activityID), body, nil)
}

// ListActivitiesAfter returns an iterator over the athlete's activities that
// started after the given epoch, oldest page first. The sequence is lazy and
// restartable only from page 1.
func (c *Client) ListActivitiesAfter(epoch int64) *ActivityIterator {
	return &ActivityIterator{client: c, epoch: epoch, page: 1}
}

// ActivityIterator pages through the activities listing, bufio.Scanner style.
type ActivityIterator struct {
	client  *Client
	epoch   int64
	page    int
	buf     []domain.ActivityDetail
	current domain.ActivityDetail
	err     error
	done    bool
}

// Next advances the iterator, fetching the next page when the buffer drains.
// It returns false at the end of the listing or on the first error.
func (it *ActivityIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done && len(it.buf) == 0 {
		return false
	}
	if len(it.buf) == 0 {
		url := fmt.Sprintf("%s/athlete/activities?after=%d&page=%d&per_page=%d",
			it.client.baseURL, it.epoch, it.page, listPageSize)
		var page []domain.ActivityDetail
		if err := it.client.getJSON(ctx, url, &page); err != nil {
			it.err = err
			return false
		}
		if len(page) < listPageSize {
			it.done = true
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.buf = page
		it.page++
	}
	it.current = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Activity returns the element produced by the last successful Next.
func (it *ActivityIterator) Activity() domain.ActivityDetail { return it.current }

// Err reports the error that terminated iteration, if any.
func (it *ActivityIterator) Err() error { return it.err }

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// do performs one authenticated call with the fixed retry budget: up to
// retryAttempts tries with a fixed pause between them on network errors and
// 5xx responses. A 4xx is definitive and short-circuits immediately.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pause):
			}
		}

		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Printf("%s %s attempt %d/%d failed: %v", method, url, attempt+1, retryAttempts, err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			defer resp.Body.Close()
			if out == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrUpstreamRejected, method, url, resp.StatusCode, detail)
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.logger.Printf("%s %s attempt %d/%d failed: %v", method, url, attempt+1, retryAttempts, lastErr)
		}
	}

	return fmt.Errorf("%w: %s %s: %v", domain.ErrFetchFailed, method, url, lastErr)
}
