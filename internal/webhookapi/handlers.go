// Package webhookapi exposes the public HTTP surface: the webhook endpoint,
// the OAuth registration flow, and the operator read API.
package webhookapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/belialboy/stravatotwitter/internal/auth"
	"github.com/belialboy/stravatotwitter/internal/domain"
	"github.com/belialboy/stravatotwitter/internal/strava"
)

// ScopeTotalsRead guards the operator totals endpoint.
const ScopeTotalsRead = "totals:read"

// Publisher hands accepted webhook events to the worker.
type Publisher interface {
	PublishEvent(ctx context.Context, event domain.WebhookEvent) error
}

// CodeExchanger swaps an OAuth authorization code for a token set.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*strava.TokenResponse, error)
}

// StatsAPI is the slice of the upstream client used to seed a registration.
type StatsAPI interface {
	GetAthleteStats(ctx context.Context, athleteID int64) (*domain.AthleteStats, error)
}

// StatsClientFactory builds an authenticated StatsAPI from a fresh token set.
type StatsClientFactory func(athleteID int64, tokens domain.TokenSet) StatsAPI

// Settings carries the handler's static configuration.
type Settings struct {
	VerifyToken     string
	ClientID        string
	RedirectBaseURL string
	AuthorizeURL    string
	DurationField   domain.DurationField
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler coordinates HTTP requests for the front door.
type Handler struct {
	repo      domain.AthleteRepository
	publisher Publisher
	oauth     CodeExchanger
	stats     StatsClientFactory
	settings  Settings
	logger    *log.Logger
	now       func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(repo domain.AthleteRepository, publisher Publisher, oauth CodeExchanger, stats StatsClientFactory, settings Settings, opts ...Option) *Handler {
	if settings.AuthorizeURL == "" {
		settings.AuthorizeURL = "https://www.strava.com/oauth/authorize"
	}
	h := &Handler{
		repo:      repo,
		publisher: publisher,
		oauth:     oauth,
		stats:     stats,
		settings:  settings,
		logger:    log.New(log.Writer(), "[webhookapi] ", log.LstdFlags|log.Lshortfile),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.webhook)
	mux.HandleFunc("/register", h.register)
	mux.HandleFunc("/register/callback", h.registerCallback)
	mux.HandleFunc("/athletes/", h.athleteTotals)
	mux.HandleFunc("/healthz", healthz)
}

// PublicPaths reports whether a request may bypass bearer-token auth. Only
// the operator endpoints under /athletes/ require a token.
func PublicPaths(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/athletes/")
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifySubscription(w, r)
	case http.MethodPost:
		h.receiveEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// verifySubscription answers the subscription handshake: echo hub.challenge
// back when the verify token matches.
func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.settings.VerifyToken {
		recordVerification(false)
		writeError(w, http.StatusForbidden, "forbidden", "verify token mismatch")
		return
	}
	recordVerification(true)
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": query.Get("hub.challenge")})
}

// receiveEvent validates and enqueues one webhook delivery. The endpoint
// always acknowledges fast; all real work happens in the worker.
func (h *Handler) receiveEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		recordEvent("malformed")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if !event.IsActivityCreate() {
		// Updates, deletes and athlete events are acknowledged and dropped.
		recordEvent("ignored")
		w.WriteHeader(http.StatusOK)
		return
	}
	if event.ObjectID == 0 || event.OwnerID == 0 {
		recordEvent("malformed")
		writeError(w, http.StatusBadRequest, "validation_failed", "missing object_id or owner_id")
		return
	}

	if err := h.publisher.PublishEvent(r.Context(), event); err != nil {
		h.logger.Printf("publish failed (athlete=%d, activity=%d): %v", event.OwnerID, event.ObjectID, err)
		recordEvent("publish_failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to enqueue event")
		return
	}

	recordEvent("enqueued")
	w.WriteHeader(http.StatusOK)
}

// register redirects the athlete to the upstream consent screen.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	params := url.Values{}
	params.Set("client_id", h.settings.ClientID)
	params.Set("redirect_uri", h.settings.RedirectBaseURL+"/register/callback")
	params.Set("response_type", "code")
	params.Set("approval_prompt", "auto")
	params.Set("scope", "activity:read_all,activity:write,profile:read_all")

	http.Redirect(w, r, h.settings.AuthorizeURL+"?"+params.Encode(), http.StatusFound)
}

// registerCallback completes the OAuth flow: exchange the code, seed the
// athlete's totals with this year's history, and persist the registration.
func (h *Handler) registerCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing code parameter")
		return
	}

	resp, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Printf("code exchange failed: %v", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "authorization code exchange failed")
		return
	}

	athleteID := resp.Athlete.ID
	tokens := resp.TokenSet()
	totals := h.seedTotals(r.Context(), athleteID, tokens)

	record := domain.AthleteRecord{
		AthleteID: athleteID,
		Tokens:    tokens,
		Totals:    totals,
	}
	if err := h.repo.Create(r.Context(), record); err != nil {
		h.logger.Printf("persisting registration for athlete %d: %v", athleteID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store registration")
		return
	}

	recordRegistration()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"athlete_id": athleteID,
		"name":       strings.TrimSpace(resp.Athlete.FirstName + " " + resp.Athlete.LastName),
		"message":    "Registered. New activities will be tracked from now on.",
	})
}

// seedTotals pre-fills the current year from the upstream stats endpoint so
// milestones account for activity recorded before registration. A failed
// seed degrades to empty totals rather than failing the registration.
func (h *Handler) seedTotals(ctx context.Context, athleteID int64, tokens domain.TokenSet) domain.Totals {
	stats, err := h.stats(athleteID, tokens).GetAthleteStats(ctx, athleteID)
	if err != nil {
		h.logger.Printf("stats seed failed for athlete %d, starting from zero: %v", athleteID, err)
		return domain.Totals{}
	}

	year := domain.YearKey(h.now())
	cells := domain.YearTotals{}
	for activityType, bucket := range map[string]domain.StatsTotals{
		"Ride": stats.YTDRideTotals,
		"Run":  stats.YTDRunTotals,
		"Swim": stats.YTDSwimTotals,
	} {
		if bucket.Count == 0 {
			continue
		}
		duration := bucket.ElapsedTime
		if h.settings.DurationField == domain.DurationMoving {
			duration = bucket.MovingTime
		}
		cells[activityType] = domain.TotalsCell{
			Distance: bucket.Distance,
			Duration: duration,
			Count:    bucket.Count,
		}
	}
	return domain.Totals{year: cells}
}

// athleteTotals serves GET /athletes/{id}/totals for operators.
func (h *Handler) athleteTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(ScopeTotalsRead) {
		writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("scope %s required", ScopeTotalsRead))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/athletes/")
	idText, tail, found := strings.Cut(rest, "/")
	if !found || tail != "totals" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}
	athleteID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid athlete id")
		return
	}

	record, err := h.repo.Get(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "not_found", "athlete not registered")
		return
	}

	writeJSON(w, http.StatusOK, TotalsView{
		AthleteID:      record.AthleteID,
		Totals:         record.Totals,
		LastActivityID: record.LastActivityID,
		UpdatedAt:      record.UpdatedAt,
	})
}

// TotalsView is the operator read model for one athlete.
type TotalsView struct {
	AthleteID      int64         `json:"athlete_id"`
	Totals         domain.Totals `json:"totals"`
	LastActivityID int64         `json:"last_activity_id"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
