// Package httpapi exposes the coordination surface over HTTP. Agents
// authenticate with bearer secrets; operator endpoints are guarded by a
// deployment-level admin key. The transport stays thin: every decision
// lives in coord.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/coord"
)

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithAdminKey guards the operator endpoints with a shared key. An
// empty key leaves them open, which is only acceptable in development.
func WithAdminKey(key string) Option {
	return func(a *API) { a.adminKey = key }
}

// WithPollLimit sets the per-token rate limit for queue polling.
func WithPollLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.pollRate = rate.Limit(perSecond)
		a.pollBurst = burst
	}
}

// API is the HTTP transport over the Coordinator.
type API struct {
	coord    *coord.Coordinator
	logger   *slog.Logger
	adminKey string

	pollRate  rate.Limit
	pollBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an API.
func New(c *coord.Coordinator, opts ...Option) *API {
	a := &API{
		coord:     c,
		logger:    slog.Default(),
		pollRate:  rate.Limit(2),
		pollBurst: 5,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.health)

	// Agent surface.
	mux.Handle("POST /v1/agents", a.withToken(a.registerAgent))
	mux.Handle("POST /v1/agents/{agentID}/heartbeat", a.withToken(a.heartbeat))
	mux.Handle("GET /v1/queue", a.withToken(a.pollLimited(a.listPending)))
	mux.Handle("POST /v1/queue/claim", a.withToken(a.claimNext))
	mux.Handle("POST /v1/jobs/{jobID}/claim", a.withToken(a.claimJob))
	mux.Handle("POST /v1/jobs/{jobID}/complete", a.withToken(a.completeJob))

	// Operator surface.
	mux.Handle("POST /v1/jobs", a.withAdmin(a.runWorkflow))
	mux.Handle("GET /v1/jobs", a.withAdmin(a.listJobs))
	mux.Handle("GET /v1/jobs/{jobID}", a.withAdmin(a.getJob))
	mux.Handle("POST /v1/jobs/{jobID}/cancel", a.withAdmin(a.cancelJob))
	mux.Handle("GET /v1/agents", a.withAdmin(a.listAgents))
	mux.Handle("POST /v1/schedules", a.withAdmin(a.createSchedule))
	mux.Handle("GET /v1/schedules", a.withAdmin(a.listSchedules))
	mux.Handle("GET /v1/schedules/{scheduleID}", a.withAdmin(a.getSchedule))
	mux.Handle("PATCH /v1/schedules/{scheduleID}", a.withAdmin(a.updateSchedule))
	mux.Handle("DELETE /v1/schedules/{scheduleID}", a.withAdmin(a.deleteSchedule))
	mux.Handle("POST /v1/schedules/{scheduleID}/run", a.withAdmin(a.runScheduleNow))
	mux.Handle("POST /v1/tokens", a.withAdmin(a.issueToken))
	mux.Handle("GET /v1/tokens", a.withAdmin(a.listTokens))
	mux.Handle("DELETE /v1/tokens/{tokenID}", a.withAdmin(a.revokeToken))

	return mux
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Auth middleware ───────────────────────────────────────────────

type contextKey struct{ name string }

var tokenKey = contextKey{"token"}

func tokenFrom(ctx context.Context) *agent.Token {
	t, _ := ctx.Value(tokenKey).(*agent.Token)
	return t
}

// withToken authenticates the bearer secret and stashes the token in
// the request context.
func (a *API) withToken(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret, ok := bearerSecret(r)
		if !ok {
			a.writeError(w, r, voxgrid.ErrUnauthorized)
			return
		}
		tok, err := a.coord.Authenticate(r.Context(), secret)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), tokenKey, tok)))
	})
}

// withAdmin guards operator endpoints with the shared admin key.
func (a *API) withAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminKey != "" && r.Header.Get("X-Admin-Key") != a.adminKey {
			a.writeError(w, r, voxgrid.ErrUnauthorized)
			return
		}
		next(w, r)
	})
}

// pollLimited applies a per-token rate limit. Agents are expected to
// space their queue polls; a burst allowance absorbs reconnects.
func (a *API) pollLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := tokenFrom(r.Context())
		if tok != nil && !a.limiter(tok.ID.String()).Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "poll rate exceeded"})
			return
		}
		next(w, r)
	}
}

func (a *API) limiter(key string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[key]
	if !ok {
		l = rate.NewLimiter(a.pollRate, a.pollBurst)
		a.limiters[key] = l
	}
	return l
}

func bearerSecret(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	secret, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || secret == "" {
		return "", false
	}
	return secret, true
}

// ── Response helpers ──────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, voxgrid.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, voxgrid.ErrTokenMismatch),
		errors.Is(err, voxgrid.ErrRegionMismatch):
		code = http.StatusForbidden
	case errors.Is(err, voxgrid.ErrJobNotFound),
		errors.Is(err, voxgrid.ErrAgentNotFound),
		errors.Is(err, voxgrid.ErrScheduleNotFound),
		errors.Is(err, voxgrid.ErrTokenNotFound):
		code = http.StatusNotFound
	case errors.Is(err, voxgrid.ErrInvalidRegion),
		errors.Is(err, voxgrid.ErrInvalidSchedule),
		errors.Is(err, voxgrid.ErrInvalidState):
		code = http.StatusBadRequest
	case errors.Is(err, voxgrid.ErrJobAlreadyExists),
		errors.Is(err, voxgrid.ErrAgentAlreadyExists):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, code, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func listOptsFrom(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
