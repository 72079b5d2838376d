/*
handlers.go - HTTP API handlers for the payment engine

PURPOSE:
  Exposes the payment engine via REST API. Handles HTTP request/response,
  JSON serialization, caller authorization, and delegates to payment.Engine.

ENDPOINTS:
  POST   /api/jobs/{jobID}/payments/batch        Bill (and optionally pay) records
  POST   /api/jobs/{jobID}/payments/eligibility  Direct payment credit check
  GET    /api/jobs/{jobID}/payments/status       Transactions and stats
  GET    /healthz                                Store reachability
  GET    /metrics                                Prometheus

CALLER IDENTITY:
  The upstream auth layer sets X-Actor-ID and X-Actor-Role. A request
  without an actor is 401. Only the job owner or an admin may touch a
  job's payments; anyone else gets 403.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid batch, record from another job, bad JSON
  - 401: No actor
  - 403: Actor may not act on this job
  - 404: Job not found
  - 429: Batch rate limit exhausted
  - 503: Partner unavailable (eligibility only)
  - 500: Everything else

  A batch where some records failed is still 200. Per-record failures
  are data in the outcomes list.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/securyflex/payment-engine/payment"
	"github.com/securyflex/payment-engine/telemetry"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Limiter throttles batch submissions. ratelimit.TokenBucket satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
	RetryAfter(tokens float64) time.Duration
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *payment.Engine

	// Limiter is optional; nil disables batch rate limiting.
	Limiter Limiter
	// Store is optional; nil makes /healthz always report ok.
	Store  Pinger
	Logger *slog.Logger
}

// NewHandler creates a handler around engine.
func NewHandler(engine *payment.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Logger: logger}
}

// =============================================================================
// CALLER IDENTITY
// =============================================================================

// RoleAdmin may act on any job.
const RoleAdmin = "admin"

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

type actorKey struct{}

// ActorFrom returns the actor set by RequireActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// RequireActor rejects requests without X-Actor-ID.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing caller identity", nil)
			return
		}
		actor := Actor{ID: id, Role: strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role")))}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// authorizeJob loads the job and checks the actor may act on it. It writes
// the error response itself and returns false when the request must stop.
func (h *Handler) authorizeJob(w http.ResponseWriter, r *http.Request) (payment.Job, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing caller identity", nil)
		return payment.Job{}, false
	}

	jobID := payment.JobID(chi.URLParam(r, "jobID"))
	job, err := h.Engine.Job(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return payment.Job{}, false
	}

	if actor.Role != RoleAdmin && actor.ID != job.OwnerID {
		writeError(w, http.StatusForbidden, "Not allowed to manage payments for this job", nil)
		return payment.Job{}, false
	}
	return job, true
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ProcessBatch bills the requested records and optionally pays them out.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	if !h.allowBatch(w, r) {
		return
	}
	job, ok := h.authorizeJob(w, r)
	if !ok {
		return
	}

	var req ProcessBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]payment.RecordID, len(req.WorkHourRecordIDs))
	for i, id := range req.WorkHourRecordIDs {
		ids[i] = payment.RecordID(id)
	}

	res, err := h.Engine.ProcessBatch(r.Context(), job.ID, ids, req.DirectPaymentRequested)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(res))
}

// CheckEligibility reports whether the job's unbilled hours can be paid
// out directly.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizeJob(w, r)
	if !ok {
		return
	}

	var req EligibilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Action != EligibilityActionCheck {
		writeError(w, http.StatusBadRequest, "Unsupported action", map[string]string{
			"action":   req.Action,
			"expected": EligibilityActionCheck,
		})
		return
	}

	res, err := h.Engine.CheckJobEligibility(r.Context(), job.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibilityDTO(res))
}

// GetPaymentStatus returns the job's transactions with aggregate stats.
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizeJob(w, r)
	if !ok {
		return
	}

	status, err := h.Engine.GetJobPaymentStatus(r.Context(), job.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPaymentStatusDTO(status))
}

// Healthz reports whether the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// allowBatch applies the per-actor token bucket. A limiter error lets the
// request through; Redis being down must not stop payments.
func (h *Handler) allowBatch(w http.ResponseWriter, r *http.Request) bool {
	if h.Limiter == nil {
		return true
	}
	actor, ok := ActorFrom(r.Context())
	if !ok {
		return true
	}

	allowed, tokens, err := h.Limiter.Allow(r.Context(), "batch:"+actor.ID)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "rate limiter unavailable", "actor_id", actor.ID, "error", err)
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(h.Limiter.RetryAfter(tokens)))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many batch requests",
			Code:  CodeRateLimited,
		})
		return false
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case payment.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case payment.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, payment.ErrDebtorNotRegistered):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Payer not onboarded with the payment partner",
			Code:    CodeDebtorNotRegistered,
			Details: err.Error(),
		})
	case errors.Is(err, payment.ErrPartnerUnavailable):
		h.Logger.WarnContext(r.Context(), "payment partner unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Payment partner unavailable, try again later",
			Code:    CodePartnerUnavailable,
			Details: err.Error(),
		})
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// retryAfterSeconds renders d as a Retry-After value, rounded up to whole
// seconds and never below one.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}
