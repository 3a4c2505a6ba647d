/**
 * @description
 * This file contains the HTTP handlers for the review service. Handlers parse
 * and validate request bodies, call the application service, and map service
 * errors onto {error: kind} JSON responses with appropriate status codes.
 * Unexpected failures are logged with full detail and surfaced to the caller
 * only as a generic server_error.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: Route parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/natural-uncle888/official-natural-uncle/internal/app"
	"github.com/natural-uncle888/official-natural-uncle/internal/domain"
	"github.com/natural-uncle888/official-natural-uncle/internal/store"
)

// Handlers holds the application service and per-endpoint rate limits.
type Handlers struct {
	service *app.Service
	auth    *AdminAuth
	limiter *app.RedisRateLimiter

	submitLimitPerMinute       int
	couponStatusLimitPerMinute int
}

// NewHandlers creates a new Handlers instance. limiter may be nil when Redis
// is not configured; rate limiting is then disabled.
func NewHandlers(service *app.Service, auth *AdminAuth, limiter *app.RedisRateLimiter, submitLimit, couponStatusLimit int) *Handlers {
	return &Handlers{
		service:                    service,
		auth:                       auth,
		limiter:                    limiter,
		submitLimitPerMinute:       submitLimit,
		couponStatusLimitPerMinute: couponStatusLimit,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, errorBody{Error: kind})
}

// writeServiceError maps a service-layer error onto the wire error kinds.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, app.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "missing_fields")
	case errors.Is(err, app.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "invalid_rating")
	case errors.Is(err, app.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "invalid_image")
	case errors.Is(err, app.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image_too_large")
	case errors.Is(err, app.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action")
	case errors.Is(err, store.ErrReviewNotFound), errors.Is(err, store.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, store.ErrCouponAlreadyUsed):
		writeError(w, http.StatusConflict, "already_used")
	case errors.Is(err, app.ErrUploadFailed):
		log.Printf("level=error component=api msg=\"upstream collaborator failed\" err=%v", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable")
	default:
		log.Printf("level=error component=api msg=\"unexpected service error\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// clientIP extracts the caller address for rate limiting, honoring the
// leftmost X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allowRate consumes one unit of the named limit and writes the 429 response
// itself when the caller is over. Limiter errors fail open: a Redis outage
// must not take submissions down with it.
func (h *Handlers) allowRate(w http.ResponseWriter, r *http.Request, scope string, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.Consume(r.Context(), scope, clientIP(r), limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; failing open\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return false
	}
	return true
}

// SubmitReviewHandler handles POST /reviews: the public, token-gated
// submission endpoint.
func (h *Handlers) SubmitReviewHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "submit", h.submitLimitPerMinute) {
		return
	}

	var req domain.SubmitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	review, err := h.service.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=submit_review outcome=accepted review_id=%s area=%s service=%s", review.ID, review.Area, review.Service)
	writeJSON(w, http.StatusCreated, domain.SubmitReviewResponse{ID: review.ID.String()})
}

// ListReviewsHandler handles GET /reviews. Admin callers may list any status
// and receive full records; everyone else sees only approved reviews with the
// internal fields stripped.
func (h *Handlers) ListReviewsHandler(w http.ResponseWriter, r *http.Request) {
	isAdmin := IsAdmin(r.Context())

	status := domain.ReviewStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = domain.ReviewStatusApproved
	}
	if !isAdmin {
		status = domain.ReviewStatusApproved
	}
	if !domain.ValidReviewStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown_status")
		return
	}

	page, pageSize := app.ClampPage(queryInt(r, "page", 1), queryInt(r, "page_size", 20))

	items, total, err := h.service.ListReviews(r.Context(), status, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := domain.ReviewListResponse{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  page*pageSize < total,
	}
	if isAdmin {
		resp.Items = items
	} else {
		public := make([]domain.PublicReview, 0, len(items))
		for i := range items {
			public = append(public, items[i].Public())
		}
		resp.Items = public
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetReviewHandler handles GET /reviews/{id} (admin only): the full record
// for the moderation detail view.
func (h *Handlers) GetReviewHandler(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// ModerateReviewHandler handles PUT /reviews (admin only).
func (h *Handlers) ModerateReviewHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ModerateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}

	review, err := h.service.Moderate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=moderate_review action=%s review_id=%s status=%s", req.Action, review.ID, review.Status)
	writeJSON(w, http.StatusOK, domain.ModerateReviewResponse{OK: true, Item: *review})
}

// RemoveReviewHandler handles DELETE /reviews/{id} (admin only). Removal is a
// status transition; the record and its hosted images are retained.
func (h *Handlers) RemoveReviewHandler(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.Moderate(r.Context(), domain.ModerateReviewRequest{
		ID:     chi.URLParam(r, "id"),
		Action: domain.ModerationActionRemove,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=remove_review review_id=%s", review.ID)
	writeJSON(w, http.StatusOK, domain.ModerateReviewResponse{OK: true, Item: *review})
}

// IssueTokenHandler handles POST /tokens (admin only): mints a signed
// submission token for one customer order.
func (h *Handlers) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	tok, err := h.service.IssueSubmissionToken(req.OrderID, req.PhoneLast4, req.Service, req.Area)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	writeJSON(w, http.StatusOK, domain.IssueTokenResponse{Token: tok})
}

// CouponStatusHandler handles GET /coupons/{code}: a public, read-only status
// probe that never mutates the ledger.
func (h *Handlers) CouponStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowRate(w, r, "coupon_status", h.couponStatusLimitPerMinute) {
		return
	}

	status, err := h.service.CouponStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RedeemCouponHandler handles POST /coupons/{code}/redeem (admin only).
func (h *Handlers) RedeemCouponHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	coupon, err := h.service.RedeemCoupon(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=redeem_coupon code=%s review_id=%s", coupon.Code, coupon.ReviewID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// AdminLoginHandler handles POST /admin/login: exchanges the admin key for a
// short-lived session token. Session tokens cannot mint further sessions.
func (h *Handlers) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.MatchesKey(credential(r)) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	tok, err := h.auth.IssueSessionToken(time.Now())
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to issue admin session\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, domain.AdminLoginResponse{
		Token:     tok,
		ExpiresIn: int(h.auth.SessionTTL().Seconds()),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
