/**
 * @description
 * This file contains the core application service: the submission validator
 * and the moderation state machine. The service validates public submissions
 * against a signed token before any side effect runs, and applies admin
 * moderation actions (approve/reject/remove/reply) with optimistic-concurrency
 * retries so concurrent admin actions on the same review cannot both win.
 *
 * Approval is the only transition with side effects beyond the review row: it
 * reserves a unique coupon code in the ledger (bounded collision retry) and
 * attempts the coupon email. An email failure is recorded on the review for
 * follow-up but never rolls back the approval.
 *
 * @dependencies
 * - context, crypto/rand, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: Review identifiers.
 * - internal/domain, internal/store, internal/token, internal/metrics.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/natural-uncle888/official-natural-uncle/internal/domain"
	"github.com/natural-uncle888/official-natural-uncle/internal/metrics"
	"github.com/natural-uncle888/official-natural-uncle/internal/store"
	"github.com/natural-uncle888/official-natural-uncle/internal/token"
)

var (
	ErrInvalidToken         = errors.New("invalid or expired submission token")
	ErrMissingFields        = errors.New("name, service and area are required")
	ErrInvalidRating        = errors.New("rating must be an integer between 1 and 5")
	ErrInvalidImage         = errors.New("invalid image payload or image count")
	ErrImageTooLarge        = errors.New("image exceeds the maximum allowed size")
	ErrUnknownAction        = errors.New("unknown moderation action")
	ErrUploadFailed         = errors.New("image upload failed")
	ErrCouponSpaceExhausted = errors.New("could not generate a unique coupon code")
	ErrConflict             = errors.New("review was modified concurrently")
)

// ImageUploader hands raw image bytes to the external image host and returns a
// durable URL.
type ImageUploader interface {
	Upload(ctx context.Context, image []byte) (string, error)
}

// Mailer sends the coupon notification email.
type Mailer interface {
	SendCouponEmail(ctx context.Context, toEmail, toName, couponCode string) error
}

// EventPublisher publishes review lifecycle events. Implementations must be
// safe to call fire-and-forget; failures are logged, never surfaced.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

const eventExchange = "review_events"

// reviewEvent is the payload published on review lifecycle transitions.
type reviewEvent struct {
	ReviewID   string    `json:"review_id"`
	Status     string    `json:"status,omitempty"`
	CouponCode string    `json:"coupon_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config carries the tunables the service needs. MinImages zero is
// meaningful: it allows imageless submissions. The other zero values are
// replaced with the reference defaults by NewService.
type Config struct {
	MinImages               int
	MaxImages               int
	MaxImageBytes           int64
	CouponPrefix            string
	CouponCodeMaxAttempts   int
	ModerationMaxRetries    int
	ResendCouponOnReapprove bool
}

// Service implements the submission and moderation workflows.
type Service struct {
	repo     store.Repository
	signer   *token.Signer
	uploader ImageUploader
	mailer   Mailer
	producer EventPublisher
	cfg      Config

	// now and randInt are swappable for tests.
	now     func() time.Time
	randInt func(max int) (int, error)
}

// NewService creates a new Service. producer may be nil when no broker is
// configured; mailer may be nil when email delivery is not configured.
func NewService(repo store.Repository, signer *token.Signer, uploader ImageUploader, mailer Mailer, producer EventPublisher, cfg Config) *Service {
	if cfg.MinImages < 0 {
		cfg.MinImages = 0
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 3
	}
	if cfg.MaxImages < cfg.MinImages {
		cfg.MaxImages = cfg.MinImages
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	if cfg.CouponPrefix == "" {
		cfg.CouponPrefix = "NU"
	}
	if cfg.CouponCodeMaxAttempts <= 0 {
		cfg.CouponCodeMaxAttempts = 5
	}
	if cfg.ModerationMaxRetries <= 0 {
		cfg.ModerationMaxRetries = 3
	}
	return &Service{
		repo:     repo,
		signer:   signer,
		uploader: uploader,
		mailer:   mailer,
		producer: producer,
		cfg:      cfg,
		now:      time.Now,
		randInt:  cryptoRandInt,
	}
}

// IssueSubmissionToken creates a signed token binding a future submission to
// an order identifier. Admin-only at the API layer.
func (s *Service) IssueSubmissionToken(orderID, phoneLast4, service, area string) (string, error) {
	return s.signer.Issue(orderID, phoneLast4, service, area)
}

// Submit validates a public review submission and, only if every check passes,
// uploads the images and persists a new pending review. Validation failures
// leave no side effects: no upload call, no store write.
func (s *Service) Submit(ctx context.Context, req domain.SubmitReviewRequest) (*domain.Review, error) {
	start := s.now()
	result := "rejected"
	defer func() {
		metrics.RecordSubmission(result, time.Since(start).Seconds())
	}()

	payload, err := s.signer.Verify(req.Token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	name := strings.TrimSpace(req.Name)
	area := strings.TrimSpace(req.Area)
	service := strings.TrimSpace(req.Service)
	if name == "" || area == "" || service == "" {
		return nil, ErrMissingFields
	}

	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}

	if len(req.Images) < s.cfg.MinImages || len(req.Images) > s.cfg.MaxImages {
		return nil, ErrInvalidImage
	}
	decoded := make([][]byte, 0, len(req.Images))
	for _, img := range req.Images {
		data, err := decodeImagePayload(img, s.cfg.MaxImageBytes)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, data)
	}

	// Validation passed; side effects begin. An upload failure aborts the
	// whole submission so no partial review is ever persisted.
	imageURLs := make([]string, 0, len(decoded))
	for _, data := range decoded {
		url, err := s.uploader.Upload(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		imageURLs = append(imageURLs, url)
	}

	review := &domain.Review{
		ID:            uuid.New(),
		Status:        domain.ReviewStatusPending,
		CreatedAt:     s.now().UTC(),
		SubmitterName: name,
		Area:          area,
		Service:       service,
		Rating:        req.Rating,
		Comment:       strings.TrimSpace(req.Comment),
		ImageURLs:     imageURLs,
		OrderID:       &payload.OrderID,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		review.Email = &email
	}

	if err := s.repo.CreateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to persist review: %w", err)
	}

	result = "accepted"
	s.publish(ctx, "review.submitted", reviewEvent{
		ReviewID:  review.ID.String(),
		Status:    string(review.Status),
		Timestamp: review.CreatedAt,
	})
	return review, nil
}

// Moderate applies an admin action to a review. The read-apply-write cycle is
// retried on version conflicts so two concurrent approvals of the same review
// cannot both issue a coupon: the conditional write serializes them and the
// loser re-reads and re-confirms the winner's coupon.
func (s *Service) Moderate(ctx context.Context, req domain.ModerateReviewRequest) (*domain.Review, error) {
	switch req.Action {
	case domain.ModerationActionApprove, domain.ModerationActionReject,
		domain.ModerationActionRemove, domain.ModerationActionReply:
	default:
		return nil, ErrUnknownAction
	}

	id, err := uuid.Parse(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, store.ErrReviewNotFound
	}

	for attempt := 0; attempt < s.cfg.ModerationMaxRetries; attempt++ {
		review, err := s.repo.FindReviewByID(ctx, id)
		if err != nil {
			return nil, err
		}

		freshCoupon := ""
		switch req.Action {
		case domain.ModerationActionApprove:
			now := s.now().UTC()
			review.Status = domain.ReviewStatusApproved
			review.ReviewedAt = &now
			if review.CouponCode == nil {
				code, err := s.reserveCouponCode(ctx, review)
				if err != nil {
					return nil, err
				}
				review.CouponCode = &code
				freshCoupon = code
			}
		case domain.ModerationActionReject:
			now := s.now().UTC()
			review.Status = domain.ReviewStatusRejected
			review.ReviewedAt = &now
		case domain.ModerationActionRemove:
			review.Status = domain.ReviewStatusRemoved
		case domain.ModerationActionReply:
			reply := req.OwnerReply
			review.OwnerReply = &reply
		}

		err = s.repo.UpdateReview(ctx, review)
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent writer won. Release the code we reserved in this
			// attempt (it is not referenced by any review) and re-read.
			if freshCoupon != "" {
				if delErr := s.repo.DeleteCouponIfUnused(ctx, freshCoupon); delErr != nil {
					log.Printf("level=warn component=app msg=\"failed to release orphaned coupon reservation\" code=%s err=%v", freshCoupon, delErr)
				}
			}
			continue
		}
		if err != nil {
			if freshCoupon != "" {
				if delErr := s.repo.DeleteCouponIfUnused(ctx, freshCoupon); delErr != nil {
					log.Printf("level=warn component=app msg=\"failed to release orphaned coupon reservation\" code=%s err=%v", freshCoupon, delErr)
				}
			}
			return nil, err
		}

		metrics.RecordModeration(string(req.Action))
		if req.Action == domain.ModerationActionApprove {
			s.afterApproval(ctx, review, freshCoupon != "")
		}
		s.publish(ctx, "review."+reviewEventKey(req.Action), reviewEvent{
			ReviewID:   review.ID.String(),
			Status:     string(review.Status),
			CouponCode: stringValue(review.CouponCode),
			Timestamp:  s.now().UTC(),
		})
		return review, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrConflict, s.cfg.ModerationMaxRetries)
}

// afterApproval attempts the coupon email. The approval is already durable at
// this point; a send failure is recorded on the review and never undone.
func (s *Service) afterApproval(ctx context.Context, review *domain.Review, freshlyIssued bool) {
	if review.Email == nil || review.CouponCode == nil {
		return
	}
	if !freshlyIssued && !s.cfg.ResendCouponOnReapprove {
		return
	}
	if s.mailer == nil {
		log.Printf("level=warn component=app msg=\"no mailer configured; coupon email skipped\" review_id=%s", review.ID)
		return
	}

	err := s.mailer.SendCouponEmail(ctx, *review.Email, review.SubmitterName, *review.CouponCode)
	if err != nil {
		log.Printf("level=error component=app msg=\"coupon email send failed\" review_id=%s err=%v", review.ID, err)
		msg := err.Error()
		s.recordCouponSendOutcome(ctx, review, &msg)
		metrics.RecordCouponEmail("failed")
		return
	}
	if review.CouponSendError != nil {
		s.recordCouponSendOutcome(ctx, review, nil)
	}
	metrics.RecordCouponEmail("sent")
}

// recordCouponSendOutcome persists coupon_send_error with its own bounded
// conflict-retry loop. Best effort: losing this write loses only the
// follow-up marker, not the approval.
func (s *Service) recordCouponSendOutcome(ctx context.Context, review *domain.Review, sendErr *string) {
	review.CouponSendError = sendErr
	for attempt := 0; attempt < s.cfg.ModerationMaxRetries; attempt++ {
		err := s.repo.UpdateReview(ctx, review)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			log.Printf("level=warn component=app msg=\"failed to record coupon send outcome\" review_id=%s err=%v", review.ID, err)
			return
		}
		fresh, findErr := s.repo.FindReviewByID(ctx, review.ID)
		if findErr != nil {
			log.Printf("level=warn component=app msg=\"failed to re-read review for send outcome\" review_id=%s err=%v", review.ID, findErr)
			return
		}
		fresh.CouponSendError = sendErr
		*review = *fresh
	}
}

// RetryCouponEmails re-attempts delivery for approved reviews with a recorded
// send error. Invoked by the periodic sweep; returns the number of successful
// re-sends.
func (s *Service) RetryCouponEmails(ctx context.Context, limit int) int {
	if s.mailer == nil {
		return 0
	}
	if limit <= 0 {
		limit = 50
	}
	reviews, err := s.repo.ListReviewsWithCouponSendErrors(ctx, limit)
	if err != nil {
		log.Printf("level=warn component=app msg=\"coupon email retry sweep failed to list\" err=%v", err)
		return 0
	}

	sent := 0
	for i := range reviews {
		review := reviews[i]
		if review.Email == nil || review.CouponCode == nil {
			continue
		}
		if err := s.mailer.SendCouponEmail(ctx, *review.Email, review.SubmitterName, *review.CouponCode); err != nil {
			log.Printf("level=warn component=app msg=\"coupon email retry failed\" review_id=%s err=%v", review.ID, err)
			continue
		}
		s.recordCouponSendOutcome(ctx, &review, nil)
		metrics.RecordCouponEmail("sent")
		sent++
	}
	return sent
}

// ListReviews returns one page of reviews with the given status.
func (s *Service) ListReviews(ctx context.Context, status domain.ReviewStatus, page, pageSize int) ([]domain.Review, int, error) {
	if !domain.ValidReviewStatus(status) {
		return nil, 0, fmt.Errorf("unknown review status %q", status)
	}
	page, pageSize = ClampPage(page, pageSize)
	return s.repo.ListReviews(ctx, status, page, pageSize)
}

// GetReview returns a single review record.
func (s *Service) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, store.ErrReviewNotFound
	}
	return s.repo.FindReviewByID(ctx, parsed)
}

// CouponStatus reports whether a code exists and whether it has been redeemed.
// Unknown codes are a valid answer, not an error.
func (s *Service) CouponStatus(ctx context.Context, code string) (*domain.CouponStatus, error) {
	coupon, err := s.repo.FindCouponByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, store.ErrCouponNotFound) {
		return &domain.CouponStatus{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.CouponStatus{Exists: true, Used: coupon.Used(), UsedAt: coupon.UsedAt}, nil
}

// RedeemCoupon marks a coupon used at-most-once.
func (s *Service) RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := s.repo.RedeemCoupon(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	metrics.RecordRedemption()
	s.publish(ctx, "coupon.redeemed", reviewEvent{
		ReviewID:   coupon.ReviewID,
		CouponCode: coupon.Code,
		Timestamp:  s.now().UTC(),
	})
	return coupon, nil
}

// reserveCouponCode generates codes until one inserts cleanly into the ledger.
// The ledger primary key is the collision check; the attempt count is a safety
// net, not a real constraint, since the code space dwarfs issuance volume.
func (s *Service) reserveCouponCode(ctx context.Context, review *domain.Review) (string, error) {
	for attempt := 0; attempt < s.cfg.CouponCodeMaxAttempts; attempt++ {
		code, err := s.generateCouponCode()
		if err != nil {
			return "", err
		}
		coupon := &domain.Coupon{
			Code:      code,
			CreatedAt: s.now().UTC(),
			ReviewID:  review.ID.String(),
			OrderID:   review.OrderID,
		}
		err = s.repo.CreateCoupon(ctx, coupon)
		if errors.Is(err, store.ErrDuplicateCouponCode) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", ErrCouponSpaceExhausted
}

// generateCouponCode builds a PREFIX-YYMM-NNNN code with random digits.
func (s *Service) generateCouponCode() (string, error) {
	n, err := s.randInt(10000)
	if err != nil {
		return "", fmt.Errorf("failed to generate coupon digits: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", s.cfg.CouponPrefix, s.now().Format("0601"), n), nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, eventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// decodeImagePayload accepts a raw base64 string or a data URL and returns the
// decoded bytes, enforcing the size cap before decoding the full payload.
func decodeImagePayload(payload string, maxBytes int64) ([]byte, error) {
	raw := strings.TrimSpace(payload)
	if strings.HasPrefix(raw, "data:") {
		idx := strings.Index(raw, ",")
		if idx < 0 {
			return nil, ErrInvalidImage
		}
		raw = raw[idx+1:]
	}
	if raw == "" {
		return nil, ErrInvalidImage
	}
	// A base64 payload longer than 4/3 of the cap cannot decode under it.
	if int64(len(raw)) > maxBytes*4/3+4 {
		return nil, ErrImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidImage
	}
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// ClampPage normalizes pagination inputs to 1-based pages and 1..100 page
// sizes. Callers echoing pagination back must use the clamped values so the
// reported page_size and has_more match what was actually applied.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func reviewEventKey(action domain.ModerationAction) string {
	switch action {
	case domain.ModerationActionApprove:
		return "approved"
	case domain.ModerationActionReject:
		return "rejected"
	case domain.ModerationActionRemove:
		return "removed"
	default:
		return "replied"
	}
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cryptoRandInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
