package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/natural-uncle888/official-natural-uncle/internal/domain"
	"github.com/natural-uncle888/official-natural-uncle/internal/store"
	"github.com/natural-uncle888/official-natural-uncle/internal/token"
)

// memoryRepo is an in-memory Repository with the same conditional-write
// semantics as the Postgres implementation: UpdateReview is guarded by the
// version the caller read, and RedeemCoupon flips used_at at most once.
type memoryRepo struct {
	mu      sync.Mutex
	reviews map[uuid.UUID]domain.Review
	coupons map[string]domain.Coupon

	createReviewErr error
	// conflictNextUpdates forces the next N UpdateReview calls to report a
	// version conflict, simulating a concurrent writer.
	conflictNextUpdates int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		reviews: make(map[uuid.UUID]domain.Review),
		coupons: make(map[string]domain.Coupon),
	}
}

func (m *memoryRepo) CreateReview(ctx context.Context, review *domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createReviewErr != nil {
		return m.createReviewErr
	}
	review.Version = 1
	m.reviews[review.ID] = *review
	return nil
}

func (m *memoryRepo) FindReviewByID(ctx context.Context, id uuid.UUID) (*domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok {
		return nil, store.ErrReviewNotFound
	}
	return &r, nil
}

func (m *memoryRepo) ListReviews(ctx context.Context, status domain.ReviewStatus, page, pageSize int) ([]domain.Review, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Review
	for _, r := range m.reviews {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) UpdateReview(ctx context.Context, review *domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.reviews[review.ID]
	if !ok {
		return store.ErrReviewNotFound
	}
	if m.conflictNextUpdates > 0 {
		m.conflictNextUpdates--
		// The concurrent writer bumps the stored version.
		current.Version++
		m.reviews[review.ID] = current
		return store.ErrVersionConflict
	}
	if current.Version != review.Version {
		return store.ErrVersionConflict
	}
	review.Version++
	m.reviews[review.ID] = *review
	return nil
}

func (m *memoryRepo) ListReviewsWithCouponSendErrors(ctx context.Context, limit int) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Review
	for _, r := range m.reviews {
		if r.Status == domain.ReviewStatusApproved && r.CouponSendError != nil {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateCoupon(ctx context.Context, coupon *domain.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.coupons[coupon.Code]; exists {
		return store.ErrDuplicateCouponCode
	}
	m.coupons[coupon.Code] = *coupon
	return nil
}

func (m *memoryRepo) FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	return &c, nil
}

func (m *memoryRepo) RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	if c.UsedAt != nil {
		return nil, store.ErrCouponAlreadyUsed
	}
	now := time.Now().UTC()
	c.UsedAt = &now
	m.coupons[code] = c
	return &c, nil
}

func (m *memoryRepo) DeleteCouponIfUnused(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil
	}
	if c.UsedAt == nil {
		delete(m.coupons, code)
	}
	return nil
}

type uploaderStub struct {
	calls int
	err   error
}

func (u *uploaderStub) Upload(ctx context.Context, image []byte) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return fmt.Sprintf("https://img.example.com/ugc/%d.jpg", u.calls), nil
}

type mailerStub struct {
	calls []string
	err   error
}

func (m *mailerStub) SendCouponEmail(ctx context.Context, toEmail, toName, couponCode string) error {
	m.calls = append(m.calls, couponCode)
	return m.err
}

type producerStub struct {
	routingKeys []string
}

func (p *producerStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func newTestSigner(t *testing.T) *token.Signer {
	t.Helper()
	signer, err := token.NewSigner("test-secret", 14*24*time.Hour)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer
}

func validImage() string {
	return base64.StdEncoding.EncodeToString([]byte("fake jpeg bytes"))
}

func validSubmission(t *testing.T, signer *token.Signer) domain.SubmitReviewRequest {
	t.Helper()
	tok, err := signer.Issue("ORD-1001", "5678", "deep-clean", "taipei")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return domain.SubmitReviewRequest{
		Token:   tok,
		Name:    "Mrs. Chen",
		Area:    "taipei",
		Service: "deep-clean",
		Rating:  5,
		Comment: "Spotless.",
		Images:  []string{validImage()},
		Email:   "chen@example.com",
	}
}

func TestSubmitCreatesPendingReview(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	uploader := &uploaderStub{}
	producer := &producerStub{}
	svc := NewService(repo, signer, uploader, &mailerStub{}, producer, Config{})

	review, err := svc.Submit(context.Background(), validSubmission(t, signer))
	if err != nil {
		t.Fatalf("expected submission to succeed, got %v", err)
	}
	if review.Status != domain.ReviewStatusPending {
		t.Fatalf("expected status pending, got %s", review.Status)
	}
	if review.OrderID == nil || *review.OrderID != "ORD-1001" {
		t.Fatalf("expected order id from token payload, got %v", review.OrderID)
	}
	if len(review.ImageURLs) != 1 {
		t.Fatalf("expected one hosted image url, got %d", len(review.ImageURLs))
	}
	if _, err := repo.FindReviewByID(context.Background(), review.ID); err != nil {
		t.Fatalf("expected review persisted, got %v", err)
	}
	if len(producer.routingKeys) != 1 || producer.routingKeys[0] != "review.submitted" {
		t.Fatalf("expected review.submitted event, got %v", producer.routingKeys)
	}
}

func TestSubmitRejectionsLeaveNoSideEffects(t *testing.T) {
	signer := newTestSigner(t)

	tests := []struct {
		name    string
		mutate  func(*domain.SubmitReviewRequest)
		wantErr error
	}{
		{
			name:    "garbage token",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Token = "not.a-token" },
			wantErr: ErrInvalidToken,
		},
		{
			name:    "blank name",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Name = "   " },
			wantErr: ErrMissingFields,
		},
		{
			name:    "rating too low",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Rating = 0 },
			wantErr: ErrInvalidRating,
		},
		{
			name:    "rating too high",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Rating = 6 },
			wantErr: ErrInvalidRating,
		},
		{
			name:    "no images",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Images = nil },
			wantErr: ErrInvalidImage,
		},
		{
			name: "too many images",
			mutate: func(r *domain.SubmitReviewRequest) {
				r.Images = []string{validImage(), validImage(), validImage(), validImage()}
			},
			wantErr: ErrInvalidImage,
		},
		{
			name:    "undecodable image",
			mutate:  func(r *domain.SubmitReviewRequest) { r.Images = []string{"!!not base64!!"} },
			wantErr: ErrInvalidImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepo()
			uploader := &uploaderStub{}
			svc := NewService(repo, signer, uploader, &mailerStub{}, nil, Config{MinImages: 1, MaxImages: 3})

			req := validSubmission(t, signer)
			tt.mutate(&req)

			_, err := svc.Submit(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if uploader.calls != 0 {
				t.Fatalf("expected no upload calls on rejected submission, got %d", uploader.calls)
			}
			if len(repo.reviews) != 0 {
				t.Fatalf("expected no review persisted on rejected submission, got %d", len(repo.reviews))
			}
		})
	}
}

func TestSubmitAllowsZeroImagesWhenConfigured(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	uploader := &uploaderStub{}
	svc := NewService(repo, signer, uploader, &mailerStub{}, nil, Config{MinImages: 0, MaxImages: 3})

	req := validSubmission(t, signer)
	req.Images = nil

	review, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("expected imageless submission to succeed with a zero minimum, got %v", err)
	}
	if review.Status != domain.ReviewStatusPending {
		t.Fatalf("expected status pending, got %s", review.Status)
	}
	if len(review.ImageURLs) != 0 {
		t.Fatalf("expected no image urls, got %v", review.ImageURLs)
	}
	if uploader.calls != 0 {
		t.Fatalf("expected no upload calls, got %d", uploader.calls)
	}

	// The upper bound still holds.
	req = validSubmission(t, signer)
	req.Images = []string{validImage(), validImage(), validImage(), validImage()}
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage above the maximum, got %v", err)
	}
}

func TestSubmitRejectsExpiredToken(t *testing.T) {
	shortSigner, err := token.NewSigner("test-secret", time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	tok, err := shortSigner.Issue("ORD-1001", "5678", "deep-clean", "taipei")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	repo := newMemoryRepo()
	svc := NewService(repo, shortSigner, &uploaderStub{}, &mailerStub{}, nil, Config{})

	req := validSubmission(t, newTestSigner(t))
	req.Token = tok
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestSubmitRejectsOversizedImage(t *testing.T) {
	signer := newTestSigner(t)
	repo := newMemoryRepo()
	uploader := &uploaderStub{}
	svc := NewService(repo, signer, uploader, &mailerStub{}, nil, Config{MaxImageBytes: 64})

	req := validSubmission(t, signer)
	req.Images = []string{base64.StdEncoding.EncodeToString(make([]byte, 200))}

	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if uploader.calls != 0 {
		t.Fatalf("expected no upload calls, got %d", uploader.calls)
	}
}

func TestSubmitUploadFailureAbortsWithoutPersisting(t *testing.T) {
	signer := newTestSigner(t)
	repo := newMemoryRepo()
	uploader := &uploaderStub{err: errors.New("cloud storage down")}
	svc := NewService(repo, signer, uploader, &mailerStub{}, nil, Config{})

	if _, err := svc.Submit(context.Background(), validSubmission(t, signer)); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if len(repo.reviews) != 0 {
		t.Fatalf("expected no review persisted after upload failure, got %d", len(repo.reviews))
	}
}

func submitPending(t *testing.T, svc *Service, signer *token.Signer) *domain.Review {
	t.Helper()
	review, err := svc.Submit(context.Background(), validSubmission(t, signer))
	if err != nil {
		t.Fatalf("failed to seed pending review: %v", err)
	}
	return review
}

func TestModerateApproveIssuesSingleCoupon(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	mailer := &mailerStub{}
	producer := &producerStub{}
	svc := NewService(repo, signer, &uploaderStub{}, mailer, producer, Config{})

	review := submitPending(t, svc, signer)

	approved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval to succeed, got %v", err)
	}
	if approved.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected status approved, got %s", approved.Status)
	}
	if approved.CouponCode == nil {
		t.Fatal("expected a coupon code on approval")
	}
	if approved.ReviewedAt == nil {
		t.Fatal("expected reviewed_at to be set on approval")
	}
	coupon, err := repo.FindCouponByCode(context.Background(), *approved.CouponCode)
	if err != nil {
		t.Fatalf("expected coupon in ledger, got %v", err)
	}
	if coupon.ReviewID != review.ID.String() {
		t.Fatalf("expected coupon linked to review %s, got %s", review.ID, coupon.ReviewID)
	}
	if len(mailer.calls) != 1 || mailer.calls[0] != *approved.CouponCode {
		t.Fatalf("expected one coupon email with code %s, got %v", *approved.CouponCode, mailer.calls)
	}

	// Re-approving must not mint a second coupon or resend by default.
	reapproved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected re-approval to succeed, got %v", err)
	}
	if *reapproved.CouponCode != *approved.CouponCode {
		t.Fatalf("expected coupon code to be stable across re-approval, got %s then %s", *approved.CouponCode, *reapproved.CouponCode)
	}
	if len(repo.coupons) != 1 {
		t.Fatalf("expected exactly one coupon in ledger, got %d", len(repo.coupons))
	}
	if len(mailer.calls) != 1 {
		t.Fatalf("expected no resend on re-approval, got %d sends", len(mailer.calls))
	}
}

func TestModerateRejectAndRemove(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	tests := []struct {
		action     domain.ModerationAction
		wantStatus domain.ReviewStatus
	}{
		{action: domain.ModerationActionReject, wantStatus: domain.ReviewStatusRejected},
		{action: domain.ModerationActionRemove, wantStatus: domain.ReviewStatusRemoved},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			review := submitPending(t, svc, signer)
			got, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
				ID:     review.ID.String(),
				Action: tt.action,
			})
			if err != nil {
				t.Fatalf("expected %s to succeed, got %v", tt.action, err)
			}
			if got.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, got.Status)
			}
			if got.CouponCode != nil {
				t.Fatalf("expected no coupon for %s, got %s", tt.action, *got.CouponCode)
			}
			if len(got.ImageURLs) == 0 {
				t.Fatal("expected image urls retained after moderation")
			}
		})
	}
}

func TestModerateReplySetsOwnerReply(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	review := submitPending(t, svc, signer)
	got, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:         review.ID.String(),
		Action:     domain.ModerationActionReply,
		OwnerReply: "Thank you!",
	})
	if err != nil {
		t.Fatalf("expected reply to succeed, got %v", err)
	}
	if got.OwnerReply == nil || *got.OwnerReply != "Thank you!" {
		t.Fatalf("expected owner reply persisted, got %v", got.OwnerReply)
	}
	if got.Status != domain.ReviewStatusPending {
		t.Fatalf("expected reply to leave status untouched, got %s", got.Status)
	}
}

func TestModerateUnknownActionAndUnknownID(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	if _, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     uuid.NewString(),
		Action: "promote",
	}); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}

	if _, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     uuid.NewString(),
		Action: domain.ModerationActionApprove,
	}); !errors.Is(err, store.ErrReviewNotFound) {
		t.Fatalf("expected ErrReviewNotFound for unknown id, got %v", err)
	}

	if _, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     "not-a-uuid",
		Action: domain.ModerationActionApprove,
	}); !errors.Is(err, store.ErrReviewNotFound) {
		t.Fatalf("expected ErrReviewNotFound for malformed id, got %v", err)
	}
}

func TestModerateRetriesOnVersionConflict(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	review := submitPending(t, svc, signer)
	repo.conflictNextUpdates = 2

	approved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval to win after retries, got %v", err)
	}
	if approved.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected status approved, got %s", approved.Status)
	}
	// The losing attempts must have released their coupon reservations.
	if len(repo.coupons) != 1 {
		t.Fatalf("expected exactly one coupon after conflict retries, got %d", len(repo.coupons))
	}
}

func TestModerateGivesUpAfterMaxRetries(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{ModerationMaxRetries: 2})

	review := submitPending(t, svc, signer)
	repo.conflictNextUpdates = 10

	if _, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting retries, got %v", err)
	}
	if len(repo.coupons) != 0 {
		t.Fatalf("expected every coupon reservation released, got %d", len(repo.coupons))
	}
}

func TestApproveEmailFailureKeepsApproval(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	mailer := &mailerStub{err: errors.New("smtp relay down")}
	svc := NewService(repo, signer, &uploaderStub{}, mailer, nil, Config{})

	review := submitPending(t, svc, signer)
	approved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval despite email failure, got %v", err)
	}
	if approved.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected status approved, got %s", approved.Status)
	}

	stored, err := repo.FindReviewByID(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("failed to re-read review: %v", err)
	}
	if stored.CouponSendError == nil {
		t.Fatal("expected coupon_send_error recorded after failed email")
	}
	if stored.CouponCode == nil {
		t.Fatal("expected coupon code retained after failed email")
	}
}

func TestRetryCouponEmailsClearsSendError(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	mailer := &mailerStub{err: errors.New("smtp relay down")}
	svc := NewService(repo, signer, &uploaderStub{}, mailer, nil, Config{})

	review := submitPending(t, svc, signer)
	if _, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	}); err != nil {
		t.Fatalf("expected approval to succeed, got %v", err)
	}

	// The relay recovers; the sweep should re-send and clear the marker.
	mailer.err = nil
	if sent := svc.RetryCouponEmails(context.Background(), 10); sent != 1 {
		t.Fatalf("expected one re-send, got %d", sent)
	}

	stored, err := repo.FindReviewByID(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("failed to re-read review: %v", err)
	}
	if stored.CouponSendError != nil {
		t.Fatalf("expected coupon_send_error cleared, got %q", *stored.CouponSendError)
	}
}

func TestCouponStatusAndRedeemOnce(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	review := submitPending(t, svc, signer)
	approved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval to succeed, got %v", err)
	}
	code := *approved.CouponCode

	status, err := svc.CouponStatus(context.Background(), code)
	if err != nil {
		t.Fatalf("expected status lookup to succeed, got %v", err)
	}
	if !status.Exists || status.Used {
		t.Fatalf("expected fresh coupon exists and unused, got %+v", status)
	}

	unknown, err := svc.CouponStatus(context.Background(), "NU-0001-XXXX")
	if err != nil {
		t.Fatalf("expected unknown code to be a valid answer, got %v", err)
	}
	if unknown.Exists {
		t.Fatal("expected unknown coupon to report exists=false")
	}

	coupon, err := svc.RedeemCoupon(context.Background(), code)
	if err != nil {
		t.Fatalf("expected first redemption to succeed, got %v", err)
	}
	if coupon.UsedAt == nil {
		t.Fatal("expected used_at set after redemption")
	}

	if _, err := svc.RedeemCoupon(context.Background(), code); !errors.Is(err, store.ErrCouponAlreadyUsed) {
		t.Fatalf("expected ErrCouponAlreadyUsed on second redemption, got %v", err)
	}

	status, err = svc.CouponStatus(context.Background(), code)
	if err != nil {
		t.Fatalf("expected status lookup to succeed, got %v", err)
	}
	if !status.Used || status.UsedAt == nil {
		t.Fatalf("expected used coupon status, got %+v", status)
	}
}

func TestReserveCouponCodeRetriesCollisions(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	// Force the first two generated codes to collide with existing ledger rows.
	draws := []int{7, 7, 8}
	svc.randInt = func(max int) (int, error) {
		n := draws[0]
		if len(draws) > 1 {
			draws = draws[1:]
		}
		return n, nil
	}
	existing := fmt.Sprintf("NU-%s-0007", time.Now().Format("0601"))
	repo.coupons[existing] = domain.Coupon{Code: existing, ReviewID: uuid.NewString()}

	review := submitPending(t, svc, signer)
	approved, err := svc.Moderate(context.Background(), domain.ModerateReviewRequest{
		ID:     review.ID.String(),
		Action: domain.ModerationActionApprove,
	})
	if err != nil {
		t.Fatalf("expected approval to succeed after collision retry, got %v", err)
	}
	want := fmt.Sprintf("NU-%s-0008", time.Now().Format("0601"))
	if *approved.CouponCode != want {
		t.Fatalf("expected collision to retry into %s, got %s", want, *approved.CouponCode)
	}
}

func TestDecodeImagePayload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("pixels"))

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "plain base64", input: payload},
		{name: "data url prefix", input: "data:image/jpeg;base64," + payload},
		{name: "data url without comma", input: "data:image/jpeg;base64", wantErr: ErrInvalidImage},
		{name: "empty", input: "", wantErr: ErrInvalidImage},
		{name: "whitespace only", input: "   ", wantErr: ErrInvalidImage},
		{name: "not base64", input: "%%%%", wantErr: ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := decodeImagePayload(tt.input, 1<<20)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected decode to succeed, got %v", err)
			}
			if string(data) != "pixels" {
				t.Fatalf("expected decoded bytes, got %q", data)
			}
		})
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		name         string
		page         int
		pageSize     int
		wantPage     int
		wantPageSize int
	}{
		{name: "in range", page: 2, pageSize: 20, wantPage: 2, wantPageSize: 20},
		{name: "zero page", page: 0, pageSize: 20, wantPage: 1, wantPageSize: 20},
		{name: "zero page size", page: 1, pageSize: 0, wantPage: 1, wantPageSize: 20},
		{name: "oversized page size", page: 1, pageSize: 500, wantPage: 1, wantPageSize: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPage, gotPageSize := ClampPage(tt.page, tt.pageSize)
			if gotPage != tt.wantPage || gotPageSize != tt.wantPageSize {
				t.Fatalf("expected (%d,%d), got (%d,%d)", tt.wantPage, tt.wantPageSize, gotPage, gotPageSize)
			}
		})
	}
}

func TestListReviewsRejectsUnknownStatus(t *testing.T) {
	repo := newMemoryRepo()
	signer := newTestSigner(t)
	svc := NewService(repo, signer, &uploaderStub{}, &mailerStub{}, nil, Config{})

	if _, _, err := svc.ListReviews(context.Background(), "archived", 1, 20); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}
