/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access performed by the review and coupon workflows. The application layer
 * depends only on this interface, which keeps the moderation state machine and
 * coupon ledger testable against in-memory fakes.
 *
 * Concurrency contract: UpdateReview is a conditional write keyed by the
 * version the caller read; a concurrent writer surfaces as ErrVersionConflict
 * and the caller must re-read and re-apply. RedeemCoupon is a single atomic
 * conditional update, so two concurrent redemptions of the same code yield
 * exactly one success.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For review identifiers.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/natural-uncle888/official-natural-uncle/internal/domain"
)

var (
	ErrReviewNotFound      = errors.New("review not found")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponAlreadyUsed   = errors.New("coupon already used")
	ErrDuplicateCouponCode = errors.New("coupon code already issued")
	ErrVersionConflict     = errors.New("review was modified concurrently")
)

// Repository defines the set of methods for interacting with durable state.
type Repository interface {
	// Review store
	CreateReview(ctx context.Context, review *domain.Review) error
	FindReviewByID(ctx context.Context, id uuid.UUID) (*domain.Review, error)
	// ListReviews returns one page of reviews with the given status, newest
	// first, plus the total count for that status.
	ListReviews(ctx context.Context, status domain.ReviewStatus, page, pageSize int) ([]domain.Review, int, error)
	// UpdateReview persists every mutable field of the review, guarded by
	// review.Version. On success the stored version is bumped and
	// review.Version reflects it.
	UpdateReview(ctx context.Context, review *domain.Review) error
	// ListReviewsWithCouponSendErrors returns approved reviews whose coupon
	// email failed to send, oldest first, for the retry sweep.
	ListReviewsWithCouponSendErrors(ctx context.Context, limit int) ([]domain.Review, error)

	// Coupon ledger
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) error
	FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	// RedeemCoupon marks the coupon used at-most-once and returns the
	// redeemed record. ErrCouponAlreadyUsed if used_at was already set.
	RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	// DeleteCouponIfUnused compensates an orphaned code reservation when a
	// concurrent approval won the review write. Used coupons are never deleted.
	DeleteCouponIfUnused(ctx context.Context, code string) error
}
