/**
 * @description
 * This file defines the core domain models for customer reviews. A review is
 * created in the `pending` state by the public submission endpoint and is only
 * ever mutated by the admin moderation workflow, which drives it to one of the
 * terminal states and, on approval, attaches a coupon code.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For review identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the moderation state of a review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
	ReviewStatusRemoved  ReviewStatus = "removed"
)

// ValidReviewStatus reports whether s is one of the known review statuses.
func ValidReviewStatus(s ReviewStatus) bool {
	switch s {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected, ReviewStatusRemoved:
		return true
	}
	return false
}

// ModerationAction is an admin action applied to a review.
type ModerationAction string

const (
	ModerationActionApprove ModerationAction = "approve"
	ModerationActionReject  ModerationAction = "reject"
	ModerationActionRemove  ModerationAction = "remove"
	ModerationActionReply   ModerationAction = "reply"
)

// Review is the persisted review record. Version guards optimistic-concurrency
// writes: every mutation must present the version it read and bumps it by one.
type Review struct {
	ID              uuid.UUID    `json:"id"`
	Status          ReviewStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	SubmitterName   string       `json:"submitter_name"`
	Area            string       `json:"area"`
	Service         string       `json:"service"`
	Rating          int          `json:"rating"`
	Comment         string       `json:"comment"`
	ImageURLs       []string     `json:"image_urls"`
	Email           *string      `json:"email,omitempty"`
	OrderID         *string      `json:"order_id,omitempty"`
	OwnerReply      *string      `json:"owner_reply,omitempty"`
	CouponCode      *string      `json:"coupon_code,omitempty"`
	CouponSendError *string      `json:"coupon_send_error,omitempty"`
	Version         int64        `json:"-"`
}

// PublicReview is the caller-facing projection of a review. It carries only
// the fields safe to expose to non-admin callers: no email, no order id, no
// coupon details.
type PublicReview struct {
	ID            uuid.UUID    `json:"id"`
	Status        ReviewStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	SubmitterName string       `json:"submitter_name"`
	Area          string       `json:"area"`
	Service       string       `json:"service"`
	Rating        int          `json:"rating"`
	Comment       string       `json:"comment"`
	ImageURLs     []string     `json:"image_urls"`
	OwnerReply    *string      `json:"owner_reply,omitempty"`
}

// Public strips the internal-only fields from a review.
func (r *Review) Public() PublicReview {
	return PublicReview{
		ID:            r.ID,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		SubmitterName: r.SubmitterName,
		Area:          r.Area,
		Service:       r.Service,
		Rating:        r.Rating,
		Comment:       r.Comment,
		ImageURLs:     r.ImageURLs,
		OwnerReply:    r.OwnerReply,
	}
}
