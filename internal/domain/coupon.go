/**
 * @description
 * This file defines the coupon ledger domain model. A coupon is issued exactly
 * once per approved review and is redeemable exactly while `used_at` is unset;
 * once set, the record is immutable.
 */

package domain

import "time"

// Coupon is a redeemable discount code issued on review approval.
type Coupon struct {
	Code      string     `json:"code"`
	CreatedAt time.Time  `json:"created_at"`
	ReviewID  string     `json:"review_id"`
	OrderID   *string    `json:"order_id,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the coupon has already been redeemed.
func (c *Coupon) Used() bool {
	return c.UsedAt != nil
}

// CouponStatus is the read-only view served to status queries.
type CouponStatus struct {
	Exists bool       `json:"exists"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}
