/**
 * @description
 * This file defines the request and response shapes exchanged at the HTTP
 * boundary. Every operation has an explicit schema that is decoded and
 * validated before any core entity is constructed; the core never operates on
 * loosely-typed request bodies.
 */

package domain

// SubmitReviewRequest is the body of POST /reviews. Images are base64 payloads
// (optionally data-URL prefixed) that are decoded, size-checked and uploaded
// to the image host before the review is persisted.
type SubmitReviewRequest struct {
	Token   string   `json:"token"`
	Name    string   `json:"name"`
	Area    string   `json:"area"`
	Service string   `json:"service"`
	Rating  int      `json:"rating"`
	Comment string   `json:"comment"`
	Images  []string `json:"images"`
	Email   string   `json:"email,omitempty"`
}

// SubmitReviewResponse acknowledges a persisted submission.
type SubmitReviewResponse struct {
	ID string `json:"id"`
}

// ModerateReviewRequest is the body of PUT /reviews (admin only).
type ModerateReviewRequest struct {
	ID         string           `json:"id"`
	Action     ModerationAction `json:"action"`
	OwnerReply string           `json:"owner_reply,omitempty"`
}

// ModerateReviewResponse returns the mutated review to the admin UI.
type ModerateReviewResponse struct {
	OK   bool   `json:"ok"`
	Item Review `json:"item"`
}

// IssueTokenRequest is the body of POST /tokens (admin only). order_id and
// phone_last4 are required; service and area default to empty.
type IssueTokenRequest struct {
	OrderID    string `json:"order_id"`
	PhoneLast4 string `json:"phone_last4"`
	Service    string `json:"service,omitempty"`
	Area       string `json:"area,omitempty"`
}

// IssueTokenResponse carries the signed submission token.
type IssueTokenResponse struct {
	Token string `json:"token"`
}

// ReviewListResponse is the paged listing shape. Items is either []Review
// (admin callers) or []PublicReview (everyone else).
type ReviewListResponse struct {
	Items    interface{} `json:"items"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
	HasMore  bool        `json:"has_more"`
}

// AdminLoginResponse carries a short-lived admin session token.
type AdminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}
