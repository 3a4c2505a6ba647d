/**
 * @description
 * This file defines the Prometheus collectors for the review service:
 * submission latency by outcome, counters for applied moderation actions and
 * coupon email delivery attempts, and successful coupon redemptions. The
 * collectors register themselves via promauto; call sites record through the
 * small helpers below.
 *
 * @dependencies
 * - github.com/prometheus/client_golang/prometheus: Collector types.
 * - github.com/prometheus/client_golang/prometheus/promauto: Self-registering constructors.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionDuration tracks the latency of review submissions by outcome.
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_submission_duration_seconds",
			Help:    "Duration of review submission requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"result"}, // accepted or rejected
	)

	// ModerationActions counts admin moderation actions applied successfully.
	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_moderation_actions_total",
			Help: "Total number of successfully applied moderation actions",
		},
		[]string{"action"},
	)

	// CouponEmails counts coupon email delivery attempts by outcome.
	CouponEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_emails_total",
			Help: "Total number of coupon email delivery attempts",
		},
		[]string{"result"}, // sent or failed
	)

	// CouponRedemptions counts successful coupon redemptions.
	CouponRedemptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Total number of successful coupon redemptions",
		},
	)
)

// RecordSubmission records one submission attempt.
func RecordSubmission(result string, duration float64) {
	SubmissionDuration.WithLabelValues(result).Observe(duration)
}

// RecordModeration records one applied moderation action.
func RecordModeration(action string) {
	ModerationActions.WithLabelValues(action).Inc()
}

// RecordCouponEmail records one coupon email attempt.
func RecordCouponEmail(result string) {
	CouponEmails.WithLabelValues(result).Inc()
}

// RecordRedemption records one successful redemption.
func RecordRedemption() {
	CouponRedemptions.Inc()
}
