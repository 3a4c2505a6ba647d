/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Reviews carry a version column; every update is conditional on
 * the version the caller read, which turns the read-modify-write cycles of the
 * moderation workflow into detectable conflicts instead of silent lost
 * updates. Coupon redemption is a single conditional UPDATE so the at-most-once
 * guarantee holds without any explicit locking.
 *
 * Expected schema:
 *
 *   CREATE TABLE reviews (
 *       id                UUID PRIMARY KEY,
 *       status            TEXT NOT NULL,
 *       created_at        TIMESTAMPTZ NOT NULL,
 *       reviewed_at       TIMESTAMPTZ,
 *       submitter_name    TEXT NOT NULL,
 *       area              TEXT NOT NULL,
 *       service           TEXT NOT NULL,
 *       rating            INT NOT NULL,
 *       comment           TEXT NOT NULL DEFAULT '',
 *       image_urls        JSONB NOT NULL DEFAULT '[]',
 *       email             TEXT,
 *       order_id          TEXT,
 *       owner_reply       TEXT,
 *       coupon_code       TEXT,
 *       coupon_send_error TEXT,
 *       version           BIGINT NOT NULL DEFAULT 1
 *   );
 *
 *   CREATE TABLE coupons (
 *       code       TEXT PRIMARY KEY,
 *       created_at TIMESTAMPTZ NOT NULL,
 *       review_id  TEXT NOT NULL,
 *       order_id   TEXT,
 *       used_at    TIMESTAMPTZ
 *   );
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/natural-uncle888/official-natural-uncle/internal/domain"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// PostgresRepository is the concrete Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const reviewColumns = `id, status, created_at, reviewed_at, submitter_name, area, service,
	rating, comment, image_urls, email, order_id, owner_reply, coupon_code, coupon_send_error, version`

// CreateReview inserts a freshly submitted review in the pending state.
func (r *PostgresRepository) CreateReview(ctx context.Context, review *domain.Review) error {
	imageURLs, err := json.Marshal(review.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	query := `
		INSERT INTO reviews (id, status, created_at, submitter_name, area, service,
			rating, comment, image_urls, email, order_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`
	_, err = r.db.Exec(ctx, query,
		review.ID, review.Status, review.CreatedAt, review.SubmitterName, review.Area,
		review.Service, review.Rating, review.Comment, imageURLs, review.Email, review.OrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	review.Version = 1
	return nil
}

// FindReviewByID retrieves a single review record.
func (r *PostgresRepository) FindReviewByID(ctx context.Context, id uuid.UUID) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`
	review, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return review, nil
}

// ListReviews returns one page of reviews with the given status, newest first.
func (r *PostgresRepository) ListReviews(ctx context.Context, status domain.ReviewStatus, page, pageSize int) ([]domain.Review, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM reviews WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	query := `SELECT ` + reviewColumns + `
		FROM reviews WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Review, 0, pageSize)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *review)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateReview writes every mutable field back, conditional on the version the
// caller read. Zero rows affected means either a concurrent writer or a
// deleted row; the two cases are told apart with a follow-up lookup.
func (r *PostgresRepository) UpdateReview(ctx context.Context, review *domain.Review) error {
	imageURLs, err := json.Marshal(review.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	query := `
		UPDATE reviews
		SET status = $1, reviewed_at = $2, comment = $3, image_urls = $4,
			owner_reply = $5, coupon_code = $6, coupon_send_error = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
	`
	tag, err := r.db.Exec(ctx, query,
		review.Status, review.ReviewedAt, review.Comment, imageURLs,
		review.OwnerReply, review.CouponCode, review.CouponSendError,
		review.ID, review.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reviews WHERE id = $1)`, review.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check review existence: %w", err)
		}
		if !exists {
			return ErrReviewNotFound
		}
		return ErrVersionConflict
	}
	review.Version++
	return nil
}

// ListReviewsWithCouponSendErrors feeds the coupon email retry sweep.
func (r *PostgresRepository) ListReviewsWithCouponSendErrors(ctx context.Context, limit int) ([]domain.Review, error) {
	query := `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE status = $1 AND coupon_send_error IS NOT NULL AND email IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, domain.ReviewStatusApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews with send errors: %w", err)
	}
	defer rows.Close()

	var items []domain.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *review)
	}
	return items, rows.Err()
}

// CreateCoupon reserves a coupon code in the ledger. The primary key makes the
// reservation atomic; a collision surfaces as ErrDuplicateCouponCode so the
// caller can retry with a fresh code.
func (r *PostgresRepository) CreateCoupon(ctx context.Context, coupon *domain.Coupon) error {
	query := `
		INSERT INTO coupons (code, created_at, review_id, order_id)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, coupon.Code, coupon.CreatedAt, coupon.ReviewID, coupon.OrderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCouponCode
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

// FindCouponByCode retrieves a coupon record without mutating it.
func (r *PostgresRepository) FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	query := `SELECT code, created_at, review_id, order_id, used_at FROM coupons WHERE code = $1`
	err := r.db.QueryRow(ctx, query, code).Scan(
		&coupon.Code, &coupon.CreatedAt, &coupon.ReviewID, &coupon.OrderID, &coupon.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

// RedeemCoupon sets used_at exactly once. The conditional UPDATE is the
// serialization point: of two concurrent redemptions only one affects a row.
func (r *PostgresRepository) RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	query := `
		UPDATE coupons
		SET used_at = $1
		WHERE code = $2 AND used_at IS NULL
		RETURNING code, created_at, review_id, order_id, used_at
	`
	err := r.db.QueryRow(ctx, query, time.Now().UTC(), code).Scan(
		&coupon.Code, &coupon.CreatedAt, &coupon.ReviewID, &coupon.OrderID, &coupon.UsedAt,
	)
	if err == nil {
		return &coupon, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to redeem coupon: %w", err)
	}

	// No row updated: either unknown code or already redeemed.
	existing, lookupErr := r.FindCouponByCode(ctx, code)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.Used() {
		return nil, ErrCouponAlreadyUsed
	}
	// The code reappeared unredeemed between the UPDATE and the lookup. Only a
	// concurrent delete/insert can produce this; surface it rather than guess.
	return nil, fmt.Errorf("coupon %s in inconsistent redemption state", code)
}

// DeleteCouponIfUnused removes an orphaned, never-redeemed code reservation.
func (r *PostgresRepository) DeleteCouponIfUnused(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM coupons WHERE code = $1 AND used_at IS NULL`, code)
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	return nil
}

// scanReview maps one row onto a domain.Review. image_urls is stored as JSONB.
func scanReview(row pgx.Row) (*domain.Review, error) {
	var review domain.Review
	var imageURLs []byte
	err := row.Scan(
		&review.ID, &review.Status, &review.CreatedAt, &review.ReviewedAt,
		&review.SubmitterName, &review.Area, &review.Service, &review.Rating,
		&review.Comment, &imageURLs, &review.Email, &review.OrderID,
		&review.OwnerReply, &review.CouponCode, &review.CouponSendError, &review.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(imageURLs) > 0 {
		if err := json.Unmarshal(imageURLs, &review.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
		}
	}
	return &review, nil
}
