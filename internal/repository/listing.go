package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ListingRepository handles database operations for listings
type ListingRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *pgxpool.Pool, timeout time.Duration) *ListingRepository {
	return &ListingRepository{db: db, timeout: timeout}
}

const listingColumns = `id, owner_id, owner_email, title, category, description, price, location,
	status, images, is_top, top_purchased_at, top_expires_at, top_expired_at, created_at, updated_at`

// Create creates a new listing
func (r *ListingRepository) Create(ctx context.Context, l *models.Listing) error {
	images, err := encodeImages(l.Images)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, l.ID, l.OwnerID, l.OwnerEmail, l.Title, l.Category, l.Description, l.Price, l.Location,
		l.Status, images, l.IsTop, l.TopPurchasedAt, l.TopExpiresAt, l.TopExpiredAt,
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return wrap("create listing", "listing", err)
	}
	return nil
}

// GetByID retrieves a listing by ID
func (r *ListingRepository) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	listing, err := scanListing(row)
	if err != nil {
		return nil, wrap("get listing", "listing", err)
	}
	return listing, nil
}

// Update stores the owner editable fields of a listing
func (r *ListingRepository) Update(ctx context.Context, l *models.Listing) error {
	images, err := encodeImages(l.Images)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx, `
		UPDATE listings
		SET title = $2, category = $3, description = $4, price = $5, location = $6,
			status = $7, images = $8, updated_at = $9
		WHERE id = $1
	`, l.ID, l.Title, l.Category, l.Description, l.Price, l.Location, l.Status, images, l.UpdatedAt)
	if err != nil {
		return wrap("update listing", "listing", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("update listing", "listing")
	}
	return nil
}

// Delete deletes a listing by ID
func (r *ListingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return wrap("delete listing", "listing", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("delete listing", "listing")
	}
	return nil
}

// List retrieves listings matching q, newest first
func (r *ListingRepository) List(ctx context.Context, q ListingQuery) ([]*models.Listing, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.OwnerID != "" {
		add("owner_id = $%d", q.OwnerID)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.OnlyTop {
		where = append(where, "is_top")
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list listings", "listing", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, wrap("list listings", "listing", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list listings", "listing", err)
	}
	return listings, nil
}

// PurchaseBoost debits the owner's balance and boosts the listing in one transaction
func (r *ListingRepository) PurchaseBoost(ctx context.Context, p BoostPurchase) (*models.Listing, int64, error) {
	const op = "purchase boost"
	var (
		listing *models.Listing
		balance int64
	)

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var (
			ownerID string
			isTop   bool
		)
		err := tx.QueryRow(ctx, `SELECT owner_id, is_top FROM listings WHERE id = $1 FOR UPDATE`, p.ListingID).
			Scan(&ownerID, &isTop)
		if err != nil {
			return wrap(op, "listing", err)
		}
		if ownerID != p.OwnerID {
			return apperr.NotOwner(op)
		}
		if isTop {
			return apperr.Validation(op, "listing is already boosted")
		}

		err = tx.QueryRow(ctx, `SELECT balance FROM profiles WHERE user_id = $1 FOR UPDATE`, p.OwnerID).
			Scan(&balance)
		if err != nil {
			return wrap(op, "profile", err)
		}
		if balance < p.Cost {
			return apperr.InsufficientBalance(op, balance, p.Cost)
		}

		balance -= p.Cost
		if _, err := tx.Exec(ctx, `
			UPDATE profiles
			SET balance = $2, last_balance_update = $3, balance_update_reason = $4
			WHERE user_id = $1
		`, p.OwnerID, balance, p.Now, p.Reason); err != nil {
			return err
		}
		listing, err = scanListing(tx.QueryRow(ctx, `
			UPDATE listings
			SET is_top = TRUE, top_purchased_at = $2, top_expires_at = $3, top_expired_at = NULL
			WHERE id = $1
			RETURNING `+listingColumns, p.ListingID, p.Now, p.ExpiresAt))
		return err
	})
	if err != nil {
		return nil, 0, wrap(op, "listing", err)
	}
	return listing, balance, nil
}

// ExpireBoost clears an overdue boost, a no-op when another sweeper already did
func (r *ListingRepository) ExpireBoost(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE listings
		SET is_top = FALSE, top_expired_at = $2
		WHERE id = $1 AND is_top AND top_expires_at < $2
	`, id, now)
	if err != nil {
		return false, wrap("expire boost", "listing", err)
	}
	return result.RowsAffected() == 1, nil
}

func encodeImages(images []models.Image) ([]byte, error) {
	if images == nil {
		images = []models.Image{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode images: %w", err)
	}
	return data, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var (
		l      models.Listing
		images []byte
	)
	err := row.Scan(&l.ID, &l.OwnerID, &l.OwnerEmail, &l.Title, &l.Category, &l.Description,
		&l.Price, &l.Location, &l.Status, &images, &l.IsTop, &l.TopPurchasedAt, &l.TopExpiresAt,
		&l.TopExpiredAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &l.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt listing %s: %w", l.ID, err)
	}
	return &l, nil
}
