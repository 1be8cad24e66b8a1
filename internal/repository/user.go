package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles database operations for users and profiles
type UserRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool, timeout time.Duration) *UserRepository {
	return &UserRepository{db: db, timeout: timeout}
}

const profileColumns = `user_id, name, email, kind, balance, first_name, last_name, phone,
	birth_date, company, push_token, last_balance_update, balance_update_reason, created_at`

// CreateWithProfile creates a new user together with its profile
func (r *UserRepository) CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error {
	if err := profile.Validate(); err != nil {
		return apperr.Validation("create user", "%v", err)
	}
	company, err := json.Marshal(profile.Company)
	if err != nil {
		return fmt.Errorf("failed to encode company: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, kind, password_hash, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, user.ID, user.Email, user.Kind, user.PasswordHash, user.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO profiles (user_id, name, email, kind, balance, first_name, last_name, phone,
				birth_date, company, push_token, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, profile.UserID, profile.Name, profile.Email, profile.Kind, profile.Balance,
			profile.FirstName, profile.LastName, profile.Phone, profile.BirthDate,
			company, profile.PushToken, profile.CreatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Validation("create user", "email %s is already registered", user.Email)
		}
		return wrap("create user", "user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepository) getBy(ctx context.Context, column, value string) (*models.User, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT id, email, kind, password_hash, created_at FROM users WHERE ` + column + ` = $1`
	var user models.User
	err := r.db.QueryRow(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.Kind, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, wrap("get user", "user", err)
	}
	return &user, nil
}

// GetProfile retrieves the profile of a user
func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, wrap("get profile", "profile", err)
	}
	return profile, nil
}

// UpdateProfile stores the self editable profile fields. Balance is not touched here.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	if err := profile.Validate(); err != nil {
		return apperr.Validation("update profile", "%v", err)
	}
	company, err := json.Marshal(profile.Company)
	if err != nil {
		return fmt.Errorf("failed to encode company: %w", err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE profiles
		SET name = $2, first_name = $3, last_name = $4, phone = $5, birth_date = $6, company = $7
		WHERE user_id = $1
	`, profile.UserID, profile.Name, profile.FirstName, profile.LastName, profile.Phone,
		profile.BirthDate, company)
	if err != nil {
		return wrap("update profile", "profile", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("update profile", "profile")
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	result, err := r.db.Exec(ctx, `UPDATE profiles SET push_token = $1 WHERE user_id = $2`, pushToken, userID)
	if err != nil {
		return wrap("update push token", "profile", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("update push token", "profile")
	}
	return nil
}

// ListProfiles returns every profile, for user search
func (r *UserRepository) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	ctx, cancel := readTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at`)
	if err != nil {
		return nil, wrap("list profiles", "profile", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, wrap("list profiles", "profile", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list profiles", "profile", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var (
		p       models.Profile
		company []byte
	)
	err := row.Scan(&p.UserID, &p.Name, &p.Email, &p.Kind, &p.Balance, &p.FirstName, &p.LastName,
		&p.Phone, &p.BirthDate, &company, &p.PushToken, &p.LastBalanceUpdate,
		&p.BalanceUpdateReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(company) > 0 && string(company) != "null" {
		p.Company = &models.Company{}
		if err := json.Unmarshal(company, p.Company); err != nil {
			return nil, fmt.Errorf("failed to decode company: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt profile %s: %w", p.UserID, err)
	}
	return &p, nil
}
