package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"services-market-backend/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// PostgresStore is the PostgreSQL backed Store
type PostgresStore struct {
	db            *pgxpool.Pool
	users         *UserRepository
	listings      *ListingRepository
	conversations *ConversationRepository
}

// NewPostgresStore creates repositories on top of an open pool.
// Reads are bounded by queryTimeout when it is positive.
func NewPostgresStore(db *pgxpool.Pool, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:            db,
		users:         NewUserRepository(db, queryTimeout),
		listings:      NewListingRepository(db, queryTimeout),
		conversations: NewConversationRepository(db, queryTimeout),
	}
}

func (s *PostgresStore) Users() UserStore                 { return s.users }
func (s *PostgresStore) Listings() ListingStore           { return s.listings }
func (s *PostgresStore) Conversations() ConversationStore { return s.conversations }

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return apperr.Unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() { s.db.Close() }

// Migrate creates the schema if it does not exist yet
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// readTimeout bounds a read without changing its result on success
func readTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// wrap converts driver errors into the application taxonomy
func wrap(op, what string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, what)
	}
	return apperr.Unavailable(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
