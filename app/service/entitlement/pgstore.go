package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serena/app/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PGStore)(nil)

// PGStore keeps user records in Postgres. Per-user serialization comes from
// row locking: every update runs SELECT ... FOR UPDATE inside a transaction.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, cfg *config.Config) (*PGStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s",
		cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Database)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	store := &PGStore{pool: pool}

	if err = store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			user_id           TEXT PRIMARY KEY,
			free_used         INT NOT NULL DEFAULT 0,
			sub_started_at    TIMESTAMPTZ,
			sub_duration_days INT,
			last_message_at   TIMESTAMPTZ
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	return nil
}

func (s *PGStore) Get(ctx context.Context, userID string) (UserRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, free_used, sub_started_at, sub_duration_days, last_message_at
		FROM users
		WHERE user_id = $1;
	`, userID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, fmt.Errorf("failed to get user: %w", err)
	}

	return rec, true, nil
}

func (s *PGStore) Update(ctx context.Context, userID string, mutate func(*UserRecord)) (UserRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING;
	`, userID)
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to insert default user: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT user_id, free_used, sub_started_at, sub_duration_days, last_message_at
		FROM users
		WHERE user_id = $1
		FOR UPDATE;
	`, userID)

	rec, err := scanRecord(row)
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to lock user row: %w", err)
	}

	mutate(&rec)
	rec.UserID = userID

	var subStartedAt *time.Time
	var subDurationDays *int
	if rec.Subscription != nil {
		subStartedAt = &rec.Subscription.StartedAt
		subDurationDays = &rec.Subscription.DurationDays
	}

	var lastMessageAt *time.Time
	if !rec.LastMessageAt.IsZero() {
		lastMessageAt = &rec.LastMessageAt
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET free_used = $1, sub_started_at = $2, sub_duration_days = $3, last_message_at = $4
		WHERE user_id = $5;
	`, rec.FreeUsed, subStartedAt, subDurationDays, lastMessageAt, userID)
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to update user: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return UserRecord{}, fmt.Errorf("failed to commit tx: %w", err)
	}

	return rec, nil
}

func (s *PGStore) Shutdown() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	var subStartedAt *time.Time
	var subDurationDays *int
	var lastMessageAt *time.Time

	if err := row.Scan(&rec.UserID, &rec.FreeUsed, &subStartedAt, &subDurationDays, &lastMessageAt); err != nil {
		return UserRecord{}, err
	}

	if subStartedAt != nil && subDurationDays != nil {
		rec.Subscription = &Subscription{
			StartedAt:    *subStartedAt,
			DurationDays: *subDurationDays,
		}
	}

	if lastMessageAt != nil {
		rec.LastMessageAt = *lastMessageAt
	}

	return rec, nil
}
