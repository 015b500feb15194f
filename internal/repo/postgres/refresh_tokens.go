package postgres

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshTokensRepo manages the single refresh token hash kept on each user row.
type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, prom *observability.Prom) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, prom: prom}
}

func (r *RefreshTokensRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// Locks the row to prevent concurrent refresh races
func (r *RefreshTokensRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*string, error) {
	var hash *string

	err := r.prom.ObserveDB("refresh_tokens.get_for_update", func() error {
		return tx.QueryRow(ctx, `
			SELECT refresh_token_hash
			FROM users
			WHERE id = $1
			FOR UPDATE
		`, userID).Scan(&hash)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}

	return hash, nil
}

func (r *RefreshTokensRepo) Replace(ctx context.Context, tx pgx.Tx, userID string, hash *string) error {
	return r.prom.ObserveDB("refresh_tokens.replace", func() error {
		_, err := tx.Exec(ctx, `
			UPDATE users
			SET refresh_token_hash = $2, updated_at = NOW()
			WHERE id = $1
		`, userID, hash)
		return err
	})
}

// Set overwrites the stored hash outside a rotation. A nil hash clears it.
func (r *RefreshTokensRepo) Set(ctx context.Context, userID string, hash *string) error {
	if !canonicalIDs(&userID) {
		return user.ErrNotFound
	}

	return r.prom.ObserveDB("refresh_tokens.set", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE users
			SET refresh_token_hash = $2, updated_at = NOW()
			WHERE id = $1
		`, userID, hash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}
		return nil
	})
}

// Rotate swaps presented for next under a row lock. It fails with
// user.ErrRefreshTokenMismatch when presented is not the stored hash, which also
// covers a token that was already rotated or cleared by logout.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, userID, presented, next string) error {
	if !canonicalIDs(&userID) {
		return user.ErrNotFound
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stored, err := r.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}

	if stored == nil || subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) != 1 {
		return user.ErrRefreshTokenMismatch
	}

	if err := r.Replace(ctx, tx, userID, &next); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
