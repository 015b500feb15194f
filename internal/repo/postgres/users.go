package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, username, email, full_name, password_hash, is_email_verified,
	refresh_token_hash, email_verification_hash, email_verification_expiry, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	return r.prom.ObserveDB(op, fn)
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.IsEmailVerified,
		&u.RefreshTokenHash,
		&u.EmailVerificationHash,
		&u.EmailVerificationExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = now
	u.UpdatedAt = now

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			u.ID, u.Username, u.Email, u.FullName, u.PasswordHash, u.IsEmailVerified,
			u.RefreshTokenHash, u.EmailVerificationHash, u.EmailVerificationExpiry, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrAlreadyExists
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if !canonicalIDs(&id) {
		return user.User{}, user.ErrNotFound
	}

	var u user.User
	err := r.observe("users.get_by_id", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return err
	})
	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := r.observe("users.get_by_email", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
			strings.TrimSpace(email),
		))
		return err
	})
	return u, err
}

func (r *UsersRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.observe("users.exists", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM users
				WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2)
			)
		`, strings.TrimSpace(username), strings.TrimSpace(email)).Scan(&exists)
	})
	return exists, err
}

// SetEmailVerification stores the hashed verification token and its expiry.
func (r *UsersRepo) SetEmailVerification(ctx context.Context, userID, hash string, expiry time.Time) error {
	return r.observe("users.set_email_verification", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE users
			SET email_verification_hash = $2,
			    email_verification_expiry = $3,
			    updated_at = NOW()
			WHERE id = $1
		`, userID, hash, expiry)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}
		return nil
	})
}

// VerifyEmail consumes a live verification token. Unknown or expired hashes
// report user.ErrNotFound.
func (r *UsersRepo) VerifyEmail(ctx context.Context, hash string, now time.Time) (user.User, error) {
	var u user.User
	err := r.observe("users.verify_email", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET is_email_verified = TRUE,
			    email_verification_hash = NULL,
			    email_verification_expiry = NULL,
			    updated_at = NOW()
			WHERE email_verification_hash = $1
			  AND email_verification_expiry > $2
			RETURNING `+userColumns,
			hash, now,
		))
		return err
	})
	return u, err
}
