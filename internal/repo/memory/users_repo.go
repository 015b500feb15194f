package memory

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo keeps users in a map. It mirrors the Postgres users and refresh
// token repos and counts reads so callers can assert on store traffic.
type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.User

	reads atomic.Int64
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.User),
	}
}

// Reads is the number of lookups served so far.
func (r *UsersRepo) Reads() int64 {
	return r.reads.Load()
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = now
	u.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Username == u.Username || existing.Email == u.Email {
			return user.User{}, user.ErrAlreadyExists
		}
	}
	r.items[u.ID] = u

	return u, nil
}

// Delete drops the user, for tests that need a subject to vanish.
func (r *UsersRepo) Delete(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.reads.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.reads.Add(1)
	email = strings.ToLower(strings.TrimSpace(email))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.reads.Add(1)
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *UsersRepo) SetEmailVerification(_ context.Context, userID, hash string, expiry time.Time) error {
	return r.update(userID, func(u *user.User) error {
		u.EmailVerificationHash = &hash
		u.EmailVerificationExpiry = &expiry
		return nil
	})
}

func (r *UsersRepo) VerifyEmail(_ context.Context, hash string, now time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.items {
		if u.EmailVerificationHash == nil || *u.EmailVerificationHash != hash {
			continue
		}
		if u.EmailVerificationExpiry == nil || !u.EmailVerificationExpiry.After(now) {
			return user.User{}, user.ErrNotFound
		}

		u.IsEmailVerified = true
		u.EmailVerificationHash = nil
		u.EmailVerificationExpiry = nil
		u.UpdatedAt = now
		r.items[id] = u
		return u, nil
	}
	return user.User{}, user.ErrNotFound
}

// Set overwrites the stored refresh token hash. A nil hash clears it.
func (r *UsersRepo) Set(_ context.Context, userID string, hash *string) error {
	return r.update(userID, func(u *user.User) error {
		u.RefreshTokenHash = hash
		return nil
	})
}

func (r *UsersRepo) Rotate(_ context.Context, userID, presented, next string) error {
	return r.update(userID, func(u *user.User) error {
		if u.RefreshTokenHash == nil || subtle.ConstantTimeCompare([]byte(*u.RefreshTokenHash), []byte(presented)) != 1 {
			return user.ErrRefreshTokenMismatch
		}
		u.RefreshTokenHash = &next
		return nil
	})
}

func (r *UsersRepo) update(id string, fn func(*user.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}
