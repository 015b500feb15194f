package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/taskora/internal/domain/user"
)

var ErrUserNotFound = errors.New("token subject does not exist")

// UserStore returns user.ErrNotFound when no user has the id.
type UserStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type IdentityResolver struct {
	users UserStore
}

func NewIdentityResolver(users UserStore) *IdentityResolver {
	return &IdentityResolver{users: users}
}

// Resolve loads the user a verified token refers to, without sensitive fields.
func (r *IdentityResolver) Resolve(ctx context.Context, subjectID string) (user.Public, error) {
	u, err := r.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Public{}, ErrUserNotFound
		}
		return user.Public{}, fmt.Errorf("resolve identity: %w", err)
	}

	return u.Public(), nil
}
