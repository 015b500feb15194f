package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/taskora/internal/domain/project"
)

var (
	ErrNotAMember       = errors.New("user is not a member of the project")
	ErrInsufficientRole = errors.New("member role not allowed")
)

// MembershipStore returns project.ErrMembershipNotFound when the user has no
// row for the project.
type MembershipStore interface {
	FindRole(ctx context.Context, userID, projectID string) (project.Role, error)
}

type MembershipAuthority struct {
	members MembershipStore
}

func NewMembershipAuthority(members MembershipStore) *MembershipAuthority {
	return &MembershipAuthority{members: members}
}

func (a *MembershipAuthority) RoleOf(ctx context.Context, userID, projectID string) (project.Role, bool, error) {
	role, err := a.members.FindRole(ctx, userID, projectID)
	if err != nil {
		if errors.Is(err, project.ErrMembershipNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup membership: %w", err)
	}

	if !role.IsValid() {
		return "", false, fmt.Errorf("membership has unknown role %q", role)
	}

	return role, true, nil
}

// Authorize returns the caller's role when it is in allowed. An empty allowed
// set lets any member through.
func (a *MembershipAuthority) Authorize(ctx context.Context, userID, projectID string, allowed project.RoleSet) (project.Role, error) {
	role, found, err := a.RoleOf(ctx, userID, projectID)
	if err != nil {
		return "", err
	}

	if !found {
		return "", ErrNotAMember
	}

	if !allowed.Allows(role) {
		return "", ErrInsufficientRole
	}

	return role, nil
}
