package organization

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("organization not found")
	ErrNameTaken     = errors.New("organization name already taken")
	ErrAlreadyMember = errors.New("user is already an organization member")
	ErrUserNotFound  = errors.New("organization member user not found")
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleMember
}

type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Members     []Member  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Member is one row of an organization's member list.
type Member struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName,omitempty"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleOf returns userID's role, or false when userID is not a member.
func (o Organization) RoleOf(userID string) (Role, bool) {
	for _, m := range o.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// Summary is an organization as seen from one member's list.
type Summary struct {
	Organization Organization `json:"organization"`
	Role         Role         `json:"role"`
	Members      int          `json:"members"`
}

type CreateRequest struct {
	Name        string `json:"name" binding:"required,max=120"`
	Description string `json:"description" binding:"omitempty,max=2000"`
}

// AddMemberRequest adds a user by email; the role defaults to member.
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  Role   `json:"role" binding:"omitempty,oneof=admin member"`
}

// NormalizeName trims the name used for the case-insensitive uniqueness check.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}
