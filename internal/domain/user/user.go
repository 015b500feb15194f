package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user with username or email already exists")

	// ErrRefreshTokenMismatch means the presented refresh token is not the one
	// currently stored for the user (rotated, cleared or never issued).
	ErrRefreshTokenMismatch = errors.New("refresh token does not match the stored one")
)

// User is the stored account. Sensitive columns are never serialized.
type User struct {
	ID                      string     `json:"id"`
	Username                string     `json:"username"`
	Email                   string     `json:"email"`
	FullName                string     `json:"fullName,omitempty"`
	PasswordHash            string     `json:"-"`
	IsEmailVerified         bool       `json:"isEmailVerified"`
	RefreshTokenHash        *string    `json:"-"`
	EmailVerificationHash   *string    `json:"-"`
	EmailVerificationExpiry *time.Time `json:"-"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// Public is the outbound view of a user.
type Public struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FullName        string    `json:"fullName,omitempty"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (u User) Public() Public {
	return Public{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		FullName:        u.FullName,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=40,alphanum"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"fullName" binding:"omitempty,max=120"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
