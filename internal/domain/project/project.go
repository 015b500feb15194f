package project

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("project not found")
	ErrNameTaken          = errors.New("project name already taken")
	ErrMembershipNotFound = errors.New("project membership not found")
	ErrInvalidRole        = errors.New("invalid project role")
	ErrLastAdmin          = errors.New("project must keep at least one admin")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusOnHold, StatusCompleted:
		return true
	default:
		return false
	}
}

type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	Status      Status     `json:"status"`
	StartDate   time.Time  `json:"startDate"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Summary is a project as seen from one member's project list.
type Summary struct {
	Project Project `json:"project"`
	Role    Role    `json:"role"`
	Members int     `json:"members"`
}

// Member is one row of a project's member list.
type Member struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName,omitempty"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateRequest struct {
	Name        string     `json:"name" binding:"required,min=1,max=120"`
	Description string     `json:"description" binding:"omitempty,max=2000"`
	StartDate   *time.Time `json:"startDate"`
	Deadline    *time.Time `json:"deadline"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name        *string    `json:"name" binding:"omitempty,min=1,max=120"`
	Description *string    `json:"description" binding:"omitempty,max=2000"`
	StartDate   *time.Time `json:"startDate"`
	Deadline    *time.Time `json:"deadline"`
	Status      *Status    `json:"status" binding:"omitempty,projectstatus"`
}

type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  Role   `json:"role" binding:"required,role"`
}

type UpdateMemberRoleRequest struct {
	NewRole Role `json:"newRole" binding:"required,role"`
}

// NormalizeName trims the name used for uniqueness checks.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

func (r CreateRequest) Validate() error {
	if NormalizeName(r.Name) == "" {
		return fmt.Errorf("project name is required")
	}
	if r.StartDate != nil && r.Deadline != nil && r.Deadline.Before(*r.StartDate) {
		return fmt.Errorf("deadline must not be before start date")
	}
	return nil
}
