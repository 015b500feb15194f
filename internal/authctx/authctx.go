// Package authctx threads the resolved caller through request contexts as
// immutable values.
package authctx

import (
	"context"

	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/user"
)

type ctxKey string

const (
	keyUser        ctxKey = "auth.user"
	keyProjectRole ctxKey = "auth.projectRole"
)

type projectRole struct {
	projectID string
	role      project.Role
}

func WithUser(ctx context.Context, u user.Public) context.Context {
	return context.WithValue(ctx, keyUser, u)
}

func UserFrom(ctx context.Context) (user.Public, bool) {
	u, ok := ctx.Value(keyUser).(user.Public)
	return u, ok && u.ID != ""
}

func UserIDFrom(ctx context.Context) (string, bool) {
	u, ok := UserFrom(ctx)
	return u.ID, ok
}

// WithProjectRole records the caller's role for the project the request is
// scoped to.
func WithProjectRole(ctx context.Context, projectID string, role project.Role) context.Context {
	return context.WithValue(ctx, keyProjectRole, projectRole{projectID: projectID, role: role})
}

func ProjectRoleFrom(ctx context.Context) (string, project.Role, bool) {
	pr, ok := ctx.Value(keyProjectRole).(projectRole)
	if !ok || pr.projectID == "" || !pr.role.IsValid() {
		return "", "", false
	}
	return pr.projectID, pr.role, true
}

func RoleFrom(ctx context.Context) (project.Role, bool) {
	_, role, ok := ProjectRoleFrom(ctx)
	return role, ok
}
