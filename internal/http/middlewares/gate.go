package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/auth"
	"github.com/geocoder89/taskora/internal/authctx"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	AccessTokenCookie = "accessToken"
	projectIDParam    = "projectId"

	msgUnauthorized       = "Unauthorized request"
	msgInvalidAccessToken = "Invalid access token"
	msgProjectIDMissing   = "Project ID is missing"
	msgNotAMember         = "You are not a member of this project"
	msgInsufficientRole   = "You do not have permission to perform this action"
)

type AccessTokenVerifier interface {
	VerifyAccessToken(raw string) (string, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, subjectID string) (user.Public, error)
}

type ProjectAuthorizer interface {
	Authorize(ctx context.Context, userID, projectID string, allowed project.RoleSet) (project.Role, error)
}

// Gate authenticates requests and, per route, authorizes them against the
// caller's project membership. Each request is handled independently; the
// gate keeps no per-request state of its own.
type Gate struct {
	tokens     AccessTokenVerifier
	identities IdentityResolver
	members    ProjectAuthorizer
	log        *slog.Logger
	prom       *observability.Prom
}

func NewGate(tokens AccessTokenVerifier, identities IdentityResolver, members ProjectAuthorizer, log *slog.Logger, prom *observability.Prom) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		tokens:     tokens,
		identities: identities,
		members:    members,
		log:        log,
		prom:       prom,
	}
}

// RequireAuth resolves the caller and attaches it to the request context.
func (g *Gate) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		raw := extractToken(c)
		if raw == "" {
			g.deny(c, "authenticate", "missing_token", apperr.Unauthorized(msgUnauthorized))
			return
		}

		subjectID, err := g.tokens.VerifyAccessToken(raw)
		if err != nil {
			reason := auth.FailureReason(err)
			g.log.InfoContext(ctx, "auth_rejected", "stage", "verify", "reason", reason)
			g.deny(c, "verify", reason, apperr.Unauthorized(msgInvalidAccessToken).WithCause(err))
			return
		}

		u, err := g.identities.Resolve(ctx, subjectID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				g.log.InfoContext(ctx, "auth_rejected", "stage", "resolve", "reason", "user_not_found", "subject", subjectID)
				g.deny(c, "resolve", "user_not_found", apperr.Unauthorized(msgInvalidAccessToken).WithCause(err))
				return
			}
			g.deny(c, "resolve", "error", apperr.Internal("Internal Server Error").WithCause(err))
			return
		}

		g.prom.ObserveAuth("authenticate", "allowed")
		c.Request = c.Request.WithContext(authctx.WithUser(ctx, u))
		c.Next()
	}
}

// RequireProjectRole must run after RequireAuth. An empty role list admits any
// member of the project named by the :projectId path parameter.
func (g *Gate) RequireProjectRole(roles ...project.Role) gin.HandlerFunc {
	allowed := project.Roles(roles...)

	return func(c *gin.Context) {
		ctx, span := otel.Tracer("taskora/http").Start(c.Request.Context(), "gate.authorize")
		defer span.End()

		u, ok := authctx.UserFrom(ctx)
		if !ok {
			// route wiring bug: authorization mounted without authentication
			span.SetStatus(codes.Error, "no current user")
			g.deny(c, "authorize", "unauthenticated", apperr.Unauthorized(msgUnauthorized))
			return
		}

		projectID := strings.TrimSpace(c.Param(projectIDParam))
		if projectID == "" {
			span.SetStatus(codes.Error, "project id missing")
			g.deny(c, "authorize", "missing_project", apperr.BadRequest(msgProjectIDMissing))
			return
		}
		projectID = canonicalParam(c, projectIDParam, projectID)
		span.SetAttributes(
			attribute.String("taskora.user_id", u.ID),
			attribute.String("taskora.project_id", projectID),
		)

		role, err := g.members.Authorize(ctx, u.ID, projectID, allowed)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrNotAMember):
			span.SetStatus(codes.Error, "not a member")
			g.deny(c, "authorize", "not_member", apperr.Forbidden(msgNotAMember).WithCause(err))
			return
		case errors.Is(err, auth.ErrInsufficientRole):
			span.SetStatus(codes.Error, "insufficient role")
			g.deny(c, "authorize", "insufficient_role", apperr.Forbidden(msgInsufficientRole).WithCause(err))
			return
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "membership lookup failed")
			g.deny(c, "authorize", "error", apperr.Internal("Internal Server Error").WithCause(err))
			return
		}

		span.SetAttributes(attribute.String("taskora.project_role", string(role)))
		g.prom.ObserveAuth("authorize", "allowed")

		c.Request = c.Request.WithContext(authctx.WithProjectRole(c.Request.Context(), projectID, role))
		c.Next()
	}
}

// canonicalParam rewrites a UUID path parameter to its lowercase hyphenated
// form so handlers, stores and cache keys all see one spelling of the id.
func canonicalParam(c *gin.Context, name, value string) string {
	id, err := uuid.Parse(value)
	if err != nil {
		return value
	}
	canonical := id.String()
	for i := range c.Params {
		if c.Params[i].Key == name {
			c.Params[i].Value = canonical
		}
	}
	return canonical
}

func (g *Gate) deny(c *gin.Context, stage, outcome string, err *apperr.Error) {
	g.prom.ObserveAuth(stage, outcome)
	abort(c, err)
}

// extractToken prefers the accessToken cookie over the Authorization header.
func extractToken(c *gin.Context) string {
	if v, err := c.Cookie(AccessTokenCookie); err == nil {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CurrentUser returns the caller attached by RequireAuth.
func CurrentUser(c *gin.Context) (user.Public, bool) {
	return authctx.UserFrom(c.Request.Context())
}

// CurrentRole returns the caller's role in the route's project.
func CurrentRole(c *gin.Context) (project.Role, bool) {
	return authctx.RoleFrom(c.Request.Context())
}
