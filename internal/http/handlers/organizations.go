package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/domain/organization"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type OrganizationStore interface {
	Create(ctx context.Context, ownerID string, req organization.CreateRequest) (organization.Organization, error)
	ListForUser(ctx context.Context, userID string) ([]organization.Summary, error)
	GetByID(ctx context.Context, id string) (organization.Organization, error)
	AddMember(ctx context.Context, organizationID, userID string, role organization.Role) error
}

// OrganizationsHandler checks membership itself: organization routes carry no
// :projectId for the gate to authorize against.
type OrganizationsHandler struct {
	orgs  OrganizationStore
	users UserByEmail
}

func NewOrganizationsHandler(orgs OrganizationStore, users UserByEmail) *OrganizationsHandler {
	return &OrganizationsHandler{orgs: orgs, users: users}
}

func (h *OrganizationsHandler) Create(ctx *gin.Context) {
	var req organization.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}
	if organization.NormalizeName(req.Name) == "" {
		fail(ctx, apperr.BadRequest("Organization name is required"))
		return
	}

	u, _ := middlewares.CurrentUser(ctx)

	o, err := h.orgs.Create(ctx.Request.Context(), u.ID, req)
	if err != nil {
		organizationError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusCreated, o, "Organization created successfully")
}

func (h *OrganizationsHandler) List(ctx *gin.Context) {
	u, _ := middlewares.CurrentUser(ctx)

	list, err := h.orgs.ListForUser(ctx.Request.Context(), u.ID)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, list, "Organizations fetched successfully")
}

func (h *OrganizationsHandler) Get(ctx *gin.Context) {
	o, ok := h.load(ctx)
	if !ok {
		return
	}

	u, _ := middlewares.CurrentUser(ctx)
	if _, member := o.RoleOf(u.ID); !member {
		fail(ctx, apperr.Forbidden("You are not a member of this organization"))
		return
	}

	RespondOKWithETag(ctx, o, "Organization fetched successfully")
}

// AddMember lets an organization admin add an existing user by email.
func (h *OrganizationsHandler) AddMember(ctx *gin.Context) {
	var req organization.AddMemberRequest

	if !BindJSON(ctx, &req) {
		return
	}
	if req.Role == "" {
		req.Role = organization.RoleMember
	}

	o, ok := h.load(ctx)
	if !ok {
		return
	}

	caller, _ := middlewares.CurrentUser(ctx)
	if role, _ := o.RoleOf(caller.ID); role != organization.RoleAdmin {
		fail(ctx, apperr.Forbidden("Only admins can add members"))
		return
	}

	c := ctx.Request.Context()

	target, err := h.users.GetByEmail(c, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(ctx, apperr.NotFound("User not found"))
			return
		}
		failInternal(ctx, err)
		return
	}
	if _, member := o.RoleOf(target.ID); member {
		organizationError(ctx, organization.ErrAlreadyMember)
		return
	}

	if err := h.orgs.AddMember(c, o.ID, target.ID, req.Role); err != nil {
		organizationError(ctx, err)
		return
	}

	updated, err := h.orgs.GetByID(c, o.ID)
	if err != nil {
		organizationError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, updated, "Member added successfully")
}

func (h *OrganizationsHandler) load(ctx *gin.Context) (organization.Organization, bool) {
	o, err := h.orgs.GetByID(ctx.Request.Context(), ctx.Param("organizationId"))
	if err != nil {
		organizationError(ctx, err)
		return organization.Organization{}, false
	}
	return o, true
}

func organizationError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, organization.ErrNotFound):
		fail(ctx, apperr.NotFound("Organization not found"))
	case errors.Is(err, organization.ErrNameTaken):
		fail(ctx, apperr.Conflict("organization_exists", "Organization with this name already exists"))
	case errors.Is(err, organization.ErrAlreadyMember):
		fail(ctx, apperr.Conflict("already_member", "User is already a member"))
	case errors.Is(err, organization.ErrUserNotFound):
		fail(ctx, apperr.NotFound("User not found"))
	default:
		failInternal(ctx, err)
	}
}
