package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/cache"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type ProjectStore interface {
	ListForUser(ctx context.Context, userID string) ([]project.Summary, error)
	GetByID(ctx context.Context, id string) (project.Project, error)
	Create(ctx context.Context, creatorID string, req project.CreateRequest) (project.Project, error)
	Update(ctx context.Context, id string, req project.UpdateRequest) (project.Project, error)
	Delete(ctx context.Context, id string) error
}

type MemberStore interface {
	ListByProject(ctx context.Context, projectID string) ([]project.Member, error)
	Upsert(ctx context.Context, projectID, userID string, role project.Role) error
	UpdateRole(ctx context.Context, projectID, userID string, role project.Role) error
	Delete(ctx context.Context, projectID, userID string) error
}

type UserByEmail interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

type ProjectsHandler struct {
	projects ProjectStore
	members  MemberStore
	users    UserByEmail
	cache    *cache.Cache
}

func NewProjectsHandler(projects ProjectStore, members MemberStore, users UserByEmail, c *cache.Cache) *ProjectsHandler {
	return &ProjectsHandler{
		projects: projects,
		members:  members,
		users:    users,
		cache:    c,
	}
}

func (h *ProjectsHandler) List(ctx *gin.Context) {
	u, _ := middlewares.CurrentUser(ctx)

	list, err := h.projects.ListForUser(ctx.Request.Context(), u.ID)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, list, "Projects fetched successfully")
}

func (h *ProjectsHandler) Create(ctx *gin.Context) {
	var req project.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		fail(ctx, apperr.BadRequest(err.Error()))
		return
	}

	u, _ := middlewares.CurrentUser(ctx)

	p, err := h.projects.Create(ctx.Request.Context(), u.ID, req)
	if err != nil {
		projectError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusCreated, p, "Project created successfully")
}

func (h *ProjectsHandler) Get(ctx *gin.Context) {
	p, err := h.projects.GetByID(ctx.Request.Context(), ctx.Param("projectId"))
	if err != nil {
		projectError(ctx, err)
		return
	}

	role, _ := middlewares.CurrentRole(ctx)
	RespondOKWithETag(ctx, gin.H{"project": p, "role": role}, "Project fetched successfully")
}

func (h *ProjectsHandler) Update(ctx *gin.Context) {
	var req project.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}
	if req.Name != nil && project.NormalizeName(*req.Name) == "" {
		fail(ctx, apperr.BadRequest("project name is required"))
		return
	}

	p, err := h.projects.Update(ctx.Request.Context(), ctx.Param("projectId"), req)
	if err != nil {
		projectError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, p, "Project updated successfully")
}

func (h *ProjectsHandler) Delete(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	if err := h.projects.Delete(ctx.Request.Context(), projectID); err != nil {
		projectError(ctx, err)
		return
	}

	h.cache.DeletePrefix(cache.ProjectPrefix(projectID))
	RespondOK(ctx, http.StatusOK, gin.H{}, "Project deleted successfully")
}

func (h *ProjectsHandler) ListMembers(ctx *gin.Context) {
	members, err := h.members.ListByProject(ctx.Request.Context(), ctx.Param("projectId"))
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, members, "Project members fetched successfully")
}

// AddMember adds the user with the given email, or changes their role if they
// already belong to the project.
func (h *ProjectsHandler) AddMember(ctx *gin.Context) {
	var req project.AddMemberRequest

	if !BindJSON(ctx, &req) {
		return
	}

	role, err := project.ParseRole(string(req.Role))
	if err != nil {
		fail(ctx, apperr.BadRequest("Invalid role"))
		return
	}

	c := ctx.Request.Context()

	u, err := h.users.GetByEmail(c, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(ctx, apperr.NotFound("User does not exist"))
			return
		}
		failInternal(ctx, err)
		return
	}

	if err := h.members.Upsert(c, ctx.Param("projectId"), u.ID, role); err != nil {
		projectError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusCreated, gin.H{"userId": u.ID, "role": role}, "Project member added successfully")
}

func (h *ProjectsHandler) UpdateMemberRole(ctx *gin.Context) {
	var req project.UpdateMemberRoleRequest

	if !BindJSON(ctx, &req) {
		return
	}

	role, err := project.ParseRole(string(req.NewRole))
	if err != nil {
		fail(ctx, apperr.BadRequest("Invalid role"))
		return
	}

	userID := ctx.Param("userId")

	if err := h.members.UpdateRole(ctx.Request.Context(), ctx.Param("projectId"), userID, role); err != nil {
		projectError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, gin.H{"userId": userID, "role": role}, "Project member role updated successfully")
}

func (h *ProjectsHandler) RemoveMember(ctx *gin.Context) {
	if err := h.members.Delete(ctx.Request.Context(), ctx.Param("projectId"), ctx.Param("userId")); err != nil {
		projectError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, gin.H{}, "Project member deleted successfully")
}

func projectError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		fail(ctx, apperr.NotFound("Project not found"))
	case errors.Is(err, project.ErrNameTaken):
		fail(ctx, apperr.Conflict("project_exists", "Project with this name already exists"))
	case errors.Is(err, project.ErrMembershipNotFound):
		fail(ctx, apperr.NotFound("Project member not found"))
	case errors.Is(err, project.ErrLastAdmin):
		fail(ctx, apperr.Conflict("last_admin", "Project must keep at least one admin"))
	case errors.Is(err, project.ErrInvalidRole):
		fail(ctx, apperr.BadRequest("Invalid role"))
	default:
		failInternal(ctx, err)
	}
}
