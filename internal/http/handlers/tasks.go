package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/cache"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type TaskStore interface {
	ListByProject(ctx context.Context, projectID string) ([]task.Task, error)
	ListAssignedTo(ctx context.Context, userID string) ([]task.Task, error)
	Create(ctx context.Context, projectID, assignedBy string, req task.CreateRequest) (task.Task, error)
	GetByID(ctx context.Context, projectID, taskID string) (task.Task, error)
	Update(ctx context.Context, projectID, taskID string, req task.UpdateRequest) (task.Task, error)
	Assign(ctx context.Context, projectID, taskID string, assignee *string) (task.Task, error)
	Delete(ctx context.Context, projectID, taskID string) error
	CreateSubtask(ctx context.Context, projectID, taskID, createdBy string, req task.CreateSubtaskRequest) (task.Subtask, error)
	UpdateSubtask(ctx context.Context, projectID, taskID, subtaskID string, req task.UpdateSubtaskRequest) (task.Subtask, error)
	DeleteSubtask(ctx context.Context, projectID, taskID, subtaskID string) error
}

// RoleLookup answers whether a user belongs to a project without failing on
// non-members.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID, projectID string) (project.Role, bool, error)
}

type TasksHandler struct {
	tasks   TaskStore
	users   UserByEmail
	members RoleLookup
	cache   *cache.Cache
}

func NewTasksHandler(tasks TaskStore, users UserByEmail, members RoleLookup, c *cache.Cache) *TasksHandler {
	return &TasksHandler{
		tasks:   tasks,
		users:   users,
		members: members,
		cache:   c,
	}
}

func (h *TasksHandler) List(ctx *gin.Context) {
	list, err := h.tasks.ListByProject(ctx.Request.Context(), ctx.Param("projectId"))
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, list, "Tasks fetched successfully")
}

func (h *TasksHandler) AssignedToMe(ctx *gin.Context) {
	u, _ := middlewares.CurrentUser(ctx)

	list, err := h.tasks.ListAssignedTo(ctx.Request.Context(), u.ID)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, list, "Assigned tasks fetched successfully")
}

func (h *TasksHandler) Create(ctx *gin.Context) {
	var req task.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	projectID := ctx.Param("projectId")
	c := ctx.Request.Context()

	if email := strings.TrimSpace(req.AssignedToEmail); email != "" {
		assignee, err := h.users.GetByEmail(c, email)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				fail(ctx, apperr.NotFound("Assignee not found"))
				return
			}
			failInternal(ctx, err)
			return
		}
		req.AssignedTo = &assignee.ID
	}

	if !h.assigneeIsMember(ctx, projectID, req.AssignedTo) {
		return
	}

	u, _ := middlewares.CurrentUser(ctx)

	t, err := h.tasks.Create(c, projectID, u.ID, req)
	if err != nil {
		taskError(ctx, err)
		return
	}

	h.invalidate(projectID)
	RespondOK(ctx, http.StatusCreated, t, "Task created successfully")
}

func (h *TasksHandler) Get(ctx *gin.Context) {
	t, err := h.tasks.GetByID(ctx.Request.Context(), ctx.Param("projectId"), ctx.Param("taskId"))
	if err != nil {
		taskError(ctx, err)
		return
	}

	RespondOKWithETag(ctx, t, "Task fetched successfully")
}

func (h *TasksHandler) Update(ctx *gin.Context) {
	var req task.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	projectID := ctx.Param("projectId")

	t, err := h.tasks.Update(ctx.Request.Context(), projectID, ctx.Param("taskId"), req)
	if err != nil {
		taskError(ctx, err)
		return
	}

	h.invalidate(projectID)
	RespondOK(ctx, http.StatusOK, t, "Task updated successfully")
}

// Assign sets the assignee; a null assignedTo unassigns the task.
func (h *TasksHandler) Assign(ctx *gin.Context) {
	var req task.AssignRequest

	if !BindJSON(ctx, &req) {
		return
	}

	projectID := ctx.Param("projectId")

	if !h.assigneeIsMember(ctx, projectID, req.AssignedTo) {
		return
	}

	t, err := h.tasks.Assign(ctx.Request.Context(), projectID, ctx.Param("taskId"), req.AssignedTo)
	if err != nil {
		taskError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, t, "Task assigned successfully")
}

func (h *TasksHandler) Delete(ctx *gin.Context) {
	projectID := ctx.Param("projectId")

	if err := h.tasks.Delete(ctx.Request.Context(), projectID, ctx.Param("taskId")); err != nil {
		taskError(ctx, err)
		return
	}

	h.invalidate(projectID)
	RespondOK(ctx, http.StatusOK, gin.H{}, "Task deleted successfully")
}

func (h *TasksHandler) CreateSubtask(ctx *gin.Context) {
	var req task.CreateSubtaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u, _ := middlewares.CurrentUser(ctx)

	s, err := h.tasks.CreateSubtask(ctx.Request.Context(), ctx.Param("projectId"), ctx.Param("taskId"), u.ID, req)
	if err != nil {
		taskError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusCreated, s, "Subtask created successfully")
}

func (h *TasksHandler) UpdateSubtask(ctx *gin.Context) {
	var req task.UpdateSubtaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	s, err := h.tasks.UpdateSubtask(ctx.Request.Context(), ctx.Param("projectId"), ctx.Param("taskId"), ctx.Param("subtaskId"), req)
	if err != nil {
		taskError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, s, "Subtask updated successfully")
}

func (h *TasksHandler) DeleteSubtask(ctx *gin.Context) {
	err := h.tasks.DeleteSubtask(ctx.Request.Context(), ctx.Param("projectId"), ctx.Param("taskId"), ctx.Param("subtaskId"))
	if err != nil {
		taskError(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, gin.H{}, "Subtask deleted successfully")
}

// assigneeIsMember fails the request unless assignee is nil or belongs to
// projectID.
func (h *TasksHandler) assigneeIsMember(ctx *gin.Context, projectID string, assignee *string) bool {
	if assignee == nil {
		return true
	}

	_, found, err := h.members.RoleOf(ctx.Request.Context(), *assignee, projectID)
	if err != nil {
		failInternal(ctx, err)
		return false
	}
	if !found {
		fail(ctx, apperr.BadRequest("Assignee must be a member of this project"))
		return false
	}
	return true
}

func (h *TasksHandler) invalidate(projectID string) {
	h.cache.DeletePrefix(cache.ProjectPrefix(projectID))
}

func taskError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		fail(ctx, apperr.NotFound("Task not found"))
	case errors.Is(err, task.ErrSubtaskNotFound):
		fail(ctx, apperr.NotFound("Subtask not found"))
	case errors.Is(err, task.ErrAssigneeMissing):
		fail(ctx, apperr.BadRequest("Assignee not found"))
	default:
		failInternal(ctx, err)
	}
}
