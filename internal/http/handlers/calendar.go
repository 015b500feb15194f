package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

const (
	defaultCalendarSpan = 30 * 24 * time.Hour
	maxCalendarSpan     = 366 * 24 * time.Hour
)

type DeadlineStore interface {
	ListDeadlines(ctx context.Context, userID, projectID string, from, to time.Time) ([]task.Task, error)
}

type CalendarHandler struct {
	tasks DeadlineStore
	now   func() time.Time
}

func NewCalendarHandler(tasks DeadlineStore) *CalendarHandler {
	return &CalendarHandler{tasks: tasks, now: time.Now}
}

// Tasks lists the caller's tasks with a deadline in [from, to). Both bounds
// are optional and start/end are accepted as aliases; the default window
// starts today and spans 30 days.
func (h *CalendarHandler) Tasks(ctx *gin.Context) {
	from, ok := parseCalendarTime(ctx, "from", "start")
	if !ok {
		return
	}
	to, ok := parseCalendarTime(ctx, "to", "end")
	if !ok {
		return
	}

	if from.IsZero() {
		from = h.now().UTC().Truncate(24 * time.Hour)
	}
	if to.IsZero() {
		to = from.Add(defaultCalendarSpan)
	}

	if !to.After(from) {
		fail(ctx, apperr.BadRequest("to must be after from"))
		return
	}
	if to.Sub(from) > maxCalendarSpan {
		fail(ctx, apperr.BadRequest("date range must not exceed 366 days"))
		return
	}

	u, _ := middlewares.CurrentUser(ctx)

	list, err := h.tasks.ListDeadlines(ctx.Request.Context(), u.ID, strings.TrimSpace(ctx.Query("projectId")), from, to)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOKWithETag(ctx, list, "Calendar tasks fetched successfully")
}

// parseCalendarTime reads the first of names present in the query and accepts
// RFC 3339 timestamps or plain dates. A missing parameter yields the zero time.
func parseCalendarTime(ctx *gin.Context, names ...string) (time.Time, bool) {
	var name, raw string
	for _, name = range names {
		if raw = strings.TrimSpace(ctx.Query(name)); raw != "" {
			break
		}
	}
	if raw == "" {
		return time.Time{}, true
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}

	fail(ctx, apperr.BadRequest("Invalid "+name+" date").WithDetails(FieldError{
		Field:   name,
		Rule:    "datetime",
		Message: "must be an RFC 3339 timestamp or a YYYY-MM-DD date",
	}))
	return time.Time{}, false
}
