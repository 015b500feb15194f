package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/taskora/internal/cache"
	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
)

const statsTimeout = 10 * time.Second

type StatsStore interface {
	Stats(ctx context.Context, projectID string) (task.Stats, error)
}

type AnalyticsHandler struct {
	tasks StatsStore
	cache *cache.Cache
	group singleflight.Group
}

func NewAnalyticsHandler(tasks StatsStore, c *cache.Cache) *AnalyticsHandler {
	return &AnalyticsHandler{tasks: tasks, cache: c}
}

// Project serves the task distribution of one project. Results are cached
// until a task write in that project or the cache TTL.
func (h *AnalyticsHandler) Project(ctx *gin.Context) {
	projectID := ctx.Param("projectId")
	prefix := cache.ProjectPrefix(projectID)
	key := cache.ProjectStatsKey(projectID)

	if v, ok := h.cache.Get(key); ok {
		if stats, ok := v.(task.Stats); ok {
			ctx.Header("X-Cache", "HIT")
			RespondOKWithETag(ctx, stats, "Project analytics fetched successfully")
			return
		}
	}

	// Concurrent misses of one generation share a single aggregation. It runs
	// detached from any one caller so a disconnect does not fail the others.
	gen := h.cache.Generation(prefix)
	detached := context.WithoutCancel(ctx.Request.Context())

	ch := h.group.DoChan(key+"@"+gen.String(), func() (any, error) {
		c, cancel := context.WithTimeout(detached, statsTimeout)
		defer cancel()

		stats, err := h.tasks.Stats(c, projectID)
		if err != nil {
			return nil, err
		}
		h.cache.SetIfGeneration(key, prefix, gen, stats)
		return stats, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			failInternal(ctx, res.Err)
			return
		}
		ctx.Header("X-Cache", "MISS")
		RespondOKWithETag(ctx, res.Val.(task.Stats), "Project analytics fetched successfully")
	case <-ctx.Request.Context().Done():
		failInternal(ctx, ctx.Request.Context().Err())
	}
}
