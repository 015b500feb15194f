package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/taskora/internal/cache"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/geocoder89/taskora/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

type fakeTasksRepo struct {
	created      *task.CreateRequest
	createdBy    string
	assigned     *string
	stats        task.Stats
	statsCalls   int
	deadlineArgs []any

	deleteSubtaskErr error
}

func (f *fakeTasksRepo) ListByProject(context.Context, string) ([]task.Task, error) {
	return []task.Task{}, nil
}

func (f *fakeTasksRepo) ListAssignedTo(_ context.Context, userID string) ([]task.Task, error) {
	return []task.Task{{ID: "t1", AssignedTo: &userID}}, nil
}

func (f *fakeTasksRepo) Create(_ context.Context, projectID, assignedBy string, req task.CreateRequest) (task.Task, error) {
	req.Defaults()
	f.created = &req
	f.createdBy = assignedBy
	return task.Task{ID: "t1", ProjectID: projectID, Title: req.Title, Status: req.Status, Priority: req.Priority, AssignedTo: req.AssignedTo, AssignedBy: assignedBy}, nil
}

func (f *fakeTasksRepo) GetByID(_ context.Context, projectID, taskID string) (task.Task, error) {
	if taskID != "t1" {
		return task.Task{}, task.ErrNotFound
	}
	return task.Task{ID: taskID, ProjectID: projectID}, nil
}

func (f *fakeTasksRepo) Update(_ context.Context, projectID, taskID string, _ task.UpdateRequest) (task.Task, error) {
	return task.Task{ID: taskID, ProjectID: projectID}, nil
}

func (f *fakeTasksRepo) Assign(_ context.Context, projectID, taskID string, assignee *string) (task.Task, error) {
	f.assigned = assignee
	return task.Task{ID: taskID, ProjectID: projectID, AssignedTo: assignee}, nil
}

func (f *fakeTasksRepo) Delete(context.Context, string, string) error { return nil }

func (f *fakeTasksRepo) CreateSubtask(_ context.Context, _, taskID, createdBy string, req task.CreateSubtaskRequest) (task.Subtask, error) {
	return task.Subtask{ID: "s1", TaskID: taskID, Title: req.Title, CreatedBy: createdBy}, nil
}

func (f *fakeTasksRepo) UpdateSubtask(_ context.Context, _, taskID, subtaskID string, req task.UpdateSubtaskRequest) (task.Subtask, error) {
	s := task.Subtask{ID: subtaskID, TaskID: taskID}
	if req.IsCompleted != nil {
		s.IsCompleted = *req.IsCompleted
	}
	return s, nil
}

func (f *fakeTasksRepo) DeleteSubtask(context.Context, string, string, string) error {
	return f.deleteSubtaskErr
}

func (f *fakeTasksRepo) Stats(context.Context, string) (task.Stats, error) {
	f.statsCalls++
	return f.stats, nil
}

func (f *fakeTasksRepo) ListDeadlines(_ context.Context, userID, projectID string, from, to time.Time) ([]task.Task, error) {
	f.deadlineArgs = []any{userID, projectID, from, to}
	return []task.Task{}, nil
}

// fakeRoles answers RoleOf from a "user/project" keyed map.
type fakeRoles map[string]project.Role

func (f fakeRoles) RoleOf(_ context.Context, userID, projectID string) (project.Role, bool, error) {
	if userID == "broken" {
		return "", false, errors.New("db down")
	}
	role, ok := f[userID+"/"+projectID]
	return role, ok, nil
}

func newTasksRouter(repo *fakeTasksRepo, c *cache.Cache) *gin.Engine {
	users := fakeUsersByEmail{
		"bob@example.com":   {ID: "u2", Email: "bob@example.com"},
		"carol@example.com": {ID: "u3", Email: "carol@example.com"},
	}
	roles := fakeRoles{"u1/p1": project.RoleAdmin, "u2/p1": project.RoleMember}

	h := handlers.NewTasksHandler(repo, users, roles, c)

	r := newRouter()
	r.GET("/tasks/assigned/me", asUser("u1", ""), h.AssignedToMe)
	g := r.Group("/projects/:projectId/tasks", asUser("u1", project.RoleAdmin))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:taskId", h.Get)
	g.PUT("/:taskId", h.Update)
	g.DELETE("/:taskId", h.Delete)
	g.PATCH("/:taskId/assign", h.Assign)
	g.POST("/:taskId/subtasks", h.CreateSubtask)
	g.PUT("/:taskId/subtasks/:subtaskId", h.UpdateSubtask)
	g.DELETE("/:taskId/subtasks/:subtaskId", h.DeleteSubtask)
	return r
}

func TestCreateTask_DefaultsAndAssigneeByEmail(t *testing.T) {
	repo := &fakeTasksRepo{}
	r := newTasksRouter(repo, cache.New(time.Minute))

	w := doJSON(r, http.MethodPost, "/projects/p1/tasks", `{"title":"Ship it","assignedToEmail":"bob@example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	var got task.Task
	decodeEnvelope(t, w, &got)
	if got.Status != task.StatusTodo || got.Priority != task.PriorityMedium {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "u2" || repo.createdBy != "u1" {
		t.Fatalf("unexpected assignment: %+v by %q", got, repo.createdBy)
	}
}

func TestCreateTask_AssigneeChecks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown email", `{"title":"x","assignedToEmail":"nobody@example.com"}`, http.StatusNotFound},
		{"not a member", `{"title":"x","assignedToEmail":"carol@example.com"}`, http.StatusBadRequest},
		{"bad status", `{"title":"x","status":"blocked"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeTasksRepo{}
			r := newTasksRouter(repo, cache.New(time.Minute))

			w := doJSON(r, http.MethodPost, "/projects/p1/tasks", tt.body)
			if w.Code != tt.want {
				t.Fatalf("got %d want %d body=%s", w.Code, tt.want, w.Body.String())
			}
			if repo.created != nil {
				t.Fatalf("task should not be created")
			}
		})
	}
}

func TestTaskWritesInvalidateAnalytics(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/projects/p1/tasks", `{"title":"x"}`},
		{http.MethodPut, "/projects/p1/tasks/t1", `{"status":"done"}`},
		{http.MethodDelete, "/projects/p1/tasks/t1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			c := cache.New(time.Minute)
			c.Set(cache.ProjectStatsKey("p1"), task.Stats{})
			r := newTasksRouter(&fakeTasksRepo{}, c)

			w := doJSON(r, tt.method, tt.path, tt.body)
			if w.Code >= 300 {
				t.Fatalf("got %d body=%s", w.Code, w.Body.String())
			}
			if _, ok := c.Get(cache.ProjectStatsKey("p1")); ok {
				t.Fatalf("stats should be invalidated")
			}
		})
	}
}

func TestAssignTask(t *testing.T) {
	repo := &fakeTasksRepo{}
	r := newTasksRouter(repo, cache.New(time.Minute))

	w := doJSON(r, http.MethodPatch, "/projects/p1/tasks/t1/assign", `{"assignedTo":"u2"}`)
	if w.Code != http.StatusBadRequest {
		// u2 is not a uuid
		t.Fatalf("expected uuid validation failure, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPatch, "/projects/p1/tasks/t1/assign", `{"assignedTo":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unassign: got %d body=%s", w.Code, w.Body.String())
	}
	if repo.assigned != nil {
		t.Fatalf("expected nil assignee")
	}
}

func TestGetTask_NotFound(t *testing.T) {
	r := newTasksRouter(&fakeTasksRepo{}, cache.New(time.Minute))

	w := doJSON(r, http.MethodGet, "/projects/p1/tasks/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != "Task not found" {
		t.Fatalf("message = %q", msg)
	}
}

func TestSubtasks(t *testing.T) {
	repo := &fakeTasksRepo{}
	r := newTasksRouter(repo, cache.New(time.Minute))

	w := doJSON(r, http.MethodPost, "/projects/p1/tasks/t1/subtasks", `{"title":"write tests"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}
	var s task.Subtask
	decodeEnvelope(t, w, &s)
	if s.CreatedBy != "u1" || s.TaskID != "t1" {
		t.Fatalf("unexpected subtask %+v", s)
	}

	w = doJSON(r, http.MethodPut, "/projects/p1/tasks/t1/subtasks/s1", `{"isCompleted":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d", w.Code)
	}
	decodeEnvelope(t, w, &s)
	if !s.IsCompleted {
		t.Fatalf("expected completed subtask")
	}

	repo.deleteSubtaskErr = task.ErrSubtaskNotFound
	w = doJSON(r, http.MethodDelete, "/projects/p1/tasks/t1/subtasks/s9", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: got %d", w.Code)
	}
}

func TestAssignedToMe(t *testing.T) {
	r := newTasksRouter(&fakeTasksRepo{}, cache.New(time.Minute))

	w := doJSON(r, http.MethodGet, "/tasks/assigned/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var list []task.Task
	decodeEnvelope(t, w, &list)
	if len(list) != 1 || *list[0].AssignedTo != "u1" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestAnalytics_CachesUntilInvalidated(t *testing.T) {
	repo := &fakeTasksRepo{stats: task.Stats{Total: 3}}
	c := cache.New(time.Minute)
	h := handlers.NewAnalyticsHandler(repo, c)

	r := newRouter()
	r.GET("/analytics/project/:projectId", asUser("u1", project.RoleMember), h.Project)

	for i, want := range []string{"MISS", "HIT"} {
		w := doJSON(r, http.MethodGet, "/analytics/project/p1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
		if got := w.Header().Get("X-Cache"); got != want {
			t.Fatalf("request %d: X-Cache = %q want %q", i, got, want)
		}
		var stats task.Stats
		decodeEnvelope(t, w, &stats)
		if stats.Total != 3 {
			t.Fatalf("total = %d", stats.Total)
		}
	}
	if repo.statsCalls != 1 {
		t.Fatalf("expected one store read, got %d", repo.statsCalls)
	}

	c.DeletePrefix(cache.ProjectPrefix("p1"))
	doJSON(r, http.MethodGet, "/analytics/project/p1", "")
	if repo.statsCalls != 2 {
		t.Fatalf("expected a fresh read after invalidation, got %d", repo.statsCalls)
	}
}

type blockingStats struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingStats) Stats(context.Context, string) (task.Stats, error) {
	b.calls.Add(1)
	<-b.release
	return task.Stats{Total: 7}, nil
}

func TestAnalytics_ConcurrentMissesShareOneRead(t *testing.T) {
	store := &blockingStats{release: make(chan struct{})}
	h := handlers.NewAnalyticsHandler(store, cache.New(time.Minute))

	r := newRouter()
	r.GET("/analytics/project/:projectId", asUser("u1", project.RoleMember), h.Project)

	var wg sync.WaitGroup
	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = doJSON(r, http.MethodGet, "/analytics/project/p1", "").Code
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, code)
		}
	}
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("expected one aggregation, got %d", got)
	}
}

// gatedStats parks each aggregation until release is closed and reports the
// total it read on entry.
type gatedStats struct {
	mu      sync.Mutex
	total   int
	ctxErr  error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedStats(total int) *gatedStats {
	return &gatedStats{total: total, entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedStats) Stats(ctx context.Context, _ string) (task.Stats, error) {
	g.calls.Add(1)
	g.mu.Lock()
	total := g.total
	g.mu.Unlock()

	g.entered <- struct{}{}
	<-g.release

	g.mu.Lock()
	g.ctxErr = ctx.Err()
	g.mu.Unlock()
	return task.Stats{Total: total}, nil
}

func newAnalyticsRouter(store handlers.StatsStore, c *cache.Cache) *gin.Engine {
	h := handlers.NewAnalyticsHandler(store, c)
	r := newRouter()
	r.GET("/analytics/project/:projectId", asUser("u1", project.RoleMember), h.Project)
	return r
}

func TestAnalytics_InvalidationDuringAggregationIsNotOverwritten(t *testing.T) {
	store := newGatedStats(1)
	c := cache.New(time.Minute)
	r := newAnalyticsRouter(store, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		doJSON(r, http.MethodGet, "/analytics/project/p1", "")
	}()
	<-store.entered

	// a task write lands while the first aggregation is still running
	store.mu.Lock()
	store.total = 2
	store.mu.Unlock()
	c.DeletePrefix(cache.ProjectPrefix("p1"))

	close(store.release)
	<-done

	w := doJSON(r, http.MethodGet, "/analytics/project/p1", "")
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS after invalidation", got)
	}
	var stats task.Stats
	decodeEnvelope(t, w, &stats)
	if stats.Total != 2 {
		t.Fatalf("total = %d, want 2", stats.Total)
	}
	if got := store.calls.Load(); got != 2 {
		t.Fatalf("expected two aggregations, got %d", got)
	}
}

func TestAnalytics_FirstCallerCancellationDoesNotFailOthers(t *testing.T) {
	store := newGatedStats(5)
	r := newAnalyticsRouter(store, cache.New(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})
	go func() {
		defer close(first)
		req := httptest.NewRequest(http.MethodGet, "/analytics/project/p1", nil).WithContext(ctx)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-store.entered

	second := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		second <- doJSON(r, http.MethodGet, "/analytics/project/p1", "")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-first
	close(store.release)

	w := <-second
	if w.Code != http.StatusOK {
		t.Fatalf("second caller got %d body=%s", w.Code, w.Body.String())
	}
	var stats task.Stats
	decodeEnvelope(t, w, &stats)
	if stats.Total != 5 {
		t.Fatalf("total = %d, want 5", stats.Total)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.ctxErr != nil {
		t.Fatalf("aggregation context was cancelled: %v", store.ctxErr)
	}
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("expected one shared aggregation, got %d", got)
	}
}

func TestCalendar(t *testing.T) {
	repo := &fakeTasksRepo{}
	h := handlers.NewCalendarHandler(repo)

	r := newRouter()
	r.GET("/calendar", asUser("u1", ""), h.Tasks)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"defaults", "", http.StatusOK},
		{"dates", "?from=2026-01-01&to=2026-02-01&projectId=p1", http.StatusOK},
		{"rfc3339", "?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z", http.StatusOK},
		{"bad date", "?from=yesterday", http.StatusBadRequest},
		{"inverted", "?from=2026-02-01&to=2026-01-01", http.StatusBadRequest},
		{"too wide", "?from=2026-01-01&to=2028-01-01", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodGet, "/calendar"+tt.query, "")
			if w.Code != tt.want {
				t.Fatalf("got %d want %d body=%s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	doJSON(r, http.MethodGet, "/calendar?from=2026-01-01&to=2026-02-01&projectId=p1", "")
	if repo.deadlineArgs[0] != "u1" || repo.deadlineArgs[1] != "p1" {
		t.Fatalf("unexpected store args %v", repo.deadlineArgs)
	}
	if from := repo.deadlineArgs[2].(time.Time); !from.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", from)
	}
}

func TestCalendar_StartEndAliases(t *testing.T) {
	repo := &fakeTasksRepo{}
	h := handlers.NewCalendarHandler(repo)

	r := newRouter()
	r.GET("/calendar", asUser("u1", ""), h.Tasks)

	w := doJSON(r, http.MethodGet, "/calendar?start=2026-03-01&end=2026-03-08", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}
	from := repo.deadlineArgs[2].(time.Time)
	to := repo.deadlineArgs[3].(time.Time)
	if !from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window = [%v, %v)", from, to)
	}

	// from/to win when both spellings are given
	doJSON(r, http.MethodGet, "/calendar?from=2026-04-01&start=2026-03-01&to=2026-04-02", "")
	if from := repo.deadlineArgs[2].(time.Time); !from.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", from)
	}

	if w := doJSON(r, http.MethodGet, "/calendar?end=soon", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad end: got %d", w.Code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]handlers.Pinger
		want   int
	}{
		{"all up", map[string]handlers.Pinger{"postgres": fakePinger{}, "redis": fakePinger{}}, http.StatusOK},
		{"redis down", map[string]handlers.Pinger{"postgres": fakePinger{}, "redis": fakePinger{err: errors.New("refused")}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewHealthHandler(tt.checks)
			r := newRouter()
			r.GET("/readyz", h.Readyz)
			r.GET("/healthz", h.Healthz)

			if w := doJSON(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
				t.Fatalf("healthz: got %d", w.Code)
			}

			w := doJSON(r, http.MethodGet, "/readyz", "")
			if w.Code != tt.want {
				t.Fatalf("readyz: got %d want %d", w.Code, tt.want)
			}
		})
	}
}

