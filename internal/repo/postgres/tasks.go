package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `t.id, t.project_id, p.name, t.title, t.description, t.status, t.priority,
	t.assigned_to, t.assigned_by, t.deadline, t.created_at, t.updated_at`

const subtaskColumns = `id, task_id, title, is_completed, created_by, created_at, updated_at`

type TasksRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTasksRepo(pool *pgxpool.Pool, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{pool: pool, prom: prom}
}

func scanTask(row pgx.Row) (task.Task, error) {
	var t task.Task

	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.ProjectName,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssignedTo,
		&t.AssignedBy,
		&t.Deadline,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}
	return t, nil
}

func scanSubtask(row pgx.Row) (task.Subtask, error) {
	var s task.Subtask

	err := row.Scan(&s.ID, &s.TaskID, &s.Title, &s.IsCompleted, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Subtask{}, task.ErrSubtaskNotFound
		}
		return task.Subtask{}, err
	}
	return s, nil
}

func (r *TasksRepo) queryTasks(ctx context.Context, op, sql string, args ...any) ([]task.Task, error) {
	out := []task.Task{}

	err := r.prom.ObserveDB(op, func() error {
		rows, err := r.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *TasksRepo) ListByProject(ctx context.Context, projectID string) ([]task.Task, error) {
	if !canonicalIDs(&projectID) {
		return []task.Task{}, nil
	}

	return r.queryTasks(ctx, "tasks.list_by_project", `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		WHERE t.project_id = $1
		ORDER BY t.created_at DESC
	`, projectID)
}

func (r *TasksRepo) ListAssignedTo(ctx context.Context, userID string) ([]task.Task, error) {
	if !canonicalIDs(&userID) {
		return []task.Task{}, nil
	}

	return r.queryTasks(ctx, "tasks.list_assigned", `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		WHERE t.assigned_to = $1
		ORDER BY t.deadline ASC NULLS LAST, t.created_at DESC
	`, userID)
}

// ListDeadlines returns tasks due in [from, to) across every project userID is
// a member of. A non-empty projectID narrows it to that project.
func (r *TasksRepo) ListDeadlines(ctx context.Context, userID, projectID string, from, to time.Time) ([]task.Task, error) {
	if projectID != "" && !canonicalIDs(&projectID) {
		return []task.Task{}, nil
	}

	return r.queryTasks(ctx, "tasks.list_deadlines", `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		JOIN project_members pm ON pm.project_id = t.project_id AND pm.user_id = $1
		WHERE t.deadline >= $2 AND t.deadline < $3
		  AND ($4 = '' OR t.project_id::text = $4)
		ORDER BY t.deadline ASC
	`, userID, from, to, projectID)
}

func (r *TasksRepo) Create(ctx context.Context, projectID, assignedBy string, req task.CreateRequest) (task.Task, error) {
	if !canonicalIDs(&projectID) {
		return task.Task{}, task.ErrNotFound
	}
	req.Defaults()
	now := time.Now().UTC()

	id := uuid.NewString()

	var t task.Task
	err := r.prom.ObserveDB("tasks.create", func() error {
		var err error
		t, err = scanTask(r.pool.QueryRow(ctx, `
			WITH t AS (
				INSERT INTO tasks (id, project_id, title, description, status, priority, assigned_to, assigned_by, deadline, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
				RETURNING *
			)
			SELECT `+taskColumns+`
			FROM t
			JOIN projects p ON p.id = t.project_id
		`, id, projectID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Description),
			req.Status, req.Priority, req.AssignedTo, assignedBy, req.Deadline, now,
		))
		return err
	})
	if err != nil {
		if IsForeignKeyViolation(err) {
			return task.Task{}, task.ErrAssigneeMissing
		}
		return task.Task{}, err
	}

	return t, nil
}

// GetByID loads a task of projectID together with its subtasks.
func (r *TasksRepo) GetByID(ctx context.Context, projectID, taskID string) (task.Task, error) {
	if !canonicalIDs(&projectID, &taskID) {
		return task.Task{}, task.ErrNotFound
	}

	var t task.Task
	err := r.prom.ObserveDB("tasks.get_by_id", func() error {
		var err error
		t, err = scanTask(r.pool.QueryRow(ctx, `
			SELECT `+taskColumns+`
			FROM tasks t
			JOIN projects p ON p.id = t.project_id
			WHERE t.id = $1 AND t.project_id = $2
		`, taskID, projectID))
		if err != nil {
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT `+subtaskColumns+`
			FROM subtasks
			WHERE task_id = $1
			ORDER BY created_at ASC
		`, taskID)
		if err != nil {
			return err
		}
		defer rows.Close()

		t.Subtasks = []task.Subtask{}
		for rows.Next() {
			s, err := scanSubtask(rows)
			if err != nil {
				return err
			}
			t.Subtasks = append(t.Subtasks, s)
		}
		return rows.Err()
	})
	return t, err
}

func (r *TasksRepo) Update(ctx context.Context, projectID, taskID string, req task.UpdateRequest) (task.Task, error) {
	if !canonicalIDs(&projectID, &taskID) {
		return task.Task{}, task.ErrNotFound
	}

	var sets []string
	args := []any{taskID, projectID}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if req.Title != nil {
		add("title", strings.TrimSpace(*req.Title))
	}
	if req.Description != nil {
		add("description", strings.TrimSpace(*req.Description))
	}
	if req.Status != nil {
		add("status", *req.Status)
	}
	if req.Priority != nil {
		add("priority", *req.Priority)
	}
	if req.Deadline != nil {
		add("deadline", req.Deadline.UTC())
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, projectID, taskID)
	}
	sets = append(sets, "updated_at = NOW()")

	return r.updateReturning(ctx, "tasks.update", strings.Join(sets, ", "), args...)
}

// Assign sets or clears the assignee.
func (r *TasksRepo) Assign(ctx context.Context, projectID, taskID string, assignee *string) (task.Task, error) {
	if !canonicalIDs(&projectID, &taskID) {
		return task.Task{}, task.ErrNotFound
	}

	t, err := r.updateReturning(ctx, "tasks.assign", "assigned_to = $3, updated_at = NOW()", taskID, projectID, assignee)
	if err != nil && IsForeignKeyViolation(err) {
		return task.Task{}, task.ErrAssigneeMissing
	}
	return t, err
}

func (r *TasksRepo) updateReturning(ctx context.Context, op, set string, args ...any) (task.Task, error) {
	var t task.Task
	err := r.prom.ObserveDB(op, func() error {
		var err error
		t, err = scanTask(r.pool.QueryRow(ctx, `
			WITH t AS (
				UPDATE tasks
				SET `+set+`
				WHERE id = $1 AND project_id = $2
				RETURNING *
			)
			SELECT `+taskColumns+`
			FROM t
			JOIN projects p ON p.id = t.project_id
		`, args...))
		return err
	})
	return t, err
}

func (r *TasksRepo) Delete(ctx context.Context, projectID, taskID string) error {
	if !canonicalIDs(&projectID, &taskID) {
		return task.ErrNotFound
	}

	return r.prom.ObserveDB("tasks.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND project_id = $2`, taskID, projectID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return task.ErrNotFound
		}
		return nil
	})
}

func (r *TasksRepo) Stats(ctx context.Context, projectID string) (task.Stats, error) {
	stats := task.Stats{
		StatusDistribution: map[task.Status]int{
			task.StatusTodo: 0, task.StatusInProgress: 0, task.StatusDone: 0,
		},
		PriorityDistribution: map[task.Priority]int{
			task.PriorityLow: 0, task.PriorityMedium: 0, task.PriorityHigh: 0,
		},
	}

	if !canonicalIDs(&projectID) {
		return stats, nil
	}

	err := r.prom.ObserveDB("tasks.stats", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT status, priority, COUNT(*)
			FROM tasks
			WHERE project_id = $1
			GROUP BY status, priority
		`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				s task.Status
				p task.Priority
				n int
			)
			if err := rows.Scan(&s, &p, &n); err != nil {
				return err
			}
			stats.StatusDistribution[s] += n
			stats.PriorityDistribution[p] += n
			stats.Total += n
		}
		return rows.Err()
	})
	if err != nil {
		return task.Stats{}, err
	}

	return stats, nil
}

// CreateSubtask adds a subtask to taskID, which must belong to projectID.
func (r *TasksRepo) CreateSubtask(ctx context.Context, projectID, taskID, createdBy string, req task.CreateSubtaskRequest) (task.Subtask, error) {
	if !canonicalIDs(&projectID, &taskID) {
		return task.Subtask{}, task.ErrNotFound
	}

	var s task.Subtask
	err := r.prom.ObserveDB("subtasks.create", func() error {
		var err error
		s, err = scanSubtask(r.pool.QueryRow(ctx, `
			INSERT INTO subtasks (id, task_id, title, is_completed, created_by, created_at, updated_at)
			SELECT $1, t.id, $3, FALSE, $4, NOW(), NOW()
			FROM tasks t
			WHERE t.id = $2 AND t.project_id = $5
			RETURNING `+subtaskColumns,
			uuid.NewString(), taskID, strings.TrimSpace(req.Title), createdBy, projectID,
		))
		return err
	})
	if errors.Is(err, task.ErrSubtaskNotFound) {
		// nothing was inserted: the parent task is not in this project
		return task.Subtask{}, task.ErrNotFound
	}
	return s, err
}

func (r *TasksRepo) UpdateSubtask(ctx context.Context, projectID, taskID, subtaskID string, req task.UpdateSubtaskRequest) (task.Subtask, error) {
	if !canonicalIDs(&projectID, &taskID, &subtaskID) {
		return task.Subtask{}, task.ErrSubtaskNotFound
	}

	var s task.Subtask
	err := r.prom.ObserveDB("subtasks.update", func() error {
		var err error
		s, err = scanSubtask(r.pool.QueryRow(ctx, `
			UPDATE subtasks s
			SET title = COALESCE($4, s.title),
			    is_completed = COALESCE($5, s.is_completed),
			    updated_at = NOW()
			FROM tasks t
			WHERE s.id = $1 AND s.task_id = $2 AND t.id = s.task_id AND t.project_id = $3
			RETURNING s.id, s.task_id, s.title, s.is_completed, s.created_by, s.created_at, s.updated_at
		`, subtaskID, taskID, projectID, req.Title, req.IsCompleted))
		return err
	})
	return s, err
}

func (r *TasksRepo) DeleteSubtask(ctx context.Context, projectID, taskID, subtaskID string) error {
	if !canonicalIDs(&projectID, &taskID, &subtaskID) {
		return task.ErrSubtaskNotFound
	}

	return r.prom.ObserveDB("subtasks.delete", func() error {
		tag, err := r.pool.Exec(ctx, `
			DELETE FROM subtasks s
			USING tasks t
			WHERE s.id = $1 AND s.task_id = $2 AND t.id = s.task_id AND t.project_id = $3
		`, subtaskID, taskID, projectID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return task.ErrSubtaskNotFound
		}
		return nil
	})
}
