package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `p.id, p.name, p.description, p.created_by, p.status, p.start_date, p.deadline, p.created_at, p.updated_at`

type ProjectsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProjectsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProjectsRepo {
	return &ProjectsRepo{pool: pool, prom: prom}
}

func scanProject(row pgx.Row, extra ...any) (project.Project, error) {
	var p project.Project

	dest := []any{
		&p.ID,
		&p.Name,
		&p.Description,
		&p.CreatedBy,
		&p.Status,
		&p.StartDate,
		&p.Deadline,
		&p.CreatedAt,
		&p.UpdatedAt,
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return project.Project{}, project.ErrNotFound
		}
		return project.Project{}, err
	}
	return p, nil
}

// ListForUser returns every project userID belongs to, newest first, with the
// caller's role and the member count.
func (r *ProjectsRepo) ListForUser(ctx context.Context, userID string) ([]project.Summary, error) {
	out := []project.Summary{}

	err := r.prom.ObserveDB("projects.list_for_user", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+projectColumns+`, pm.role,
			       (SELECT COUNT(*) FROM project_members m WHERE m.project_id = p.id)
			FROM project_members pm
			JOIN projects p ON p.id = pm.project_id
			WHERE pm.user_id = $1
			ORDER BY p.created_at DESC
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s project.Summary
			p, err := scanProject(rows, &s.Role, &s.Members)
			if err != nil {
				return err
			}
			s.Project = p
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *ProjectsRepo) GetByID(ctx context.Context, id string) (project.Project, error) {
	if !canonicalIDs(&id) {
		return project.Project{}, project.ErrNotFound
	}

	var p project.Project
	err := r.prom.ObserveDB("projects.get_by_id", func() error {
		var err error
		p, err = scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id))
		return err
	})
	return p, err
}

// Create inserts the project and makes creatorID its admin in one transaction.
func (r *ProjectsRepo) Create(ctx context.Context, creatorID string, req project.CreateRequest) (project.Project, error) {
	now := time.Now().UTC()

	p := project.Project{
		ID:          uuid.NewString(),
		Name:        project.NormalizeName(req.Name),
		Description: strings.TrimSpace(req.Description),
		CreatedBy:   creatorID,
		Status:      project.StatusActive,
		StartDate:   now,
		Deadline:    req.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.StartDate != nil {
		p.StartDate = req.StartDate.UTC()
	}

	err := r.prom.ObserveDB("projects.create", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx, `
			INSERT INTO projects (id, name, description, created_by, status, start_date, deadline, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, p.ID, p.Name, p.Description, p.CreatedBy, p.Status, p.StartDate, p.Deadline, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO project_members (user_id, project_id, role, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$4)
		`, creatorID, p.ID, project.RoleAdmin, now)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return project.Project{}, project.ErrNameTaken
		}
		return project.Project{}, err
	}

	return p, nil
}

func (r *ProjectsRepo) Update(ctx context.Context, id string, req project.UpdateRequest) (project.Project, error) {
	if !canonicalIDs(&id) {
		return project.Project{}, project.ErrNotFound
	}

	var sets []string
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if req.Name != nil {
		add("name", project.NormalizeName(*req.Name))
	}
	if req.Description != nil {
		add("description", strings.TrimSpace(*req.Description))
	}
	if req.StartDate != nil {
		add("start_date", req.StartDate.UTC())
	}
	if req.Deadline != nil {
		add("deadline", req.Deadline.UTC())
	}
	if req.Status != nil {
		add("status", *req.Status)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	var p project.Project
	err := r.prom.ObserveDB("projects.update", func() error {
		var err error
		p, err = scanProject(r.pool.QueryRow(ctx, `
			UPDATE projects p
			SET `+strings.Join(sets, ", ")+`
			WHERE p.id = $1
			RETURNING `+projectColumns,
			args...,
		))
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return project.Project{}, project.ErrNameTaken
		}
		return project.Project{}, err
	}

	return p, nil
}

// Delete removes the project; members, tasks and subtasks go with it.
func (r *ProjectsRepo) Delete(ctx context.Context, id string) error {
	if !canonicalIDs(&id) {
		return project.ErrNotFound
	}

	return r.prom.ObserveDB("projects.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return project.ErrNotFound
		}
		return nil
	})
}
