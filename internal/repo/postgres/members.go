package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MembersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMembersRepo(pool *pgxpool.Pool, prom *observability.Prom) *MembersRepo {
	return &MembersRepo{pool: pool, prom: prom}
}

// FindRole reads the (user, project) membership. A projectId that is not a
// UUID cannot name a project, so it reads as no membership.
func (r *MembersRepo) FindRole(ctx context.Context, userID, projectID string) (project.Role, error) {
	if !canonicalIDs(&userID, &projectID) {
		return "", project.ErrMembershipNotFound
	}

	var role project.Role
	err := r.prom.ObserveDB("members.find_role", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT role FROM project_members
			WHERE user_id = $1 AND project_id = $2
		`, userID, projectID).Scan(&role)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", project.ErrMembershipNotFound
		}
		return "", err
	}

	return role, nil
}

func (r *MembersRepo) ListByProject(ctx context.Context, projectID string) ([]project.Member, error) {
	out := []project.Member{}
	if !canonicalIDs(&projectID) {
		return out, nil
	}

	err := r.prom.ObserveDB("members.list", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT u.id, u.username, u.full_name, u.email, pm.role, pm.created_at
			FROM project_members pm
			JOIN users u ON u.id = pm.user_id
			WHERE pm.project_id = $1
			ORDER BY pm.created_at ASC
		`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m project.Member
			if err := rows.Scan(&m.UserID, &m.Username, &m.FullName, &m.Email, &m.Role, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Upsert adds userID to the project or changes the role of an existing member.
func (r *MembersRepo) Upsert(ctx context.Context, projectID, userID string, role project.Role) error {
	if !role.IsValid() {
		return project.ErrInvalidRole
	}
	if !canonicalIDs(&projectID, &userID) {
		return project.ErrNotFound
	}

	return r.inTx(ctx, "members.upsert", func(tx pgx.Tx) error {
		if role != project.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, tx, projectID, userID); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO project_members (user_id, project_id, role, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			ON CONFLICT (user_id, project_id)
			DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
		`, userID, projectID, role)
		return err
	})
}

func (r *MembersRepo) UpdateRole(ctx context.Context, projectID, userID string, role project.Role) error {
	if !role.IsValid() {
		return project.ErrInvalidRole
	}
	if !canonicalIDs(&projectID, &userID) {
		return project.ErrMembershipNotFound
	}

	return r.inTx(ctx, "members.update_role", func(tx pgx.Tx) error {
		if role != project.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, tx, projectID, userID); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE project_members
			SET role = $3, updated_at = NOW()
			WHERE user_id = $1 AND project_id = $2
		`, userID, projectID, role)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return project.ErrMembershipNotFound
		}
		return nil
	})
}

func (r *MembersRepo) Delete(ctx context.Context, projectID, userID string) error {
	if !canonicalIDs(&projectID, &userID) {
		return project.ErrMembershipNotFound
	}

	return r.inTx(ctx, "members.delete", func(tx pgx.Tx) error {
		if err := ensureAnotherAdmin(ctx, tx, projectID, userID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM project_members
			WHERE user_id = $1 AND project_id = $2
		`, userID, projectID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return project.ErrMembershipNotFound
		}
		return nil
	})
}

func (r *MembersRepo) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	return r.prom.ObserveDB(op, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// ensureAnotherAdmin fails with ErrLastAdmin when userID is currently the only
// admin of the project. The admin rows are locked until the transaction ends.
func ensureAnotherAdmin(ctx context.Context, tx pgx.Tx, projectID, userID string) error {
	rows, err := tx.Query(ctx, `
		SELECT user_id FROM project_members
		WHERE project_id = $1 AND role = 'admin'
		FOR UPDATE
	`, projectID)
	if err != nil {
		return err
	}
	defer rows.Close()

	isAdmin, others := false, 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if id == userID {
			isAdmin = true
		} else {
			others++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if isAdmin && others == 0 {
		return project.ErrLastAdmin
	}
	return nil
}
