package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/domain/organization"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const organizationColumns = `o.id, o.name, o.description, o.owner_id, o.created_at, o.updated_at`

type OrganizationsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewOrganizationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *OrganizationsRepo {
	return &OrganizationsRepo{pool: pool, prom: prom}
}

func scanOrganization(row pgx.Row, extra ...any) (organization.Organization, error) {
	var o organization.Organization

	dest := []any{&o.ID, &o.Name, &o.Description, &o.OwnerID, &o.CreatedAt, &o.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return organization.Organization{}, organization.ErrNotFound
		}
		return organization.Organization{}, err
	}
	return o, nil
}

// Create inserts the organization with ownerID as its first admin in one
// transaction. Names are unique case-insensitively.
func (r *OrganizationsRepo) Create(ctx context.Context, ownerID string, req organization.CreateRequest) (organization.Organization, error) {
	if !canonicalIDs(&ownerID) {
		return organization.Organization{}, organization.ErrUserNotFound
	}
	now := time.Now().UTC()

	o := organization.Organization{
		ID:          uuid.NewString(),
		Name:        organization.NormalizeName(req.Name),
		Description: strings.TrimSpace(req.Description),
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.prom.ObserveDB("organizations.create", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx, `
			INSERT INTO organizations (id, name, description, owner_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$5)
		`, o.ID, o.Name, o.Description, o.OwnerID, now)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, created_at)
			VALUES ($1,$2,$3,$4)
		`, o.ID, ownerID, organization.RoleAdmin, now)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return organization.Organization{}, organization.ErrNameTaken
		}
		return organization.Organization{}, err
	}

	return r.GetByID(ctx, o.ID)
}

// ListForUser returns every organization userID belongs to, newest first.
func (r *OrganizationsRepo) ListForUser(ctx context.Context, userID string) ([]organization.Summary, error) {
	out := []organization.Summary{}
	if !canonicalIDs(&userID) {
		return out, nil
	}

	err := r.prom.ObserveDB("organizations.list_for_user", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+organizationColumns+`, om.role,
			       (SELECT COUNT(*) FROM organization_members m WHERE m.organization_id = o.id)
			FROM organization_members om
			JOIN organizations o ON o.id = om.organization_id
			WHERE om.user_id = $1
			ORDER BY o.created_at DESC
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s organization.Summary
			o, err := scanOrganization(rows, &s.Role, &s.Members)
			if err != nil {
				return err
			}
			s.Organization = o
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetByID loads the organization together with its members.
func (r *OrganizationsRepo) GetByID(ctx context.Context, id string) (organization.Organization, error) {
	if !canonicalIDs(&id) {
		return organization.Organization{}, organization.ErrNotFound
	}

	var o organization.Organization
	err := r.prom.ObserveDB("organizations.get_by_id", func() error {
		var err error
		o, err = scanOrganization(r.pool.QueryRow(ctx,
			`SELECT `+organizationColumns+` FROM organizations o WHERE o.id = $1`, id))
		if err != nil {
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT u.id, u.username, u.full_name, u.email, om.role, om.created_at
			FROM organization_members om
			JOIN users u ON u.id = om.user_id
			WHERE om.organization_id = $1
			ORDER BY om.created_at ASC
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		o.Members = []organization.Member{}
		for rows.Next() {
			var m organization.Member
			if err := rows.Scan(&m.UserID, &m.Username, &m.FullName, &m.Email, &m.Role, &m.CreatedAt); err != nil {
				return err
			}
			o.Members = append(o.Members, m)
		}
		return rows.Err()
	})
	return o, err
}

// AddMember inserts userID with role. An existing membership is left alone
// and reported as ErrAlreadyMember.
func (r *OrganizationsRepo) AddMember(ctx context.Context, organizationID, userID string, role organization.Role) error {
	if !canonicalIDs(&organizationID, &userID) {
		return organization.ErrNotFound
	}

	err := r.prom.ObserveDB("organizations.add_member", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, created_at)
			VALUES ($1, $2, $3, NOW())
		`, organizationID, userID, role)
		return err
	})
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return organization.ErrAlreadyMember
	case IsForeignKeyViolation(err):
		return organization.ErrNotFound
	default:
		return err
	}
}
