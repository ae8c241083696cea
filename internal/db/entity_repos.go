package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"eventrelay/internal/types"
)

// OrganizationUserRepository reads organization memberships joined with the
// user record.
type OrganizationUserRepository struct {
	db DBTX
}

// NewOrganizationUserRepository creates an OrganizationUserRepository.
func NewOrganizationUserRepository(db DBTX) *OrganizationUserRepository {
	return &OrganizationUserRepository{db: db}
}

// GetDetailsByOrganizationIDUserID returns the membership of userID in orgID.
// Returns ErrCodeNotFoundUser when the user is not a member.
func (r *OrganizationUserRepository) GetDetailsByOrganizationIDUserID(ctx context.Context, orgID, userID uuid.UUID) (*types.OrganizationUserDetails, error) {
	row := r.db.QueryRow(ctx,
		`SELECT ou.id, ou.organization_id, ou.user_id, u.name, u.email, ou.type
		 FROM organization_user ou
		 JOIN users u ON u.id = ou.user_id
		 WHERE ou.organization_id = $1 AND ou.user_id = $2`,
		orgID, userID,
	)

	var (
		d       types.OrganizationUserDetails
		name    *string
		orgType int16
	)
	err := row.Scan(&d.ID, &d.OrganizationID, &d.UserID, &name, &d.Email, &orgType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "organization user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization user", err)
	}
	if name != nil {
		d.Name = *name
	}
	d.Type = types.OrganizationUserType(orgType)
	return &d, nil
}

// OrganizationRepository reads organizations.
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates an OrganizationRepository.
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an organization. Returns ErrCodeNotFoundOrg if missing.
func (r *OrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT o.id, o.name FROM organization o WHERE o.id = $1`,
		id,
	)

	var org types.Organization
	if err := row.Scan(&org.ID, &org.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return &org, nil
}

// GroupRepository reads organization groups.
type GroupRepository struct {
	db DBTX
}

// NewGroupRepository creates a GroupRepository.
func NewGroupRepository(db DBTX) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByID retrieves a group. Returns ErrCodeNotFoundGroup if missing.
func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Group, error) {
	row := r.db.QueryRow(ctx,
		`SELECT g.id, g.organization_id, g.name FROM "group" g WHERE g.id = $1`,
		id,
	)

	var g types.Group
	if err := row.Scan(&g.ID, &g.OrganizationID, &g.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundGroup, "group not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve group", err)
	}
	return &g, nil
}
