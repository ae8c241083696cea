package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"eventrelay/internal/cache"
	"eventrelay/internal/integrations/templates"
	"eventrelay/internal/types"
)

type OrganizationUserStore interface {
	GetDetailsByOrganizationIDUserID(ctx context.Context, orgID, userID uuid.UUID) (*types.OrganizationUserDetails, error)
}

type OrganizationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Organization, error)
}

type GroupStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Group, error)
}

var _ templates.EntityLookup = (*EntityService)(nil)

// EntityService implements templates.EntityLookup over the repositories with
// a short-lived cache. Missing entities are cached as nil too.
type EntityService struct {
	users  OrganizationUserStore
	orgs   OrganizationStore
	groups GroupStore
	cache  cache.Cache
	ttl    time.Duration
}

// NewEntityService creates an EntityService.
func NewEntityService(users OrganizationUserStore, orgs OrganizationStore, groups GroupStore, c cache.Cache, ttl time.Duration) *EntityService {
	return &EntityService{users: users, orgs: orgs, groups: groups, cache: c, ttl: ttl}
}

func (s *EntityService) GetOrganizationUserDetails(ctx context.Context, orgID, userID uuid.UUID) (*types.OrganizationUserDetails, error) {
	key := fmt.Sprintf("organization-user:%s:%s", orgID, userID)
	return cache.GetOrSet(ctx, s.cache, key, s.ttl, nil, func(ctx context.Context) (*types.OrganizationUserDetails, error) {
		return notFoundAsNil(s.users.GetDetailsByOrganizationIDUserID(ctx, orgID, userID))
	})
}

func (s *EntityService) GetOrganization(ctx context.Context, orgID uuid.UUID) (*types.Organization, error) {
	key := fmt.Sprintf("organization:%s", orgID)
	return cache.GetOrSet(ctx, s.cache, key, s.ttl, nil, func(ctx context.Context) (*types.Organization, error) {
		return notFoundAsNil(s.orgs.GetByID(ctx, orgID))
	})
}

func (s *EntityService) GetGroup(ctx context.Context, groupID uuid.UUID) (*types.Group, error) {
	key := fmt.Sprintf("group:%s", groupID)
	return cache.GetOrSet(ctx, s.cache, key, s.ttl, nil, func(ctx context.Context) (*types.Group, error) {
		return notFoundAsNil(s.groups.GetByID(ctx, groupID))
	})
}

func notFoundAsNil[T any](v *T, err error) (*T, error) {
	if err == nil {
		return v, nil
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus() == http.StatusNotFound {
		return nil, nil
	}
	return nil, err
}
