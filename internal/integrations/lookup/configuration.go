// Package lookup resolves the data the dispatcher needs for every event,
// integration configurations and template entities, through the cache.
package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventrelay/internal/cache"
	"eventrelay/internal/types"
)

type Details = types.OrganizationIntegrationConfigurationDetails

// ConfigurationStore is the persistent source of integration configurations.
type ConfigurationStore interface {
	GetManyByEventType(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType, eventType types.EventType) ([]Details, error)
	GetManyWildcard(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType) ([]Details, error)
}

// ConfigurationService returns the configurations that apply to an event:
// those bound to its exact type plus the wildcard ones.
type ConfigurationService struct {
	store ConfigurationStore
	cache cache.Cache
	ttl   time.Duration
}

// NewConfigurationService creates a ConfigurationService.
func NewConfigurationService(store ConfigurationStore, c cache.Cache, ttl time.Duration) *ConfigurationService {
	return &ConfigurationService{store: store, cache: c, ttl: ttl}
}

// ConfigurationTag groups every cached configuration set of one organization
// and integration kind.
func ConfigurationTag(orgID uuid.UUID, kind types.IntegrationType) string {
	return fmt.Sprintf("org:%s:integration:%s", orgID, kind)
}

func configurationKey(orgID uuid.UUID, kind types.IntegrationType, eventType string) string {
	return fmt.Sprintf("integration-configurations:%s:%s:%s", orgID, kind, eventType)
}

// GetConfigurationDetails returns the event-type-specific configurations
// followed by the wildcard ones. Each half is cached separately so a wildcard
// set is shared by every event type.
func (s *ConfigurationService) GetConfigurationDetails(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType, eventType types.EventType) ([]Details, error) {
	tags := []string{ConfigurationTag(orgID, kind)}

	specific, err := cache.GetOrSet(ctx, s.cache, configurationKey(orgID, kind, fmt.Sprintf("%d", int(eventType))), s.ttl, tags,
		func(ctx context.Context) ([]Details, error) {
			return s.store.GetManyByEventType(ctx, orgID, kind, eventType)
		})
	if err != nil {
		return nil, fmt.Errorf("lookup: configurations for %s: %w", eventType, err)
	}

	wildcard, err := cache.GetOrSet(ctx, s.cache, configurationKey(orgID, kind, "*"), s.ttl, tags,
		func(ctx context.Context) ([]Details, error) {
			return s.store.GetManyWildcard(ctx, orgID, kind)
		})
	if err != nil {
		return nil, fmt.Errorf("lookup: wildcard configurations: %w", err)
	}

	out := make([]Details, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...), nil
}

// Invalidate drops every cached configuration set for the organization and
// kind. Call it after configurations are edited.
func (s *ConfigurationService) Invalidate(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType) error {
	return s.cache.RemoveByTag(ctx, ConfigurationTag(orgID, kind))
}
