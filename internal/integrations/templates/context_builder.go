package templates

import (
	"context"

	"github.com/google/uuid"

	"eventrelay/internal/types"
)

// EntityLookup fetches the entities templates can reference. Implementations
// return (nil, nil) when the entity does not exist.
type EntityLookup interface {
	GetOrganizationUserDetails(ctx context.Context, organizationID, userID uuid.UUID) (*types.OrganizationUserDetails, error)
	GetOrganization(ctx context.Context, organizationID uuid.UUID) (*types.Organization, error)
	GetGroup(ctx context.Context, groupID uuid.UUID) (*types.Group, error)
}

// ContextBuilder resolves only the entities a template actually references.
type ContextBuilder struct {
	lookup EntityLookup
	logger types.Logger
}

func NewContextBuilder(lookup EntityLookup, logger types.Logger) *ContextBuilder {
	return &ContextBuilder{lookup: lookup, logger: logger}
}

// Build returns the template context for event. Each entity class is fetched
// only if the template references it and the event carries its identifier.
// Lookup failures are logged and leave the entity nil so rendering degrades
// to empty substitutions.
func (b *ContextBuilder) Build(ctx context.Context, event types.EventMessage, template string) *IntegrationTemplateContext {
	tc := &IntegrationTemplateContext{Event: event}

	if TemplateRequiresUser(template) && event.UserID != nil && event.OrganizationID != nil {
		user, err := b.lookup.GetOrganizationUserDetails(ctx, *event.OrganizationID, *event.UserID)
		if err != nil {
			b.logger.Warn("template user lookup failed", "user_id", event.UserID.String(), "error", err)
		}
		tc.User = user
	}

	if TemplateRequiresActingUser(template) && event.ActingUserID != nil && event.OrganizationID != nil {
		acting, err := b.lookup.GetOrganizationUserDetails(ctx, *event.OrganizationID, *event.ActingUserID)
		if err != nil {
			b.logger.Warn("template acting user lookup failed", "acting_user_id", event.ActingUserID.String(), "error", err)
		}
		tc.ActingUser = acting
	}

	if TemplateRequiresOrganization(template) && event.OrganizationID != nil {
		org, err := b.lookup.GetOrganization(ctx, *event.OrganizationID)
		if err != nil {
			b.logger.Warn("template organization lookup failed", "organization_id", event.OrganizationID.String(), "error", err)
		}
		tc.Organization = org
	}

	if TemplateRequiresGroup(template) && event.GroupID != nil {
		group, err := b.lookup.GetGroup(ctx, *event.GroupID)
		if err != nil {
			b.logger.Warn("template group lookup failed", "group_id", event.GroupID.String(), "error", err)
		}
		tc.Group = group
	}

	return tc
}
