package types

import (
	"time"

	"github.com/google/uuid"
)

// EventMessage is the immutable record of one domain occurrence as published
// by the upstream event emitter. Identifiers are optional; which ones are set
// depends on the event type.
type EventMessage struct {
	Type EventType `json:"type"`
	Date time.Time `json:"date"`

	OrganizationID     *uuid.UUID `json:"organization_id,omitempty"`
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	ActingUserID       *uuid.UUID `json:"acting_user_id,omitempty"`
	CipherID           *uuid.UUID `json:"cipher_id,omitempty"`
	CollectionID       *uuid.UUID `json:"collection_id,omitempty"`
	GroupID            *uuid.UUID `json:"group_id,omitempty"`
	PolicyID           *uuid.UUID `json:"policy_id,omitempty"`
	OrganizationUserID *uuid.UUID `json:"organization_user_id,omitempty"`
	ProviderID         *uuid.UUID `json:"provider_id,omitempty"`
	SecretID           *uuid.UUID `json:"secret_id,omitempty"`
	ProjectID          *uuid.UUID `json:"project_id,omitempty"`
	ServiceAccountID   *uuid.UUID `json:"service_account_id,omitempty"`

	// Client metadata
	IPAddress  string      `json:"ip_address,omitempty"`
	DeviceType *DeviceType `json:"device_type,omitempty"`
	SystemUser *SystemUser `json:"system_user,omitempty"`
	DomainName string      `json:"domain_name,omitempty"`
}

// Properties flattens the event into name -> string pairs. It backs both
// template tokens and filter rules, so the two always agree on naming.
// Unset optional fields are omitted.
func (e *EventMessage) Properties() map[string]string {
	props := map[string]string{
		"Type": e.Type.String(),
		"Date": e.Date.UTC().Format(time.RFC3339),
	}
	ids := map[string]*uuid.UUID{
		"OrganizationId":     e.OrganizationID,
		"UserId":             e.UserID,
		"ActingUserId":       e.ActingUserID,
		"CipherId":           e.CipherID,
		"CollectionId":       e.CollectionID,
		"GroupId":            e.GroupID,
		"PolicyId":           e.PolicyID,
		"OrganizationUserId": e.OrganizationUserID,
		"ProviderId":         e.ProviderID,
		"SecretId":           e.SecretID,
		"ProjectId":          e.ProjectID,
		"ServiceAccountId":   e.ServiceAccountID,
	}
	for name, id := range ids {
		if id != nil {
			props[name] = id.String()
		}
	}
	if e.IPAddress != "" {
		props["IpAddress"] = e.IPAddress
	}
	if e.DeviceType != nil {
		props["DeviceType"] = e.DeviceType.String()
	}
	if e.SystemUser != nil {
		props["SystemUser"] = e.SystemUser.String()
	}
	if e.DomainName != "" {
		props["DomainName"] = e.DomainName
	}
	return props
}

// OrganizationUserDetails is the membership view of a user used by templates.
type OrganizationUserDetails struct {
	ID             uuid.UUID            `json:"id"`
	OrganizationID uuid.UUID            `json:"organization_id"`
	UserID         uuid.UUID            `json:"user_id"`
	Name           string               `json:"name"`
	Email          string               `json:"email"`
	Type           OrganizationUserType `json:"type"`
}

// Organization is the subset of organization data referenced by templates.
type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Group is the subset of group data referenced by templates.
type Group struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
}
