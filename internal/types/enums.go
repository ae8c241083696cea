package types

import (
	"fmt"
	"strings"
)

// EventType enumerates the domain occurrences that can be routed to integrations.
// The numeric values are part of the upstream wire format.
type EventType int

const (
	EventUserLoggedIn            EventType = 1000
	EventUserChangedPassword     EventType = 1001
	EventUserUpdated2fa          EventType = 1002
	EventUserDisabled2fa         EventType = 1003
	EventUserRecovered2fa        EventType = 1004
	EventUserFailedLogIn         EventType = 1005
	EventUserFailedLogIn2fa      EventType = 1006
	EventUserClientExportedVault EventType = 1007

	EventCipherCreated            EventType = 1100
	EventCipherUpdated            EventType = 1101
	EventCipherDeleted            EventType = 1102
	EventCipherAttachmentCreated  EventType = 1103
	EventCipherAttachmentDeleted  EventType = 1104
	EventCipherShared             EventType = 1105
	EventCipherUpdatedCollections EventType = 1106
	EventCipherClientViewed       EventType = 1107

	EventCollectionCreated EventType = 1300
	EventCollectionUpdated EventType = 1301
	EventCollectionDeleted EventType = 1302

	EventGroupCreated EventType = 1400
	EventGroupUpdated EventType = 1401
	EventGroupDeleted EventType = 1402

	EventOrganizationUserInvited       EventType = 1500
	EventOrganizationUserConfirmed     EventType = 1501
	EventOrganizationUserUpdated       EventType = 1502
	EventOrganizationUserRemoved       EventType = 1503
	EventOrganizationUserUpdatedGroups EventType = 1504

	EventOrganizationUpdated     EventType = 1600
	EventOrganizationPurgedVault EventType = 1601

	EventPolicyUpdated EventType = 1700

	EventSecretRetrieved EventType = 2100
)

var eventTypeNames = map[EventType]string{
	EventUserLoggedIn:                  "User_LoggedIn",
	EventUserChangedPassword:           "User_ChangedPassword",
	EventUserUpdated2fa:                "User_Updated2fa",
	EventUserDisabled2fa:               "User_Disabled2fa",
	EventUserRecovered2fa:              "User_Recovered2fa",
	EventUserFailedLogIn:               "User_FailedLogIn",
	EventUserFailedLogIn2fa:            "User_FailedLogIn2fa",
	EventUserClientExportedVault:       "User_ClientExportedVault",
	EventCipherCreated:                 "Cipher_Created",
	EventCipherUpdated:                 "Cipher_Updated",
	EventCipherDeleted:                 "Cipher_Deleted",
	EventCipherAttachmentCreated:       "Cipher_AttachmentCreated",
	EventCipherAttachmentDeleted:       "Cipher_AttachmentDeleted",
	EventCipherShared:                  "Cipher_Shared",
	EventCipherUpdatedCollections:      "Cipher_UpdatedCollections",
	EventCipherClientViewed:            "Cipher_ClientViewed",
	EventCollectionCreated:             "Collection_Created",
	EventCollectionUpdated:             "Collection_Updated",
	EventCollectionDeleted:             "Collection_Deleted",
	EventGroupCreated:                  "Group_Created",
	EventGroupUpdated:                  "Group_Updated",
	EventGroupDeleted:                  "Group_Deleted",
	EventOrganizationUserInvited:       "OrganizationUser_Invited",
	EventOrganizationUserConfirmed:     "OrganizationUser_Confirmed",
	EventOrganizationUserUpdated:       "OrganizationUser_Updated",
	EventOrganizationUserRemoved:       "OrganizationUser_Removed",
	EventOrganizationUserUpdatedGroups: "OrganizationUser_UpdatedGroups",
	EventOrganizationUpdated:           "Organization_Updated",
	EventOrganizationPurgedVault:       "Organization_PurgedVault",
	EventPolicyUpdated:                 "Policy_Updated",
	EventSecretRetrieved:               "Secret_Retrieved",
}

// String returns the canonical event name, or the numeric value for types
// this build does not know about.
func (e EventType) String() string {
	if name, ok := eventTypeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("%d", int(e))
}

// ParseEventType resolves a canonical event name back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for t, n := range eventTypeNames {
		if strings.EqualFold(n, name) {
			return t, true
		}
	}
	return 0, false
}

// IntegrationType identifies an outbound integration kind. Its string value
// doubles as the broker routing key.
type IntegrationType string

const (
	IntegrationWebhook IntegrationType = "webhook"
	IntegrationHec     IntegrationType = "hec"
	IntegrationSlack   IntegrationType = "slack"
	IntegrationDatadog IntegrationType = "datadog"
)

// AllIntegrationTypes lists the kinds a worker runs listeners for.
var AllIntegrationTypes = []IntegrationType{IntegrationWebhook, IntegrationHec, IntegrationSlack, IntegrationDatadog}

// RoutingKey returns the broker routing key for the integration kind.
func (t IntegrationType) RoutingKey() string {
	return string(t)
}

// Valid reports whether t is a known integration kind.
func (t IntegrationType) Valid() bool {
	for _, k := range AllIntegrationTypes {
		if k == t {
			return true
		}
	}
	return false
}

// DeviceType identifies the client that produced an event.
type DeviceType int

const (
	DeviceAndroid          DeviceType = 0
	DeviceIOS              DeviceType = 1
	DeviceChromeExtension  DeviceType = 2
	DeviceFirefoxExtension DeviceType = 3
	DeviceWindowsDesktop   DeviceType = 6
	DeviceMacOSDesktop     DeviceType = 7
	DeviceLinuxDesktop     DeviceType = 8
	DeviceChromeBrowser    DeviceType = 9
	DeviceSDK              DeviceType = 21
	DeviceServer           DeviceType = 22
)

var deviceTypeNames = map[DeviceType]string{
	DeviceAndroid:          "Android",
	DeviceIOS:              "iOS",
	DeviceChromeExtension:  "ChromeExtension",
	DeviceFirefoxExtension: "FirefoxExtension",
	DeviceWindowsDesktop:   "WindowsDesktop",
	DeviceMacOSDesktop:     "MacOsDesktop",
	DeviceLinuxDesktop:     "LinuxDesktop",
	DeviceChromeBrowser:    "ChromeBrowser",
	DeviceSDK:              "SDK",
	DeviceServer:           "Server",
}

func (d DeviceType) String() string {
	if name, ok := deviceTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("%d", int(d))
}

// SystemUser identifies an automated actor that produced an event.
type SystemUser int

const (
	SystemUserSCIM               SystemUser = 1
	SystemUserDomainVerification SystemUser = 2
	SystemUserPublicAPI          SystemUser = 3
)

func (s SystemUser) String() string {
	switch s {
	case SystemUserSCIM:
		return "SCIM"
	case SystemUserDomainVerification:
		return "DomainVerification"
	case SystemUserPublicAPI:
		return "PublicApi"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// OrganizationUserType is the membership role of a user within an organization.
type OrganizationUserType int

const (
	OrganizationUserOwner  OrganizationUserType = 0
	OrganizationUserAdmin  OrganizationUserType = 1
	OrganizationUserUser   OrganizationUserType = 2
	OrganizationUserCustom OrganizationUserType = 4
)

func (t OrganizationUserType) String() string {
	switch t {
	case OrganizationUserOwner:
		return "Owner"
	case OrganizationUserAdmin:
		return "Admin"
	case OrganizationUserUser:
		return "User"
	case OrganizationUserCustom:
		return "Custom"
	default:
		return fmt.Sprintf("%d", int(t))
	}
}

// FailureCategory classifies why a delivery attempt failed. The category
// determines whether the listener may retry.
type FailureCategory string

const (
	FailureRateLimited          FailureCategory = "rate_limited"
	FailureTransientError       FailureCategory = "transient_error"
	FailureServiceUnavailable   FailureCategory = "service_unavailable"
	FailureAuthenticationFailed FailureCategory = "authentication_failed"
	FailureConfigurationError   FailureCategory = "configuration_error"
	FailurePermanent            FailureCategory = "permanent_failure"
)

// Retryable reports whether failures of this category may be attempted again.
func (c FailureCategory) Retryable() bool {
	switch c {
	case FailureRateLimited, FailureTransientError, FailureServiceUnavailable:
		return true
	default:
		return false
	}
}
