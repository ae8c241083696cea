package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "User_LoggedIn", EventUserLoggedIn.String())
	assert.Equal(t, "Group_Updated", EventGroupUpdated.String())
	assert.Equal(t, "9999", EventType(9999).String())
}

func TestParseEventType(t *testing.T) {
	et, ok := ParseEventType("cipher_created")
	require.True(t, ok)
	assert.Equal(t, EventCipherCreated, et)

	_, ok = ParseEventType("Nope")
	assert.False(t, ok)
}

func TestIntegrationType_RoutingKey(t *testing.T) {
	assert.Equal(t, "webhook", IntegrationWebhook.RoutingKey())
	assert.Equal(t, "slack", IntegrationSlack.RoutingKey())
	assert.True(t, IntegrationHec.Valid())
	assert.True(t, IntegrationDatadog.Valid())
	assert.False(t, IntegrationType("teams").Valid())
}

func TestEventMessage_Properties(t *testing.T) {
	org := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	user := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	device := DeviceIOS
	ev := EventMessage{
		Type:           EventUserLoggedIn,
		Date:           time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC),
		OrganizationID: &org,
		UserID:         &user,
		IPAddress:      "203.0.113.9",
		DeviceType:     &device,
	}

	props := ev.Properties()
	assert.Equal(t, "User_LoggedIn", props["Type"])
	assert.Equal(t, "2026-05-04T10:30:00Z", props["Date"])
	assert.Equal(t, org.String(), props["OrganizationId"])
	assert.Equal(t, user.String(), props["UserId"])
	assert.Equal(t, "iOS", props["DeviceType"])
	assert.Equal(t, "203.0.113.9", props["IpAddress"])
	assert.NotContains(t, props, "ActingUserId")
	assert.NotContains(t, props, "SystemUser")
}

func TestEventMessage_DecodeUpstreamJSON(t *testing.T) {
	body := `{"type":1400,"date":"2026-02-01T08:00:00Z","organization_id":"11111111-1111-1111-1111-111111111111","group_id":"33333333-3333-3333-3333-333333333333","system_user":1}`

	var ev EventMessage
	require.NoError(t, json.Unmarshal([]byte(body), &ev))
	assert.Equal(t, EventGroupCreated, ev.Type)
	require.NotNil(t, ev.GroupID)
	require.NotNil(t, ev.SystemUser)
	assert.Equal(t, "SCIM", ev.SystemUser.String())
	assert.Nil(t, ev.UserID)
}
