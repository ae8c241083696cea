// Package templates renders administrator-defined integration templates.
//
// Tokens are written #Name#. Event properties (#Type#, #Date#, #UserId#, ...)
// are always available. Entity tokens fall into four classes that each cost a
// lookup: user (#UserName#, #UserEmail#, #UserType#), acting user
// (#ActingUserName#, ...), organization (#OrganizationName#) and group
// (#GroupName#). A dotted form such as #User.Email# is accepted and means the
// same as #UserEmail#.
package templates

import (
	"encoding/json"
	"regexp"
	"strings"

	"eventrelay/internal/types"
)

var tokenPattern = regexp.MustCompile(`#([A-Za-z][A-Za-z0-9]*(?:\.[A-Za-z][A-Za-z0-9]*)*)#`)

var (
	userTokens         = []string{"#UserName#", "#UserEmail#", "#UserType#", "#User."}
	actingUserTokens   = []string{"#ActingUserName#", "#ActingUserEmail#", "#ActingUserType#", "#ActingUser."}
	organizationTokens = []string{"#OrganizationName#", "#Organization."}
	groupTokens        = []string{"#GroupName#", "#Group."}
)

// IntegrationTemplateContext holds everything a template may reference. Nil
// entities render as empty strings.
type IntegrationTemplateContext struct {
	Event        types.EventMessage
	User         *types.OrganizationUserDetails
	ActingUser   *types.OrganizationUserDetails
	Organization *types.Organization
	Group        *types.Group
}

// Values returns the flat token name -> value map for the context.
func (c *IntegrationTemplateContext) Values() map[string]string {
	values := c.Event.Properties()

	if eventJSON, err := json.Marshal(c.Event); err == nil {
		values["EventMessage"] = string(eventJSON)
	}
	if c.User != nil {
		values["UserName"] = c.User.Name
		values["UserEmail"] = c.User.Email
		values["UserType"] = c.User.Type.String()
	}
	if c.ActingUser != nil {
		values["ActingUserName"] = c.ActingUser.Name
		values["ActingUserEmail"] = c.ActingUser.Email
		values["ActingUserType"] = c.ActingUser.Type.String()
	}
	if c.Organization != nil {
		values["OrganizationName"] = c.Organization.Name
	}
	if c.Group != nil {
		values["GroupName"] = c.Group.Name
	}
	return values
}

// ReplaceTokens substitutes every #Token# in template. Unknown tokens and
// tokens whose entity could not be resolved become the empty string. Text that
// does not form a token is copied through unchanged.
func ReplaceTokens(template string, ctx *IntegrationTemplateContext) string {
	if template == "" {
		return ""
	}
	var values map[string]string
	if ctx != nil {
		values = ctx.Values()
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.ReplaceAll(match[1:len(match)-1], ".", "")
		return values[name]
	})
}

func containsAny(template string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(template, tok) {
			return true
		}
	}
	return false
}

// TemplateRequiresUser reports whether template references the event's user.
func TemplateRequiresUser(template string) bool {
	return containsAny(template, userTokens)
}

// TemplateRequiresActingUser reports whether template references the acting user.
func TemplateRequiresActingUser(template string) bool {
	return containsAny(template, actingUserTokens)
}

// TemplateRequiresOrganization reports whether template references the organization.
func TemplateRequiresOrganization(template string) bool {
	return containsAny(template, organizationTokens)
}

// TemplateRequiresGroup reports whether template references the group.
func TemplateRequiresGroup(template string) bool {
	return containsAny(template, groupTokens)
}
