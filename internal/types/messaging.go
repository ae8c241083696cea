package types

import (
	"encoding/json"
	"time"
)

// Envelope is the type-erased view of an IntegrationMessage. The listener and
// the broker adapters only need retry state and serialization, never the
// integration-specific configuration.
type Envelope interface {
	ID() string
	Kind() IntegrationType
	Attempts() int
	NotBefore() *time.Time
	// ApplyRetry records one more failed attempt and the instant before which
	// the message must not be redelivered.
	ApplyRetry(notBefore *time.Time)
	Encode() ([]byte, error)
}

// IntegrationMessage is the unit of work carried on the broker. Configuration
// is resolved once at dispatch time so handlers never re-fetch it. All retry
// state travels with the message. JSON tags use snake_case like the rest of
// the wire contracts.
type IntegrationMessage[T any] struct {
	IntegrationType  IntegrationType `json:"integration_type"`
	MessageID        string          `json:"message_id"`
	OrganizationID   string          `json:"organization_id"`
	Configuration    T               `json:"configuration"`
	RenderedTemplate string          `json:"rendered_template"`

	// Retry State: RetryCount only ever increases along one delivery chain.
	RetryCount     int        `json:"retry_count"`
	DelayUntilDate *time.Time `json:"delay_until_date,omitempty"`
}

// RawIntegrationMessage decodes any integration message without knowing its
// configuration shape.
type RawIntegrationMessage = IntegrationMessage[json.RawMessage]

var _ Envelope = (*IntegrationMessage[json.RawMessage])(nil)

func (m *IntegrationMessage[T]) ID() string            { return m.MessageID }
func (m *IntegrationMessage[T]) Kind() IntegrationType { return m.IntegrationType }
func (m *IntegrationMessage[T]) Attempts() int         { return m.RetryCount }
func (m *IntegrationMessage[T]) NotBefore() *time.Time { return m.DelayUntilDate }

func (m *IntegrationMessage[T]) ApplyRetry(notBefore *time.Time) {
	m.RetryCount++
	if notBefore != nil {
		t := notBefore.UTC()
		m.DelayUntilDate = &t
	}
}

func (m *IntegrationMessage[T]) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// IntegrationHandlerResult is the classified outcome of one delivery attempt.
// Message points back at the attempted message so the listener can mutate and
// republish it.
type IntegrationHandlerResult struct {
	Success       bool
	Retryable     bool
	Category      FailureCategory
	FailureReason string
	// DelayUntilDate overrides the listener's backoff when the target supplied
	// its own hint (e.g. Retry-After).
	DelayUntilDate *time.Time
	Message        Envelope
}

// Succeeded builds a successful result for msg.
func Succeeded(msg Envelope) *IntegrationHandlerResult {
	return &IntegrationHandlerResult{Success: true, Message: msg}
}

// Failed builds a failed result. Retryability follows from the category.
func Failed(msg Envelope, category FailureCategory, reason string) *IntegrationHandlerResult {
	return &IntegrationHandlerResult{
		Success:       false,
		Retryable:     category.Retryable(),
		Category:      category,
		FailureReason: reason,
		Message:       msg,
	}
}

// WithDelayUntil sets the not-before override and returns the result.
func (r *IntegrationHandlerResult) WithDelayUntil(t time.Time) *IntegrationHandlerResult {
	u := t.UTC()
	r.DelayUntilDate = &u
	return r
}
