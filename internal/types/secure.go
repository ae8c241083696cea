package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential loaded from the environment or SSM (broker
// URLs with passwords, the database DSN, the redis URL). String and MarshalJSON
// redact it so a logged or dumped Config never leaks the value.
type SecretString string

func (s SecretString) String() string { return redactedPlaceholder }

func (s SecretString) GoString() string { return redactedPlaceholder }

func (s SecretString) MarshalJSON() ([]byte, error) { return redactedJSON, nil }

// Unmask returns the plaintext. Call it only at the point the value is handed
// to a driver or client.
func (s SecretString) Unmask() string { return string(s) }
