package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves secrets from the process environment.
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// DefaultSecretProvider returns the environment provider for APP_ENV=local
// and an SSM provider for region otherwise.
func DefaultSecretProvider(region string) SecretProvider {
	if os.Getenv("APP_ENV") == localEnv {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region)
}
