package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves keys as plain environment variables. Used when
// running outside AWS, where "SSM paths" are just variable names.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the keys that are set; missing keys are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// NewSecretProvider picks the provider for appEnv: environment variables for
// local runs, SSM everywhere else.
func NewSecretProvider(appEnv, region string) SecretProvider {
	if appEnv == localEnv {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region)
}
