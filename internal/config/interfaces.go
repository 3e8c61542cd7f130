package config

import "context"

// SecretProvider maps parameter paths to plaintext. EnvVarProvider serves
// local runs and SSMProvider everything else.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
