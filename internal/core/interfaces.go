package core

import (
	"context"
	"time"

	"tasseo/internal/types"
)

// Authenticator resolves a bearer token to the user behind it.
// auth.TokenService satisfies it.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Principal, error)
}

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}
