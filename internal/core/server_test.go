package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tasseo/internal/config"
	"tasseo/internal/types"
)

type mockMetricsCollector struct {
	calls []metricsCall
}

type metricsCall struct {
	method, endpoint, status string
	duration                 time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.calls = append(m.calls, metricsCall{method, endpoint, status, duration})
}

type stubAuthenticator struct {
	principal *types.Principal
	err       error
	tokens    []string
}

func (a *stubAuthenticator) ResolveToken(_ context.Context, token string) (*types.Principal, error) {
	a.tokens = append(a.tokens, token)
	return a.principal, a.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{Environment: "local"}, quietLogger())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	return srv
}

func TestNewServer_Success(t *testing.T) {
	srv := newTestServer(t)
	if srv.Validator == nil {
		t.Error("Validator not initialized")
	}
	if srv.Router() == nil || srv.Handler() == nil {
		t.Error("router not initialized")
	}
	if !srv.PublicPaths["/health"] {
		t.Error("/health must be public by default")
	}
}

func TestNewServer_NilDependencies(t *testing.T) {
	if _, err := NewServer(nil, quietLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestServer_Shutdown_ReleasesInReverseOrder(t *testing.T) {
	srv := newTestServer(t)
	var order []string
	srv.OnShutdown(func() error { order = append(order, "pool"); return nil })
	srv.OnShutdown(func() error { order = append(order, "redis"); return errors.New("already closed") })

	err := srv.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected the closer error to be returned")
	}
	if len(order) != 2 || order[0] != "redis" || order[1] != "pool" {
		t.Errorf("unexpected release order: %v", order)
	}
}
