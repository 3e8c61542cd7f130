package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasseo/internal/api/handlers"
	"tasseo/internal/config"
	"tasseo/internal/external"
	"tasseo/internal/types"
)

// fakeDB answers pings and fails every query; the tests never reach SQL.
type fakeDB struct {
	pingErr error
	closed  bool
}

func (f *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }
func (f *fakeDB) Close()                     { f.closed = true }

type errRow struct{}

func (errRow) Scan(...any) error { return errors.New("not implemented") }

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "local"}
	cfg.API.JWTSecret = types.SecretString("test-secret")
	cfg.Telegram.WebhookSecret = types.SecretString("hook-secret")
	return cfg
}

func buildTestServer(t *testing.T, cfg *config.Config, conn *fakeDB) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clients := &external.ClientRegistry{Sender: external.NewStubMessenger(logger)}
	srv, err := buildServer(cfg, conn, clients, nil, logger)
	require.NoError(t, err)
	return srv.Handler()
}

func TestHealthEndpoint(t *testing.T) {
	h := buildTestServer(t, testConfig(), &fakeDB{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "database")
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	h := buildTestServer(t, testConfig(), &fakeDB{pingErr: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookIsPublicButChecksSecret(t *testing.T) {
	h := buildTestServer(t, testConfig(), &fakeDB{})

	req := httptest.NewRequest(http.MethodPost, "/v1"+handlers.WebhookPath, strings.NewReader(`{"update_id":1}`))
	req.Header.Set(handlers.SecretTokenHeader, "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeAuthSecretInvalid))
}

func TestWebhookIgnoresUpdateWithoutMessage(t *testing.T) {
	h := buildTestServer(t, testConfig(), &fakeDB{})

	req := httptest.NewRequest(http.MethodPost, "/v1"+handlers.WebhookPath, strings.NewReader(`{"update_id":1}`))
	req.Header.Set(handlers.SecretTokenHeader, "hook-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadingsRequireBearerToken(t *testing.T) {
	h := buildTestServer(t, testConfig(), &fakeDB{})

	req := httptest.NewRequest(http.MethodPost, "/v1/readings/chat", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildServer_RequiresWebhookSecretOutsideLocal(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "prod"
	cfg.Telegram.WebhookSecret = ""

	logger := slog.New(slog.DiscardHandler)
	_, err := buildServer(cfg, &fakeDB{}, &external.ClientRegistry{}, nil, logger)
	assert.Error(t, err)
}

func TestShutdownClosesPool(t *testing.T) {
	conn := &fakeDB{}
	logger := slog.New(slog.DiscardHandler)
	srv, err := buildServer(testConfig(), conn, &external.ClientRegistry{Sender: external.NewStubMessenger(logger)}, nil, logger)
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, conn.closed)
}
