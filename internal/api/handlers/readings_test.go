package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasseo/internal/core"
	"tasseo/internal/types"
)

func newReadingsRouter(q *mockEnqueuer, credits *mockCredits) chi.Router {
	h := NewReadingsHandler(NewIntake(q, credits, nil, quietLogger()), core.NewValidator(quietLogger()), quietLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doReading(t *testing.T, r chi.Router, path, body string, p *types.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(types.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var webUser = &types.Principal{UserID: "u-1", ChatID: 100, LanguageCode: "en"}

func TestReadings_Chat_Accepted(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-1"}
	r := newReadingsRouter(q, &mockCredits{})

	rec := doReading(t, r, "/readings/chat", `{"text":"Will it rain?","channel":"webapp"}`, webUser)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Data IntakeResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.Data.JobID)
	assert.True(t, resp.Data.Queued)

	require.Len(t, q.jobs, 1)
	p := q.jobs[0].payload.(types.ChatJobPayload)
	assert.Equal(t, int64(100), p.ChatID)
	assert.Equal(t, types.ChannelWebApp, p.Channel)
	assert.Equal(t, "en", p.LanguageCode)
}

func TestReadings_Photo_QueueDownStill202(t *testing.T) {
	q := &mockEnqueuer{jobID: ""}
	r := newReadingsRouter(q, &mockCredits{})

	rec := doReading(t, r, "/readings/photo", `{"file_id":"AgAD","channel":"web","language_code":"ru"}`, webUser)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data IntakeResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Data.Queued)

	p := q.jobs[0].payload.(types.PhotoJobPayload)
	assert.Equal(t, "ru", p.LanguageCode)
}

func TestReadings_InsufficientCredits402(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-1"}
	credits := &mockCredits{hasCreditsFn: func(context.Context, string, int) (bool, error) { return false, nil }}
	r := newReadingsRouter(q, credits)

	rec := doReading(t, r, "/readings/chat", `{"text":"hi","channel":"web"}`, webUser)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, q.jobs)
}

func TestReadings_Validation(t *testing.T) {
	r := newReadingsRouter(&mockEnqueuer{jobID: "job-1"}, &mockCredits{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"missing text", "/readings/chat", `{"channel":"web"}`},
		{"telegram channel not allowed", "/readings/chat", `{"text":"hi","channel":"telegram"}`},
		{"missing file id", "/readings/photo", `{"channel":"web"}`},
		{"unknown field", "/readings/chat", `{"text":"hi","channel":"web","user_id":"u-2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doReading(t, r, tt.path, tt.body, webUser)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestReadings_NoPrincipal(t *testing.T) {
	r := newReadingsRouter(&mockEnqueuer{jobID: "job-1"}, &mockCredits{})
	rec := doReading(t, r, "/readings/chat", `{"text":"hi","channel":"web"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReadings_UnlinkedAccount(t *testing.T) {
	r := newReadingsRouter(&mockEnqueuer{jobID: "job-1"}, &mockCredits{})
	rec := doReading(t, r, "/readings/chat", `{"text":"hi","channel":"web"}`, &types.Principal{UserID: "u-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
