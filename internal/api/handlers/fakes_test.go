package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"tasseo/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enqueued struct {
	queue   types.QueueName
	payload any
	opts    types.JobOptions
}

// mockEnqueuer records jobs and returns jobID ("" simulates a store outage).
type mockEnqueuer struct {
	mu    sync.Mutex
	jobID string
	jobs  []enqueued
}

func (m *mockEnqueuer) Enqueue(_ context.Context, queue types.QueueName, payload any, opts types.JobOptions) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, enqueued{queue: queue, payload: payload, opts: opts})
	return m.jobID
}

type mockCredits struct {
	hasCreditsFn func(ctx context.Context, userID string, cost int) (bool, error)
	calls        int
}

func (m *mockCredits) HasSufficientCredits(ctx context.Context, userID string, cost int) (bool, error) {
	m.calls++
	if m.hasCreditsFn != nil {
		return m.hasCreditsFn(ctx, userID, cost)
	}
	return true, nil
}

type staticFlags map[string]bool

func (f staticFlags) Bool(_ context.Context, key string, def bool) bool {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

type mockUsers struct {
	users map[string]types.Recipient
	err   error
}

func (m *mockUsers) FindByExternalID(_ context.Context, externalID string) (*types.Recipient, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[externalID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no user", nil)
	}
	return &u, nil
}

type sentMessage struct {
	chatID string
	text   string
}

type mockReplier struct {
	sent []sentMessage
	err  error
}

func (m *mockReplier) SendMessage(_ context.Context, chatID string, text string, _ types.SendOptions) (*types.SentMessage, error) {
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	if m.err != nil {
		return nil, m.err
	}
	return &types.SentMessage{}, nil
}
