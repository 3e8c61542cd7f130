package engagement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tasseo/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger is an in-memory Ledger.
type memLedger struct {
	mu        sync.Mutex
	entries   []types.EngagementLogEntry
	appendErr error
	readErr   error
}

func (l *memLedger) Append(_ context.Context, e types.EngagementLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLedger) Exists(_ context.Context, recipientID string, mt types.MessageType, from, to time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return false, l.readErr
	}
	for _, e := range l.entries {
		if e.RecipientID == recipientID && e.MessageType == mt && !e.SentAt.Before(from) && e.SentAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) RecipientsLogged(_ context.Context, mt types.MessageType, from, to time.Time) (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	out := make(map[string]struct{})
	for _, e := range l.entries {
		if e.MessageType == mt && !e.SentAt.Before(from) && e.SentAt.Before(to) {
			out[e.RecipientID] = struct{}{}
		}
	}
	return out, nil
}

func (l *memLedger) count(mt types.MessageType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.MessageType == mt {
			n++
		}
	}
	return n
}

// stubUsers returns fixed candidate lists.
type stubUsers struct {
	inactive     []types.Recipient
	weekly       []types.Recipient
	interested   []types.Recipient
	dispatchable []types.DispatchableUser
	err          error

	inactiveCutoff time.Time
	interestTag    string
}

func (s *stubUsers) ListInactiveSince(_ context.Context, cutoff time.Time) ([]types.Recipient, error) {
	s.inactiveCutoff = cutoff
	return s.inactive, s.err
}

func (s *stubUsers) ListWeeklyCheckInOptIns(context.Context) ([]types.Recipient, error) {
	return s.weekly, s.err
}

func (s *stubUsers) ListByInterest(_ context.Context, tag string) ([]types.Recipient, error) {
	s.interestTag = tag
	return s.interested, s.err
}

func (s *stubUsers) ListDispatchable(context.Context) ([]types.DispatchableUser, error) {
	return s.dispatchable, s.err
}

// stubLLM answers with a fixed completion, a fixed error, or blocks until
// its context is done.
type stubLLM struct {
	text  string
	err   error
	block bool
	calls int
}

func (s *stubLLM) Invoke(ctx context.Context, _ []types.LLMMessage) (*types.LLMCompletion, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &types.LLMCompletion{Content: s.text}, nil
}

type staticFlags map[string]bool

func (f staticFlags) Bool(_ context.Context, key string, def bool) bool {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

// recordingSender records sends and fails for the chat IDs in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    map[string]string
	failFor map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string]string), failFor: make(map[string]error)}
}

func (s *recordingSender) SendMessage(_ context.Context, chatID, text string, _ types.SendOptions) (*types.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[chatID]; err != nil {
		return nil, err
	}
	s.sent[chatID] = text
	return &types.SentMessage{MessageID: int64(len(s.sent)), ChatID: chatID}, nil
}

// noPacer never blocks. With failOn set, that wait (1-based) returns err.
type noPacer struct {
	waits  int
	failOn int
	err    error
}

func (p *noPacer) Wait(context.Context) error {
	p.waits++
	if p.failOn > 0 && p.waits == p.failOn {
		return p.err
	}
	return nil
}

type recordingBatches struct {
	results []BatchResult
}

func (r *recordingBatches) BatchFinished(_ context.Context, result BatchResult, _ time.Duration) {
	r.results = append(r.results, result)
}

var errSendBlocked = &types.ChannelError{Channel: "telegram", StatusCode: 403, Description: "Forbidden: bot was blocked by the user"}

var errBoom = errors.New("boom")

func recipient(id string) types.Recipient {
	return types.Recipient{
		RecipientID:  id,
		ExternalID:   "chat-" + id,
		DisplayName:  "User " + id,
		LanguageCode: "en",
	}
}

func mustPool(t *testing.T) *FallbackPool {
	t.Helper()
	pool, err := LoadFallbackPool()
	require.NoError(t, err)
	return pool
}
