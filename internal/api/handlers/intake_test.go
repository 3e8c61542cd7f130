package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasseo/internal/settings"
	"tasseo/internal/types"
)

func chatPayload() types.ChatJobPayload {
	return types.ChatJobPayload{UserID: "u-1", ChatID: 100, Text: "what do you see?", Channel: types.ChannelWeb}
}

func TestIntake_SubmitChat_Queued(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-1"}
	credits := &mockCredits{}
	in := NewIntake(q, credits, nil, quietLogger())

	res, err := in.SubmitChat(context.Background(), chatPayload())
	require.NoError(t, err)
	assert.Equal(t, IntakeResult{JobID: "job-1", Queued: true}, res)
	assert.Equal(t, 1, credits.calls)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, types.QueueChatReply, q.jobs[0].queue)
	assert.Equal(t, readingJobOptions, q.jobs[0].opts)
}

func TestIntake_SubmitPhoto_InsufficientCredits(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-1"}
	credits := &mockCredits{hasCreditsFn: func(context.Context, string, int) (bool, error) { return false, nil }}
	in := NewIntake(q, credits, nil, quietLogger())

	_, err := in.SubmitPhoto(context.Background(), types.PhotoJobPayload{UserID: "u-1", ChatID: 1, FileID: "f", Channel: types.ChannelTelegram})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInsufficientCredits, appErr.Code)
	assert.Empty(t, q.jobs, "nothing may be enqueued without credits")
}

func TestIntake_CreditServiceDown_Accepts(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-2"}
	credits := &mockCredits{hasCreditsFn: func(context.Context, string, int) (bool, error) {
		return false, types.NewAppError(types.ErrCodeUpstreamCredits, "credits down", errors.New("503"))
	}}
	in := NewIntake(q, credits, nil, quietLogger())

	res, err := in.SubmitChat(context.Background(), chatPayload())
	require.NoError(t, err)
	assert.True(t, res.Queued)
}

func TestIntake_CreditGateDisabledByFlag(t *testing.T) {
	q := &mockEnqueuer{jobID: "job-3"}
	credits := &mockCredits{hasCreditsFn: func(context.Context, string, int) (bool, error) { return false, nil }}
	flags := staticFlags{settings.KeyCreditCheckEnabled: false}
	in := NewIntake(q, credits, flags, quietLogger())

	res, err := in.SubmitChat(context.Background(), chatPayload())
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Zero(t, credits.calls)
}

func TestIntake_EnqueueFailure_NotQueued(t *testing.T) {
	q := &mockEnqueuer{jobID: ""}
	in := NewIntake(q, nil, nil, quietLogger())

	res, err := in.SubmitChat(context.Background(), chatPayload())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Empty(t, res.JobID)
}
