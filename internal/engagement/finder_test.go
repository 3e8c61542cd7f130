package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasseo/internal/types"
)

func newTestFinder(users *stubUsers, ledger *memLedger, now time.Time) *Finder {
	return NewFinder(users, ledger, LedgerDay{loc: time.UTC}, types.FixedClock{T: now}, quietLogger())
}

func ids(rs []types.Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.RecipientID)
	}
	return out
}

func TestFinder_WeeklyCheckInSkipsRecipientsAlreadyMessagedToday(t *testing.T) {
	monday := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	users := &stubUsers{weekly: []types.Recipient{recipient("u-1"), recipient("u-2")}}
	ledger := &memLedger{entries: []types.EngagementLogEntry{
		{RecipientID: "u-1", MessageType: types.MessageWeeklyCheckIn, SentAt: monday.Add(-2 * time.Hour)},
		// Another type on the same day does not count.
		{RecipientID: "u-2", MessageType: types.MessageDailyFortune, SentAt: monday.Add(-time.Hour)},
	}}

	got, err := newTestFinder(users, ledger, monday).FindWeeklyCheckInUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u-2"}, ids(got))

	// Next day both are eligible again.
	got, err = newTestFinder(users, ledger, monday.Add(24*time.Hour)).FindWeeklyCheckInUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, ids(got))
}

func TestFinder_SecondRunSameDayFindsNobody(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	users := &stubUsers{interested: []types.Recipient{recipient("u-1"), recipient("u-2")}}
	ledger := &memLedger{}
	f := newTestFinder(users, ledger, now)

	first, err := f.FindDailyFortuneUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, r := range first {
		require.NoError(t, ledger.Append(context.Background(), types.EngagementLogEntry{
			RecipientID: r.RecipientID, MessageType: types.MessageDailyFortune, SentAt: now,
		}))
	}

	second, err := f.FindDailyFortuneUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, SpiritualInterest, users.interestTag)
}

func TestFinder_InactiveCutoffIsSevenDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := &stubUsers{inactive: []types.Recipient{recipient("u-1")}}

	got, err := newTestFinder(users, &memLedger{}, now).FindInactiveUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC), users.inactiveCutoff)
}

func TestFinder_InsightUsersRespectSettings(t *testing.T) {
	off := false
	users := &stubUsers{dispatchable: []types.DispatchableUser{
		{ID: "u-1", ExternalID: "chat-1"},
		{ID: "u-2", ExternalID: "chat-2", Settings: types.NotificationSettings{EveningEnabled: &off}},
		{ID: "u-3", ExternalID: "chat-3", Settings: types.NotificationSettings{Enabled: &off}},
	}}
	// 22:00 in Moscow, the evening batch.
	f := newTestFinder(users, &memLedger{}, time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC))

	evening, err := f.FindInsightUsers(context.Background(), types.InsightEvening)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1"}, ids(evening))

	morning, err := f.Find(context.Background(), types.MessageMorningInsight)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-2"}, ids(morning))
}

func TestFinder_InsightUsersWaitForPreferredLocalHour(t *testing.T) {
	eight := "08:00"
	users := &stubUsers{dispatchable: []types.DispatchableUser{
		{ID: "moscow", ExternalID: "chat-1", Timezone: "Europe/Moscow"},
		{ID: "new-york", ExternalID: "chat-2", Timezone: "America/New_York", Settings: types.NotificationSettings{MorningTime: &eight}},
		{ID: "no-tz", ExternalID: "chat-3"},
		{ID: "bad-tz", ExternalID: "chat-4", Timezone: "Nowhere/Special"},
	}}

	// 12:00 in Moscow is 04:00 in New York.
	noonMSK := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	morning, err := newTestFinder(users, &memLedger{}, noonMSK).FindInsightUsers(context.Background(), types.InsightMorning)
	require.NoError(t, err)
	assert.Equal(t, []string{"moscow", "no-tz", "bad-tz"}, ids(morning))

	// 22:00 in Moscow is 14:00 in New York, before the default 20:00.
	eveningMSK := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	evening, err := newTestFinder(users, &memLedger{}, eveningMSK).FindInsightUsers(context.Background(), types.InsightEvening)
	require.NoError(t, err)
	assert.NotContains(t, ids(evening), "new-york")

	// Past 08:00 in New York the morning net does pick them up.
	lateNY := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	morning, err = newTestFinder(users, &memLedger{}, lateNY).FindInsightUsers(context.Background(), types.InsightMorning)
	require.NoError(t, err)
	assert.Contains(t, ids(morning), "new-york")
}

func TestFinder_Errors(t *testing.T) {
	now := time.Now()

	_, err := newTestFinder(&stubUsers{err: errBoom}, &memLedger{}, now).FindWeeklyCheckInUsers(context.Background())
	assert.ErrorIs(t, err, errBoom)

	users := &stubUsers{weekly: []types.Recipient{recipient("u-1")}}
	_, err = newTestFinder(users, &memLedger{readErr: errBoom}, now).FindWeeklyCheckInUsers(context.Background())
	assert.ErrorIs(t, err, errBoom)

	_, err = newTestFinder(users, &memLedger{}, now).Find(context.Background(), "birthday")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMessageType, appErr.Code)
}
