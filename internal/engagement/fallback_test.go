package engagement

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasseo/internal/types"
)

func TestFallbackPool_Golden(t *testing.T) {
	pool := mustPool(t)
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		golden string
		mt     types.MessageType
		name   string
		lang   string
	}{
		{"daily_fortune_en", types.MessageDailyFortune, "Anna", "en"},
		{"daily_fortune_ru", types.MessageDailyFortune, "Анна", "ru"},
		{"morning_insight_en", types.MessageMorningInsight, "Anna", "en-US"},
		{"inactive_reminder_no_name", types.MessageInactiveReminder, "  ", "en"},
		{"evening_insight_unsupported_language", types.MessageEveningInsight, "", "de"},
	}
	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			out, err := pool.Render(tt.mt, tt.name, tt.lang, day)
			require.NoError(t, err)
			g.Assert(t, tt.golden, []byte(out+"\n"))
		})
	}
}

func TestFallbackPool_RotatesByDayOfYear(t *testing.T) {
	pool := mustPool(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	today, err := pool.Render(types.MessageDailyFortune, "Anna", "en", day)
	require.NoError(t, err)
	tomorrow, err := pool.Render(types.MessageDailyFortune, "Anna", "en", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	again, err := pool.Render(types.MessageDailyFortune, "Anna", "en", day.Add(10*time.Hour))
	require.NoError(t, err)

	assert.NotEqual(t, today, tomorrow)
	assert.Equal(t, today, again)
}

func TestFallbackPool_EveryTypeHasBothLanguages(t *testing.T) {
	pool := mustPool(t)
	for _, mt := range []types.MessageType{
		types.MessageInactiveReminder,
		types.MessageWeeklyCheckIn,
		types.MessageDailyFortune,
		types.MessageMorningInsight,
		types.MessageEveningInsight,
	} {
		for _, lang := range []string{"ru", "en"} {
			out, err := pool.Render(mt, "X", lang, time.Now())
			require.NoError(t, err, "%s/%s", mt, lang)
			assert.Contains(t, out, "X", "%s/%s", mt, lang)
		}
	}
}

func TestParseFallbackPool_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not yaml", "::"},
		{"unknown type", "birthday:\n  ru: [\"a\"]\n  en: [\"b\"]\n"},
		{"missing language", "daily-fortune:\n  ru: [\"a\"]\n"},
		{"bad template", "daily-fortune:\n  ru: [\"{% if name %}hi\"]\n  en: [\"b\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFallbackPool([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestFallbackPool_UnknownType(t *testing.T) {
	_, err := mustPool(t).Render("birthday", "Anna", "en", time.Now())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMessageType, appErr.Code)
}
