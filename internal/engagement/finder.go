package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tasseo/internal/types"
)

// InactiveAfter is how long a user must have been away to get a reminder.
const InactiveAfter = 7 * 24 * time.Hour

// SpiritualInterest is the interest tag that opts a user into daily fortunes.
const SpiritualInterest = "spiritual"

// RecipientStore runs the base eligibility queries. db.UserRepository
// satisfies it.
type RecipientStore interface {
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]types.Recipient, error)
	ListWeeklyCheckInOptIns(ctx context.Context) ([]types.Recipient, error)
	ListByInterest(ctx context.Context, tag string) ([]types.Recipient, error)
	ListDispatchable(ctx context.Context) ([]types.DispatchableUser, error)
}

// Finder selects the recipients of a message type that have not received it
// during the current ledger day.
type Finder struct {
	users  RecipientStore
	ledger Ledger
	day    LedgerDay
	clock  types.Clock
	logger *slog.Logger

	locations types.LocationCache
}

// NewFinder creates a Finder.
func NewFinder(users RecipientStore, ledger Ledger, day LedgerDay, clock types.Clock, logger *slog.Logger) *Finder {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{users: users, ledger: ledger, day: day, clock: clock, logger: logger}
}

// Find dispatches to the finder of mt.
func (f *Finder) Find(ctx context.Context, mt types.MessageType) ([]types.Recipient, error) {
	switch mt {
	case types.MessageInactiveReminder:
		return f.FindInactiveUsers(ctx)
	case types.MessageWeeklyCheckIn:
		return f.FindWeeklyCheckInUsers(ctx)
	case types.MessageDailyFortune:
		return f.FindDailyFortuneUsers(ctx)
	case types.MessageMorningInsight:
		return f.FindInsightUsers(ctx, types.InsightMorning)
	case types.MessageEveningInsight:
		return f.FindInsightUsers(ctx, types.InsightEvening)
	}
	return nil, types.NewAppError(types.ErrCodeValidationMessageType, fmt.Sprintf("unknown message type %q", mt), nil)
}

// FindInactiveUsers returns users unseen for InactiveAfter with reminders on.
func (f *Finder) FindInactiveUsers(ctx context.Context) ([]types.Recipient, error) {
	candidates, err := f.users.ListInactiveSince(ctx, f.clock.Now().Add(-InactiveAfter))
	if err != nil {
		return nil, fmt.Errorf("finding inactive users: %w", err)
	}
	return f.excludeLogged(ctx, types.MessageInactiveReminder, candidates)
}

// FindWeeklyCheckInUsers returns users opted into weekly check-ins.
func (f *Finder) FindWeeklyCheckInUsers(ctx context.Context) ([]types.Recipient, error) {
	candidates, err := f.users.ListWeeklyCheckInOptIns(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding weekly check-in users: %w", err)
	}
	return f.excludeLogged(ctx, types.MessageWeeklyCheckIn, candidates)
}

// FindDailyFortuneUsers returns users with the spiritual interest tag.
func (f *Finder) FindDailyFortuneUsers(ctx context.Context) ([]types.Recipient, error) {
	candidates, err := f.users.ListByInterest(ctx, SpiritualInterest)
	if err != nil {
		return nil, fmt.Errorf("finding daily fortune users: %w", err)
	}
	return f.excludeLogged(ctx, types.MessageDailyFortune, candidates)
}

// FindInsightUsers returns reachable users whose settings allow kind and
// whose preferred hour for it has already passed on their local clock. The
// fixed-time insight batches use it to catch whoever the hourly dispatch
// missed without getting ahead of it. Empty and unknown timezones are read
// in DefaultUserTimezone, as the dispatcher reads them.
func (f *Finder) FindInsightUsers(ctx context.Context, kind types.InsightKind) ([]types.Recipient, error) {
	users, err := f.users.ListDispatchable(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding %s insight users: %w", kind, err)
	}
	now := f.clock.Now()
	candidates := make([]types.Recipient, 0, len(users))
	for _, u := range users {
		if !u.Settings.AllowsKind(kind) {
			continue
		}
		loc, _ := f.locations.Resolve(u.Timezone)
		if now.In(loc).Hour() <= u.Settings.PreferredHour(kind) {
			continue
		}
		candidates = append(candidates, types.Recipient{
			RecipientID:  u.ID,
			ExternalID:   u.ExternalID,
			DisplayName:  u.DisplayName,
			LanguageCode: u.LanguageCode,
		})
	}
	return f.excludeLogged(ctx, kind.MessageType(), candidates)
}

func (f *Finder) excludeLogged(ctx context.Context, mt types.MessageType, candidates []types.Recipient) ([]types.Recipient, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	from, to := f.day.Bounds(f.clock.Now())
	logged, err := f.ledger.RecipientsLogged(ctx, mt, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading %s ledger: %w", mt, err)
	}

	out := make([]types.Recipient, 0, len(candidates))
	for _, c := range candidates {
		if _, done := logged[c.RecipientID]; done {
			continue
		}
		out = append(out, c)
	}
	f.logger.DebugContext(ctx, "eligible recipients",
		"message_type", mt,
		"candidates", len(candidates),
		"eligible", len(out),
	)
	return out, nil
}
