package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"tasseo/internal/types"
)

// UserRepository provides read-only access to the users table. The core never
// writes user rows.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// reachableFilter selects users we are able and allowed to message.
const reachableFilter = `is_linked AND NOT is_banned AND onboarding_completed
	AND external_id IS NOT NULL`

// notificationsOn mirrors NotificationSettings defaults in SQL: a missing key
// counts as enabled.
const notificationsOn = `COALESCE((notification_settings->>'enabled')::boolean, true)`

// ListDispatchable returns every reachable user with their timezone and
// notification settings, ordered by id.
func (r *UserRepository) ListDispatchable(ctx context.Context) ([]types.DispatchableUser, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, timezone, external_id, display_name, language_code, notification_settings
		 FROM users
		 WHERE `+reachableFilter+`
		 ORDER BY id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query dispatchable users", err)
	}
	defer rows.Close()

	var users []types.DispatchableUser
	for rows.Next() {
		var (
			u                  types.DispatchableUser
			tz, name, language *string
		)
		if err := rows.Scan(&u.ID, &tz, &u.ExternalID, &name, &language, &u.Settings); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dispatchable user", err)
		}
		u.Timezone = deref(tz)
		u.DisplayName = deref(name)
		u.LanguageCode = deref(language)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dispatchable users", err)
	}
	return users, nil
}

// ListInactiveSince returns reachable users with reminders enabled whose
// last_seen_at is before cutoff.
func (r *UserRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]types.Recipient, error) {
	return r.listRecipients(ctx, "inactive users",
		`last_seen_at < $1
		 AND `+notificationsOn+`
		 AND COALESCE((notification_settings->>'reminders_enabled')::boolean, true)`,
		cutoff,
	)
}

// ListWeeklyCheckInOptIns returns reachable users who opted into weekly check-ins.
func (r *UserRepository) ListWeeklyCheckInOptIns(ctx context.Context) ([]types.Recipient, error) {
	return r.listRecipients(ctx, "weekly check-in users",
		`weekly_checkin_opt_in AND `+notificationsOn,
	)
}

// ListByInterest returns reachable users whose interests contain tag.
func (r *UserRepository) ListByInterest(ctx context.Context, tag string) ([]types.Recipient, error) {
	return r.listRecipients(ctx, "users by interest",
		`$1 = ANY(interests) AND `+notificationsOn,
		tag,
	)
}

func (r *UserRepository) listRecipients(ctx context.Context, what, where string, args ...any) ([]types.Recipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, external_id, display_name, language_code
		 FROM users
		 WHERE `+reachableFilter+` AND `+where+`
		 ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query "+what, err)
	}
	defer rows.Close()

	var out []types.Recipient
	for rows.Next() {
		var (
			rcpt           types.Recipient
			name, language *string
		)
		if err := rows.Scan(&rcpt.RecipientID, &rcpt.ExternalID, &name, &language); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan "+what, err)
		}
		rcpt.DisplayName = deref(name)
		rcpt.LanguageCode = deref(language)
		out = append(out, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating "+what, err)
	}
	return out, nil
}

// FindByExternalID returns the user linked to a Telegram account. Banned
// users are reported as not found.
func (r *UserRepository) FindByExternalID(ctx context.Context, externalID string) (*types.Recipient, error) {
	var (
		rcpt           types.Recipient
		name, language *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, external_id, display_name, language_code
		 FROM users
		 WHERE external_id = $1 AND NOT is_banned`,
		externalID,
	).Scan(&rcpt.RecipientID, &rcpt.ExternalID, &name, &language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no user for this account", nil).
			WithDetails(map[string]any{"external_id": externalID})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up user", err)
	}
	rcpt.DisplayName = deref(name)
	rcpt.LanguageCode = deref(language)
	return &rcpt, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
