// Package engagement produces and delivers engagement messages: inactivity
// reminders, weekly check-ins, daily fortunes and the morning/evening
// insights. Every delivery is recorded in the engagement ledger, which the
// finders consult so a recipient gets each message type at most once per day.
package engagement

import (
	"context"
	"fmt"
	"time"

	"tasseo/internal/types"
)

// Ledger is the append-only engagement log. db.EngagementLogRepository
// satisfies it.
type Ledger interface {
	Append(ctx context.Context, entry types.EngagementLogEntry) error
	Exists(ctx context.Context, recipientID string, messageType types.MessageType, from, to time.Time) (bool, error)
	RecipientsLogged(ctx context.Context, messageType types.MessageType, from, to time.Time) (map[string]struct{}, error)
}

// LedgerDay defines the calendar day used for "once per day". All
// recipients share one reference timezone so the boundary is the same for
// everyone regardless of where they live.
type LedgerDay struct {
	loc *time.Location
}

// NewLedgerDay returns a LedgerDay in the IANA timezone tz ("" means UTC).
func NewLedgerDay(tz string) (LedgerDay, error) {
	if tz == "" {
		return LedgerDay{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return LedgerDay{}, types.NewAppError(types.ErrCodeValidationInvalidTZ,
			fmt.Sprintf("invalid ledger timezone %q", tz), err)
	}
	return LedgerDay{loc: loc}, nil
}

// Bounds returns the [from, to) range of the ledger day containing now, in UTC.
func (d LedgerDay) Bounds(now time.Time) (from, to time.Time) {
	loc := d.loc
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
