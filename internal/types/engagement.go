package types

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType identifies an engagement message for the dedup ledger.
type MessageType string

const (
	MessageInactiveReminder MessageType = "inactive-reminder"
	MessageWeeklyCheckIn    MessageType = "weekly-checkin"
	MessageDailyFortune     MessageType = "daily-fortune"
	MessageMorningInsight   MessageType = "morning-insight"
	MessageEveningInsight   MessageType = "evening-insight"
)

// Valid reports whether m is one of the known message types.
func (m MessageType) Valid() bool {
	switch m {
	case MessageInactiveReminder, MessageWeeklyCheckIn, MessageDailyFortune,
		MessageMorningInsight, MessageEveningInsight:
		return true
	}
	return false
}

// EngagementLogEntry is one row of the append-only send ledger.
type EngagementLogEntry struct {
	RecipientID string      `json:"recipient_id"`
	MessageType MessageType `json:"message_type"`
	SentAt      time.Time   `json:"sent_at"`
}

// Recipient is a user selected by an eligibility finder.
type Recipient struct {
	RecipientID  string `json:"recipientId"`
	ExternalID   string `json:"externalId"`
	DisplayName  string `json:"displayName"`
	LanguageCode string `json:"languageCode"`
}

// InsightKind selects the morning or evening half of the daily insight pair.
type InsightKind string

const (
	InsightMorning InsightKind = "morning"
	InsightEvening InsightKind = "evening"
)

// ParseInsightKind validates a kind supplied by an operator or payload.
func ParseInsightKind(s string) (InsightKind, error) {
	switch InsightKind(strings.ToLower(s)) {
	case InsightMorning:
		return InsightMorning, nil
	case InsightEvening:
		return InsightEvening, nil
	}
	return "", NewAppError(ErrCodeValidationInsightKind, fmt.Sprintf("unknown insight kind %q", s), nil)
}

// SingleQueue is the queue that receives one job per matching user.
func (k InsightKind) SingleQueue() QueueName {
	if k == InsightEvening {
		return QueueEveningSingle
	}
	return QueueMorningSingle
}

// DispatchQueue is the queue fired by the hourly tick.
func (k InsightKind) DispatchQueue() QueueName {
	if k == InsightEvening {
		return QueueEveningDispatch
	}
	return QueueMorningDispatch
}

// MessageType is the ledger type written for a delivered insight.
func (k InsightKind) MessageType() MessageType {
	if k == InsightEvening {
		return MessageEveningInsight
	}
	return MessageMorningInsight
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// DefaultUserTimezone is used when a user's stored timezone is empty or unknown.
const DefaultUserTimezone = "Europe/Moscow"

// Default notification times, "HH:MM".
const (
	DefaultMorningTime = "08:00"
	DefaultEveningTime = "20:00"
)

// DispatchableUser is one candidate of a dispatch run. Never cached.
type DispatchableUser struct {
	ID           string
	Timezone     string
	ExternalID   string
	DisplayName  string
	LanguageCode string
	Settings     NotificationSettings
}

// NotificationSettings is the JSONB notification_settings column of users.
// Nil pointers mean the user never touched the setting.
type NotificationSettings struct {
	Enabled          *bool   `json:"enabled,omitempty"`
	MorningEnabled   *bool   `json:"morning_enabled,omitempty"`
	EveningEnabled   *bool   `json:"evening_enabled,omitempty"`
	MorningTime      *string `json:"morning_time,omitempty"`
	EveningTime      *string `json:"evening_time,omitempty"`
	RemindersEnabled *bool   `json:"reminders_enabled,omitempty"`
}

var (
	_ sql.Scanner   = (*NotificationSettings)(nil)
	_ driver.Valuer = NotificationSettings{}
)

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (n *NotificationSettings) Scan(value interface{}) error {
	if value == nil {
		*n = NotificationSettings{}
		return nil
	}
	return scanJSONB(n, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (n NotificationSettings) Value() (driver.Value, error) {
	return valueJSONB(n)
}

// AllowsKind reports whether insights of kind k may be sent.
func (n NotificationSettings) AllowsKind(k InsightKind) bool {
	if !boolOrTrue(n.Enabled) {
		return false
	}
	if k == InsightEvening {
		return boolOrTrue(n.EveningEnabled)
	}
	return boolOrTrue(n.MorningEnabled)
}

// RemindersAllowed reports whether inactivity reminders may be sent.
func (n NotificationSettings) RemindersAllowed() bool {
	return boolOrTrue(n.Enabled) && boolOrTrue(n.RemindersEnabled)
}

// TimeFor returns the configured "HH:MM" for kind k, or its default.
func (n NotificationSettings) TimeFor(k InsightKind) string {
	if k == InsightEvening {
		if n.EveningTime != nil {
			return *n.EveningTime
		}
		return DefaultEveningTime
	}
	if n.MorningTime != nil {
		return *n.MorningTime
	}
	return DefaultMorningTime
}

// PreferredHour is the hour the user wants kind k delivered.
func (n NotificationSettings) PreferredHour(k InsightKind) int {
	return ParseHour(n.TimeFor(k))
}

// ParseHour returns the hour component of an "HH:MM" string, or 0 when it
// cannot be parsed or is out of range.
func ParseHour(hhmm string) int {
	head, _, _ := strings.Cut(strings.TrimSpace(hhmm), ":")
	h, err := strconv.Atoi(head)
	if err != nil || h < 0 || h > 23 {
		return 0
	}
	return h
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}
