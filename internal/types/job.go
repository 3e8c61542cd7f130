package types

import (
	"encoding/json"
	"time"
)

// DefaultJobTimeout is the expiry applied to jobs that do not set ExpireAfter.
const DefaultJobTimeout = 5 * time.Minute

// Default retry settings applied by Enqueue when JobOptions leaves them unset.
const (
	DefaultRetryLimit = 3
	DefaultRetryDelay = 5 * time.Second
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateExpired   JobState = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateExpired
}

// QueueName identifies a queue and, through the registry, its handler.
type QueueName string

const (
	QueuePhotoAnalysis QueueName = "photo-analysis"
	QueueChatReply     QueueName = "chat-reply"

	QueueInactiveReminder QueueName = "inactive-reminder"
	QueueWeeklyCheckIn    QueueName = "weekly-checkin"
	QueueDailyFortune     QueueName = "daily-fortune"

	// Hourly ticks that fan out into per-user single jobs.
	QueueMorningDispatch QueueName = "morning-insight-dispatch"
	QueueEveningDispatch QueueName = "evening-insight-dispatch"
	QueueMorningSingle   QueueName = "morning-insight-single"
	QueueEveningSingle   QueueName = "evening-insight-single"

	// Fixed-time batches kept as a net for users the hourly dispatch missed.
	QueueMorningBatch QueueName = "morning-insight"
	QueueEveningBatch QueueName = "evening-insight"
)

// AllQueues lists every queue that producers may enqueue to. The worker
// binary refuses to start unless each one has a registered handler.
var AllQueues = []QueueName{
	QueuePhotoAnalysis,
	QueueChatReply,
	QueueInactiveReminder,
	QueueWeeklyCheckIn,
	QueueDailyFortune,
	QueueMorningDispatch,
	QueueEveningDispatch,
	QueueMorningSingle,
	QueueEveningSingle,
	QueueMorningBatch,
	QueueEveningBatch,
}

// Job is a unit of asynchronous work as stored in the jobs table.
type Job struct {
	ID          string          `json:"id"`
	Queue       QueueName       `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	Priority    int             `json:"priority"`
	RetryCount  int             `json:"retry_count"`
	RetryLimit  int             `json:"retry_limit"`
	RetryDelay  time.Duration   `json:"retry_delay"`
	ExpireAfter time.Duration   `json:"expire_after"`
	StartAfter  time.Time       `json:"start_after"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// Attempt returns the 1-based number of the current processing attempt.
func (j *Job) Attempt() int {
	return j.RetryCount + 1
}

// JobOptions tune a single enqueue. Zero values pick the defaults.
type JobOptions struct {
	RetryLimit  int
	RetryDelay  time.Duration
	ExpireAfter time.Duration
	Priority    int
	StartAfter  time.Duration
}

// WithDefaults returns a copy of o with unset fields filled in.
func (o JobOptions) WithDefaults() JobOptions {
	if o.RetryLimit <= 0 {
		o.RetryLimit = DefaultRetryLimit
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ExpireAfter <= 0 {
		o.ExpireAfter = DefaultJobTimeout
	}
	return o
}

// JobOutput is stored in jobs.output when a job ends with an error.
type JobOutput struct {
	Error string `json:"error,omitempty"`
	Fatal bool   `json:"fatal,omitempty"`
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// InsightJobPayload is carried by morning/evening single jobs.
type InsightJobPayload struct {
	UserID       string `json:"userId" validate:"required"`
	Timezone     string `json:"timezone"`
	ExternalID   string `json:"externalId" validate:"required"`
	DisplayName  string `json:"displayName"`
	LanguageCode string `json:"languageCode"`
}

// PhotoJobPayload is carried by photo-analysis jobs.
type PhotoJobPayload struct {
	UserID       string  `json:"userId" validate:"required"`
	ChatID       int64   `json:"chatId" validate:"required"`
	FileID       string  `json:"fileId" validate:"required"`
	Channel      Channel `json:"channel" validate:"required,oneof=telegram webapp web"`
	Caption      string  `json:"caption,omitempty" validate:"max=1024"`
	LanguageCode string  `json:"languageCode,omitempty"`
}

// ChatJobPayload is carried by chat-reply jobs.
type ChatJobPayload struct {
	UserID       string  `json:"userId" validate:"required"`
	ChatID       int64   `json:"chatId" validate:"required"`
	Text         string  `json:"text" validate:"required,max=4096"`
	Channel      Channel `json:"channel" validate:"required,oneof=telegram webapp web"`
	LanguageCode string  `json:"languageCode,omitempty"`
}

// Channel is the surface an inbound event arrived from.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWebApp   Channel = "webapp"
	ChannelWeb      Channel = "web"
)
