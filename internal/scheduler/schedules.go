package scheduler

import (
	"time"

	"tasseo/internal/queue"
	"tasseo/internal/types"
)

// LegacyTimezone is the wall clock of the fixed-time batches.
const LegacyTimezone = "Europe/Moscow"

// Expiry windows of scheduled jobs. A batch walks every eligible user at the
// send interval with an LLM call per message; a dispatch tick only enqueues.
const (
	BatchExpireAfter    = 3 * time.Hour
	DispatchExpireAfter = 15 * time.Minute
)

// DefaultSchedules is the recurring timetable installed by the worker binary.
// The hourly UTC ticks drive per-user insights; the Moscow batches reach
// users whose preferred hour passed without a delivery and carry the
// non-insight engagement messages.
func DefaultSchedules() []queue.Schedule {
	dispatch := types.JobOptions{ExpireAfter: DispatchExpireAfter}
	batch := types.JobOptions{ExpireAfter: BatchExpireAfter}
	return []queue.Schedule{
		{Queue: types.QueueMorningDispatch, CronExpression: "0 * * * *", Timezone: "UTC", Options: dispatch},
		{Queue: types.QueueEveningDispatch, CronExpression: "0 * * * *", Timezone: "UTC", Options: dispatch},

		{Queue: types.QueueInactiveReminder, CronExpression: "0 12 * * *", Timezone: LegacyTimezone, Options: batch},
		{Queue: types.QueueWeeklyCheckIn, CronExpression: "0 11 * * 1", Timezone: LegacyTimezone, Options: batch},
		{Queue: types.QueueDailyFortune, CronExpression: "0 9 * * *", Timezone: LegacyTimezone, Options: batch},
		{Queue: types.QueueMorningBatch, CronExpression: "0 12 * * *", Timezone: LegacyTimezone, Options: batch},
		{Queue: types.QueueEveningBatch, CronExpression: "0 22 * * *", Timezone: LegacyTimezone, Options: batch},
	}
}
