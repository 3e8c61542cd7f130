package scheduler

import (
	"testing"
	"time"

	"tasseo/internal/queue"
	"tasseo/internal/types"
)

func TestDefaultSchedules_Parse(t *testing.T) {
	for _, s := range DefaultSchedules() {
		if _, err := queue.ParseSchedule(s); err != nil {
			t.Errorf("schedule for %s: %v", s.Queue, err)
		}
	}
}

func TestDefaultSchedules_TargetKnownQueues(t *testing.T) {
	known := make(map[types.QueueName]bool, len(types.AllQueues))
	for _, q := range types.AllQueues {
		known[q] = true
	}
	for _, s := range DefaultSchedules() {
		if !known[s.Queue] {
			t.Errorf("schedule targets unknown queue %s", s.Queue)
		}
	}
}

func TestDefaultSchedules_EveningBatchIsMoscowWallClock(t *testing.T) {
	var evening queue.Schedule
	for _, s := range DefaultSchedules() {
		if s.Queue == types.QueueEveningBatch {
			evening = s
		}
	}
	sched, err := queue.ParseSchedule(evening)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	from := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	next := sched.Next(from).UTC()
	// 22:00 Moscow is 19:00 UTC.
	if want := time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestDefaultSchedules_BatchesOutliveDefaultTimeout(t *testing.T) {
	for _, s := range DefaultSchedules() {
		if s.Options.ExpireAfter <= types.DefaultJobTimeout {
			t.Errorf("%s expires after %v, want more than %v", s.Queue, s.Options.ExpireAfter, types.DefaultJobTimeout)
		}
	}
}
