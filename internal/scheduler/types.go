// Package scheduler holds the time-driven services of the job system: the
// hourly timezone dispatcher for daily insights and the maintenance tasks
// that keep the jobs table healthy.
//
// MaintenancePayload is the JSON structure sent by EventBridge rules to the
// maintenance Lambda; TaskType selects the service method.
package scheduler

import "time"

// TaskType identifies a maintenance task.
type TaskType string

const (
	TaskReapStaleJobs TaskType = "reap_stale_jobs"
	TaskExpireJobs    TaskType = "expire_jobs"
	TaskPurgeJobs     TaskType = "purge_jobs"
)

// MaintenancePayload is the event body of a maintenance invocation:
//
//	{
//	  "task": "reap_stale_jobs",
//	  "reference_time": "2026-03-02T09:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation. If nil,
	// time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
