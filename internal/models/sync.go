package models

import "time"

// Outcome is the aggregate result of one reconciliation pass.
type Outcome string

const (
	// OutcomeSuccess covers passes with at least one synced order and passes with nothing to do.
	OutcomeSuccess Outcome = "success"
	// OutcomeTotalFailure means orders were attempted and none succeeded.
	OutcomeTotalFailure Outcome = "total_failure"
)

// Trigger says what started a pass.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerOnDemand Trigger = "on_demand"
	TriggerManual   Trigger = "manual"
)

// SyncRun is the ephemeral record of one pass. It is never persisted.
type SyncRun struct {
	Trigger    Trigger   `json:"trigger"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Outcome    Outcome   `json:"outcome"`
	Skipped    bool      `json:"skipped,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Partial reports whether the pass made progress but left failures behind.
func (r SyncRun) Partial() bool {
	return r.Succeeded > 0 && r.Failed > 0
}

// Duration of the pass.
func (r SyncRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ComputeOutcome derives the outcome from the counters.
func ComputeOutcome(succeeded, failed int) Outcome {
	if succeeded == 0 && failed > 0 {
		return OutcomeTotalFailure
	}
	return OutcomeSuccess
}

// ScheduleState is the scheduler's state machine position.
type ScheduleState string

const (
	ScheduleIdle      ScheduleState = "idle"
	ScheduleScheduled ScheduleState = "scheduled"
	ScheduleRunning   ScheduleState = "running"
	ScheduleBackoff   ScheduleState = "backoff"
)

// SyncStatus is the read-only observation view of a schedule.
type SyncStatus struct {
	Schedule            string        `json:"schedule"`
	State               ScheduleState `json:"state"`
	LastRun             *SyncRun      `json:"last_run,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextRunAt           *time.Time    `json:"next_run_at,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
