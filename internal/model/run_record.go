package model

import "time"

// RunOutcome is the recorded result of one execution attempt of a
// notification slot.
type RunOutcome string

const (
	OutcomePending           RunOutcome = "pending"
	OutcomeSuccess           RunOutcome = "success"
	OutcomePartial           RunOutcome = "partial"
	OutcomeFailed            RunOutcome = "failed"
	OutcomeSkippedSuperseded RunOutcome = "skipped_superseded"
)

// Terminal reports whether the outcome ends the run's lifecycle.
func (o RunOutcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeFailed, OutcomeSkippedSuperseded:
		return true
	}
	return false
}

// RunRecord is the durable record of one occurrence of a notification slot.
// A record is created in the pending state when the scheduler arms the slot
// and reaches a terminal outcome exactly once; a pending record whose
// scheduled time has elapsed is evidence of a crash and is picked up by the
// startup recovery scan.
type RunRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	SlotID       string    `gorm:"size:16;not null;uniqueIndex:idx_run_slot_scheduled"`
	ScheduledFor time.Time `gorm:"not null;uniqueIndex:idx_run_slot_scheduled"`
	ExecutedAt   *time.Time
	Outcome      RunOutcome `gorm:"size:32;not null"`
	Detail       string     `gorm:"type:text"` // per-city and per-subscriber failure summary
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
