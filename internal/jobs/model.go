package jobs

import "time"

// State of a reminder job.
//
//	PENDING --dequeued--> IN_FLIGHT --notified--> DELIVERED
//	                      IN_FLIGHT --failed----> FAILED
//	PENDING --cancel----> CANCELED
//
// Terminal jobs are removed from the store.
type State string

const (
	StatePending   State = "PENDING"
	StateInFlight  State = "IN_FLIGHT"
	StateDelivered State = "DELIVERED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
)

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed || s == StateCanceled
}

func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateInFlight || to == StateCanceled
	case StateInFlight:
		return to == StateDelivered || to == StateFailed
	default:
		return false
	}
}

// Payload is resolved once at scheduling time; the dispatcher never reads the task again.
type Payload struct {
	Recipient string `gorm:"type:text;not null"`
	Subject   string `gorm:"type:text;not null"`
	Body      string `gorm:"type:text;not null"`
}

type Job struct {
	ID     uint64 `gorm:"primaryKey"`
	TaskID uint64 `gorm:"not null"` // key: at most one PENDING job per task

	Payload Payload `gorm:"embedded;embeddedPrefix:payload_"`

	FireAt time.Time `gorm:"type:timestamptz;not null"`
	State  State     `gorm:"type:text;not null;default:'PENDING'"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "reminder_jobs" }

func (j *Job) Key() uint64 { return j.TaskID }
