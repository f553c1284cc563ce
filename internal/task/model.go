package task

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type Task struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"index;not null"`
	Description string `gorm:"type:text;not null"`

	// DeadlineDate is "2006-01-02", DeadlineTime is "HH:MM"; both normalized on write.
	DeadlineDate string `gorm:"type:text;not null"`
	DeadlineTime string `gorm:"type:text;not null"`

	Status Status `gorm:"type:text;not null;default:'pending'"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"index;not null"`
}
