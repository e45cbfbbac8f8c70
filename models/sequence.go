package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence statuses
const (
	SequenceStatusActive  = "active"
	SequenceStatusPaused  = "paused"
	SequenceStatusStopped = "stopped"
)

// Enrollment states
const (
	EnrollmentStateActive    = "active"
	EnrollmentStateCompleted = "completed"
	EnrollmentStateCancelled = "cancelled"
	EnrollmentStateFailed    = "failed"
)

// EmailSequence is an automated multi-step email flow. Contacts are enrolled
// when a status or tag event matches the trigger spec.
type EmailSequence struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'active';index" json:"status"` // active, paused, stopped

	// Trigger spec
	TriggerTags   []string `gorm:"type:jsonb;serializer:json" json:"trigger_tags"`
	TriggerStatus []string `gorm:"type:jsonb;serializer:json" json:"trigger_status"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep is one email in a sequence. Step order is significant: step 0
// fires at enrollment time, step k fires DelayHours after step k-1 fired.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber  int    `gorm:"not null" json:"step_number"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`
	DelayHours  int    `gorm:"not null;default:0" json:"delay_hours"`
}

// SequenceEnrollment links one Contact to one EmailSequence and tracks its
// progress. At most one enrollment per (contact, sequence) pair may be in
// the active state; a partial unique index backs that invariant.
type SequenceEnrollment struct {
	gorm.Model
	ContactID  uint `gorm:"not null;index" json:"contact_id"`
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	CurrentStep int        `gorm:"default:0" json:"current_step"`
	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`
	NextFireAt  *time.Time `gorm:"index" json:"next_fire_at"`
	State       string     `gorm:"default:'active';index" json:"state"`

	// Optimistic lock token: two advances of the same enrollment never both
	// win the compare-and-swap
	Version   uint   `gorm:"default:0" json:"-"`
	LastError string `json:"last_error,omitempty"`
}

// Terminal reports whether the enrollment can never fire again.
func (e *SequenceEnrollment) Terminal() bool {
	return e.State != EnrollmentStateActive
}
