package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Campaign represents a one-shot email campaign. The audience is resolved
// live at send time from the targeting spec; counters are written once per
// campaign run and a second send attempt never re-executes.
type Campaign struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	// Targeting spec. Empty sets mean no restriction on that axis;
	// exclusion always applies.
	TargetStatus []string `gorm:"type:jsonb;serializer:json" json:"target_status"`
	TargetTags   []string `gorm:"type:jsonb;serializer:json" json:"target_tags"`
	ExcludeTags  []string `gorm:"type:jsonb;serializer:json" json:"exclude_tags"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at"`

	// Statistics (denormalized, event-driven)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsDelivered int `gorm:"default:0" json:"emails_delivered"`
	EmailsOpened    int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked   int `gorm:"default:0" json:"emails_clicked"`
	EmailsBounced   int `gorm:"default:0" json:"emails_bounced"`

	// Optimistic lock token, guards the one-shot send transition
	Version   uint   `gorm:"default:0" json:"-"`
	LastError string `json:"last_error,omitempty"`
}
