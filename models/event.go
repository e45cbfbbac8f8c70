package models

import "gorm.io/gorm"

// Event entity types
const (
	EventEntityCampaign = "campaign"
	EventEntitySequence = "sequence"
)

// Delivery-report event types
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventClicked   = "clicked"
	EventBounced   = "bounced"
)

var eventTypes = map[string]struct{}{
	EventDelivered: {},
	EventOpened:    {},
	EventClicked:   {},
	EventBounced:   {},
}

func ValidEventType(s string) bool {
	_, ok := eventTypes[s]
	return ok
}

// EmailEvent records one inbound delivery report from the mail transport.
// The unique key (entity_type, entity_id, contact_id, event_type) makes
// duplicate reports idempotent: the second insert fails and counters are
// not incremented twice.
type EmailEvent struct {
	gorm.Model
	EntityType string `gorm:"not null;uniqueIndex:idx_email_events_key" json:"entity_type"`
	EntityID   uint   `gorm:"not null;uniqueIndex:idx_email_events_key" json:"entity_id"`
	ContactID  uint   `gorm:"not null;uniqueIndex:idx_email_events_key;index" json:"contact_id"`
	EventType  string `gorm:"not null;uniqueIndex:idx_email_events_key" json:"event_type"`

	MessageID string `gorm:"index" json:"message_id"`
}
