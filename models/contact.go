package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact statuses form a closed enum. Transitions are unconstrained, but
// every status change appends a status_changed Interaction.
const (
	ContactStatusNew       = "new"
	ContactStatusQualified = "qualified"
	ContactStatusEngaged   = "engaged"
	ContactStatusCustomer  = "customer"
	ContactStatusInactive  = "inactive"
)

// Lead sources
const (
	LeadSourceWebsite       = "website"
	LeadSourceBlog          = "blog"
	LeadSourceSocialMedia   = "social_media"
	LeadSourceReferral      = "referral"
	LeadSourceEmailCampaign = "email_campaign"
	LeadSourcePaidAds       = "paid_ads"
	LeadSourceColdOutreach  = "cold_outreach"
	LeadSourceEvent         = "event"
	LeadSourceWebinar       = "webinar"
	LeadSourceOther         = "other"
)

// Interaction types
const (
	InteractionEmailSent        = "email_sent"
	InteractionEmailOpened      = "email_opened"
	InteractionEmailClicked     = "email_clicked"
	InteractionWebsiteVisit     = "website_visit"
	InteractionNoteAdded        = "note_added"
	InteractionMeetingScheduled = "meeting_scheduled"
	InteractionPhoneCall        = "phone_call"
	InteractionStatusChanged    = "status_changed"
)

var contactStatuses = map[string]struct{}{
	ContactStatusNew:       {},
	ContactStatusQualified: {},
	ContactStatusEngaged:   {},
	ContactStatusCustomer:  {},
	ContactStatusInactive:  {},
}

var leadSources = map[string]struct{}{
	LeadSourceWebsite:       {},
	LeadSourceBlog:          {},
	LeadSourceSocialMedia:   {},
	LeadSourceReferral:      {},
	LeadSourceEmailCampaign: {},
	LeadSourcePaidAds:       {},
	LeadSourceColdOutreach:  {},
	LeadSourceEvent:         {},
	LeadSourceWebinar:       {},
	LeadSourceOther:         {},
}

var interactionTypes = map[string]struct{}{
	InteractionEmailSent:        {},
	InteractionEmailOpened:      {},
	InteractionEmailClicked:     {},
	InteractionWebsiteVisit:     {},
	InteractionNoteAdded:        {},
	InteractionMeetingScheduled: {},
	InteractionPhoneCall:        {},
	InteractionStatusChanged:    {},
}

// ValidContactStatus reports whether s is a member of the status enum.
// Client-supplied strings are validated here rather than trusted downstream.
func ValidContactStatus(s string) bool {
	_, ok := contactStatuses[s]
	return ok
}

func ValidLeadSource(s string) bool {
	_, ok := leadSources[s]
	return ok
}

func ValidInteractionType(s string) bool {
	_, ok := interactionTypes[s]
	return ok
}

// Contact is the ground truth record all other components read.
type Contact struct {
	gorm.Model
	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"not null;uniqueIndex" json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	Position  string `json:"position"`

	// Lead management
	Status     string `gorm:"default:'new';index" json:"status"`
	LeadSource string `gorm:"default:'website';index" json:"lead_source"`
	LeadScore  int    `gorm:"default:0" json:"lead_score"`

	// Location
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`

	Tags            []string `gorm:"type:jsonb;serializer:json" json:"tags"`
	Notes           string   `gorm:"type:text" json:"notes"`
	EmailSubscribed bool     `gorm:"default:true" json:"email_subscribed"`

	// Engagement tracking (denormalized for dashboard queries)
	LastContactDate   *time.Time `json:"last_contact_date"`
	TotalInteractions int        `gorm:"default:0" json:"total_interactions"`
	EmailOpens        int        `gorm:"default:0" json:"email_opens"`
	EmailClicks       int        `gorm:"default:0" json:"email_clicks"`
	WebsiteVisits     int        `gorm:"default:0" json:"website_visits"`

	// Optimistic lock token, bumped on every write
	Version uint `gorm:"default:0" json:"-"`

	// Relations
	Interactions []Interaction        `gorm:"foreignKey:ContactID" json:"interactions,omitempty"`
	Enrollments  []SequenceEnrollment `gorm:"foreignKey:ContactID" json:"enrollments,omitempty"`
}

// HasTag reports whether the contact carries the tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FullName joins first and last name for display and activity feeds.
func (c *Contact) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Interaction belongs to exactly one Contact and is append-only: rows are
// never mutated or reordered after creation. Ordering by CreatedAt defines
// the activity timeline.
type Interaction struct {
	gorm.Model
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Type        string `gorm:"not null;index" json:"type"`
	Description string `gorm:"type:text" json:"description"`
	Metadata    string `gorm:"type:text" json:"metadata,omitempty"` // JSON details if needed

	// Relations
	Contact Contact `json:"-"`
}
