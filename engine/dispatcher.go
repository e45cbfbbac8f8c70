package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsvantage/models"
)

// Dispatcher owns one-shot campaigns: creation, the single send transition
// and inbound delivery reports. The send is claimed with a versioned status
// update before any email goes out, so concurrent send calls produce exactly
// one fan-out.
type Dispatcher struct {
	DB       *gorm.DB
	Clock    Clock
	Mailer   Mailer
	Recorder InteractionRecorder
	Logger   *logrus.Logger

	// MaxSendAttempts bounds retries on temporary failures per recipient.
	MaxSendAttempts int

	wg sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, clock Clock, mailer Mailer, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{DB: db, Clock: clock, Mailer: mailer, Logger: logger, MaxSendAttempts: 3}
}

// CampaignCreate is the payload for creating a campaign.
type CampaignCreate struct {
	Name         string     `json:"name" validate:"required,max=200"`
	Subject      string     `json:"subject" validate:"required"`
	HTMLContent  string     `json:"html_content" validate:"required"`
	TextContent  string     `json:"text_content"`
	TargetStatus []string   `json:"target_status"`
	TargetTags   []string   `json:"target_tags"`
	ExcludeTags  []string   `json:"exclude_tags"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

// CreateCampaign stores a campaign in draft, or scheduled when a send time
// is given.
func (d *Dispatcher) CreateCampaign(in CampaignCreate) (*models.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationf("campaign name is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, validationf("campaign subject is required")
	}
	for _, status := range in.TargetStatus {
		if !models.ValidContactStatus(status) {
			return nil, validationf("unknown target status %q", status)
		}
	}

	campaign := models.Campaign{
		Name:         strings.TrimSpace(in.Name),
		Subject:      in.Subject,
		HTMLContent:  in.HTMLContent,
		TextContent:  in.TextContent,
		TargetStatus: in.TargetStatus,
		TargetTags:   dedupeTags(in.TargetTags),
		ExcludeTags:  dedupeTags(in.ExcludeTags),
		Status:       models.CampaignStatusDraft,
		ScheduledAt:  in.ScheduledAt,
	}
	if in.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}
	if err := d.DB.Create(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// GetCampaign returns a campaign by id.
func (d *Dispatcher) GetCampaign(id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := d.DB.First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: campaign %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &campaign, nil
}

// ListCampaigns returns all campaigns, newest first.
func (d *Dispatcher) ListCampaigns() ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := d.DB.Order("created_at DESC").Find(&campaigns).Error
	return campaigns, err
}

// DeleteCampaign removes a campaign that is not mid-send.
func (d *Dispatcher) DeleteCampaign(id uint) error {
	campaign, err := d.GetCampaign(id)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStatusSending {
		return invalidStatef("campaign %d is sending and cannot be deleted", id)
	}
	return d.DB.Delete(campaign).Error
}

// DueCampaigns returns scheduled campaigns whose send time has arrived.
func (d *Dispatcher) DueCampaigns(now time.Time, limit int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var due []models.Campaign
	err := d.DB.Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
		models.CampaignStatusScheduled, now).
		Order("scheduled_at ASC").Limit(limit).Find(&due).Error
	return due, err
}

// Send executes the campaign against its audience resolved at this moment.
// Only draft and scheduled campaigns are sendable. A campaign already
// sending or sent returns its stored state unchanged; paused and completed
// campaigns return ErrInvalidState. The fan-out runs asynchronously; Wait
// blocks until it drains.
func (d *Dispatcher) Send(campaignID uint) (*models.Campaign, error) {
	campaign, err := d.GetCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled:
	case models.CampaignStatusSending, models.CampaignStatusSent:
		return campaign, nil
	default:
		return nil, invalidStatef("campaign %d is %s and cannot be sent", campaignID, campaign.Status)
	}

	recipients, err := ResolveAudience(d.DB, TargetSpec{
		TargetStatus: campaign.TargetStatus,
		TargetTags:   campaign.TargetTags,
		ExcludeTags:  campaign.ExcludeTags,
	})
	if err != nil {
		return nil, err
	}

	now := d.Clock.Now()
	res := d.DB.Model(&models.Campaign{}).
		Where("id = ? AND version = ? AND status IN ?",
			campaign.ID, campaign.Version,
			[]string{models.CampaignStatusDraft, models.CampaignStatusScheduled}).
		Updates(map[string]interface{}{
			"status":           models.CampaignStatusSending,
			"sent_at":          now,
			"total_recipients": len(recipients),
			"version":          campaign.Version + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; whoever won owns the fan-out.
		return d.GetCampaign(campaignID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fanOut(campaign.ID, recipients)
	}()

	return d.GetCampaign(campaignID)
}

// Wait blocks until all in-flight fan-outs finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) fanOut(campaignID uint, recipients []models.Contact) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			d.Logger.WithField("campaign_id", campaignID).Errorf("campaign fan-out panicked: %v", r)
		}
	}()

	campaign, err := d.GetCampaign(campaignID)
	if err != nil {
		d.Logger.WithError(err).WithField("campaign_id", campaignID).Error("campaign vanished mid-send")
		return
	}

	sent := 0
	for i := range recipients {
		contact := &recipients[i]
		job := SendJob{
			MessageID: uuid.New().String(),
			To:        contact.Email,
			Subject:   personalize(campaign.Subject, contact),
			HTML:      personalize(campaign.HTMLContent, contact),
			Text:      personalize(campaign.TextContent, contact),
		}
		if err := d.sendWithRetry(job); err != nil {
			sentry.CaptureException(err)
			d.Logger.WithError(err).WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"contact_id":  contact.ID,
			}).Error("campaign recipient delivery failed")
			continue
		}
		sent++

		d.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).
			Update("emails_sent", gorm.Expr("emails_sent + 1"))

		if d.Recorder != nil {
			desc := fmt.Sprintf("Campaign email sent: %s", campaign.Subject)
			if err := d.Recorder.RecordInteraction(contact.ID, models.InteractionEmailSent, desc, job.MessageID); err != nil {
				d.Logger.WithError(err).WithField("contact_id", contact.ID).
					Warn("failed to record campaign send interaction")
			}
		}
	}

	final := models.CampaignStatusSent
	var lastError string
	if len(recipients) > 0 && sent == 0 {
		final = models.CampaignStatusFailed
		lastError = "all recipient deliveries failed"
	}
	if err := d.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"status":     final,
			"last_error": lastError,
		}).Error; err != nil {
		d.Logger.WithError(err).WithField("campaign_id", campaignID).Error("failed to finalize campaign status")
	}

	d.Logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"recipients":  len(recipients),
		"sent":        sent,
		"status":      final,
	}).Info("campaign fan-out finished")
}

func (d *Dispatcher) sendWithRetry(job SendJob) error {
	attempts := d.MaxSendAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if _, err = d.Mailer.Send(job); err == nil {
			return nil
		}
		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	return err
}

// RecordEvent ingests one delivery report. Duplicate reports for the same
// (entity, contact, event type) are absorbed without touching counters.
// Opened and clicked reports also land on the contact's timeline, where
// scoring picks them up.
func (d *Dispatcher) RecordEvent(entityType string, entityID, contactID uint, eventType, messageID string) error {
	if entityType != models.EventEntityCampaign && entityType != models.EventEntitySequence {
		return validationf("unknown entity type %q", entityType)
	}
	if !models.ValidEventType(eventType) {
		return validationf("unknown event type %q", eventType)
	}

	event := models.EmailEvent{
		EntityType: entityType,
		EntityID:   entityID,
		ContactID:  contactID,
		EventType:  eventType,
		MessageID:  messageID,
	}
	if err := d.DB.Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}

	if entityType == models.EventEntityCampaign {
		column := map[string]string{
			models.EventDelivered: "emails_delivered",
			models.EventOpened:    "emails_opened",
			models.EventClicked:   "emails_clicked",
			models.EventBounced:   "emails_bounced",
		}[eventType]
		if err := d.DB.Model(&models.Campaign{}).Where("id = ?", entityID).
			Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
			return err
		}
	}

	if d.Recorder == nil {
		return nil
	}
	switch eventType {
	case models.EventOpened:
		return d.Recorder.RecordInteraction(contactID, models.InteractionEmailOpened,
			fmt.Sprintf("Opened %s email", entityType), messageID)
	case models.EventClicked:
		return d.Recorder.RecordInteraction(contactID, models.InteractionEmailClicked,
			fmt.Sprintf("Clicked link in %s email", entityType), messageID)
	}
	return nil
}
