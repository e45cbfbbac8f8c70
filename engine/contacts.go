package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsvantage/models"
)

// casRetries bounds optimistic-lock retries on a busy contact row.
const casRetries = 3

// ContactService owns the contact lifecycle: CRUD, the append-only
// interaction timeline, and the scoring applied with each append. Status and
// tag changes are handed to the sequence engine before the call returns, so
// callers always observe a consistent post-state.
type ContactService struct {
	DB     *gorm.DB
	Scorer *Scorer
	Clock  Clock
	Logger *logrus.Logger

	// Sequences is wired after construction; nil disables trigger
	// evaluation (used by a few focused tests).
	Sequences *SequenceEngine
}

func NewContactService(db *gorm.DB, scorer *Scorer, clock Clock, logger *logrus.Logger) *ContactService {
	return &ContactService{DB: db, Scorer: scorer, Clock: clock, Logger: logger}
}

// ContactCreate is the payload for creating a contact.
type ContactCreate struct {
	FirstName  string   `json:"first_name" validate:"required,max=100"`
	LastName   string   `json:"last_name" validate:"omitempty,max=100"`
	Email      string   `json:"email" validate:"required"`
	Phone      string   `json:"phone" validate:"omitempty,max=50"`
	Company    string   `json:"company" validate:"omitempty,max=200"`
	Position   string   `json:"position" validate:"omitempty,max=200"`
	LeadSource string   `json:"lead_source"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	Country    string   `json:"country"`
	Tags       []string `json:"tags"`
	Notes      string   `json:"notes"`
}

// ContactUpdate is a partial field patch; nil fields are left untouched.
type ContactUpdate struct {
	FirstName       *string    `json:"first_name"`
	LastName        *string    `json:"last_name"`
	Email           *string    `json:"email"`
	Phone           *string    `json:"phone"`
	Company         *string    `json:"company"`
	Position        *string    `json:"position"`
	Status          *string    `json:"status"`
	LeadSource      *string    `json:"lead_source"`
	City            *string    `json:"city"`
	State           *string    `json:"state"`
	Country         *string    `json:"country"`
	Tags            *[]string  `json:"tags"`
	Notes           *string    `json:"notes"`
	EmailSubscribed *bool      `json:"email_subscribed"`
	LastContactDate *time.Time `json:"last_contact_date"`
}

// ListOptions filters and paginates contact listings.
type ListOptions struct {
	Skip       int
	Limit      int
	Status     string
	LeadSource string
	Search     string
}

// Create validates and stores a new contact, seeds its lead score, appends
// the creation interaction and evaluates sequence triggers for its initial
// status and tags.
func (s *ContactService) Create(in ContactCreate) (*models.Contact, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, validationf("invalid email %q", in.Email)
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, validationf("first_name is required")
	}
	source := in.LeadSource
	if source == "" {
		source = models.LeadSourceWebsite
	}
	if !models.ValidLeadSource(source) {
		return nil, validationf("unknown lead source %q", in.LeadSource)
	}

	contact := models.Contact{
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		Email:           email,
		Phone:           in.Phone,
		Company:         in.Company,
		Position:        in.Position,
		Status:          models.ContactStatusNew,
		LeadSource:      source,
		City:            in.City,
		State:           in.State,
		Country:         in.Country,
		Tags:            dedupeTags(in.Tags),
		Notes:           in.Notes,
		EmailSubscribed: true,
	}
	contact.LeadScore = s.Scorer.InitialScore(&contact)

	if err := s.DB.Create(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: contact with email %s already exists", ErrConflict, email)
		}
		return nil, err
	}

	if err := s.RecordInteraction(contact.ID, models.InteractionNoteAdded,
		fmt.Sprintf("Contact created from %s", source), ""); err != nil {
		s.Logger.WithError(err).WithField("contact_id", contact.ID).Warn("failed to record creation interaction")
	}

	if s.Sequences != nil {
		if err := s.Sequences.EvaluateTriggers(contact.ID, contact.Status, contact.Tags); err != nil {
			return nil, err
		}
	}

	return s.Get(contact.ID)
}

// Get returns a contact by id.
func (s *ContactService) Get(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.DB.First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: contact %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &contact, nil
}

// List returns contacts matching the filter, newest first, plus the total
// count before pagination.
func (s *ContactService) List(opts ListOptions) ([]models.Contact, int64, error) {
	q := s.DB.Model(&models.Contact{})
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.LeadSource != "" {
		q = q.Where("lead_source = ?", opts.LeadSource)
	}
	if opts.Search != "" {
		q = q.Where(searchClause(), searchArgs(opts.Search)...)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var contacts []models.Contact
	if err := q.Order("created_at DESC").Offset(opts.Skip).Limit(limit).Find(&contacts).Error; err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

// Search does substring matching over name, email and company, highest lead
// score first.
func (s *ContactService) Search(query string, limit int) ([]models.Contact, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var contacts []models.Contact
	err := s.DB.Where(searchClause(), searchArgs(query)...).
		Order("lead_score DESC").Limit(limit).Find(&contacts).Error
	return contacts, err
}

func searchClause() string {
	return "LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(company) LIKE ?"
}

func searchArgs(query string) []interface{} {
	pattern := "%" + strings.ToLower(query) + "%"
	return []interface{}{pattern, pattern, pattern, pattern}
}

// Update applies a partial patch. A status change synchronously appends a
// status_changed interaction and evaluates sequence triggers before
// returning; newly gained tags are evaluated the same way.
func (s *ContactService) Update(id uint, in ContactUpdate) (*models.Contact, error) {
	if in.Status != nil && !models.ValidContactStatus(*in.Status) {
		return nil, validationf("unknown status %q", *in.Status)
	}
	if in.LeadSource != nil && !models.ValidLeadSource(*in.LeadSource) {
		return nil, validationf("unknown lead source %q", *in.LeadSource)
	}
	if in.Email != nil {
		if err := checkmail.ValidateFormat(strings.ToLower(*in.Email)); err != nil {
			return nil, validationf("invalid email %q", *in.Email)
		}
	}

	var (
		statusChanged bool
		oldStatus     string
		newStatus     string
		gainedTags    []string
	)

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		statusChanged, gainedTags = false, nil

		var contact models.Contact
		if err := s.DB.First(&contact, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: contact %d", ErrNotFound, id)
			}
			return nil, err
		}

		updates := map[string]interface{}{"version": contact.Version + 1}
		applyString := func(col string, v *string) {
			if v != nil {
				updates[col] = *v
			}
		}
		applyString("first_name", in.FirstName)
		applyString("last_name", in.LastName)
		applyString("phone", in.Phone)
		applyString("company", in.Company)
		applyString("position", in.Position)
		applyString("lead_source", in.LeadSource)
		applyString("city", in.City)
		applyString("state", in.State)
		applyString("country", in.Country)
		applyString("notes", in.Notes)
		if in.Email != nil {
			updates["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
		}
		if in.EmailSubscribed != nil {
			updates["email_subscribed"] = *in.EmailSubscribed
		}
		if in.LastContactDate != nil {
			updates["last_contact_date"] = *in.LastContactDate
		}
		if in.Status != nil && *in.Status != contact.Status {
			statusChanged = true
			oldStatus, newStatus = contact.Status, *in.Status
			updates["status"] = *in.Status
		}
		if in.Tags != nil {
			newTags := dedupeTags(*in.Tags)
			for _, t := range newTags {
				if !contact.HasTag(t) {
					gainedTags = append(gainedTags, t)
				}
			}
			updates["tags"] = newTags
		}

		res := s.DB.Model(&models.Contact{}).
			Where("id = ? AND version = ?", contact.ID, contact.Version).
			Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("%w: contact with that email already exists", ErrConflict)
			}
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			lastErr = fmt.Errorf("%w: contact %d was modified concurrently", ErrConflict, id)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if statusChanged {
		if err := s.RecordInteraction(id, models.InteractionStatusChanged,
			fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus), ""); err != nil {
			return nil, err
		}
	}

	if s.Sequences != nil && (statusChanged || len(gainedTags) > 0) {
		status := ""
		if statusChanged {
			status = newStatus
		}
		if err := s.Sequences.EvaluateTriggers(id, status, gainedTags); err != nil {
			return nil, err
		}
	}

	return s.Get(id)
}

// Delete removes a contact. Its interactions are deleted with it and any
// active enrollments are cancelled first so no step can fire afterwards.
func (s *ContactService) Delete(id uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var contact models.Contact
		if err := tx.First(&contact, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact %d", ErrNotFound, id)
			}
			return err
		}

		if err := tx.Model(&models.SequenceEnrollment{}).
			Where("contact_id = ? AND state = ?", id, models.EnrollmentStateActive).
			Updates(map[string]interface{}{
				"state":        models.EnrollmentStateCancelled,
				"next_fire_at": nil,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("contact_id = ?", id).Delete(&models.SequenceEnrollment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("contact_id = ?", id).Delete(&models.Interaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&contact).Error
	})
}

// Interactions returns the contact's activity timeline, newest first.
func (s *ContactService) Interactions(contactID uint, limit int) ([]models.Interaction, error) {
	if _, err := s.Get(contactID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var interactions []models.Interaction
	err := s.DB.Where("contact_id = ?", contactID).
		Order("created_at DESC, id DESC").Limit(limit).Find(&interactions).Error
	return interactions, err
}

// RecordInteraction appends one interaction and applies scoring and
// engagement counters atomically with the append. Scoring is never skipped
// or double-applied: the interaction row and the contact update commit in
// the same transaction, guarded by the contact's version.
func (s *ContactService) RecordInteraction(contactID uint, interactionType, description, metadata string) error {
	_, err := s.AddInteraction(contactID, interactionType, description, metadata)
	return err
}

// AddInteraction is RecordInteraction returning the created row.
func (s *ContactService) AddInteraction(contactID uint, interactionType, description, metadata string) (*models.Interaction, error) {
	if !models.ValidInteractionType(interactionType) {
		return nil, validationf("unknown interaction type %q", interactionType)
	}

	var created models.Interaction
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		lastErr = s.DB.Transaction(func(tx *gorm.DB) error {
			var contact models.Contact
			if err := tx.First(&contact, contactID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: contact %d", ErrNotFound, contactID)
				}
				return err
			}

			created = models.Interaction{
				ContactID:   contactID,
				Type:        interactionType,
				Description: description,
				Metadata:    metadata,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}

			updates := map[string]interface{}{
				"total_interactions": contact.TotalInteractions + 1,
				"last_contact_date":  s.Clock.Now(),
				"lead_score":         s.Scorer.Score(contact.LeadScore, interactionType),
				"version":            contact.Version + 1,
			}
			switch interactionType {
			case models.InteractionEmailOpened:
				updates["email_opens"] = contact.EmailOpens + 1
			case models.InteractionEmailClicked:
				updates["email_clicks"] = contact.EmailClicks + 1
			case models.InteractionWebsiteVisit:
				updates["website_visits"] = contact.WebsiteVisits + 1
			}

			res := tx.Model(&models.Contact{}).
				Where("id = ? AND version = ?", contact.ID, contact.Version).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: contact %d was modified concurrently", ErrConflict, contactID)
			}
			return nil
		})
		if lastErr == nil {
			return &created, nil
		}
		if !errors.Is(lastErr, ErrConflict) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// OverrideScore sets the lead score directly. This is the only path that may
// move a score downwards; the override is recorded on the timeline.
func (s *ContactService) OverrideScore(contactID uint, score int) (*models.Contact, error) {
	if score < 0 {
		return nil, validationf("lead score must be >= 0")
	}
	if s.Scorer.Max > 0 && score > s.Scorer.Max {
		return nil, validationf("lead score must be <= %d", s.Scorer.Max)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var contact models.Contact
		if err := tx.First(&contact, contactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact %d", ErrNotFound, contactID)
			}
			return err
		}

		note := models.Interaction{
			ContactID:   contactID,
			Type:        models.InteractionNoteAdded,
			Description: fmt.Sprintf("Lead score manually overridden from %d to %d", contact.LeadScore, score),
		}
		if err := tx.Create(&note).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Contact{}).
			Where("id = ? AND version = ?", contact.ID, contact.Version).
			Updates(map[string]interface{}{
				"lead_score":         score,
				"total_interactions": contact.TotalInteractions + 1,
				"last_contact_date":  s.Clock.Now(),
				"version":            contact.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: contact %d was modified concurrently", ErrConflict, contactID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(contactID)
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
