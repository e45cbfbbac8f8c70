package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"opsvantage/models"
)

// SequenceEngine owns sequence definitions, enrollments and step delivery.
// Advancing an enrollment claims the step with a versioned update before the
// email leaves the building, so a step is sent at most once no matter how
// many workers race on it.
type SequenceEngine struct {
	DB       *gorm.DB
	Clock    Clock
	Mailer   Mailer
	Recorder InteractionRecorder
	Logger   *logrus.Logger

	// MaxSendAttempts bounds retries on temporary SMTP failures per step.
	MaxSendAttempts int
}

func NewSequenceEngine(db *gorm.DB, clock Clock, mailer Mailer, logger *logrus.Logger) *SequenceEngine {
	return &SequenceEngine{DB: db, Clock: clock, Mailer: mailer, Logger: logger, MaxSendAttempts: 3}
}

// SequenceStepCreate is one step of a new sequence.
type SequenceStepCreate struct {
	Subject     string `json:"subject" validate:"required"`
	HTMLContent string `json:"html_content" validate:"required"`
	TextContent string `json:"text_content"`
	DelayHours  int    `json:"delay_hours" validate:"min=0"`
}

// SequenceCreate is the payload for creating a sequence with its steps.
type SequenceCreate struct {
	Name          string               `json:"name" validate:"required,max=200"`
	Description   string               `json:"description"`
	TriggerStatus []string             `json:"trigger_status"`
	TriggerTags   []string             `json:"trigger_tags"`
	Steps         []SequenceStepCreate `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequence stores a sequence and its ordered steps.
func (e *SequenceEngine) CreateSequence(in SequenceCreate) (*models.EmailSequence, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationf("sequence name is required")
	}
	if len(in.Steps) == 0 {
		return nil, validationf("a sequence needs at least one step")
	}
	for _, status := range in.TriggerStatus {
		if !models.ValidContactStatus(status) {
			return nil, validationf("unknown trigger status %q", status)
		}
	}
	for i, step := range in.Steps {
		if strings.TrimSpace(step.Subject) == "" {
			return nil, validationf("step %d: subject is required", i)
		}
		if step.DelayHours < 0 {
			return nil, validationf("step %d: delay_hours must be >= 0", i)
		}
	}

	seq := models.EmailSequence{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Status:        models.SequenceStatusActive,
		TriggerStatus: in.TriggerStatus,
		TriggerTags:   dedupeTags(in.TriggerTags),
	}
	for i, step := range in.Steps {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepNumber:  i,
			Subject:     step.Subject,
			HTMLContent: step.HTMLContent,
			TextContent: step.TextContent,
			DelayHours:  step.DelayHours,
		})
	}
	if err := e.DB.Create(&seq).Error; err != nil {
		return nil, err
	}
	return e.GetSequence(seq.ID)
}

// GetSequence returns a sequence with its steps in order.
func (e *SequenceEngine) GetSequence(id uint) (*models.EmailSequence, error) {
	var seq models.EmailSequence
	err := e.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&seq, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sequence %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &seq, nil
}

// ListSequences returns all sequences with their steps, newest first.
func (e *SequenceEngine) ListSequences() ([]models.EmailSequence, error) {
	var seqs []models.EmailSequence
	err := e.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Order("created_at DESC").Find(&seqs).Error
	return seqs, err
}

// Enrollments lists a sequence's enrollments, newest first.
func (e *SequenceEngine) Enrollments(sequenceID uint) ([]models.SequenceEnrollment, error) {
	if _, err := e.GetSequence(sequenceID); err != nil {
		return nil, err
	}
	var enrollments []models.SequenceEnrollment
	err := e.DB.Where("sequence_id = ?", sequenceID).
		Order("enrolled_at DESC").Find(&enrollments).Error
	return enrollments, err
}

// EvaluateTriggers enrolls the contact into every active sequence whose
// trigger matches the given status or any of the given tags. A contact that
// has ever been enrolled in a sequence is never trigger-enrolled into it
// again, even after completing or leaving it.
func (e *SequenceEngine) EvaluateTriggers(contactID uint, status string, tags []string) error {
	var seqs []models.EmailSequence
	if err := e.DB.Where("status = ?", models.SequenceStatusActive).Find(&seqs).Error; err != nil {
		return err
	}
	for _, seq := range seqs {
		matched := false
		if status != "" && contains(seq.TriggerStatus, status) {
			matched = true
		}
		if !matched && intersects(tags, seq.TriggerTags) {
			matched = true
		}
		if !matched {
			continue
		}

		var count int64
		if err := e.DB.Model(&models.SequenceEnrollment{}).
			Where("contact_id = ? AND sequence_id = ?", contactID, seq.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if _, err := e.Enroll(contactID, seq.ID); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
	}
	return nil
}

// Enroll creates an active enrollment with the first step due immediately.
// A contact can hold at most one active enrollment per sequence; enrolling
// again while one is active returns the existing enrollment unchanged.
func (e *SequenceEngine) Enroll(contactID, sequenceID uint) (*models.SequenceEnrollment, error) {
	seq, err := e.GetSequence(sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != models.SequenceStatusActive {
		return nil, invalidStatef("sequence %d is %s, not active", sequenceID, seq.Status)
	}
	if len(seq.Steps) == 0 {
		return nil, invalidStatef("sequence %d has no steps", sequenceID)
	}

	var contact models.Contact
	if err := e.DB.First(&contact, contactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: contact %d", ErrNotFound, contactID)
		}
		return nil, err
	}
	if !contact.EmailSubscribed {
		return nil, invalidStatef("contact %d is unsubscribed", contactID)
	}

	var existing models.SequenceEnrollment
	err = e.DB.Where("contact_id = ? AND sequence_id = ? AND state = ?",
		contactID, sequenceID, models.EnrollmentStateActive).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := e.Clock.Now()
	enrollment := models.SequenceEnrollment{
		ContactID:  contactID,
		SequenceID: sequenceID,
		EnrolledAt: now,
		NextFireAt: &now,
		State:      models.EnrollmentStateActive,
	}
	if err := e.DB.Create(&enrollment).Error; err != nil {
		// The partial unique index catches the race two concurrent
		// enrollments can still hit. The loser hands back the winner's row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if e.DB.Where("contact_id = ? AND sequence_id = ? AND state = ?",
				contactID, sequenceID, models.EnrollmentStateActive).
				First(&existing).Error == nil {
				return &existing, nil
			}
			return nil, fmt.Errorf("%w: contact %d already enrolled in sequence %d", ErrConflict, contactID, sequenceID)
		}
		return nil, err
	}
	return &enrollment, nil
}

// DueEnrollments returns active enrollments whose next step is due at or
// before now, oldest due first.
func (e *SequenceEngine) DueEnrollments(now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []models.SequenceEnrollment
	err := e.DB.Where("state = ? AND next_fire_at IS NOT NULL AND next_fire_at <= ?",
		models.EnrollmentStateActive, now).
		Order("next_fire_at ASC").Limit(limit).Find(&due).Error
	return due, err
}

// Advance fires the current step of one enrollment: it validates that the
// step is still due, claims it with a versioned update, then sends the email
// and records the interaction. Re-delivery of a stale enrollment id is a
// harmless no-op; a lost claim race returns ErrConflict.
func (e *SequenceEngine) Advance(enrollmentID uint) error {
	var enrollment models.SequenceEnrollment
	if err := e.DB.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: enrollment %d", ErrNotFound, enrollmentID)
		}
		return err
	}
	now := e.Clock.Now()
	if enrollment.Terminal() || enrollment.State != models.EnrollmentStateActive {
		return nil
	}
	if enrollment.NextFireAt == nil || enrollment.NextFireAt.After(now) {
		return nil
	}

	seq, err := e.GetSequence(enrollment.SequenceID)
	if err != nil {
		return err
	}
	// A paused or stopped sequence cancels in-flight enrollments on contact
	// rather than letting them fire later.
	if seq.Status != models.SequenceStatusActive {
		return e.cancelEnrollment(&enrollment)
	}

	var contact models.Contact
	if err := e.DB.First(&contact, enrollment.ContactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return e.cancelEnrollment(&enrollment)
		}
		return err
	}
	if !contact.EmailSubscribed {
		return e.cancelEnrollment(&enrollment)
	}

	steps := seq.Steps
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	if enrollment.CurrentStep >= len(steps) {
		return e.completeEnrollment(&enrollment)
	}
	step := steps[enrollment.CurrentStep]

	// Claim the step before sending anything.
	updates := map[string]interface{}{"version": enrollment.Version + 1}
	if enrollment.CurrentStep == len(steps)-1 {
		updates["state"] = models.EnrollmentStateCompleted
		updates["next_fire_at"] = nil
		updates["current_step"] = enrollment.CurrentStep + 1
	} else {
		next := now.Add(time.Duration(steps[enrollment.CurrentStep+1].DelayHours) * time.Hour)
		updates["next_fire_at"] = next
		updates["current_step"] = enrollment.CurrentStep + 1
	}
	res := e.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND version = ? AND state = ?",
			enrollment.ID, enrollment.Version, models.EnrollmentStateActive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: enrollment %d claimed elsewhere", ErrConflict, enrollment.ID)
	}

	job := SendJob{
		MessageID: uuid.New().String(),
		To:        contact.Email,
		Subject:   personalize(step.Subject, &contact),
		HTML:      personalize(step.HTMLContent, &contact),
		Text:      personalize(step.TextContent, &contact),
	}
	if err := e.sendWithRetry(job); err != nil {
		e.Logger.WithError(err).WithFields(logrus.Fields{
			"enrollment_id": enrollment.ID,
			"step":          step.StepNumber,
			"contact_id":    contact.ID,
		}).Error("sequence step delivery failed")
		e.DB.Model(&models.SequenceEnrollment{}).Where("id = ?", enrollment.ID).
			Updates(map[string]interface{}{
				"state":        models.EnrollmentStateFailed,
				"next_fire_at": nil,
				"last_error":   err.Error(),
			})
		return err
	}

	if e.Recorder != nil {
		desc := fmt.Sprintf("Sequence email sent: %s (step %d of %s)", step.Subject, step.StepNumber+1, seq.Name)
		if err := e.Recorder.RecordInteraction(contact.ID, models.InteractionEmailSent, desc, job.MessageID); err != nil {
			e.Logger.WithError(err).WithField("contact_id", contact.ID).
				Warn("failed to record sequence send interaction")
		}
	}
	return nil
}

func (e *SequenceEngine) sendWithRetry(job SendJob) error {
	attempts := e.MaxSendAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if _, err = e.Mailer.Send(job); err == nil {
			return nil
		}
		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	return err
}

func (e *SequenceEngine) cancelEnrollment(enrollment *models.SequenceEnrollment) error {
	res := e.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND version = ? AND state = ?",
			enrollment.ID, enrollment.Version, models.EnrollmentStateActive).
		Updates(map[string]interface{}{
			"state":        models.EnrollmentStateCancelled,
			"next_fire_at": nil,
			"version":      enrollment.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: enrollment %d claimed elsewhere", ErrConflict, enrollment.ID)
	}
	return nil
}

func (e *SequenceEngine) completeEnrollment(enrollment *models.SequenceEnrollment) error {
	res := e.DB.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND version = ? AND state = ?",
			enrollment.ID, enrollment.Version, models.EnrollmentStateActive).
		Updates(map[string]interface{}{
			"state":        models.EnrollmentStateCompleted,
			"next_fire_at": nil,
			"version":      enrollment.Version + 1,
		})
	return res.Error
}

// CancelForContact cancels every active enrollment the contact holds.
func (e *SequenceEngine) CancelForContact(contactID uint) error {
	return e.DB.Model(&models.SequenceEnrollment{}).
		Where("contact_id = ? AND state = ?", contactID, models.EnrollmentStateActive).
		Updates(map[string]interface{}{
			"state":        models.EnrollmentStateCancelled,
			"next_fire_at": nil,
		}).Error
}

// PauseSequence marks the sequence paused and cancels its active
// enrollments.
func (e *SequenceEngine) PauseSequence(id uint) (*models.EmailSequence, error) {
	return e.transitionSequence(id, models.SequenceStatusPaused)
}

// StopSequence marks the sequence stopped and cancels its active
// enrollments. A stopped sequence no longer accepts enrollments.
func (e *SequenceEngine) StopSequence(id uint) (*models.EmailSequence, error) {
	return e.transitionSequence(id, models.SequenceStatusStopped)
}

// ResumeSequence sets a paused sequence back to active. Enrollments
// cancelled by the pause stay cancelled.
func (e *SequenceEngine) ResumeSequence(id uint) (*models.EmailSequence, error) {
	seq, err := e.GetSequence(id)
	if err != nil {
		return nil, err
	}
	if seq.Status == models.SequenceStatusStopped {
		return nil, invalidStatef("sequence %d is stopped and cannot be resumed", id)
	}
	if err := e.DB.Model(&models.EmailSequence{}).Where("id = ?", id).
		Update("status", models.SequenceStatusActive).Error; err != nil {
		return nil, err
	}
	return e.GetSequence(id)
}

func (e *SequenceEngine) transitionSequence(id uint, status string) (*models.EmailSequence, error) {
	seq, err := e.GetSequence(id)
	if err != nil {
		return nil, err
	}
	if seq.Status == models.SequenceStatusStopped {
		return nil, invalidStatef("sequence %d is already stopped", id)
	}

	err = e.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EmailSequence{}).Where("id = ?", id).
			Update("status", status).Error; err != nil {
			return err
		}
		return tx.Model(&models.SequenceEnrollment{}).
			Where("sequence_id = ? AND state = ?", id, models.EnrollmentStateActive).
			Updates(map[string]interface{}{
				"state":        models.EnrollmentStateCancelled,
				"next_fire_at": nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return e.GetSequence(id)
}

// personalize substitutes contact fields into template placeholders.
func personalize(body string, c *models.Contact) string {
	r := strings.NewReplacer(
		"{{first_name}}", c.FirstName,
		"{{last_name}}", c.LastName,
		"{{full_name}}", c.FullName(),
		"{{email}}", c.Email,
		"{{company}}", c.Company,
		"{{position}}", c.Position,
	)
	return r.Replace(body)
}
