package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsvantage/config"
	"opsvantage/models"
)

type sequenceHarness struct {
	contacts  *ContactService
	sequences *SequenceEngine
	mailer    *recordingMailer
	clock     *fakeClock
}

func newSequenceHarness(t *testing.T) *sequenceHarness {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := newTestLogger()
	mailer := &recordingMailer{}

	contacts := NewContactService(db, NewScorer(config.DefaultScoreWeights(), 100), clock, logger)
	sequences := NewSequenceEngine(db, clock, mailer, logger)
	sequences.Recorder = contacts
	contacts.Sequences = sequences

	return &sequenceHarness{contacts: contacts, sequences: sequences, mailer: mailer, clock: clock}
}

func (h *sequenceHarness) createTwoStepSequence(t *testing.T, triggerStatus []string) *models.EmailSequence {
	t.Helper()
	seq, err := h.sequences.CreateSequence(SequenceCreate{
		Name:          "Onboarding",
		TriggerStatus: triggerStatus,
		Steps: []SequenceStepCreate{
			{Subject: "Welcome {{first_name}}", HTMLContent: "<p>Hi {{first_name}}</p>", DelayHours: 0},
			{Subject: "Follow up", HTMLContent: "<p>Still there?</p>", DelayHours: 24},
		},
	})
	require.NoError(t, err)
	return seq
}

func TestCreateSequenceValidation(t *testing.T) {
	h := newSequenceHarness(t)

	_, err := h.sequences.CreateSequence(SequenceCreate{Name: "Empty"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.sequences.CreateSequence(SequenceCreate{
		Name:  "Bad delay",
		Steps: []SequenceStepCreate{{Subject: "x", HTMLContent: "x", DelayHours: -1}},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.sequences.CreateSequence(SequenceCreate{
		Name:          "Bad trigger",
		TriggerStatus: []string{"galactic"},
		Steps:         []SequenceStepCreate{{Subject: "x", HTMLContent: "x"}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTriggerEnrollmentOnCreate(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, []string{models.ContactStatusNew})

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	enrollments, err := h.sequences.Enrollments(seq.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, contact.ID, enrollments[0].ContactID)
	assert.Equal(t, models.EnrollmentStateActive, enrollments[0].State)
	require.NotNil(t, enrollments[0].NextFireAt)
	assert.Equal(t, h.clock.Now().Unix(), enrollments[0].NextFireAt.Unix())
}

func TestTriggerEnrollmentOnStatusChange(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, []string{models.ContactStatusQualified})

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	enrollments, _ := h.sequences.Enrollments(seq.ID)
	assert.Empty(t, enrollments)

	_, err = h.contacts.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusQualified)})
	require.NoError(t, err)

	enrollments, _ = h.sequences.Enrollments(seq.ID)
	assert.Len(t, enrollments, 1)
}

func TestTriggerEnrollmentOnGainedTag(t *testing.T) {
	h := newSequenceHarness(t)
	seq, err := h.sequences.CreateSequence(SequenceCreate{
		Name:        "Enterprise nurture",
		TriggerTags: []string{"enterprise"},
		Steps:       []SequenceStepCreate{{Subject: "Hello", HTMLContent: "x"}},
	})
	require.NoError(t, err)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	_, err = h.contacts.Update(contact.ID, ContactUpdate{Tags: &[]string{"enterprise"}})
	require.NoError(t, err)

	enrollments, _ := h.sequences.Enrollments(seq.ID)
	assert.Len(t, enrollments, 1)
}

func TestTriggerNeverReenrolls(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, []string{models.ContactStatusQualified})

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	_, err = h.contacts.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusQualified)})
	require.NoError(t, err)

	// Leave and re-enter the trigger status.
	_, err = h.contacts.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusEngaged)})
	require.NoError(t, err)
	_, err = h.contacts.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusQualified)})
	require.NoError(t, err)

	enrollments, _ := h.sequences.Enrollments(seq.ID)
	assert.Len(t, enrollments, 1)
}

func TestManualEnrollIdempotentWhileActive(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	first, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)

	second, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CurrentStep, second.CurrentStep)

	enrollments, _ := h.sequences.Enrollments(seq.ID)
	assert.Len(t, enrollments, 1)
}

func TestStepDelaysAndCompletion(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	enrollment, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)

	// Step 0 is due at enrollment time.
	require.NoError(t, h.sequences.Advance(enrollment.ID))
	jobs := h.mailer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Welcome Maya", jobs[0].Subject)

	// Step 1 is 24h out; advancing early is a no-op.
	require.NoError(t, h.sequences.Advance(enrollment.ID))
	assert.Len(t, h.mailer.Jobs(), 1)

	h.clock.Advance(23 * time.Hour)
	require.NoError(t, h.sequences.Advance(enrollment.ID))
	assert.Len(t, h.mailer.Jobs(), 1)

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.sequences.Advance(enrollment.ID))
	require.Len(t, h.mailer.Jobs(), 2)
	assert.Equal(t, "Follow up", h.mailer.Jobs()[1].Subject)

	var final models.SequenceEnrollment
	require.NoError(t, h.sequences.DB.First(&final, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStateCompleted, final.State)
	assert.Nil(t, final.NextFireAt)

	// Re-delivery after completion never sends again.
	require.NoError(t, h.sequences.Advance(enrollment.ID))
	assert.Len(t, h.mailer.Jobs(), 2)
}

func TestAdvanceRecordsSendInteraction(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	scoreBefore := contact.LeadScore

	enrollment, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)
	require.NoError(t, h.sequences.Advance(enrollment.ID))

	interactions, err := h.contacts.Interactions(contact.ID, 10)
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	assert.Equal(t, models.InteractionEmailSent, interactions[0].Type)

	got, _ := h.contacts.Get(contact.ID)
	assert.Equal(t, scoreBefore+1, got.LeadScore)
}

func TestAdvanceSkipsUnsubscribed(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	enrollment, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)

	_, err = h.contacts.Update(contact.ID, ContactUpdate{EmailSubscribed: boolPtr(false)})
	require.NoError(t, err)

	require.NoError(t, h.sequences.Advance(enrollment.ID))
	assert.Empty(t, h.mailer.Jobs())

	var got models.SequenceEnrollment
	require.NoError(t, h.sequences.DB.First(&got, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStateCancelled, got.State)
}

func TestDeliveryFailureMarksEnrollmentFailed(t *testing.T) {
	h := newSequenceHarness(t)
	h.mailer.failUntil = 100
	h.sequences.MaxSendAttempts = 2

	seq := h.createTwoStepSequence(t, nil)
	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	enrollment, err := h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)

	require.Error(t, h.sequences.Advance(enrollment.ID))

	var got models.SequenceEnrollment
	require.NoError(t, h.sequences.DB.First(&got, enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStateFailed, got.State)
	assert.NotEmpty(t, got.LastError)
	assert.Nil(t, got.NextFireAt)
}

func TestPauseCancelsActiveEnrollments(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	contact, err := h.contacts.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	_, err = h.sequences.Enroll(contact.ID, seq.ID)
	require.NoError(t, err)

	paused, err := h.sequences.PauseSequence(seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusPaused, paused.Status)

	enrollments, _ := h.sequences.Enrollments(seq.ID)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentStateCancelled, enrollments[0].State)

	// A paused sequence accepts no enrollments.
	_, err = h.sequences.Enroll(contact.ID, seq.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Resume reactivates the definition, not the cancelled enrollments.
	resumed, err := h.sequences.ResumeSequence(seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, resumed.Status)
	enrollments, _ = h.sequences.Enrollments(seq.ID)
	assert.Equal(t, models.EnrollmentStateCancelled, enrollments[0].State)
}

func TestStopIsTerminal(t *testing.T) {
	h := newSequenceHarness(t)
	seq := h.createTwoStepSequence(t, nil)

	stopped, err := h.sequences.StopSequence(seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusStopped, stopped.Status)

	_, err = h.sequences.ResumeSequence(seq.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.sequences.StopSequence(seq.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func boolPtr(b bool) *bool { return &b }
