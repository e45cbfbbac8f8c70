package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsvantage/config"
	"opsvantage/models"
)

type dispatcherHarness struct {
	contacts   *ContactService
	dispatcher *Dispatcher
	mailer     *recordingMailer
	clock      *fakeClock
}

func newDispatcherHarness(t *testing.T) *dispatcherHarness {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := newTestLogger()
	mailer := &recordingMailer{}

	contacts := NewContactService(db, NewScorer(config.DefaultScoreWeights(), 100), clock, logger)
	dispatcher := NewDispatcher(db, clock, mailer, logger)
	dispatcher.Recorder = contacts

	return &dispatcherHarness{contacts: contacts, dispatcher: dispatcher, mailer: mailer, clock: clock}
}

func (h *dispatcherHarness) seedContacts(t *testing.T) {
	t.Helper()
	for _, in := range []ContactCreate{
		{FirstName: "Ana", Email: "ana@example.com", Tags: []string{"warm"}},
		{FirstName: "Ben", Email: "ben@example.com", Tags: []string{"warm", "do-not-contact"}},
		{FirstName: "Cal", Email: "cal@example.com"},
	} {
		_, err := h.contacts.Create(in)
		require.NoError(t, err)
	}
}

func TestSendCampaignFansOutOnce(t *testing.T) {
	h := newDispatcherHarness(t)
	h.seedContacts(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name:        "Spring launch",
		Subject:     "Hello {{first_name}}",
		HTMLContent: "<p>Big news for {{company}}</p>",
		TargetTags:  []string{"warm"},
		ExcludeTags: []string{"do-not-contact"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusDraft, campaign.Status)

	sent, err := h.dispatcher.Send(campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, 1, sent.TotalRecipients)
	h.dispatcher.Wait()

	jobs := h.mailer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ana@example.com", jobs[0].To)
	assert.Equal(t, "Hello Ana", jobs[0].Subject)

	final, err := h.dispatcher.GetCampaign(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusSent, final.Status)
	assert.Equal(t, 1, final.EmailsSent)

	// The send landed on the recipient's timeline.
	interactions, err := h.contacts.Interactions(1, 10)
	require.NoError(t, err)
	assert.Equal(t, models.InteractionEmailSent, interactions[0].Type)
}

func TestSendCampaignSecondCallIsNoop(t *testing.T) {
	h := newDispatcherHarness(t)
	h.seedContacts(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Launch", Subject: "Hi", HTMLContent: "<p>x</p>",
	})
	require.NoError(t, err)

	first, err := h.dispatcher.Send(campaign.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	h.clock.Advance(time.Hour)
	second, err := h.dispatcher.Send(campaign.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Equal(t, models.CampaignStatusSent, second.Status)
	require.NotNil(t, second.SentAt)
	assert.Equal(t, first.SentAt.Unix(), second.SentAt.Unix())
	// No second fan-out: one job per subscribed contact.
	assert.Len(t, h.mailer.Jobs(), 3)
}

func TestSendCampaignInvalidStates(t *testing.T) {
	h := newDispatcherHarness(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Launch", Subject: "Hi", HTMLContent: "<p>x</p>",
	})
	require.NoError(t, err)

	require.NoError(t, h.dispatcher.DB.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).Update("status", models.CampaignStatusPaused).Error)

	_, err = h.dispatcher.Send(campaign.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.dispatcher.Send(9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendCampaignEmptyAudience(t *testing.T) {
	h := newDispatcherHarness(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Launch", Subject: "Hi", HTMLContent: "<p>x</p>",
		TargetTags: []string{"nobody-has-this"},
	})
	require.NoError(t, err)

	_, err = h.dispatcher.Send(campaign.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	final, _ := h.dispatcher.GetCampaign(campaign.ID)
	assert.Equal(t, models.CampaignStatusSent, final.Status)
	assert.Equal(t, 0, final.TotalRecipients)
	assert.Empty(t, h.mailer.Jobs())
}

func TestSendCampaignAllFailuresMarksFailed(t *testing.T) {
	h := newDispatcherHarness(t)
	h.mailer.failUntil = 1000
	h.dispatcher.MaxSendAttempts = 1
	h.seedContacts(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Doomed", Subject: "Hi", HTMLContent: "<p>x</p>",
	})
	require.NoError(t, err)

	_, err = h.dispatcher.Send(campaign.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	final, _ := h.dispatcher.GetCampaign(campaign.ID)
	assert.Equal(t, models.CampaignStatusFailed, final.Status)
	assert.Equal(t, 0, final.EmailsSent)
	assert.NotEmpty(t, final.LastError)
}

func TestScheduledCampaignBecomesDue(t *testing.T) {
	h := newDispatcherHarness(t)

	at := h.clock.Now().Add(2 * time.Hour)
	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Later", Subject: "Hi", HTMLContent: "<p>x</p>", ScheduledAt: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusScheduled, campaign.Status)

	due, err := h.dispatcher.DueCampaigns(h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	h.clock.Advance(3 * time.Hour)
	due, err = h.dispatcher.DueCampaigns(h.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, campaign.ID, due[0].ID)
}

func TestRecordEventIdempotent(t *testing.T) {
	h := newDispatcherHarness(t)
	h.seedContacts(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Launch", Subject: "Hi", HTMLContent: "<p>x</p>",
	})
	require.NoError(t, err)

	contact, err := h.contacts.Get(1)
	require.NoError(t, err)
	scoreBefore := contact.LeadScore

	err = h.dispatcher.RecordEvent(models.EventEntityCampaign, campaign.ID, contact.ID, models.EventOpened, "msg-1")
	require.NoError(t, err)
	// Provider retries the same report.
	err = h.dispatcher.RecordEvent(models.EventEntityCampaign, campaign.ID, contact.ID, models.EventOpened, "msg-1")
	require.NoError(t, err)

	got, _ := h.dispatcher.GetCampaign(campaign.ID)
	assert.Equal(t, 1, got.EmailsOpened)

	after, _ := h.contacts.Get(contact.ID)
	assert.Equal(t, scoreBefore+2, after.LeadScore)
	assert.Equal(t, 1, after.EmailOpens)
}

func TestRecordEventClickAndBounce(t *testing.T) {
	h := newDispatcherHarness(t)
	h.seedContacts(t)

	campaign, err := h.dispatcher.CreateCampaign(CampaignCreate{
		Name: "Launch", Subject: "Hi", HTMLContent: "<p>x</p>",
	})
	require.NoError(t, err)

	require.NoError(t, h.dispatcher.RecordEvent(models.EventEntityCampaign, campaign.ID, 1, models.EventClicked, "m1"))
	require.NoError(t, h.dispatcher.RecordEvent(models.EventEntityCampaign, campaign.ID, 2, models.EventBounced, "m2"))

	got, _ := h.dispatcher.GetCampaign(campaign.ID)
	assert.Equal(t, 1, got.EmailsClicked)
	assert.Equal(t, 1, got.EmailsBounced)

	clicker, _ := h.contacts.Get(1)
	assert.Equal(t, 1, clicker.EmailClicks)
}

func TestRecordEventValidation(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.dispatcher.RecordEvent("newsletter", 1, 1, models.EventOpened, "")
	assert.ErrorIs(t, err, ErrValidation)

	err = h.dispatcher.RecordEvent(models.EventEntityCampaign, 1, 1, "forwarded", "")
	assert.ErrorIs(t, err, ErrValidation)
}
