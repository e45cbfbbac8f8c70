package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsvantage/config"
	"opsvantage/models"
)

func newContactService(t *testing.T) (*ContactService, *fakeClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	scorer := NewScorer(config.DefaultScoreWeights(), 100)
	return NewContactService(db, scorer, clock, newTestLogger()), clock
}

func TestCreateContactSeedsScoreAndTimeline(t *testing.T) {
	svc, _ := newContactService(t)

	contact, err := svc.Create(ContactCreate{
		FirstName:  "Maya",
		LastName:   "Singh",
		Email:      "Maya.Singh@Example.COM",
		Company:    "Acme Corp",
		Position:   "VP Operations",
		Phone:      "+1 555 0100",
		LeadSource: models.LeadSourceReferral,
	})
	require.NoError(t, err)

	assert.Equal(t, "maya.singh@example.com", contact.Email)
	assert.Equal(t, models.ContactStatusNew, contact.Status)
	// 25 source + 10 company + 15 title + 5 phone, then +1 for the
	// creation note on the timeline.
	assert.Equal(t, 56, contact.LeadScore)
	assert.Equal(t, 1, contact.TotalInteractions)
	assert.True(t, contact.EmailSubscribed)

	interactions, err := svc.Interactions(contact.ID, 10)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, models.InteractionNoteAdded, interactions[0].Type)
}

func TestCreateContactRejectsBadInput(t *testing.T) {
	svc, _ := newContactService(t)

	_, err := svc.Create(ContactCreate{FirstName: "X", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ContactCreate{FirstName: "", Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ContactCreate{FirstName: "X", Email: "x@example.com", LeadSource: "carrier_pigeon"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateContactDuplicateEmail(t *testing.T) {
	svc, _ := newContactService(t)

	_, err := svc.Create(ContactCreate{FirstName: "A", Email: "dup@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ContactCreate{FirstName: "B", Email: "DUP@example.com"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAddInteractionScoresAndCounts(t *testing.T) {
	svc, clock := newContactService(t)

	contact, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)
	base := contact.LeadScore

	clock.Advance(2 * time.Hour)
	_, err = svc.AddInteraction(contact.ID, models.InteractionEmailOpened, "Opened newsletter", "")
	require.NoError(t, err)
	_, err = svc.AddInteraction(contact.ID, models.InteractionEmailClicked, "Clicked pricing link", "")
	require.NoError(t, err)
	_, err = svc.AddInteraction(contact.ID, models.InteractionWebsiteVisit, "Visited /pricing", "")
	require.NoError(t, err)

	got, err := svc.Get(contact.ID)
	require.NoError(t, err)
	assert.Equal(t, base+2+5+3, got.LeadScore)
	assert.Equal(t, 4, got.TotalInteractions)
	assert.Equal(t, 1, got.EmailOpens)
	assert.Equal(t, 1, got.EmailClicks)
	assert.Equal(t, 1, got.WebsiteVisits)
	require.NotNil(t, got.LastContactDate)
	assert.Equal(t, clock.Now().Unix(), got.LastContactDate.Unix())
}

func TestAddInteractionUnknownType(t *testing.T) {
	svc, _ := newContactService(t)
	contact, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	_, err = svc.AddInteraction(contact.ID, "carrier_pigeon_received", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	got, _ := svc.Get(contact.ID)
	assert.Equal(t, 1, got.TotalInteractions)
}

func TestUpdateStatusAppendsInteraction(t *testing.T) {
	svc, _ := newContactService(t)
	contact, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	updated, err := svc.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusQualified)})
	require.NoError(t, err)
	assert.Equal(t, models.ContactStatusQualified, updated.Status)

	interactions, err := svc.Interactions(contact.ID, 10)
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	assert.Equal(t, models.InteractionStatusChanged, interactions[0].Type)
	assert.Contains(t, interactions[0].Description, "new")
	assert.Contains(t, interactions[0].Description, "qualified")

	// Same status again is not a change.
	_, err = svc.Update(contact.ID, ContactUpdate{Status: strPtr(models.ContactStatusQualified)})
	require.NoError(t, err)
	interactions, _ = svc.Interactions(contact.ID, 10)
	assert.Len(t, interactions, 2)
}

func TestUpdatePartialPatch(t *testing.T) {
	svc, _ := newContactService(t)
	contact, err := svc.Create(ContactCreate{
		FirstName: "Maya", LastName: "Singh", Email: "maya@example.com", Company: "Acme",
	})
	require.NoError(t, err)

	updated, err := svc.Update(contact.ID, ContactUpdate{Company: strPtr("Acme Holdings")})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", updated.Company)
	assert.Equal(t, "Maya", updated.FirstName)
	assert.Equal(t, "Singh", updated.LastName)
}

func TestUpdateUnknownContact(t *testing.T) {
	svc, _ := newContactService(t)
	_, err := svc.Update(9999, ContactUpdate{Company: strPtr("Ghost Inc")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverrideScore(t *testing.T) {
	svc, _ := newContactService(t)
	contact, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	got, err := svc.OverrideScore(contact.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got.LeadScore)

	interactions, _ := svc.Interactions(contact.ID, 10)
	require.Len(t, interactions, 2)
	assert.Equal(t, models.InteractionNoteAdded, interactions[0].Type)
	assert.Contains(t, interactions[0].Description, "overridden")

	_, err = svc.OverrideScore(contact.ID, -1)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.OverrideScore(contact.ID, 101)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteContactRemovesTimeline(t *testing.T) {
	svc, _ := newContactService(t)
	contact, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(contact.ID))

	_, err = svc.Get(contact.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var count int64
	svc.DB.Model(&models.Interaction{}).Where("contact_id = ?", contact.ID).Count(&count)
	assert.Zero(t, count)

	assert.ErrorIs(t, svc.Delete(contact.ID), ErrNotFound)
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _ := newContactService(t)
	for _, in := range []ContactCreate{
		{FirstName: "Ana", Email: "ana@example.com", LeadSource: models.LeadSourceReferral},
		{FirstName: "Ben", Email: "ben@example.com", LeadSource: models.LeadSourceWebsite},
		{FirstName: "Cal", Email: "cal@example.com", LeadSource: models.LeadSourceReferral},
	} {
		_, err := svc.Create(in)
		require.NoError(t, err)
	}

	all, total, err := svc.List(ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.EqualValues(t, 3, total)

	referrals, total, err := svc.List(ListOptions{LeadSource: models.LeadSourceReferral})
	require.NoError(t, err)
	assert.Len(t, referrals, 2)
	assert.EqualValues(t, 2, total)

	page, total, err := svc.List(ListOptions{Skip: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.EqualValues(t, 3, total)
}

func TestSearchMatchesSubstring(t *testing.T) {
	svc, _ := newContactService(t)
	_, err := svc.Create(ContactCreate{FirstName: "Maya", Email: "maya@acme.com", Company: "Acme Corp"})
	require.NoError(t, err)
	_, err = svc.Create(ContactCreate{FirstName: "Ben", Email: "ben@globex.com", Company: "Globex"})
	require.NoError(t, err)

	hits, err := svc.Search("acme", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "maya@acme.com", hits[0].Email)

	hits, err = svc.Search("zzz", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func strPtr(s string) *string { return &s }
