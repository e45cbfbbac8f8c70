package engine

import (
	"strings"

	"opsvantage/models"
)

// Scorer derives a contact's lead score from its interaction history. Score
// is a pure function of the previous score and the interaction type: it is
// applied exactly once per interaction append, never re-derived from scratch.
type Scorer struct {
	// Weights maps interaction type to a non-negative increment. Missing
	// types score zero.
	Weights map[string]int

	// Max caps the derived score; zero means uncapped.
	Max int
}

// NewScorer builds a scorer from a weight table, dropping negative weights.
func NewScorer(weights map[string]int, max int) *Scorer {
	clean := make(map[string]int, len(weights))
	for typ, w := range weights {
		if w < 0 {
			w = 0
		}
		clean[typ] = w
	}
	return &Scorer{Weights: clean, Max: max}
}

// Score returns the new lead score after one interaction of the given type.
// The result never decreases and never goes negative.
func (s *Scorer) Score(old int, interactionType string) int {
	if old < 0 {
		old = 0
	}
	next := old + s.Weights[interactionType]
	if s.Max > 0 && next > s.Max {
		next = s.Max
	}
	if next < old {
		next = old
	}
	return next
}

var leadSourceScores = map[string]int{
	models.LeadSourceReferral:      25,
	models.LeadSourceWebinar:       20,
	models.LeadSourceEvent:         20,
	models.LeadSourceEmailCampaign: 15,
	models.LeadSourceWebsite:       10,
	models.LeadSourceBlog:          10,
	models.LeadSourceSocialMedia:   8,
	models.LeadSourcePaidAds:       5,
	models.LeadSourceColdOutreach:  3,
}

// InitialScore seeds a new contact's score from its firmographic signals:
// lead source quality, company and seniority information, and reachability.
func (s *Scorer) InitialScore(c *models.Contact) int {
	score := leadSourceScores[c.LeadSource]

	if c.Company != "" {
		score += 10
	}
	if c.Position != "" {
		position := strings.ToLower(c.Position)
		switch {
		case containsAny(position, "ceo", "cto", "cfo", "director", "vp", "president"):
			score += 15
		case containsAny(position, "manager", "lead", "head"):
			score += 10
		default:
			score += 5
		}
	}
	if c.Phone != "" {
		score += 5
	}

	if s.Max > 0 && score > s.Max {
		score = s.Max
	}
	return score
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
