package engine

import (
	"gorm.io/gorm"

	"opsvantage/models"
)

// TargetSpec describes an audience: which statuses and tags to include and
// which tags to exclude. Empty include sets mean no restriction on that
// axis; exclusion always applies.
type TargetSpec struct {
	TargetStatus []string
	TargetTags   []string
	ExcludeTags  []string
}

// Match reports whether a contact belongs to the audience described by the
// spec. It is a pure predicate with no side effects.
func Match(c *models.Contact, spec TargetSpec) bool {
	if len(spec.TargetStatus) > 0 && !contains(spec.TargetStatus, c.Status) {
		return false
	}
	if len(spec.TargetTags) > 0 && !intersects(c.Tags, spec.TargetTags) {
		return false
	}
	if intersects(c.Tags, spec.ExcludeTags) {
		return false
	}
	return true
}

// ResolveAudience evaluates a targeting spec against the live contact set. The
// result is a snapshot of this call only and must never be cached across
// contact mutations: audience membership is a live view. Unsubscribed
// contacts never receive campaign or sequence mail.
func ResolveAudience(db *gorm.DB, spec TargetSpec) ([]models.Contact, error) {
	q := db.Where("email_subscribed = ?", true)
	if len(spec.TargetStatus) > 0 {
		q = q.Where("status IN ?", spec.TargetStatus)
	}

	var contacts []models.Contact
	if err := q.Find(&contacts).Error; err != nil {
		return nil, err
	}

	matched := contacts[:0]
	for i := range contacts {
		if Match(&contacts[i], spec) {
			matched = append(matched, contacts[i])
		}
	}
	return matched, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
