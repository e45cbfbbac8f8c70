package models

import "gorm.io/gorm"

// EmailTemplate holds reusable campaign content. Templates are referenced,
// not owned, by campaigns: deleting a template leaves sent campaigns intact.
type EmailTemplate struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	// At most one default per namespace, enforced at creation.
	Namespace string `gorm:"default:'default';index" json:"namespace"`
	IsDefault bool   `gorm:"default:false" json:"is_default"`
}
