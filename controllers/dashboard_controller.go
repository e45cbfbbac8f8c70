package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"opsvantage/models"
	"opsvantage/utils"
)

// DashboardController serves the aggregate views behind the dashboard. All
// numbers are computed from live rows on each request; nothing here is
// cached or denormalized beyond the campaign counters.
type DashboardController struct {
	DB *gorm.DB
}

func NewDashboardController(db *gorm.DB) *DashboardController {
	return &DashboardController{DB: db}
}

type bucketCount struct {
	Bucket string  `json:"bucket"`
	Count  int64   `json:"count"`
	Avg    float64 `json:"avg_lead_score"`
}

// GetDashboardStats handles GET /analytics/dashboard
func (ctl *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	var totalContacts int64
	if err := ctl.DB.Model(&models.Contact{}).Count(&totalContacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	var byStatus []bucketCount
	if err := ctl.DB.Model(&models.Contact{}).
		Select("status AS bucket, COUNT(*) AS count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}
	statusCounts := make(map[string]int64, len(byStatus))
	for _, b := range byStatus {
		statusCounts[b.Bucket] = b.Count
	}

	var avgScore float64
	ctl.DB.Model(&models.Contact{}).Select("COALESCE(AVG(lead_score), 0)").Scan(&avgScore)

	monthStart := time.Now().UTC().AddDate(0, 0, -30)
	var newThisMonth int64
	ctl.DB.Model(&models.Contact{}).Where("created_at >= ?", monthStart).Count(&newThisMonth)

	var totalCampaigns, campaignsSent int64
	ctl.DB.Model(&models.Campaign{}).Count(&totalCampaigns)
	ctl.DB.Model(&models.Campaign{}).Where("status = ?", models.CampaignStatusSent).Count(&campaignsSent)

	var activeSequences, activeEnrollments int64
	ctl.DB.Model(&models.EmailSequence{}).Where("status = ?", models.SequenceStatusActive).Count(&activeSequences)
	ctl.DB.Model(&models.SequenceEnrollment{}).Where("state = ?", models.EnrollmentStateActive).Count(&activeEnrollments)

	var recent []models.Interaction
	if err := ctl.DB.Order("created_at DESC").Limit(10).Find(&recent).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"total_contacts":         totalContacts,
		"contacts_by_status":     statusCounts,
		"average_lead_score":     avgScore,
		"new_contacts_30d":       newThisMonth,
		"total_campaigns":        totalCampaigns,
		"campaigns_sent":         campaignsSent,
		"active_sequences":       activeSequences,
		"active_enrollments":     activeEnrollments,
		"recent_interactions":    recent,
	}))
}

// GetLeadSourceAnalytics handles GET /analytics/lead-sources
func (ctl *DashboardController) GetLeadSourceAnalytics(c *fiber.Ctx) error {
	var bySource []bucketCount
	if err := ctl.DB.Model(&models.Contact{}).
		Select("lead_source AS bucket, COUNT(*) AS count, COALESCE(AVG(lead_score), 0) AS avg").
		Group("lead_source").Order("count DESC").Scan(&bySource).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute lead source analytics", err)
	}
	return c.JSON(utils.SuccessResponse(bySource))
}

// GetEngagementAnalytics handles GET /analytics/engagement
func (ctl *DashboardController) GetEngagementAnalytics(c *fiber.Ctx) error {
	type engagement struct {
		EmailOpens    int64 `json:"email_opens"`
		EmailClicks   int64 `json:"email_clicks"`
		WebsiteVisits int64 `json:"website_visits"`
		Interactions  int64 `json:"total_interactions"`
	}
	var agg engagement
	if err := ctl.DB.Model(&models.Contact{}).
		Select("COALESCE(SUM(email_opens), 0) AS email_opens, COALESCE(SUM(email_clicks), 0) AS email_clicks, COALESCE(SUM(website_visits), 0) AS website_visits, COALESCE(SUM(total_interactions), 0) AS interactions").
		Scan(&agg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute engagement analytics", err)
	}

	var topContacts []models.Contact
	if err := ctl.DB.Order("lead_score DESC").Limit(10).Find(&topContacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute engagement analytics", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"totals":       agg,
		"top_contacts": topContacts,
	}))
}
