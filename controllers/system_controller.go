package controllers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"opsvantage/engine"
	"opsvantage/models"
	"opsvantage/utils"
)

// SystemController hosts operational endpoints: a synchronous scheduler pass
// for ops and tests, and first-boot seeding of default content.
type SystemController struct {
	DB        *gorm.DB
	Scheduler *engine.Scheduler
	Sequences *engine.SequenceEngine
}

func NewSystemController(db *gorm.DB, scheduler *engine.Scheduler, sequences *engine.SequenceEngine) *SystemController {
	return &SystemController{DB: db, Scheduler: scheduler, Sequences: sequences}
}

// ProcessSequences handles POST /system/process-sequences. It runs one
// scheduler pass inline and reports how many enrollments advanced. Safe to
// call while the background worker is running.
func (ctl *SystemController) ProcessSequences(c *fiber.Ctx) error {
	processed, err := ctl.Scheduler.RunOnce(c.Context())
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"processed": processed}))
}

// Initialize handles POST /system/initialize. Seeds the default welcome
// template and onboarding sequence on an empty database; calling it again is
// a no-op.
func (ctl *SystemController) Initialize(c *fiber.Ctx) error {
	seeded := fiber.Map{"templates": 0, "sequences": 0}

	var templateCount int64
	if err := ctl.DB.Model(&models.EmailTemplate{}).Count(&templateCount).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to initialize", err)
	}
	if templateCount == 0 {
		templates := []models.EmailTemplate{
			{
				Name:        "Welcome Email",
				Subject:     "Welcome to OpsVantage Digital, {{first_name}}!",
				HTMLContent: "<h1>Welcome {{first_name}}!</h1><p>Thanks for your interest in our services. We help businesses transform their operations with cutting-edge digital solutions.</p>",
				TextContent: "Welcome {{first_name}}! Thanks for your interest in our services.",
				Namespace:   "onboarding",
				IsDefault:   true,
			},
			{
				Name:        "Follow Up",
				Subject:     "Quick question, {{first_name}}",
				HTMLContent: "<p>Hi {{first_name}},</p><p>I wanted to follow up and see if you had any questions about how we can help {{company}}.</p>",
				TextContent: "Hi {{first_name}}, I wanted to follow up and see if you had any questions.",
				Namespace:   "onboarding",
			},
		}
		if err := ctl.DB.Create(&templates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to seed templates", err)
		}
		seeded["templates"] = len(templates)
	}

	var sequenceCount int64
	if err := ctl.DB.Model(&models.EmailSequence{}).Count(&sequenceCount).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to initialize", err)
	}
	if sequenceCount == 0 {
		_, err := ctl.Sequences.CreateSequence(engine.SequenceCreate{
			Name:          "New Lead Onboarding",
			Description:   "Automated welcome flow for new leads",
			TriggerStatus: []string{models.ContactStatusNew},
			Steps: []engine.SequenceStepCreate{
				{
					Subject:     "Welcome to OpsVantage Digital, {{first_name}}!",
					HTMLContent: "<h1>Welcome {{first_name}}!</h1><p>We are excited to show you what modern operations tooling can do for {{company}}.</p>",
					TextContent: "Welcome {{first_name}}!",
					DelayHours:  0,
				},
				{
					Subject:     "How {{company}} can move faster",
					HTMLContent: "<p>Hi {{first_name}},</p><p>Here are three ways teams like yours cut operational overhead in their first month.</p>",
					TextContent: "Hi {{first_name}}, here are three ways to cut operational overhead.",
					DelayHours:  48,
				},
				{
					Subject:     "Ready for a quick call, {{first_name}}?",
					HTMLContent: "<p>Hi {{first_name}},</p><p>Would a 20 minute walkthrough this week be useful? Reply and we will set it up.</p>",
					TextContent: "Hi {{first_name}}, would a 20 minute walkthrough this week be useful?",
					DelayHours:  96,
				},
			},
		})
		if err != nil {
			return respondEngineError(c, err)
		}
		seeded["sequences"] = 1
	}

	return c.JSON(utils.SuccessResponse(seeded))
}
