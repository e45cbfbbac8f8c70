package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"opsvantage/config"
	"opsvantage/controllers"
	"opsvantage/engine"
	"opsvantage/middleware"
	"opsvantage/utils"
)

// Services bundles the wired engine components the routes need.
type Services struct {
	DB         *gorm.DB
	Contacts   *engine.ContactService
	Sequences  *engine.SequenceEngine
	Dispatcher *engine.Dispatcher
	Scheduler  *engine.Scheduler
}

// SetupRoutes mounts the full API surface.
func SetupRoutes(app *fiber.App, svc Services) {
	app.Use(recover.New())
	app.Use(middleware.CORS())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	contactCtl := controllers.NewContactController(svc.Contacts)
	templateCtl := controllers.NewTemplateController(svc.DB)
	campaignCtl := controllers.NewCampaignController(svc.Dispatcher)
	sequenceCtl := controllers.NewSequenceController(svc.Sequences)
	dashboardCtl := controllers.NewDashboardController(svc.DB)
	systemCtl := controllers.NewSystemController(svc.DB, svc.Scheduler, svc.Sequences)

	api := app.Group("/api/v1")

	contacts := api.Group("/contacts")
	contacts.Post("/", contactCtl.CreateContact)
	contacts.Get("/", contactCtl.ListContacts)
	contacts.Get("/search", contactCtl.SearchContacts)
	contacts.Get("/:id", contactCtl.GetContact)
	contacts.Put("/:id", contactCtl.UpdateContact)
	contacts.Delete("/:id", contactCtl.DeleteContact)
	contacts.Put("/:id/score", contactCtl.OverrideScore)
	contacts.Post("/:id/interactions", contactCtl.AddInteraction)
	contacts.Get("/:id/interactions", contactCtl.ListInteractions)

	templates := api.Group("/templates")
	templates.Post("/", templateCtl.CreateTemplate)
	templates.Get("/", templateCtl.ListTemplates)
	templates.Get("/:id", templateCtl.GetTemplate)
	templates.Delete("/:id", templateCtl.DeleteTemplate)

	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignCtl.CreateCampaign)
	campaigns.Get("/", campaignCtl.ListCampaigns)
	campaigns.Get("/:id", campaignCtl.GetCampaign)
	campaigns.Delete("/:id", campaignCtl.DeleteCampaign)
	campaigns.Post("/:id/send", campaignCtl.SendCampaign)
	campaigns.Get("/:id/stats", campaignCtl.GetCampaignStats)

	// Inbound delivery reports from the mail provider. Rate limited when
	// configured; providers retry on 429.
	if config.AppConfig.RateLimitEvents > 0 {
		api.Post("/events", middleware.EventRateLimiter(config.AppConfig.RateLimitEvents), campaignCtl.RecordEvent)
	} else {
		api.Post("/events", campaignCtl.RecordEvent)
	}

	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceCtl.CreateSequence)
	sequences.Get("/", sequenceCtl.ListSequences)
	sequences.Get("/:id", sequenceCtl.GetSequence)
	sequences.Post("/:id/enroll", sequenceCtl.EnrollContact)
	sequences.Get("/:id/enrollments", sequenceCtl.ListEnrollments)
	sequences.Post("/:id/pause", sequenceCtl.PauseSequence)
	sequences.Post("/:id/resume", sequenceCtl.ResumeSequence)
	sequences.Post("/:id/stop", sequenceCtl.StopSequence)

	analytics := api.Group("/analytics")
	analytics.Get("/dashboard", dashboardCtl.GetDashboardStats)
	analytics.Get("/lead-sources", dashboardCtl.GetLeadSourceAnalytics)
	analytics.Get("/engagement", dashboardCtl.GetEngagementAnalytics)

	system := api.Group("/system")
	system.Post("/process-sequences", systemCtl.ProcessSequences)
	system.Post("/initialize", systemCtl.Initialize)

	app.Use(func(c *fiber.Ctx) error {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Route not found", nil)
	})
}
