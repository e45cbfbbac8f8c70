package controllers

import (
	"github.com/gofiber/fiber/v2"

	"opsvantage/engine"
	"opsvantage/utils"
)

// CampaignController exposes campaign management and the delivery-report
// webhook.
type CampaignController struct {
	Dispatcher *engine.Dispatcher
}

func NewCampaignController(dispatcher *engine.Dispatcher) *CampaignController {
	return &CampaignController{Dispatcher: dispatcher}
}

// CreateCampaign handles POST /campaigns
func (ctl *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input engine.CampaignCreate
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	campaign, err := ctl.Dispatcher.CreateCampaign(input)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

// ListCampaigns handles GET /campaigns
func (ctl *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	campaigns, err := ctl.Dispatcher.ListCampaigns()
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(campaigns))
}

// GetCampaign handles GET /campaigns/:id
func (ctl *CampaignController) GetCampaign(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	campaign, err := ctl.Dispatcher.GetCampaign(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// DeleteCampaign handles DELETE /campaigns/:id
func (ctl *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	if err := ctl.Dispatcher.DeleteCampaign(id); err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// SendCampaign handles POST /campaigns/:id/send
func (ctl *CampaignController) SendCampaign(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	campaign, err := ctl.Dispatcher.Send(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// GetCampaignStats handles GET /campaigns/:id/stats
func (ctl *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	campaign, err := ctl.Dispatcher.GetCampaign(id)
	if err != nil {
		return respondEngineError(c, err)
	}

	openRate, clickRate := 0.0, 0.0
	if campaign.EmailsSent > 0 {
		openRate = float64(campaign.EmailsOpened) / float64(campaign.EmailsSent) * 100
		clickRate = float64(campaign.EmailsClicked) / float64(campaign.EmailsSent) * 100
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":      campaign.ID,
		"status":           campaign.Status,
		"total_recipients": campaign.TotalRecipients,
		"emails_sent":      campaign.EmailsSent,
		"emails_delivered": campaign.EmailsDelivered,
		"emails_opened":    campaign.EmailsOpened,
		"emails_clicked":   campaign.EmailsClicked,
		"emails_bounced":   campaign.EmailsBounced,
		"open_rate":        openRate,
		"click_rate":       clickRate,
	}))
}

// RecordEvent handles POST /events, the inbound delivery-report webhook.
// Duplicate reports are absorbed and still return 200; providers retry on
// anything else.
func (ctl *CampaignController) RecordEvent(c *fiber.Ctx) error {
	var input struct {
		EntityType string `json:"entity_type" validate:"required"`
		EntityID   uint   `json:"entity_id" validate:"required"`
		ContactID  uint   `json:"contact_id" validate:"required"`
		EventType  string `json:"event_type" validate:"required"`
		MessageID  string `json:"message_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	if err := ctl.Dispatcher.RecordEvent(input.EntityType, input.EntityID, input.ContactID, input.EventType, input.MessageID); err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"recorded": true}))
}
