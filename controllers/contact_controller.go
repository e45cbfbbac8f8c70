package controllers

import (
	"github.com/gofiber/fiber/v2"

	"opsvantage/engine"
	"opsvantage/utils"
)

// ContactController exposes the contact lifecycle over HTTP.
type ContactController struct {
	Contacts *engine.ContactService
}

func NewContactController(contacts *engine.ContactService) *ContactController {
	return &ContactController{Contacts: contacts}
}

// CreateContact handles POST /contacts
func (ctl *ContactController) CreateContact(c *fiber.Ctx) error {
	var input engine.ContactCreate
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	contact, err := ctl.Contacts.Create(input)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(contact))
}

// ListContacts handles GET /contacts
func (ctl *ContactController) ListContacts(c *fiber.Ctx) error {
	opts := engine.ListOptions{
		Skip:       c.QueryInt("skip", 0),
		Limit:      c.QueryInt("limit", 100),
		Status:     c.Query("status"),
		LeadSource: c.Query("lead_source"),
		Search:     c.Query("search"),
	}

	contacts, total, err := ctl.Contacts.List(opts)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Skip:  opts.Skip,
		Limit: opts.Limit,
	}))
}

// SearchContacts handles GET /contacts/search
func (ctl *ContactController) SearchContacts(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Query parameter 'q' is required", nil)
	}

	contacts, err := ctl.Contacts.Search(query, c.QueryInt("limit", 20))
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(contacts))
}

// GetContact handles GET /contacts/:id
func (ctl *ContactController) GetContact(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	contact, err := ctl.Contacts.Get(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

// UpdateContact handles PUT /contacts/:id
func (ctl *ContactController) UpdateContact(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	var input engine.ContactUpdate
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	contact, err := ctl.Contacts.Update(id, input)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

// DeleteContact handles DELETE /contacts/:id
func (ctl *ContactController) DeleteContact(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	if err := ctl.Contacts.Delete(id); err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// OverrideScore handles PUT /contacts/:id/score
func (ctl *ContactController) OverrideScore(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	var input struct {
		LeadScore int `json:"lead_score"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	contact, err := ctl.Contacts.OverrideScore(id, input.LeadScore)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

// AddInteraction handles POST /contacts/:id/interactions
func (ctl *ContactController) AddInteraction(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	var input struct {
		Type        string `json:"type" validate:"required"`
		Description string `json:"description"`
		Metadata    string `json:"metadata"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	interaction, err := ctl.Contacts.AddInteraction(id, input.Type, input.Description, input.Metadata)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(interaction))
}

// ListInteractions handles GET /contacts/:id/interactions
func (ctl *ContactController) ListInteractions(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	interactions, err := ctl.Contacts.Interactions(id, c.QueryInt("limit", 50))
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(interactions))
}
