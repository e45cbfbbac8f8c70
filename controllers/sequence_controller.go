package controllers

import (
	"github.com/gofiber/fiber/v2"

	"opsvantage/engine"
	"opsvantage/utils"
)

// SequenceController exposes sequence definitions and enrollment control.
type SequenceController struct {
	Engine *engine.SequenceEngine
}

func NewSequenceController(eng *engine.SequenceEngine) *SequenceController {
	return &SequenceController{Engine: eng}
}

// CreateSequence handles POST /sequences
func (ctl *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input engine.SequenceCreate
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	seq, err := ctl.Engine.CreateSequence(input)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(seq))
}

// ListSequences handles GET /sequences
func (ctl *SequenceController) ListSequences(c *fiber.Ctx) error {
	seqs, err := ctl.Engine.ListSequences()
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seqs))
}

// GetSequence handles GET /sequences/:id
func (ctl *SequenceController) GetSequence(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	seq, err := ctl.Engine.GetSequence(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

// EnrollContact handles POST /sequences/:id/enroll
func (ctl *SequenceController) EnrollContact(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	var input struct {
		ContactID uint `json:"contact_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}

	enrollment, err := ctl.Engine.Enroll(input.ContactID, id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

// ListEnrollments handles GET /sequences/:id/enrollments
func (ctl *SequenceController) ListEnrollments(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	enrollments, err := ctl.Engine.Enrollments(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(enrollments))
}

// PauseSequence handles POST /sequences/:id/pause
func (ctl *SequenceController) PauseSequence(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	seq, err := ctl.Engine.PauseSequence(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

// ResumeSequence handles POST /sequences/:id/resume
func (ctl *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	seq, err := ctl.Engine.ResumeSequence(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}

// StopSequence handles POST /sequences/:id/stop
func (ctl *SequenceController) StopSequence(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	seq, err := ctl.Engine.StopSequence(id)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(utils.SuccessResponse(seq))
}
