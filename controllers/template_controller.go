package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"opsvantage/models"
	"opsvantage/utils"
)

// TemplateController manages reusable email templates.
type TemplateController struct {
	DB *gorm.DB
}

func NewTemplateController(db *gorm.DB) *TemplateController {
	return &TemplateController{DB: db}
}

type templateInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Subject     string `json:"subject" validate:"required"`
	HTMLContent string `json:"html_content" validate:"required"`
	TextContent string `json:"text_content"`
	Namespace   string `json:"namespace"`
	IsDefault   bool   `json:"is_default"`
}

// CreateTemplate handles POST /templates. Marking a template default demotes
// the previous default in its namespace; at most one default per namespace.
func (ctl *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	var input templateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Validation failed", err)
	}
	if input.Namespace == "" {
		input.Namespace = "default"
	}

	template := models.EmailTemplate{
		Name:        input.Name,
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
		TextContent: input.TextContent,
		Namespace:   input.Namespace,
		IsDefault:   input.IsDefault,
	}

	err := ctl.DB.Transaction(func(tx *gorm.DB) error {
		if input.IsDefault {
			if err := tx.Model(&models.EmailTemplate{}).
				Where("namespace = ? AND is_default = ?", input.Namespace, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&template).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(template))
}

// ListTemplates handles GET /templates
func (ctl *TemplateController) ListTemplates(c *fiber.Ctx) error {
	q := ctl.DB.Order("created_at DESC")
	if ns := c.Query("namespace"); ns != "" {
		q = q.Where("namespace = ?", ns)
	}

	var templates []models.EmailTemplate
	if err := q.Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list templates", err)
	}
	return c.JSON(utils.SuccessResponse(templates))
}

// GetTemplate handles GET /templates/:id
func (ctl *TemplateController) GetTemplate(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	var template models.EmailTemplate
	if err := ctl.DB.First(&template, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load template", err)
	}
	return c.JSON(utils.SuccessResponse(template))
}

// DeleteTemplate handles DELETE /templates/:id
func (ctl *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondEngineError(c, err)
	}

	res := ctl.DB.Delete(&models.EmailTemplate{}, id)
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}
