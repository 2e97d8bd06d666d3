package handler

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/engine"
	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/pkg/response"
)

type RenderHandler struct {
	service   *service.ConversionService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewRenderHandler(svc *service.ConversionService, v *validator.Validate, logger *zap.Logger) *RenderHandler {
	return &RenderHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// HTMLToPDF handles POST /api/html-to-pdf
// @Summary      Render HTML to PDF
// @Description  Render an HTML document to PDF with the headless browser
// @Tags         Render
// @Accept       json
// @Produce      application/pdf
// @Param        request body model.HTMLToPDFRequest true "HTML document"
// @Success      200 {file} file
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/html-to-pdf [post]
func (h *RenderHandler) HTMLToPDF(c *fiber.Ctx) error {
	var req model.HTMLToPDFRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body")
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "html is required and must be at most 5 MB")
	}

	pdf, err := h.service.RenderHTML(c.UserContext(), req.HTML)
	if err != nil {
		var eerr *engine.Error
		if errors.As(err, &eerr) {
			h.logger.Warn("html render failed", zap.Error(err))
			return response.Unavailable(c, "PDF rendering is unavailable right now.")
		}
		h.logger.Error("html render failed", zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}

	c.Attachment(pdfName(req.Filename))
	c.Set(fiber.HeaderContentType, model.FormatPDF.ContentType())
	return c.Send(pdf)
}

func pdfName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
	}
	return name
}
