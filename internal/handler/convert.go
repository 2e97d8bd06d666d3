package handler

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/abuse"
	"github.com/docspark/api/internal/middleware"
	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/internal/store"
	"github.com/docspark/api/pkg/response"
)

const (
	msgChallengeFailed = "Verification failed. Please try again."
	msgDuplicateUpload = "Duplicate upload detected. Please wait before retrying the same file."
	msgInternal        = "Internal server error"
)

type ConvertHandler struct {
	service        *service.ConversionService
	files          *storage.Local
	guard          *abuse.Guard
	challenge      *abuse.ChallengeVerifier
	auditor        *abuse.Auditor
	maxUploadBytes int64
	logger         *zap.Logger
}

type ConvertDeps struct {
	Service        *service.ConversionService
	Files          *storage.Local
	Guard          *abuse.Guard
	Challenge      *abuse.ChallengeVerifier
	Auditor        *abuse.Auditor
	MaxUploadBytes int64
	Logger         *zap.Logger
}

func NewConvertHandler(deps ConvertDeps) *ConvertHandler {
	return &ConvertHandler{
		service:        deps.Service,
		files:          deps.Files,
		guard:          deps.Guard,
		challenge:      deps.Challenge,
		auditor:        deps.Auditor,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         deps.Logger,
	}
}

// TooLargeMessage is the 413 body for uploads over limit bytes.
func TooLargeMessage(limit int64) string {
	return fmt.Sprintf("File exceeds %d MB limit", limit/(1024*1024))
}

// Convert handles POST /api/convert
//
// The upload is staged, validated, checked against the challenge and the
// duplicate window, admitted as a job and converted before responding.
// @Summary      Convert document
// @Description  Upload a document and convert it to the requested format
// @Tags         Convert
// @Accept       multipart/form-data
// @Produce      json
// @Param        file            formData file   true  "Source document"
// @Param        targetFormat    formData string true  "Target format"
// @Param        preset          formData string false "Conversion preset"
// @Param        analysisMode    formData string false "convert_only or convert_plus_insights"
// @Param        analysisConsent formData bool   false "Consent to document analysis"
// @Param        challengeToken  formData string false "Challenge token"
// @Success      201 {object} model.ConvertResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/convert [post]
func (h *ConvertHandler) Convert(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required")
	}
	if file.Size > h.maxUploadBytes {
		return response.PayloadTooLarge(c, TooLargeMessage(h.maxUploadBytes))
	}

	staged := h.files.StagingPath(file.Filename)
	if err := c.SaveFile(file, staged); err != nil {
		h.logger.Error("failed to stage upload", zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}
	// a no-op once the job owns the file
	defer func() { _ = storage.Remove(staged) }()

	req := service.AdmitRequest{
		OriginalName:    file.Filename,
		StagedPath:      staged,
		TargetFormat:    c.FormValue("targetFormat"),
		Preset:          c.FormValue("preset"),
		AnalysisMode:    c.FormValue("analysisMode"),
		AnalysisConsent: c.FormValue("analysisConsent") == "true",
	}
	if err := h.service.Validate(&req); err != nil {
		return h.admitError(c, err)
	}

	ctx := c.UserContext()
	ip := middleware.ClientIP(c)

	if err := h.challenge.Verify(ctx, c.FormValue("challengeToken"), ip); err != nil {
		var cerr *abuse.ChallengeError
		fields := []zap.Field{zap.Error(err)}
		if errors.As(err, &cerr) {
			fields = []zap.Field{zap.String("reason", cerr.Reason), zap.Strings("errorCodes", cerr.ErrorCodes)}
		}
		h.auditor.Record(abuse.EventChallengeRejected, middleware.RequestInfo(c), fields...)
		return response.Forbidden(c, msgChallengeFailed)
	}

	fingerprint, err := abuse.Fingerprint(staged)
	if err != nil {
		h.logger.Error("failed to fingerprint upload", zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}
	if h.guard.CheckDuplicate(ctx, ip, fingerprint) {
		h.auditor.Record(abuse.EventDuplicateBlocked, middleware.RequestInfo(c),
			zap.String("fingerprint", fingerprint[:16]),
			zap.Int64("windowMs", h.guard.DuplicateWindow().Milliseconds()),
		)
		return response.Duplicate(c, msgDuplicateUpload)
	}

	job, err := h.service.Admit(ctx, req)
	if err != nil {
		return h.admitError(c, err)
	}

	job, err = h.service.Run(ctx, job)
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, msgJobNotFound)
	}
	if err != nil {
		h.logger.Error("failed to reload job", zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}
	return response.Created(c, model.ConvertResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

func (h *ConvertHandler) admitError(c *fiber.Ctx, err error) error {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return response.ValidationError(c, verr.Message)
	}
	h.logger.Error("failed to admit job", zap.Error(err))
	return response.ServiceError(c, msgInternal)
}
