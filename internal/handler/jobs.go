package handler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/internal/store"
	"github.com/docspark/api/pkg/response"
)

const (
	msgJobNotFound      = "Job not found"
	msgJobIncomplete    = "Job is not yet complete"
	msgArtifactGone     = "Converted file no longer available"
	msgConvertOnly      = "This job was created in convert-only mode. Insights are not available."
	msgInsightsNotFound = "Insights not available for this job"
)

type JobsHandler struct {
	service *service.ConversionService
	logger  *zap.Logger
}

func NewJobsHandler(svc *service.ConversionService, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		service: svc,
		logger:  logger,
	}
}

// load fetches the job named by :id. When it returns nil the response has
// already been written.
func (h *JobsHandler) load(c *fiber.Ctx) (*model.Job, error) {
	job, err := h.service.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, response.NotFound(c, msgJobNotFound)
	}
	if err != nil {
		h.logger.Error("failed to load job", zap.String("jobId", c.Params("id")), zap.Error(err))
		return nil, response.ServiceError(c, msgInternal)
	}
	return job, nil
}

// Status handles GET /api/jobs/:id
// @Summary      Get job status
// @Description  Get the status, progress and failure reason of a conversion job
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/jobs/{id} [get]
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}

	res := model.JobStatusResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.Status == model.JobStatusFailed {
		res.FailureReason = service.PublicFailureReason(job.FailureReason)
	}
	return response.OK(c, res)
}

// Download handles GET /api/jobs/:id/download
// @Summary      Download converted file
// @Description  Stream the converted document of a finished job
// @Tags         Jobs
// @Produce      application/octet-stream
// @Param        id path string true "Job ID"
// @Success      200 {file} file
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      410 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs/{id}/download [get]
func (h *JobsHandler) Download(c *fiber.Ctx) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}
	if job.Status != model.JobStatusDone {
		return response.Conflict(c, msgJobIncomplete, string(job.Status))
	}

	rc, err := h.service.OpenArtifact(c.UserContext(), job)
	if errors.Is(err, storage.ErrArtifactMissing) {
		return response.Gone(c, msgArtifactGone)
	}
	if err != nil {
		h.logger.Error("failed to open artifact", zap.String("jobId", job.ID), zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}

	c.Attachment(storage.DownloadName(job.OriginalName, job.TargetFormat))
	c.Set(fiber.HeaderContentType, job.TargetFormat.ContentType())
	return c.SendStream(rc)
}

// Insights handles GET /api/jobs/:id/insights
// @Summary      Get document insights
// @Description  Get the analysis of a finished convert_plus_insights job
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.Insights
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/jobs/{id}/insights [get]
func (h *JobsHandler) Insights(c *fiber.Ctx) error {
	job, err := h.load(c)
	if job == nil {
		return err
	}
	if job.AnalysisMode != model.AnalysisConvertPlusInsights {
		return response.Conflict(c, msgConvertOnly, "")
	}
	if job.Status != model.JobStatusDone {
		return response.Conflict(c, msgJobIncomplete, string(job.Status))
	}
	if job.Insights == nil {
		return response.NotFound(c, msgInsightsNotFound)
	}
	return response.OK(c, job.Insights)
}

// Delete handles DELETE /api/jobs/:id
// @Summary      Delete job
// @Description  Delete a job record together with its uploaded and converted files
// @Tags         Jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} model.DeleteJobResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs/{id} [delete]
func (h *JobsHandler) Delete(c *fiber.Ctx) error {
	err := h.service.Delete(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, msgJobNotFound)
	}
	if err != nil {
		h.logger.Error("failed to delete job", zap.String("jobId", c.Params("id")), zap.Error(err))
		return response.ServiceError(c, msgInternal)
	}
	return response.OK(c, model.DeleteJobResponse{Success: true})
}
