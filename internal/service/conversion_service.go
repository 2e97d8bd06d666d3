package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/engine"
	"github.com/docspark/api/internal/metrics"
	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/internal/store"
)

const allowedFormats = "pdf, docx, txt, html, md, rtf, csv"

// Converter is the engine selector as seen by the orchestrator.
type Converter interface {
	Convert(ctx context.Context, req engine.Request) error
	RenderHTML(ctx context.Context, html, out string) error
}

// AdmitRequest carries a staged upload and the client's options.
type AdmitRequest struct {
	OriginalName    string `validate:"required,max=255"`
	StagedPath      string `validate:"required"`
	TargetFormat    string `validate:"required,oneof=pdf docx txt html md rtf csv"`
	Preset          string `validate:"omitempty,oneof=resume-safe print-safe mobile-safe"`
	AnalysisMode    string `validate:"omitempty,oneof=convert_only convert_plus_insights"`
	AnalysisConsent bool
}

// ConversionService admits uploads as jobs and runs them to a terminal state.
type ConversionService struct {
	store     store.Store
	files     *storage.Local
	artifacts storage.Artifacts
	converter Converter
	insights  InsightsGenerator
	validator *validator.Validate
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Options struct {
	Store     store.Store
	Files     *storage.Local
	Artifacts storage.Artifacts
	Converter Converter
	Insights  InsightsGenerator
	Validator *validator.Validate
	TTL       time.Duration
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewConversionService(opts Options) *ConversionService {
	s := &ConversionService{
		store:     opts.Store,
		files:     opts.Files,
		artifacts: opts.Artifacts,
		converter: opts.Converter,
		insights:  opts.Insights,
		validator: opts.Validator,
		ttl:       opts.TTL,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if s.artifacts == nil {
		s.artifacts = storage.LocalArtifacts{}
	}
	if s.insights == nil {
		s.insights = NewMockInsights()
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Validate normalizes req in place and checks it without side effects.
func (s *ConversionService) Validate(req *AdmitRequest) error {
	req.TargetFormat = string(engine.NormalizeFormat(req.TargetFormat))
	err := s.validator.Struct(req)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "OriginalName" {
		return validationMessage(err)
	}
	source := engine.NormalizeFormat(filepath.Ext(req.OriginalName))
	if !source.IsValid() {
		return invalid(fmt.Sprintf("Unsupported input format: %s. Allowed: %s", source, allowedFormats))
	}
	if err != nil {
		return validationMessage(err)
	}

	if model.AnalysisMode(req.AnalysisMode) == model.AnalysisConvertPlusInsights && !req.AnalysisConsent {
		return invalid("analysisConsent is required when analysisMode is 'convert_plus_insights'")
	}
	return nil
}

// Admit validates a request and records a queued job. A rejected request
// leaves no record; the caller still owns the staged file in that case.
func (s *ConversionService) Admit(ctx context.Context, req AdmitRequest) (*model.Job, error) {
	if err := s.Validate(&req); err != nil {
		return nil, err
	}

	mode := model.AnalysisMode(req.AnalysisMode)
	if mode == "" {
		mode = model.AnalysisConvertOnly
	}
	source := engine.NormalizeFormat(filepath.Ext(req.OriginalName))

	id := uuid.New().String()
	location, err := s.files.Adopt(id, req.StagedPath, req.OriginalName)
	if err != nil {
		return nil, stage(ReasonStorageError, err)
	}

	now := s.now().UTC()
	job := &model.Job{
		ID:               id,
		OriginalName:     req.OriginalName,
		OriginalLocation: location,
		SourceFormat:     source,
		TargetFormat:     model.Format(req.TargetFormat),
		Preset:           model.Preset(req.Preset),
		AnalysisMode:     mode,
		AnalysisConsent:  req.AnalysisConsent,
		Status:           model.JobStatusQueued,
		Progress:         model.ProgressQueued,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, job); err != nil {
		_ = s.files.RemoveJob(id)
		return nil, stage(ReasonStoreError, err)
	}

	s.logger.Info("job admitted",
		zap.String("jobId", id),
		zap.String("source", string(source)),
		zap.String("target", req.TargetFormat),
		zap.String("mode", string(mode)),
	)
	return job.Clone(), nil
}

// Run drives an admitted job to done or failed and returns the final record.
// Conversion failures are recorded on the job, never retried, and never
// returned as errors. The only error is store.ErrNotFound (or a store
// failure) when the record can no longer be read back, for instance because
// it was deleted while the run was in flight.
func (s *ConversionService) Run(ctx context.Context, job *model.Job) (*model.Job, error) {
	start := time.Now()
	if err := s.run(ctx, job); err != nil {
		reason := err.Error()
		s.logger.Warn("job failed",
			zap.String("jobId", job.ID),
			zap.String("reason", reason),
		)
		// record the failure even if the request context is gone
		if ferr := s.store.MarkFailed(context.WithoutCancel(ctx), job.ID, reason); ferr != nil && !errors.Is(ferr, store.ErrNotFound) {
			s.logger.Error("failed to record job failure", zap.String("jobId", job.ID), zap.Error(ferr))
		}
		metrics.JobsTotal.WithLabelValues(string(model.JobStatusFailed)).Inc()
	} else {
		s.logger.Info("job done",
			zap.String("jobId", job.ID),
			zap.Duration("elapsed", time.Since(start)),
		)
		metrics.JobsTotal.WithLabelValues(string(model.JobStatusDone)).Inc()
	}

	final, err := s.store.Get(context.WithoutCancel(ctx), job.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("job deleted during run", zap.String("jobId", job.ID))
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, stage(ReasonStoreError, err)
	}
	return final, nil
}

func (s *ConversionService) run(ctx context.Context, job *model.Job) error {
	if err := s.store.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressStarted); err != nil {
		return stage(ReasonStoreError, err)
	}

	out, err := s.files.OutputPath(job.ID, job.OriginalName, job.TargetFormat)
	if err != nil {
		return stage(ReasonStorageError, err)
	}

	published := ""
	ok := false
	defer func() {
		if ok {
			return
		}
		// nothing partial may outlive a failed run
		_ = storage.Remove(out)
		if published != "" {
			_ = s.artifacts.Remove(context.WithoutCancel(ctx), published)
		}
	}()

	if err := s.converter.Convert(ctx, engine.Request{
		InputPath:  job.OriginalLocation,
		OutputPath: out,
		Source:     job.SourceFormat,
		Target:     job.TargetFormat,
	}); err != nil {
		return stage(ReasonEngineExhausted, err)
	}

	if err := s.store.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressConverted); err != nil {
		return stage(ReasonStoreError, err)
	}

	if job.WantsInsights() {
		insights, err := s.insights.Generate(ctx, job)
		if err != nil {
			return stage(ReasonInsightsFailed, err)
		}
		if err := s.store.SaveInsights(ctx, job.ID, insights); err != nil {
			return stage(ReasonStoreError, err)
		}
	}

	published, err = s.artifacts.Publish(ctx, job.ID, out, job.TargetFormat)
	if err != nil {
		return stage(ReasonStorageError, err)
	}

	if err := s.store.MarkDone(ctx, job.ID, published); err != nil {
		return stage(ReasonStoreError, err)
	}
	ok = true
	return nil
}

func (s *ConversionService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a job's files and record. Missing jobs yield store.ErrNotFound.
func (s *ConversionService) Delete(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.Reclaim(ctx, job)
}

// Expired lists jobs past their TTL at now.
func (s *ConversionService) Expired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	return s.store.ListExpired(ctx, now)
}

// Reclaim removes a job's artifacts best-effort, then its record. The record
// is deleted even when a file could not be removed.
func (s *ConversionService) Reclaim(ctx context.Context, job *model.Job) error {
	if job.ConvertedLocation != "" {
		if err := s.artifacts.Remove(ctx, job.ConvertedLocation); err != nil {
			s.logger.Warn("failed to remove converted artifact", zap.String("jobId", job.ID), zap.Error(err))
		}
	}
	if err := storage.Remove(job.OriginalLocation); err != nil {
		s.logger.Warn("failed to remove upload", zap.String("jobId", job.ID), zap.Error(err))
	}
	if err := s.files.RemoveJob(job.ID); err != nil {
		s.logger.Warn("failed to remove job directories", zap.String("jobId", job.ID), zap.Error(err))
	}
	return s.store.Delete(ctx, job.ID)
}

// OpenArtifact streams a done job's converted output.
func (s *ConversionService) OpenArtifact(ctx context.Context, job *model.Job) (io.ReadCloser, error) {
	if job.Status != model.JobStatusDone || job.ConvertedLocation == "" {
		return nil, storage.ErrArtifactMissing
	}
	return s.artifacts.Open(ctx, job.ConvertedLocation)
}

// RenderHTML prints raw HTML to PDF bytes without creating a job.
func (s *ConversionService) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docspark-html-*")
	if err != nil {
		return nil, errors.Wrap(err, "create scratch dir")
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "document.pdf")
	if err := s.converter.RenderHTML(ctx, html, out); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("Invalid request")
	}
	fe := verrs[0]
	switch fe.Field() {
	case "OriginalName":
		if fe.Tag() == "max" {
			return invalid("Filename is too long.")
		}
		return invalid("File is required")
	case "StagedPath":
		return invalid("File is required")
	case "TargetFormat":
		return invalid(fmt.Sprintf("Unsupported target format: %v. Allowed: %s", fe.Value(), allowedFormats))
	case "Preset":
		return invalid(fmt.Sprintf("Invalid preset: %v. Allowed: resume-safe, print-safe, mobile-safe", fe.Value()))
	case "AnalysisMode":
		return invalid("analysisMode must be 'convert_only' or 'convert_plus_insights'")
	}
	return invalid("Invalid request")
}
