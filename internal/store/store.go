// Package store defines the job record repository and the state-transition
// rules every backend enforces.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/docspark/api/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when a transition targets a job that is
	// already done or failed.
	ErrTerminal = errors.New("job already in a terminal state")
	// ErrExists is returned by Create for a duplicate id.
	ErrExists = errors.New("job already exists")
)

// Store persists job records. Implementations must be safe for concurrent
// use and must return copies, never shared pointers.
type Store interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	// UpdateStatus moves a non-terminal job to status with progress.
	// Progress never decreases.
	UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error
	// MarkDone records the converted artifact location and sets progress to 100.
	MarkDone(ctx context.Context, id, convertedLocation string) error
	// MarkFailed records a diagnostic reason, keeps the last progress and
	// clears any converted location or insights.
	MarkFailed(ctx context.Context, id, reason string) error
	SaveInsights(ctx context.Context, id string, insights *model.Insights) error
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error)
	Close() error
}

// ApplyStatus applies an UpdateStatus transition to job in place.
func ApplyStatus(job *model.Job, status model.JobStatus, progress int) error {
	if job.Status.IsTerminal() {
		return ErrTerminal
	}
	if status.IsTerminal() {
		return errors.Newf("status %q must be set through MarkDone or MarkFailed", status)
	}
	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

// ApplyDone applies a MarkDone transition to job in place.
func ApplyDone(job *model.Job, convertedLocation string) error {
	if job.Status.IsTerminal() {
		return ErrTerminal
	}
	if convertedLocation == "" {
		return errors.New("converted location is required")
	}
	job.Status = model.JobStatusDone
	job.Progress = model.ProgressDone
	job.ConvertedLocation = convertedLocation
	job.FailureReason = ""
	return nil
}

// ApplyFailed applies a MarkFailed transition to job in place.
func ApplyFailed(job *model.Job, reason string) error {
	if job.Status.IsTerminal() {
		return ErrTerminal
	}
	if reason == "" {
		reason = "unknown"
	}
	job.Status = model.JobStatusFailed
	job.FailureReason = reason
	job.ConvertedLocation = ""
	job.Insights = nil
	return nil
}

// ApplyInsights attaches insights to a job that is still in flight.
func ApplyInsights(job *model.Job, insights *model.Insights) error {
	if job.Status.IsTerminal() {
		return ErrTerminal
	}
	if !job.WantsInsights() {
		return errors.New("job did not opt into insights")
	}
	job.Insights = insights.Clone()
	return nil
}
