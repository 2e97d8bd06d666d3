// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

// Factory returns an empty store; it is called once per subtest.
type Factory func(t *testing.T) store.Store

// NewJob builds a queued job that expires ttl after now.
func NewJob(now time.Time, ttl time.Duration) *model.Job {
	return &model.Job{
		ID:               uuid.NewString(),
		OriginalName:     "report.txt",
		OriginalLocation: "/data/uploads/report.txt",
		SourceFormat:     model.FormatTXT,
		TargetFormat:     model.FormatHTML,
		AnalysisMode:     model.AnalysisConvertOnly,
		Status:           model.JobStatusQueued,
		Progress:         model.ProgressQueued,
		CreatedAt:        now.UTC().Truncate(time.Millisecond),
		ExpiresAt:        now.Add(ttl).UTC().Truncate(time.Millisecond),
	}
}

// Run exercises the Store contract against the backend produced by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()
	now := time.Now()

	t.Run("create and get", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, 30*time.Minute)
		require.NoError(t, s.Create(ctx, job))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.OriginalName, got.OriginalName)
		assert.Equal(t, model.JobStatusQueued, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.True(t, job.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		require.NoError(t, s.Create(ctx, job))
		assert.ErrorIs(t, s.Create(ctx, job), store.ErrExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := factory(t)
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		require.NoError(t, s.Create(ctx, job))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		got.Status = model.JobStatusFailed

		again, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, again.Status)
	})

	t.Run("done lifecycle", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		job.AnalysisMode = model.AnalysisConvertPlusInsights
		job.AnalysisConsent = true
		require.NoError(t, s.Create(ctx, job))

		require.NoError(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressStarted))
		require.NoError(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressConverted))
		require.NoError(t, s.SaveInsights(ctx, job.ID, &model.Insights{
			Summary:      "summary",
			KeyFields:    []model.KeyField{{Label: "Document Title", Value: "report"}},
			QualityScore: model.QualityScore{Layout: 90, TextIntegrity: 91, Overall: 92},
		}))
		require.NoError(t, s.MarkDone(ctx, job.ID, "/data/converted/out.html"))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDone, got.Status)
		assert.Equal(t, model.ProgressDone, got.Progress)
		assert.Equal(t, "/data/converted/out.html", got.ConvertedLocation)
		assert.Empty(t, got.FailureReason)
		require.NotNil(t, got.Insights)
		assert.Equal(t, "summary", got.Insights.Summary)
		assert.Equal(t, 92, got.Insights.QualityScore.Overall)
	})

	t.Run("failed keeps progress and drops outputs", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		job.AnalysisMode = model.AnalysisConvertPlusInsights
		job.AnalysisConsent = true
		require.NoError(t, s.Create(ctx, job))
		require.NoError(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressConverted))
		require.NoError(t, s.SaveInsights(ctx, job.ID, &model.Insights{Summary: "x"}))

		require.NoError(t, s.MarkFailed(ctx, job.ID, "storage_error: disk full"))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, model.ProgressConverted, got.Progress)
		assert.Equal(t, "storage_error: disk full", got.FailureReason)
		assert.Nil(t, got.Insights)
		assert.Empty(t, got.ConvertedLocation)
	})

	t.Run("progress never decreases", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		require.NoError(t, s.Create(ctx, job))
		require.NoError(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressConverted))
		require.NoError(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, model.ProgressStarted))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProgressConverted, got.Progress)
	})

	t.Run("terminal is final", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		require.NoError(t, s.Create(ctx, job))
		require.NoError(t, s.MarkFailed(ctx, job.ID, "engine_exhausted: not installed"))

		assert.ErrorIs(t, s.UpdateStatus(ctx, job.ID, model.JobStatusProcessing, 10), store.ErrTerminal)
		assert.ErrorIs(t, s.MarkDone(ctx, job.ID, "/x"), store.ErrTerminal)
		assert.ErrorIs(t, s.MarkFailed(ctx, job.ID, "again"), store.ErrTerminal)
	})

	t.Run("transitions on missing job", func(t *testing.T) {
		s := factory(t)
		id := uuid.NewString()
		assert.ErrorIs(t, s.UpdateStatus(ctx, id, model.JobStatusProcessing, 10), store.ErrNotFound)
		assert.ErrorIs(t, s.MarkDone(ctx, id, "/x"), store.ErrNotFound)
		assert.ErrorIs(t, s.MarkFailed(ctx, id, "x"), store.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), store.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		job := NewJob(now, time.Minute)
		require.NoError(t, s.Create(ctx, job))
		require.NoError(t, s.Delete(ctx, job.ID))

		_, err := s.Get(ctx, job.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list expired", func(t *testing.T) {
		s := factory(t)
		expired := NewJob(now.Add(-time.Hour), 30*time.Minute)
		boundary := NewJob(now.Add(-30*time.Minute), 30*time.Minute)
		fresh := NewJob(now, 30*time.Minute)
		for _, j := range []*model.Job{expired, boundary, fresh} {
			require.NoError(t, s.Create(ctx, j))
		}

		jobs, err := s.ListExpired(ctx, boundary.ExpiresAt)
		require.NoError(t, err)

		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		assert.ElementsMatch(t, []string{expired.ID, boundary.ID}, ids)
	})

	t.Run("concurrent updates", func(t *testing.T) {
		s := factory(t)
		jobs := make([]*model.Job, 8)
		for i := range jobs {
			jobs[i] = NewJob(now, time.Minute)
			require.NoError(t, s.Create(ctx, jobs[i]))
		}

		var wg sync.WaitGroup
		for _, j := range jobs {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = s.UpdateStatus(ctx, id, model.JobStatusProcessing, model.ProgressStarted)
				_ = s.MarkDone(ctx, id, "/data/converted/"+id)
			}(j.ID)
		}
		wg.Wait()

		for _, j := range jobs {
			got, err := s.Get(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusDone, got.Status)
		}
	})
}
