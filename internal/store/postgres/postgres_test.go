package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

var columns = []string{
	"id", "original_name", "original_location", "source_format", "target_format", "preset",
	"analysis_mode", "analysis_consent", "status", "progress", "converted_location", "failure_reason",
	"insights", "created_at", "expires_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db}, mock
}

func jobRow(id string, status model.JobStatus, progress int, insights any, created time.Time) []driver.Value {
	return []driver.Value{
		id, "report.txt", "/data/uploads/" + id + "/report.txt", "txt", "html", "",
		"convert_plus_insights", true, string(status), progress, "", "",
		insights, created, created.Add(30 * time.Minute),
	}
}

func TestCreate_Success(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	job := &model.Job{
		ID:               uuid.NewString(),
		OriginalName:     "report.txt",
		OriginalLocation: "/data/uploads/report.txt",
		SourceFormat:     model.FormatTXT,
		TargetFormat:     model.FormatPDF,
		AnalysisMode:     model.AnalysisConvertOnly,
		Status:           model.JobStatusQueued,
		CreatedAt:        now,
		ExpiresAt:        now.Add(30 * time.Minute),
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(job.ID, "report.txt", "/data/uploads/report.txt", "txt", "pdf", "",
			"convert_only", false, "queued", 0, "", "", nil, now, now.Add(30*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_Found(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(jobRow(id, model.JobStatusDone, 100, `{"summary":"ok","keyFields":[],"redactionHints":[],"qualityScore":{"layout":80,"textIntegrity":90,"overall":85}}`, now)...))

	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.Equal(t, model.FormatHTML, job.TargetFormat)
	require.NotNil(t, job.Insights)
	assert.Equal(t, "ok", job.Insights.Summary)
	assert.Equal(t, 85, job.Insights.QualityScore.Overall)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkFailed_ClearsInsights(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(jobRow(id, model.JobStatusProcessing, 85, `{"summary":"x"}`, now)...))
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("failed", 85, "", "insights_failed: boom", nil, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.MarkFailed(context.Background(), id, "insights_failed: boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_TerminalRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(jobRow(id, model.JobStatusDone, 100, nil, time.Now().UTC())...))
	mock.ExpectRollback()

	err := s.UpdateStatus(context.Background(), id, model.JobStatusProcessing, 10)
	assert.ErrorIs(t, err, store.ErrTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Missing(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(id).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.UpdateStatus(context.Background(), id, model.JobStatusProcessing, 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Delete(context.Background(), id))
	assert.ErrorIs(t, s.Delete(context.Background(), id), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpired(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	a, b := uuid.NewString(), uuid.NewString()

	mock.ExpectQuery(`WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(jobRow(a, model.JobStatusDone, 100, nil, now.Add(-time.Hour))...).
			AddRow(jobRow(b, model.JobStatusFailed, 10, nil, now.Add(-31*time.Minute))...))

	jobs, err := s.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, a, jobs[0].ID)
	assert.Equal(t, b, jobs[1].ID)
	assert.Nil(t, jobs[0].Insights)
}

func TestMalformedIDIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	invalid := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "nope"`}
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).WithArgs("nope").WillReturnError(invalid)
	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	mock.ExpectExec(`DELETE FROM jobs WHERE id = \$1`).WithArgs("nope").WillReturnError(invalid)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), store.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(invalid)
	mock.ExpectRollback()
	assert.ErrorIs(t, s.MarkFailed(ctx, "nope", "store_error: x"), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_OtherErrorsAreWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.NewString()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(&pgconn.PgError{Code: "57P01", Message: "terminating connection"})

	_, err := s.Get(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}
