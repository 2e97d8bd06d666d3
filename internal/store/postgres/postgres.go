// Package postgres implements the job store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

// SQLSTATE codes the store maps onto its sentinels.
const (
	codeUniqueViolation = "23505"
	codeInvalidText     = "22P02"
)

const jobColumns = `id, original_name, original_location, source_format, target_format, preset,
	analysis_mode, analysis_consent, status, progress, converted_location, failure_reason,
	insights::text, created_at, expires_at`

// Store provides a PostgreSQL-backed job repository.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Create inserts a new job row.
func (s *Store) Create(ctx context.Context, job *model.Job) error {
	insights, err := encodeInsights(job.Insights)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO jobs (id, original_name, original_location, source_format, target_format, preset,
			analysis_mode, analysis_consent, status, progress, converted_location, failure_reason,
			insights, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.OriginalName,
		job.OriginalLocation,
		string(job.SourceFormat),
		string(job.TargetFormat),
		string(job.Preset),
		string(job.AnalysisMode),
		job.AnalysisConsent,
		string(job.Status),
		job.Progress,
		job.ConvertedLocation,
		job.FailureReason,
		insights,
		job.CreatedAt.UTC(),
		job.ExpiresAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return store.ErrExists
	}
	return errors.Wrap(err, "insert job")
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	if isMissing(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return job, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyStatus(job, status, progress)
	})
}

func (s *Store) MarkDone(ctx context.Context, id, convertedLocation string) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyDone(job, convertedLocation)
	})
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyFailed(job, reason)
	})
}

func (s *Store) SaveInsights(ctx context.Context, id string, insights *model.Insights) error {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return store.ApplyInsights(job, insights)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if isMissing(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListExpired returns every job whose expiry is at or before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE expires_at <= $1 ORDER BY expires_at ASC",
		now.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list expired jobs")
	}
	defer rows.Close()

	ret := make([]*model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan expired job")
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

// mutate locks the row, applies fn and writes the mutable columns back.
func (s *Store) mutate(ctx context.Context, id string, fn func(*model.Job) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1 FOR UPDATE", id))
	if isMissing(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "load job")
	}
	if err := fn(job); err != nil {
		return err
	}

	insights, err := encodeInsights(job.Insights)
	if err != nil {
		return err
	}
	query := `
		UPDATE jobs
		SET status = $1, progress = $2, converted_location = $3, failure_reason = $4, insights = $5
		WHERE id = $6
	`
	if _, err := tx.ExecContext(ctx, query,
		string(job.Status),
		job.Progress,
		job.ConvertedLocation,
		job.FailureReason,
		insights,
		id,
	); err != nil {
		return errors.Wrap(err, "update job")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// isMissing reports whether err means no job has the requested id. Ids that
// are not UUIDs are rejected by the column type and can never match a row.
func isMissing(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidText
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job                                  model.Job
		source, target, preset, mode, status string
		insights                             sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.OriginalName,
		&job.OriginalLocation,
		&source,
		&target,
		&preset,
		&mode,
		&job.AnalysisConsent,
		&status,
		&job.Progress,
		&job.ConvertedLocation,
		&job.FailureReason,
		&insights,
		&job.CreatedAt,
		&job.ExpiresAt,
	); err != nil {
		return nil, err
	}
	job.SourceFormat = model.Format(source)
	job.TargetFormat = model.Format(target)
	job.Preset = model.Preset(preset)
	job.AnalysisMode = model.AnalysisMode(mode)
	job.Status = model.JobStatus(status)
	if insights.Valid && insights.String != "" {
		job.Insights = &model.Insights{}
		if err := json.Unmarshal([]byte(insights.String), job.Insights); err != nil {
			return nil, errors.Wrap(err, "decode insights")
		}
	}
	return &job, nil
}

func encodeInsights(insights *model.Insights) (any, error) {
	if insights == nil {
		return nil, nil
	}
	payload, err := json.Marshal(insights)
	if err != nil {
		return nil, errors.Wrap(err, "encode insights")
	}
	return string(payload), nil
}
