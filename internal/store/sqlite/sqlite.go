// Package sqlite is the default job store, backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const jobColumns = `id, original_name, original_location, source_format, target_format, preset,
	analysis_mode, analysis_consent, status, progress, converted_location, failure_reason,
	insights_json, created_at, expires_at`

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return errors.Wrap(err, "set WAL mode")
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check migration %s", entry.Name())
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return errors.Wrapf(err, "read migration %s", entry.Name())
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "apply migration %s", entry.Name())
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return errors.Wrapf(err, "record migration %s", entry.Name())
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *Store) Create(ctx context.Context, job *model.Job) error {
	insights, err := encodeInsights(job.Insights)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.OriginalName,
		job.OriginalLocation,
		string(job.SourceFormat),
		string(job.TargetFormat),
		string(job.Preset),
		string(job.AnalysisMode),
		boolToInt(job.AnalysisConsent),
		string(job.Status),
		job.Progress,
		job.ConvertedLocation,
		job.FailureReason,
		insights,
		job.CreatedAt.UnixMilli(),
		job.ExpiresAt.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrExists
	}
	return errors.Wrap(err, "insert job")
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
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

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE expires_at <= ? ORDER BY expires_at ASC`,
		now.UnixMilli(),
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// mutate loads the row, applies fn and writes the mutable columns back in
// one transaction.
func (s *Store) mutate(ctx context.Context, id string, fn func(*model.Job) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = ?, converted_location = ?, failure_reason = ?, insights_json = ?
		 WHERE id = ?`,
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job                                  model.Job
		source, target, preset, mode, status string
		consent                              int
		insights                             sql.NullString
		createdAt, expiresAt                 int64
	)
	if err := row.Scan(
		&job.ID,
		&job.OriginalName,
		&job.OriginalLocation,
		&source,
		&target,
		&preset,
		&mode,
		&consent,
		&status,
		&job.Progress,
		&job.ConvertedLocation,
		&job.FailureReason,
		&insights,
		&createdAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	job.SourceFormat = model.Format(source)
	job.TargetFormat = model.Format(target)
	job.Preset = model.Preset(preset)
	job.AnalysisMode = model.AnalysisMode(mode)
	job.AnalysisConsent = consent != 0
	job.Status = model.JobStatus(status)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if insights.Valid && insights.String != "" {
		job.Insights = &model.Insights{}
		if err := json.Unmarshal([]byte(insights.String), job.Insights); err != nil {
			return nil, errors.Wrap(err, "decode insights")
		}
	}
	return &job, nil
}

func encodeInsights(insights *model.Insights) (sql.NullString, error) {
	if insights == nil {
		return sql.NullString{}, nil
	}
	payload, err := json.Marshal(insights)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode insights")
	}
	return sql.NullString{String: string(payload), Valid: true}, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
