package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the store for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// JobStore persists finalized jobs keyed by content hash. A second insert
// with the same hash reports duplicate; concurrent inserts race safely on the
// unique index.
type JobStore struct{ Pool PgxPool }

// NewJobStore constructs a JobStore with the given pool.
func NewJobStore(p PgxPool) *JobStore { return &JobStore{Pool: p} }

// Schema is applied at startup. Unknown payload fields survive in raw_data.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	content_hash   TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	company        TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	salary         TEXT NOT NULL DEFAULT '',
	job_type       TEXT NOT NULL DEFAULT '',
	posted_date    TEXT NOT NULL DEFAULT '',
	site           TEXT NOT NULL DEFAULT '',
	search_keyword TEXT NOT NULL DEFAULT '',
	scraped_at     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'saved',
	applied        BOOLEAN NOT NULL DEFAULT FALSE,
	raw_data       JSONB,
	analysis_data  JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_job_id ON jobs (job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_title ON jobs (title);
CREATE INDEX IF NOT EXISTS idx_jobs_company ON jobs (company);
CREATE INDEX IF NOT EXISTS idx_jobs_site ON jobs (site);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);
`

// EnsureSchema creates the jobs table and indexes if missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("op=store.EnsureSchema: %w", err)
	}
	return nil
}

// AddJob inserts the job, reporting duplicate when a record with the same
// content hash already exists. The ON CONFLICT clause guarantees exactly one
// of two concurrent inserts with the same hash sees inserted.
func (s *JobStore) AddJob(ctx context.Context, job domain.Job) (domain.AddOutcome, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.AddJob")
	defer span.End()

	rawData, err := json.Marshal(job.RawData)
	if err != nil {
		return domain.AddFailed, fmt.Errorf("op=store.AddJob: %w", err)
	}
	analysisData, err := json.Marshal(job.Annotations)
	if err != nil {
		return domain.AddFailed, fmt.Errorf("op=store.AddJob: %w", err)
	}

	q := `INSERT INTO jobs (
		content_hash, job_id, title, company, location, url, summary, salary,
		job_type, posted_date, site, search_keyword, scraped_at, status,
		raw_data, analysis_data, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
	ON CONFLICT (content_hash) DO NOTHING`
	tag, err := s.Pool.Exec(ctx, q,
		job.ContentHash(), job.JobID, job.Title, job.Company, job.Location,
		job.URL, job.Summary, job.Salary, job.JobType, job.PostedDate,
		job.Site, job.SearchKeyword, job.ScrapedAt, string(domain.JobSaved),
		rawData, analysisData, time.Now().UTC(),
	)
	if err != nil {
		return domain.AddFailed, fmt.Errorf("op=store.AddJob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.AddDuplicate, nil
	}
	return domain.AddInserted, nil
}

// Count returns the total number of stored jobs.
func (s *JobStore) Count(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Count")
	defer span.End()

	var n int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=store.Count: %w", err)
	}
	return n, nil
}

// Stats returns the aggregate counters surfaced by monitoring.
func (s *JobStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Stats")
	defer span.End()

	q := `SELECT
		count(*),
		count(*) FILTER (WHERE applied),
		count(*) FILTER (WHERE status = 'failed'),
		count(*) FILTER (WHERE NOT applied AND status <> 'failed'),
		count(*) FILTER (WHERE created_at >= now() - interval '24 hours')
	FROM jobs`
	var st domain.StoreStats
	if err := s.Pool.QueryRow(ctx, q).Scan(
		&st.TotalJobs, &st.AppliedJobs, &st.FailedJobs, &st.PendingJobs, &st.JobsToday,
	); err != nil {
		return domain.StoreStats{}, fmt.Errorf("op=store.Stats: %w", err)
	}
	return st, nil
}

// LookupByHash loads a stored record by content hash.
func (s *JobStore) LookupByHash(ctx context.Context, contentHash string) (domain.StoredJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.LookupByHash")
	defer span.End()

	q := `SELECT content_hash, job_id, title, company, location, url, summary,
		salary, job_type, posted_date, site, search_keyword, scraped_at, status,
		applied, raw_data, analysis_data, created_at, updated_at
	FROM jobs WHERE content_hash = $1`
	row := s.Pool.QueryRow(ctx, q, contentHash)

	var rec domain.StoredJob
	var rawData, analysisData []byte
	var status string
	err := row.Scan(
		&rec.ContentHash, &rec.JobID, &rec.Title, &rec.Company, &rec.Location,
		&rec.URL, &rec.Summary, &rec.Salary, &rec.JobType, &rec.PostedDate,
		&rec.Site, &rec.SearchKeyword, &rec.ScrapedAt, &status,
		&rec.Applied, &rawData, &analysisData, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredJob{}, fmt.Errorf("op=store.LookupByHash: %w", domain.ErrNotFound)
		}
		return domain.StoredJob{}, fmt.Errorf("op=store.LookupByHash: %w", err)
	}
	rec.Status = domain.JobStatus(status)
	if len(rawData) > 0 {
		_ = json.Unmarshal(rawData, &rec.RawData)
	}
	if len(analysisData) > 0 {
		_ = json.Unmarshal(analysisData, &rec.Annotations)
	}
	return rec, nil
}

// Ping verifies connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}
